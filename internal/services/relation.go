package services

import (
	"context"
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// RelationService is the collaborator-facing ledger API. Each call is one
// unit of work with the owning row locked for update.
type RelationService struct {
	store    store.Store
	resolver *Resolver
}

func NewRelationService(st store.Store) *RelationService {
	return &RelationService{store: st, resolver: NewResolver(st)}
}

// AddRelation adds id to field of owner and reports whether the ledger
// changed. Friendship is kept symmetric: adding a friend also records the
// owner on the friend's side. Adding a member to a group or course clears
// pending applications and invitations between the two.
func (s *RelationService) AddRelation(ctx context.Context, owner models.Ref, field ledger.Field, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	var added bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if s.reciprocal(owner, field) {
			return s.withFriendPair(ctx, tx, owner.ID, id, func(a, b *models.User, locked map[models.Ref]models.Entity) error {
				if b == nil {
					return ErrUserNotFound.withDetail("%s", models.UserRef(id))
				}
				var err error
				added, err = befriend(ctx, tx, a, b, locked, 0)
				return err
			})
		}

		e, locked, err := s.lockOwner(ctx, tx, owner, field, id)
		if err != nil {
			return err
		}
		if added, err = addAndSave(ctx, tx, e, field, id); err != nil {
			return err
		}
		community, ok := e.(models.Community)
		if !ok || field != models.FieldMembers {
			return nil
		}
		user, ok := locked[models.UserRef(id)].(*models.User)
		if !ok {
			return nil
		}
		return clearMembershipAlerts(ctx, tx, community, user, locked, 0)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// RemoveRelation removes id from field of owner. It returns the new ledger
// encoding and true, or the current encoding and false when id was absent.
func (s *RelationService) RemoveRelation(ctx context.Context, owner models.Ref, field ledger.Field, id int64) (string, bool, error) {
	var (
		value   string
		removed bool
	)
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if s.reciprocal(owner, field) {
			return s.withFriendPair(ctx, tx, owner.ID, id, func(a, b *models.User, _ map[models.Ref]models.Entity) error {
				var err error
				if value, removed, err = ledger.Remove(a, field, id); err != nil {
					return err
				}
				if removed {
					if err := saveLedger(ctx, tx, a, field); err != nil {
						return err
					}
				}
				if b != nil {
					_, err = removeAndSave(ctx, tx, b, field, owner.ID)
				}
				return err
			})
		}

		e, _, err := s.lockOwner(ctx, tx, owner, field, id)
		if err != nil {
			return err
		}
		value, removed, err = ledger.Remove(e, field, id)
		if err != nil || !removed {
			return err
		}
		return saveLedger(ctx, tx, e, field)
	})
	if err != nil {
		return "", false, err
	}
	return value, removed, nil
}

// ListRelation resolves field of owner to entities, dropping ids whose
// target no longer exists.
func (s *RelationService) ListRelation(ctx context.Context, owner models.Ref, field ledger.Field) ([]models.Entity, error) {
	var out []models.Entity
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.Get(ctx, owner)
		if err != nil {
			return missing(err, ErrEntityNotFound.withDetail("%s", owner))
		}
		ids, err := ledger.IDs(e, field)
		if err != nil {
			return err
		}
		kind, err := models.TargetKind(e, field)
		if err != nil {
			return err
		}
		load, err := s.resolver.LoaderFor(tx, kind)
		if err != nil {
			return err
		}
		out, err = ledger.Resolve(ctx, ids, load)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRelationIDs returns the raw ids in field of owner without resolving
// them.
func (s *RelationService) ListRelationIDs(ctx context.Context, owner models.Ref, field ledger.Field) ([]int64, error) {
	var ids []int64
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.Get(ctx, owner)
		if err != nil {
			return missing(err, ErrEntityNotFound.withDetail("%s", owner))
		}
		ids, err = ledger.IDs(e, field)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *RelationService) reciprocal(owner models.Ref, field ledger.Field) bool {
	return owner.Kind == models.KindUser && field == models.FieldFriends
}

// withFriendPair locks both users in canonical order and calls fn with the
// owner first. The friend may be gone when removing; fn then gets nil.
func (s *RelationService) withFriendPair(ctx context.Context, tx store.Tx, ownerID, friendID int64, fn func(owner, friend *models.User, locked map[models.Ref]models.Entity) error) error {
	if ownerID == friendID {
		return ErrCannotAddressSelf
	}
	ownerRef, friendRef := models.UserRef(ownerID), models.UserRef(friendID)
	locked, err := store.LockPresent(ctx, tx, ownerRef, friendRef)
	if err != nil {
		return fmt.Errorf("locking friend pair: %w", err)
	}
	owner, ok := locked[ownerRef].(*models.User)
	if !ok {
		return ErrUserNotFound.withDetail("%s", ownerRef)
	}
	friend, _ := locked[friendRef].(*models.User)
	return fn(owner, friend, locked)
}

// lockOwner locks owner for a ledger write. Membership writes on a group or
// course also lock the user so pending alerts can be cleared. Member and
// moderator lists of personal chats are fixed at creation.
func (s *RelationService) lockOwner(ctx context.Context, tx store.Tx, owner models.Ref, field ledger.Field, id int64) (models.Entity, map[models.Ref]models.Entity, error) {
	refs := []models.Ref{owner}
	if owner.Kind.IsCommunity() && field == models.FieldMembers {
		refs = append(refs, models.UserRef(id))
	}
	locked, err := store.LockPresent(ctx, tx, refs...)
	if err != nil {
		return nil, nil, err
	}
	e, ok := locked[owner]
	if !ok {
		return nil, nil, ErrEntityNotFound.withDetail("%s", owner)
	}
	if chat, ok := e.(*models.Chat); ok && chat.Type == models.ChatPersonal &&
		(field == models.FieldMembers || field == models.FieldModerators) {
		return nil, nil, ErrPersonalChatImmutable
	}
	return e, locked, nil
}
