package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// CommunityService creates groups and courses and handles direct joins of
// open ones. Closed communities are joined through membership alerts.
type CommunityService struct {
	store  store.Store
	logger *logging.Logger
}

func NewCommunityService(st store.Store, logger *logging.Logger) *CommunityService {
	if logger == nil {
		logger = logging.Default
	}
	return &CommunityService{store: st, logger: logger}
}

type CreateCommunityParams struct {
	AdminID     int64           `validate:"gt=0"`
	Title       string          `validate:"notblank,max=128"`
	Description string          `validate:"max=2048"`
	Openness    models.Openness `validate:"omitempty,oneof=opened closed"`
	// ParentGroupID nests the new community under an existing group the
	// admin manages.
	ParentGroupID int64 `validate:"gte=0"`
}

func (s *CommunityService) CreateGroup(ctx context.Context, params CreateCommunityParams) (*models.Group, error) {
	group := &models.Group{}
	if err := s.create(ctx, params, group, func(p CreateCommunityParams) {
		group.Name, group.Description, group.Openness, group.Admin = p.Title, p.Description, p.Openness, p.AdminID
	}); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *CommunityService) CreateCourse(ctx context.Context, params CreateCommunityParams) (*models.Course, error) {
	course := &models.Course{}
	if err := s.create(ctx, params, course, func(p CreateCommunityParams) {
		course.Name, course.Description, course.Openness, course.Admin = p.Title, p.Description, p.Openness, p.AdminID
	}); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *CommunityService) create(ctx context.Context, params CreateCommunityParams, community models.Community, fill func(CreateCommunityParams)) error {
	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)
	if params.Openness == "" {
		params.Openness = models.Opened
	}
	if err := validateParams(params); err != nil {
		return err
	}
	fill(params)

	kind := community.Ref().Kind
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		refs := []models.Ref{models.UserRef(params.AdminID)}
		if params.ParentGroupID > 0 {
			refs = append(refs, models.GroupRef(params.ParentGroupID))
		}
		locked, err := store.LockPresent(ctx, tx, refs...)
		if err != nil {
			return err
		}
		admin, ok := locked[models.UserRef(params.AdminID)].(*models.User)
		if !ok {
			return ErrUserNotFound
		}
		if admin.Blocked {
			return ErrUserBlocked
		}

		var parent *models.Group
		if params.ParentGroupID > 0 {
			if parent, ok = locked[models.GroupRef(params.ParentGroupID)].(*models.Group); !ok {
				return ErrPartyNotFound.withDetail("%s", models.GroupRef(params.ParentGroupID))
			}
			manager, err := models.IsManager(parent, params.AdminID)
			if err != nil {
				return err
			}
			if !manager {
				return ErrNotManager
			}
		}

		if err := tx.Insert(ctx, community); err != nil {
			return fmt.Errorf("inserting %s: %w", kind, err)
		}
		id := community.Ref().ID
		if _, err := addAndSave(ctx, tx, admin, affiliationField(kind), id); err != nil {
			return err
		}
		if parent != nil {
			_, err = addAndSave(ctx, tx, parent, affiliationField(kind), id)
		}
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("community created", logging.Fields{
		"community": community.Ref().String(),
		"admin_id":  params.AdminID,
		"openness":  string(params.Openness),
	})
	return nil
}

// Join adds userID to an open group or course. Closed ones reject with
// ErrTargetClosed and must be applied to instead.
func (s *CommunityService) Join(ctx context.Context, community models.Ref, userID int64) (bool, error) {
	if !community.Kind.IsCommunity() {
		return false, ErrInvalidRequest.withDetail("%s is not a group or course", community)
	}
	var joined bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		userRef := models.UserRef(userID)
		locked, err := store.LockPresent(ctx, tx, userRef, community)
		if err != nil {
			return err
		}
		target, ok := locked[community].(models.Community)
		if !ok {
			return ErrPartyNotFound.withDetail("%s", community)
		}
		user, ok := locked[userRef].(*models.User)
		if !ok {
			return ErrUserNotFound
		}
		if user.Blocked {
			return ErrUserBlocked
		}
		if target.Access() != models.Opened {
			return ErrTargetClosed
		}
		affiliated, err := models.IsAffiliated(target, userID)
		if err != nil || affiliated {
			return err
		}
		joined, err = grantMembership(ctx, tx, target, user, locked, 0)
		return err
	})
	if err != nil {
		return false, err
	}
	return joined, nil
}

// TransferAdmin hands a group or course to newAdminID. Only the current
// admin may do so. The previous admin stays on as a moderator, and pending
// applications and invitations between the new admin and the community are
// cleared.
func (s *CommunityService) TransferAdmin(ctx context.Context, community models.Ref, actorID, newAdminID int64) error {
	if !community.Kind.IsCommunity() {
		return ErrInvalidRequest.withDetail("%s is not a group or course", community)
	}
	var changed bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		userRef := models.UserRef(newAdminID)
		locked, err := store.LockPresent(ctx, tx, userRef, community)
		if err != nil {
			return err
		}
		target, ok := locked[community].(models.Community)
		if !ok {
			return ErrPartyNotFound.withDetail("%s", community)
		}
		if actorID <= 0 || target.AdminID() != actorID {
			return ErrNotOwner
		}
		if newAdminID == actorID {
			return nil
		}
		user, ok := locked[userRef].(*models.User)
		if !ok {
			return ErrUserNotFound
		}
		if user.Blocked {
			return ErrUserBlocked
		}

		if err := tx.SetAdmin(ctx, community, newAdminID); err != nil {
			return missing(err, ErrPartyNotFound.withDetail("%s", community))
		}
		switch c := target.(type) {
		case *models.Group:
			c.Admin = newAdminID
		case *models.Course:
			c.Admin = newAdminID
		}
		if _, err := removeAndSave(ctx, tx, target, models.FieldModerators, newAdminID); err != nil {
			return err
		}
		if _, err := addAndSave(ctx, tx, target, models.FieldModerators, actorID); err != nil {
			return err
		}
		if _, err := addAndSave(ctx, tx, user, affiliationField(community.Kind), community.ID); err != nil {
			return err
		}
		changed = true
		return clearMembershipAlerts(ctx, tx, target, user, locked, 0)
	})
	if err != nil {
		return err
	}

	if changed {
		s.logger.Info("community admin transferred", logging.Fields{
			"community":    community.String(),
			"previous_id":  actorID,
			"new_admin_id": newAdminID,
		})
	}
	return nil
}
