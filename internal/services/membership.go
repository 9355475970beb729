package services

import (
	"context"
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// affiliationField is the user ledger that mirrors membership in kind.
func affiliationField(kind models.EntityKind) ledger.Field {
	if kind == models.KindCourse {
		return models.FieldCourses
	}
	return models.FieldGroups
}

// grantMembership adds user to the members of community and records the
// community on the user. Pending applications and invitations between the
// two are cleared, except skip, which the caller retires itself. Both rows
// must be locked by the caller and present in locked.
func grantMembership(ctx context.Context, tx store.Tx, community models.Community, user *models.User, locked map[models.Ref]models.Entity, skip int64) (bool, error) {
	added, err := addAndSave(ctx, tx, community, models.FieldMembers, user.ID)
	if err != nil {
		return false, err
	}
	ref := community.Ref()
	if _, err := addAndSave(ctx, tx, user, affiliationField(ref.Kind), ref.ID); err != nil {
		return false, err
	}
	if err := clearMembershipAlerts(ctx, tx, community, user, locked, skip); err != nil {
		return false, err
	}
	return added, nil
}

// befriend records a and b as friends of each other and clears pending
// friendship applications between them in either direction, except skip.
// It reports whether b was new on a's side.
func befriend(ctx context.Context, tx store.Tx, a, b *models.User, locked map[models.Ref]models.Entity, skip int64) (bool, error) {
	added, err := addAndSave(ctx, tx, a, models.FieldFriends, b.ID)
	if err != nil {
		return false, err
	}
	if _, err := addAndSave(ctx, tx, b, models.FieldFriends, a.ID); err != nil {
		return false, err
	}
	err = clearAlerts(ctx, tx, a, locked, skip, func(p *models.Alert) (int64, bool) {
		if p.Type != models.AlertFriendshipApplication {
			return 0, false
		}
		switch {
		case p.CreatorID == a.ID && hasRecipient(p, b.ID):
			return b.ID, true
		case p.CreatorID == b.ID && hasRecipient(p, a.ID):
			return a.ID, true
		}
		return 0, false
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// clearMembershipAlerts drops user from every pending application to, or
// invitation from, community.
func clearMembershipAlerts(ctx context.Context, tx store.Tx, community models.Community, user *models.User, locked map[models.Ref]models.Entity, skip int64) error {
	ref := community.Ref()
	return clearAlerts(ctx, tx, user, locked, skip, func(p *models.Alert) (int64, bool) {
		switch p.Type {
		case models.AlertMembershipApplication:
			if p.Creator() == user.Ref() && p.RecipientKind == ref.Kind && hasRecipient(p, ref.ID) {
				return ref.ID, true
			}
		case models.AlertGroupInvitation, models.AlertCourseInvitation:
			if p.Creator() == ref && hasRecipient(p, user.ID) {
				return user.ID, true
			}
		}
		return 0, false
	})
}

// clearAlerts walks the pending alerts of party and, for every alert match
// selects, drops the recipient it names. match runs again on the locked
// copy of the alert.
func clearAlerts(ctx context.Context, tx store.Tx, party models.Entity, locked map[models.Ref]models.Entity, skip int64, match func(*models.Alert) (int64, bool)) error {
	pending, err := pendingAlerts(ctx, tx, party)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.ID == skip {
			continue
		}
		if _, ok := match(p); !ok {
			continue
		}
		rows, err := store.LockPresent(ctx, tx, p.Ref())
		if err != nil {
			return err
		}
		current, ok := rows[p.Ref()].(*models.Alert)
		if !ok {
			continue
		}
		rid, ok := match(current)
		if !ok {
			continue
		}
		if err := dropRecipient(ctx, tx, current, rid, locked); err != nil {
			return fmt.Errorf("clearing alert %d: %w", current.ID, err)
		}
	}
	return nil
}

// dropRecipient takes rid off alert and out of rid's alerts ledger. An
// alert left without recipients is retired.
func dropRecipient(ctx context.Context, tx store.Tx, alert *models.Alert, rid int64, locked map[models.Ref]models.Entity) error {
	recipients, err := ledger.Load(alert, models.FieldRecipients)
	if err != nil {
		return err
	}
	if !recipients.Contains(rid) {
		return nil
	}
	if recipients.Len() == 1 {
		return retireAlert(ctx, tx, alert, locked)
	}
	if _, err := removeAndSave(ctx, tx, alert, models.FieldRecipients, rid); err != nil {
		return err
	}

	ref := models.Ref{Kind: alert.RecipientKind, ID: rid}
	party, ok := locked[ref]
	if !ok {
		extra, err := store.LockPresent(ctx, tx, ref)
		if err != nil {
			return err
		}
		if party, ok = extra[ref]; !ok {
			return nil
		}
		locked[ref] = party
	}
	_, err = removeAndSave(ctx, tx, party, models.FieldAlerts, alert.ID)
	return err
}

// joinChat adds user to the chat members and the chat to the user's chats.
func joinChat(ctx context.Context, tx store.Tx, chat *models.Chat, user *models.User) (bool, error) {
	added, err := addAndSave(ctx, tx, chat, models.FieldMembers, user.ID)
	if err != nil {
		return false, err
	}
	if _, err := addAndSave(ctx, tx, user, models.FieldChats, chat.ID); err != nil {
		return false, err
	}
	return added, nil
}

func requireChatManager(chat *models.Chat, userID int64) error {
	if chat.IsAdmin(userID) {
		return nil
	}
	moderator, err := chat.IsModerator(userID)
	if err != nil {
		return err
	}
	if !moderator {
		return ErrNotChatManager
	}
	return nil
}
