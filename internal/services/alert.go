package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// AlertService runs the request/accept/cancel workflow. Every alert id is
// kept in the alerts ledger of its creator and of each recipient for as
// long as the alert exists.
type AlertService struct {
	store    store.Store
	resolver *Resolver
	limiter  Limiter
	notifier notifier
	logger   *logging.Logger
}

func NewAlertService(st store.Store, limiter Limiter, publisher events.Publisher, logger *logging.Logger) *AlertService {
	n := newNotifier(publisher, logger)
	return &AlertService{
		store:    st,
		resolver: NewResolver(st),
		limiter:  limiter,
		notifier: n,
		logger:   n.logger,
	}
}

type NotifyParams struct {
	CreatorID    int64             `validate:"gt=0"`
	CreatorKind  models.EntityKind `validate:"required"`
	RecipientIDs []int64           `validate:"required,min=1,dive,gt=0"`
	Text         string            `validate:"notblank,max=1024"`
	ActorID      int64             `validate:"gt=0"`
}

type alertEvent struct {
	AlertID       int64             `json:"alert_id"`
	Type          models.AlertType  `json:"type"`
	TypeName      string            `json:"type_name"`
	CreatorKind   models.EntityKind `json:"creator_kind"`
	CreatorID     int64             `json:"creator_id"`
	RecipientKind models.EntityKind `json:"recipient_kind"`
	Recipients    []int64           `json:"recipients"`
	SubjectID     int64             `json:"subject_id,omitempty"`
	ActorID       int64             `json:"actor_id,omitempty"`
}

func (s *AlertService) emit(ctx context.Context, eventType string, alert *models.Alert, actorID int64) {
	ids, _ := ledger.Decode(alert.Recipients)
	s.notifier.emit(ctx, eventType, fmt.Sprintf("alert:%d", alert.ID), alertEvent{
		AlertID:       alert.ID,
		Type:          alert.Type,
		TypeName:      alert.Type.String(),
		CreatorKind:   alert.CreatorKind,
		CreatorID:     alert.CreatorID,
		RecipientKind: alert.RecipientKind,
		Recipients:    ids,
		SubjectID:     alert.SubjectID,
		ActorID:       actorID,
	})
}

// Create validates the request against the type's preconditions, stores
// the alert and records it in every party's alerts ledger.
func (s *AlertService) Create(ctx context.Context, params models.CreateAlertParams) (*models.Alert, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if _, err := models.ParsePartyKind(int(params.CreatorKind)); err != nil {
		return nil, err
	}
	if _, err := models.ParsePartyKind(int(params.RecipientKind)); err != nil {
		return nil, err
	}
	if err := params.Type.Validate(params.CreatorKind, params.RecipientKind); err != nil {
		var unknown *models.UnknownAlertTypeError
		if errors.As(err, &unknown) {
			return nil, err
		}
		return nil, ErrInvalidShape.withDetail("%v", err)
	}

	recipients := ledger.NewSet(params.RecipientIDs...)
	switch {
	case params.Type == models.AlertMembershipApplication && recipients.Len() != 1:
		return nil, ErrInvalidShape.withDetail("an application targets exactly one group or course")
	case params.Type == models.AlertChatInvitation && params.SubjectID <= 0:
		return nil, ErrInvalidRequest.withDetail("a chat invitation needs a chat")
	case params.Type == models.AlertNotificationText && strings.TrimSpace(params.Text) == "":
		return nil, ErrInvalidRequest.withDetail("a text notification needs text")
	}
	if params.CreatorKind == params.RecipientKind && recipients.Contains(params.CreatorID) {
		return nil, ErrCannotAddressSelf
	}

	creator := models.Ref{Kind: params.CreatorKind, ID: params.CreatorID}
	if err := s.throttle(ctx, creator); err != nil {
		return nil, err
	}

	alert := &models.Alert{
		Type:          params.Type,
		CreatorID:     params.CreatorID,
		CreatorKind:   params.CreatorKind,
		Recipients:    recipients.String(),
		RecipientKind: params.RecipientKind,
		SubjectID:     params.SubjectID,
		Text:          strings.TrimSpace(params.Text),
		State:         models.AlertPending,
	}

	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		parties, err := alert.Parties()
		if err != nil {
			return err
		}
		locked, err := store.LockPresent(ctx, tx, parties...)
		if err != nil {
			return err
		}
		for _, ref := range parties {
			if _, ok := locked[ref]; !ok {
				return ErrPartyNotFound.withDetail("%s", ref)
			}
		}
		if err := s.authorizeCreator(ctx, tx, locked[creator], params.ActorID); err != nil {
			return err
		}
		if err := s.checkPreconditions(ctx, tx, alert, recipients.IDs(), locked); err != nil {
			return err
		}
		return s.send(ctx, tx, alert, locked)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("alert created", logging.Fields{
		"alert_id":   alert.ID,
		"type":       alert.Type.String(),
		"creator":    creator.String(),
		"recipients": alert.Recipients,
	})
	s.emit(ctx, events.AlertCreated, alert, params.ActorID)
	return alert, nil
}

// Notify sends a free-text notification.
func (s *AlertService) Notify(ctx context.Context, params NotifyParams) (*models.Alert, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	return s.Create(ctx, models.CreateAlertParams{
		Type:          models.AlertNotificationText,
		CreatorID:     params.CreatorID,
		CreatorKind:   params.CreatorKind,
		RecipientIDs:  params.RecipientIDs,
		RecipientKind: models.KindUser,
		Text:          params.Text,
		ActorID:       params.ActorID,
	})
}

func (s *AlertService) throttle(ctx context.Context, creator models.Ref) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, creator.String())
	if err != nil {
		s.logger.Warn("alert rate limiter unavailable", logging.Fields{
			"creator": creator.String(),
			"error":   err.Error(),
		})
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// authorizeCreator checks that actorID may act as creator: the user
// itself, or a manager of the group or course.
func (s *AlertService) authorizeCreator(ctx context.Context, tx store.Tx, creator models.Entity, actorID int64) error {
	var actor *models.User
	switch c := creator.(type) {
	case *models.User:
		if c.ID != actorID {
			return ErrNotCreator
		}
		actor = c
	case models.Community:
		manager, err := models.IsManager(c, actorID)
		if err != nil {
			return err
		}
		if !manager {
			return ErrNotManager
		}
		actor, err = getAs[*models.User](ctx, tx, models.UserRef(actorID))
		if err != nil {
			return missing(err, ErrUserNotFound)
		}
	default:
		return fmt.Errorf("alert creator %s is not a party", creator.Ref())
	}
	if actor.Blocked {
		return ErrUserBlocked
	}
	return nil
}

func (s *AlertService) checkPreconditions(ctx context.Context, tx store.Tx, alert *models.Alert, recipients []int64, locked map[models.Ref]models.Entity) error {
	creator := locked[alert.Creator()]

	switch alert.Type {
	case models.AlertFriendshipApplication:
		friends, err := ledger.Load(creator, models.FieldFriends)
		if err != nil {
			return err
		}
		pending, err := pendingAlerts(ctx, tx, creator)
		if err != nil {
			return err
		}
		for _, rid := range recipients {
			if friends.Contains(rid) {
				return ErrAlreadyFriends.withDetail("user %d", rid)
			}
			for _, p := range pending {
				if p.Type != models.AlertFriendshipApplication {
					continue
				}
				forward := p.CreatorID == alert.CreatorID && hasRecipient(p, rid)
				backward := p.CreatorID == rid && hasRecipient(p, alert.CreatorID)
				if forward || backward {
					return ErrDuplicateAlert.withDetail("alert %d", p.ID)
				}
			}
		}

	case models.AlertMembershipApplication:
		target, ok := locked[models.Ref{Kind: alert.RecipientKind, ID: recipients[0]}].(models.Community)
		if !ok {
			return ErrInvalidShape
		}
		if target.Access() == models.Opened {
			return ErrTargetOpen
		}
		affiliated, err := models.IsAffiliated(target, alert.CreatorID)
		if err != nil {
			return err
		}
		if affiliated {
			return ErrAlreadyAffiliated
		}
		pending, err := pendingAlerts(ctx, tx, creator)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if p.Type == alert.Type && p.CreatorID == alert.CreatorID &&
				p.RecipientKind == alert.RecipientKind && hasRecipient(p, target.Ref().ID) {
				return ErrDuplicateAlert.withDetail("alert %d", p.ID)
			}
		}

	case models.AlertChatInvitation:
		chat, err := getAs[*models.Chat](ctx, tx, models.ChatRef(alert.SubjectID))
		if err != nil {
			return missing(err, ErrChatNotFound)
		}
		if chat.Type == models.ChatPersonal {
			return ErrPersonalChatImmutable
		}
		if err := requireChatManager(chat, alert.CreatorID); err != nil {
			return err
		}
		for _, rid := range recipients {
			member, err := chat.IsMember(rid)
			if err != nil {
				return err
			}
			if member {
				return ErrAlreadyAffiliated.withDetail("user %d", rid)
			}
			if err := s.rejectDuplicate(ctx, tx, locked[models.UserRef(rid)], func(p *models.Alert) bool {
				return p.Type == alert.Type && p.SubjectID == alert.SubjectID
			}); err != nil {
				return err
			}
		}

	case models.AlertCourseInvitation, models.AlertGroupInvitation:
		community, ok := creator.(models.Community)
		if !ok {
			return ErrInvalidShape
		}
		for _, rid := range recipients {
			affiliated, err := models.IsAffiliated(community, rid)
			if err != nil {
				return err
			}
			if affiliated {
				return ErrAlreadyAffiliated.withDetail("user %d", rid)
			}
			if err := s.rejectDuplicate(ctx, tx, locked[models.UserRef(rid)], func(p *models.Alert) bool {
				return p.Type == alert.Type && p.Creator() == alert.Creator()
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *AlertService) rejectDuplicate(ctx context.Context, tx store.Tx, party models.Entity, same func(*models.Alert) bool) error {
	pending, err := pendingAlerts(ctx, tx, party)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if same(p) {
			return ErrDuplicateAlert.withDetail("alert %d", p.ID)
		}
	}
	return nil
}

// pendingAlerts resolves the alerts ledger of party, skipping ids whose
// alert is already gone.
func pendingAlerts(ctx context.Context, tx store.Tx, party models.Entity) ([]*models.Alert, error) {
	ids, err := ledger.IDs(party, models.FieldAlerts)
	if err != nil {
		return nil, err
	}
	return ledger.Resolve(ctx, ids, func(ctx context.Context, id int64) (*models.Alert, error) {
		return getAs[*models.Alert](ctx, tx, models.AlertRef(id))
	})
}

func hasRecipient(a *models.Alert, id int64) bool {
	set, err := ledger.ParseSet(a.Recipients)
	return err == nil && set.Contains(id)
}

// send inserts alert and appends its id to every party's alerts ledger.
// All parties must already be locked.
func (s *AlertService) send(ctx context.Context, tx store.Tx, alert *models.Alert, locked map[models.Ref]models.Entity) error {
	if err := tx.Insert(ctx, alert); err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	parties, err := alert.Parties()
	if err != nil {
		return err
	}
	for _, ref := range parties {
		party, ok := locked[ref]
		if !ok {
			return ErrPartyNotFound.withDetail("%s", ref)
		}
		if _, err := addAndSave(ctx, tx, party, models.FieldAlerts, alert.ID); err != nil {
			return fmt.Errorf("recording alert %d on %s: %w", alert.ID, ref, err)
		}
	}
	return nil
}

// retireAlert removes the alert id from every party's alerts ledger and
// then deletes the alert. Parties that are gone or already lost the
// reference are skipped.
func retireAlert(ctx context.Context, tx store.Tx, alert *models.Alert, locked map[models.Ref]models.Entity) error {
	parties, err := alert.Parties()
	if err != nil {
		return err
	}
	for _, ref := range parties {
		party, ok := locked[ref]
		if !ok {
			extra, err := store.LockPresent(ctx, tx, ref)
			if err != nil {
				return err
			}
			if party, ok = extra[ref]; !ok {
				continue
			}
			locked[ref] = party
		}
		if _, err := removeAndSave(ctx, tx, party, models.FieldAlerts, alert.ID); err != nil {
			return fmt.Errorf("clearing alert %d from %s: %w", alert.ID, ref, err)
		}
	}
	if err := tx.Delete(ctx, alert.Ref()); err != nil {
		return fmt.Errorf("deleting alert %d: %w", alert.ID, err)
	}
	return nil
}

// lockAlert reads the alert, then locks it together with its parties and
// extra in canonical order. The returned alert is the locked version.
func (s *AlertService) lockAlert(ctx context.Context, tx store.Tx, alertID int64, extra ...models.Ref) (*models.Alert, map[models.Ref]models.Entity, error) {
	ref := models.AlertRef(alertID)
	alert, err := getAs[*models.Alert](ctx, tx, ref)
	if err != nil {
		return nil, nil, missing(err, ErrAlertNotFound)
	}
	parties, err := alert.Parties()
	if err != nil {
		return nil, nil, err
	}
	refs := append(append(parties, ref), extra...)
	if alert.Type == models.AlertChatInvitation {
		refs = append(refs, models.ChatRef(alert.SubjectID))
	}
	locked, err := store.LockPresent(ctx, tx, refs...)
	if err != nil {
		return nil, nil, err
	}
	current, ok := locked[ref]
	if !ok {
		return nil, nil, ErrAlertNotFound
	}
	alert, err = typed[*models.Alert](current, ref)
	if err != nil {
		return nil, nil, err
	}
	return alert, locked, nil
}

// Accept resolves a pending application or invitation in favour of the
// request and destroys the alert in the same unit of work.
func (s *AlertService) Accept(ctx context.Context, alertID, actorID int64) (*models.Alert, error) {
	var (
		alert  *models.Alert
		notice *models.Alert
	)
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		var (
			locked map[models.Ref]models.Entity
			err    error
		)
		alert, locked, err = s.lockAlert(ctx, tx, alertID, models.UserRef(actorID))
		if err != nil {
			return err
		}
		if alert.Type.IsNotification() {
			return ErrNotAcceptable
		}
		actor, ok := locked[models.UserRef(actorID)].(*models.User)
		if !ok {
			return ErrUserNotFound
		}
		if actor.Blocked {
			return ErrUserBlocked
		}

		switch alert.Type {
		case models.AlertFriendshipApplication:
			err = s.acceptFriendship(ctx, tx, alert, actor, locked)
		case models.AlertMembershipApplication:
			notice, err = s.acceptApplication(ctx, tx, alert, actor, locked)
		case models.AlertCourseInvitation, models.AlertGroupInvitation:
			err = s.acceptInvitation(ctx, tx, alert, actor, locked)
		case models.AlertChatInvitation:
			err = s.acceptChatInvitation(ctx, tx, alert, actor, locked)
		default:
			err = ErrNotAcceptable
		}
		if err != nil {
			return err
		}
		if err := retireAlert(ctx, tx, alert, locked); err != nil {
			return err
		}
		if notice != nil {
			return s.send(ctx, tx, notice, locked)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	alert.State = models.AlertAccepted
	s.logger.Info("alert accepted", logging.Fields{
		"alert_id": alert.ID,
		"type":     alert.Type.String(),
		"actor_id": actorID,
	})
	s.emit(ctx, events.AlertAccepted, alert, actorID)
	if notice != nil {
		s.emit(ctx, events.AlertCreated, notice, actorID)
	}
	return alert, nil
}

func (s *AlertService) acceptFriendship(ctx context.Context, tx store.Tx, alert *models.Alert, actor *models.User, locked map[models.Ref]models.Entity) error {
	if !hasRecipient(alert, actor.ID) {
		return ErrNotRecipient
	}
	creator, ok := locked[alert.Creator()].(*models.User)
	if !ok {
		return ErrUserNotFound.withDetail("%s", alert.Creator())
	}
	_, err := befriend(ctx, tx, creator, actor, locked, alert.ID)
	return err
}

func (s *AlertService) acceptApplication(ctx context.Context, tx store.Tx, alert *models.Alert, actor *models.User, locked map[models.Ref]models.Entity) (*models.Alert, error) {
	ids, err := ledger.IDs(alert, models.FieldRecipients)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrPartyNotFound
	}
	target, ok := locked[models.Ref{Kind: alert.RecipientKind, ID: ids[0]}].(models.Community)
	if !ok {
		return nil, ErrPartyNotFound.withDetail("%s %d", alert.RecipientKind, ids[0])
	}
	manager, err := models.IsManager(target, actor.ID)
	if err != nil {
		return nil, err
	}
	if !manager {
		return nil, ErrNotManager
	}
	requester, ok := locked[alert.Creator()].(*models.User)
	if !ok {
		return nil, ErrUserNotFound.withDetail("%s", alert.Creator())
	}
	if _, err := grantMembership(ctx, tx, target, requester, locked, alert.ID); err != nil {
		return nil, err
	}
	return &models.Alert{
		Type:          models.AlertMembershipGranted,
		CreatorID:     target.Ref().ID,
		CreatorKind:   target.Ref().Kind,
		Recipients:    ledger.Encode([]int64{requester.ID}),
		RecipientKind: models.KindUser,
		State:         models.AlertPending,
	}, nil
}

func (s *AlertService) acceptInvitation(ctx context.Context, tx store.Tx, alert *models.Alert, actor *models.User, locked map[models.Ref]models.Entity) error {
	if !hasRecipient(alert, actor.ID) {
		return ErrNotRecipient
	}
	community, ok := locked[alert.Creator()].(models.Community)
	if !ok {
		return ErrPartyNotFound.withDetail("%s", alert.Creator())
	}
	_, err := grantMembership(ctx, tx, community, actor, locked, alert.ID)
	return err
}

func (s *AlertService) acceptChatInvitation(ctx context.Context, tx store.Tx, alert *models.Alert, actor *models.User, locked map[models.Ref]models.Entity) error {
	if !hasRecipient(alert, actor.ID) {
		return ErrNotRecipient
	}
	chat, ok := locked[models.ChatRef(alert.SubjectID)].(*models.Chat)
	if !ok {
		return ErrChatNotFound
	}
	_, err := joinChat(ctx, tx, chat, actor)
	return err
}

// Cancel withdraws, declines or dismisses an alert. The actor must act for
// the creator or for one of the recipients. A manager declining a
// membership application leaves the requester a notification.
func (s *AlertService) Cancel(ctx context.Context, alertID, actorID int64) (*models.Alert, error) {
	var (
		alert  *models.Alert
		notice *models.Alert
	)
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		var (
			locked map[models.Ref]models.Entity
			err    error
		)
		alert, locked, err = s.lockAlert(ctx, tx, alertID, models.UserRef(actorID))
		if err != nil {
			return err
		}
		if _, ok := locked[models.UserRef(actorID)]; !ok {
			return ErrUserNotFound
		}

		creatorSide, err := actsFor(locked[alert.Creator()], alert.Creator(), actorID)
		if err != nil {
			return err
		}
		recipientSide := false
		if !creatorSide {
			ids, err := ledger.IDs(alert, models.FieldRecipients)
			if err != nil {
				return err
			}
			for _, id := range ids {
				ref := models.Ref{Kind: alert.RecipientKind, ID: id}
				if recipientSide, err = actsFor(locked[ref], ref, actorID); err != nil {
					return err
				}
				if recipientSide {
					break
				}
			}
		}
		if !creatorSide && !recipientSide {
			return ErrNotAlertParty
		}

		if alert.Type == models.AlertMembershipApplication && !creatorSide {
			if _, ok := locked[alert.Creator()]; ok {
				notice = &models.Alert{
					Type:          models.AlertMembershipDeclined,
					CreatorID:     firstRecipient(alert),
					CreatorKind:   alert.RecipientKind,
					Recipients:    ledger.Encode([]int64{alert.CreatorID}),
					RecipientKind: models.KindUser,
					State:         models.AlertPending,
				}
			}
		}

		if err := retireAlert(ctx, tx, alert, locked); err != nil {
			return err
		}
		if notice != nil {
			return s.send(ctx, tx, notice, locked)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	alert.State = models.AlertCancelled
	s.logger.Info("alert cancelled", logging.Fields{
		"alert_id": alert.ID,
		"type":     alert.Type.String(),
		"actor_id": actorID,
	})
	s.emit(ctx, events.AlertCancelled, alert, actorID)
	if notice != nil {
		s.emit(ctx, events.AlertCreated, notice, actorID)
	}
	return alert, nil
}

// actsFor reports whether actorID may act for the party at ref. A party
// that no longer exists can only be acted for by the user it was.
func actsFor(party models.Entity, ref models.Ref, actorID int64) (bool, error) {
	switch p := party.(type) {
	case *models.User:
		return p.ID == actorID, nil
	case models.Community:
		return models.IsManager(p, actorID)
	case nil:
		return ref.Kind == models.KindUser && ref.ID == actorID, nil
	}
	return false, nil
}

func firstRecipient(a *models.Alert) int64 {
	ids, err := ledger.Decode(a.Recipients)
	if err != nil || len(ids) == 0 {
		return 0
	}
	return ids[0]
}

// Summarize resolves the alert's parties for display. Parties that no
// longer exist are shown with the unknown placeholder.
func (s *AlertService) Summarize(ctx context.Context, alertID int64) (*models.AlertSummary, error) {
	var summary *models.AlertSummary
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		alert, err := getAs[*models.Alert](ctx, tx, models.AlertRef(alertID))
		if err != nil {
			return missing(err, ErrAlertNotFound)
		}
		summary, err = s.summarize(ctx, tx, alert)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListForParty summarizes every alert in the party's alerts ledger.
func (s *AlertService) ListForParty(ctx context.Context, party models.Ref) ([]*models.AlertSummary, error) {
	if !party.Kind.IsParty() {
		return nil, &models.UnknownKindError{Tag: int(party.Kind)}
	}
	var out []*models.AlertSummary
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.Get(ctx, party)
		if err != nil {
			return missing(err, ErrPartyNotFound.withDetail("%s", party))
		}
		alerts, err := pendingAlerts(ctx, tx, e)
		if err != nil {
			return err
		}
		out = make([]*models.AlertSummary, 0, len(alerts))
		for _, alert := range alerts {
			summary, err := s.summarize(ctx, tx, alert)
			if err != nil {
				return err
			}
			out = append(out, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AlertService) summarize(ctx context.Context, tx store.Tx, alert *models.Alert) (*models.AlertSummary, error) {
	parties, err := alert.Parties()
	if err != nil {
		return nil, err
	}
	summary := &models.AlertSummary{
		ID:         alert.ID,
		Type:       alert.Type,
		TypeName:   alert.Type.String(),
		Recipients: make([]models.Party, 0, len(parties)-1),
		SubjectID:  alert.SubjectID,
		Text:       alert.Text,
		CreatedAt:  alert.CreatedAt,
	}
	for i, ref := range parties {
		party, err := s.resolver.Party(ctx, tx, ref)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			summary.Creator = party
			continue
		}
		summary.Recipients = append(summary.Recipients, party)
	}
	return summary, nil
}
