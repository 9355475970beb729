package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

type ChatService struct {
	store    store.Store
	notifier notifier
	logger   *logging.Logger
	now      func() time.Time
}

func NewChatService(st store.Store, publisher events.Publisher, logger *logging.Logger) *ChatService {
	n := newNotifier(publisher, logger)
	return &ChatService{
		store:    st,
		notifier: n,
		logger:   n.logger,
		now:      time.Now,
	}
}

type OpenGroupChatParams struct {
	AdminID int64  `validate:"gt=0"`
	Title   string `validate:"notblank,max=128"`
}

type PostMessageParams struct {
	ChatID   int64  `validate:"gt=0"`
	AuthorID int64  `validate:"gt=0"`
	Text     string `validate:"notblank,max=4096"`
}

// ChatView is a chat as seen by one member. The flags tell the caller
// whether the viewer may moderate other members' messages.
type ChatView struct {
	Chat              *models.Chat      `json:"chat"`
	Messages          []*models.Message `json:"messages"`
	ViewerIsAdmin     bool              `json:"viewer_is_admin"`
	ViewerIsModerator bool              `json:"viewer_is_moderator"`
}

type chatEvent struct {
	ChatID    int64           `json:"chat_id"`
	Type      models.ChatType `json:"chat_type,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	ActorID   int64           `json:"actor_id"`
}

func chatKey(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}

// OpenPersonalChat returns the personal chat between a and b, creating it
// on first use. The pair is unordered.
func (s *ChatService) OpenPersonalChat(ctx context.Context, userA, userB int64) (*models.Chat, error) {
	if userA <= 0 || userB <= 0 {
		return nil, ErrInvalidRequest.withDetail("user ids must be positive")
	}
	if userA == userB {
		return nil, ErrCannotAddressSelf
	}

	key := models.PersonalChatKey(userA, userB)
	var (
		chat    *models.Chat
		created bool
	)
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		refA, refB := models.UserRef(userA), models.UserRef(userB)
		locked, err := store.LockPresent(ctx, tx, refA, refB)
		if err != nil {
			return err
		}
		a, okA := locked[refA].(*models.User)
		b, okB := locked[refB].(*models.User)
		if !okA || !okB {
			return ErrUserNotFound
		}
		if a.Blocked {
			return ErrUserBlocked
		}

		existing, err := tx.FindPersonalChat(ctx, key)
		if err == nil {
			chat = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("finding personal chat: %w", err)
		}

		chat = &models.Chat{
			Type:        models.ChatPersonal,
			Members:     key,
			PersonalKey: key,
		}
		if err := tx.Insert(ctx, chat); err != nil {
			return fmt.Errorf("inserting personal chat: %w", err)
		}
		for _, u := range []*models.User{a, b} {
			if _, err := addAndSave(ctx, tx, u, models.FieldChats, chat.ID); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("personal chat opened", logging.Fields{
			"chat_id": chat.ID,
			"members": chat.Members,
		})
		s.notifier.emit(ctx, events.ChatOpened, chatKey(chat.ID), chatEvent{ChatID: chat.ID, Type: chat.Type, ActorID: userA})
	}
	return chat, nil
}

// OpenGroupChat creates a group chat whose admin is its first member.
func (s *ChatService) OpenGroupChat(ctx context.Context, params OpenGroupChatParams) (*models.Chat, error) {
	params.Title = strings.TrimSpace(params.Title)
	if err := validateParams(params); err != nil {
		return nil, err
	}

	chat := &models.Chat{
		Type:    models.ChatGroup,
		Title:   params.Title,
		Admin:   params.AdminID,
		Members: ledger.Encode([]int64{params.AdminID}),
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.Lock(ctx, models.UserRef(params.AdminID))
		if err != nil {
			return missing(err, ErrUserNotFound)
		}
		admin, err := typed[*models.User](e, models.UserRef(params.AdminID))
		if err != nil {
			return err
		}
		if admin.Blocked {
			return ErrUserBlocked
		}
		if err := tx.Insert(ctx, chat); err != nil {
			return fmt.Errorf("inserting group chat: %w", err)
		}
		_, err = addAndSave(ctx, tx, admin, models.FieldChats, chat.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.emit(ctx, events.ChatOpened, chatKey(chat.ID), chatEvent{ChatID: chat.ID, Type: chat.Type, ActorID: params.AdminID})
	return chat, nil
}

// PostMessage appends a message to the chat. Only current members may post.
func (s *ChatService) PostMessage(ctx context.Context, params PostMessageParams) (*models.Message, error) {
	params.Text = strings.TrimSpace(params.Text)
	if err := validateParams(params); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ChatID:   params.ChatID,
		AuthorID: params.AuthorID,
		Text:     params.Text,
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.Lock(ctx, models.ChatRef(params.ChatID))
		if err != nil {
			return missing(err, ErrChatNotFound)
		}
		chat, err := typed[*models.Chat](e, models.ChatRef(params.ChatID))
		if err != nil {
			return err
		}
		member, err := chat.IsMember(params.AuthorID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
		author, err := getAs[*models.User](ctx, tx, models.UserRef(params.AuthorID))
		if err != nil {
			return missing(err, ErrUserNotFound)
		}
		if author.Blocked {
			return ErrUserBlocked
		}

		msg.CreatedAt = s.now().UTC()
		if err := tx.Insert(ctx, msg); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		_, err = addAndSave(ctx, tx, chat, models.FieldMessages, msg.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.emit(ctx, events.MessagePosted, chatKey(msg.ChatID), chatEvent{ChatID: msg.ChatID, MessageID: msg.ID, ActorID: msg.AuthorID})
	return msg, nil
}

// ListMessages returns the chat's messages in posting order. Messages that
// were deleted without being unlinked are skipped.
func (s *ChatService) ListMessages(ctx context.Context, chatID, viewerID int64) (*ChatView, error) {
	var view *ChatView
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		chat, err := getAs[*models.Chat](ctx, tx, models.ChatRef(chatID))
		if err != nil {
			return missing(err, ErrChatNotFound)
		}
		member, err := chat.IsMember(viewerID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
		moderator, err := chat.IsModerator(viewerID)
		if err != nil {
			return err
		}

		ids, err := ledger.IDs(chat, models.FieldMessages)
		if err != nil {
			return err
		}
		messages, err := ledger.Resolve(ctx, ids, func(ctx context.Context, id int64) (*models.Message, error) {
			return getAs[*models.Message](ctx, tx, models.MessageRef(id))
		})
		if err != nil {
			return err
		}
		view = &ChatView{
			Chat:              chat,
			Messages:          messages,
			ViewerIsAdmin:     chat.IsAdmin(viewerID),
			ViewerIsModerator: moderator,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteMessage removes a message on behalf of its author. Deleting a
// message that is already gone reports false without an error.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, actorID int64) (bool, error) {
	var msg *models.Message
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		ref := models.MessageRef(messageID)
		current, err := getAs[*models.Message](ctx, tx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.AuthorID != actorID {
			return ErrNotAuthor
		}

		chatRef := models.ChatRef(current.ChatID)
		locked, err := store.LockPresent(ctx, tx, chatRef, ref)
		if err != nil {
			return err
		}
		if _, ok := locked[ref]; !ok {
			return nil
		}
		if chat, ok := locked[chatRef]; ok {
			if _, err := removeAndSave(ctx, tx, chat, models.FieldMessages, messageID); err != nil {
				return err
			}
		}
		if err := tx.Delete(ctx, ref); err != nil {
			return fmt.Errorf("deleting message: %w", err)
		}
		msg = current
		return nil
	})
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	s.notifier.emit(ctx, events.MessageDeleted, chatKey(msg.ChatID), chatEvent{ChatID: msg.ChatID, MessageID: msg.ID, ActorID: actorID})
	return true, nil
}

// lockGroupChat locks the chat and the user and rejects personal chats.
// The user is nil when it no longer exists.
func (s *ChatService) lockGroupChat(ctx context.Context, tx store.Tx, chatID, userID int64) (*models.Chat, *models.User, error) {
	chatRef, userRef := models.ChatRef(chatID), models.UserRef(userID)
	locked, err := store.LockPresent(ctx, tx, userRef, chatRef)
	if err != nil {
		return nil, nil, err
	}
	chat, ok := locked[chatRef].(*models.Chat)
	if !ok {
		return nil, nil, ErrChatNotFound
	}
	if chat.Type == models.ChatPersonal {
		return nil, nil, ErrPersonalChatImmutable
	}
	user, _ := locked[userRef].(*models.User)
	return chat, user, nil
}

// AddMember adds userID to a group chat. The actor must be the chat admin
// or a moderator.
func (s *ChatService) AddMember(ctx context.Context, chatID, actorID, userID int64) (bool, error) {
	var added bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		chat, user, err := s.lockGroupChat(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		if err := requireChatManager(chat, actorID); err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		added, err = joinChat(ctx, tx, chat, user)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// RemoveMember removes userID from a group chat. Members may remove
// themselves; removing anyone else takes the admin or a moderator.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, actorID, userID int64) (bool, error) {
	var removed bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		chat, user, err := s.lockGroupChat(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		if chat.IsAdmin(userID) {
			return ErrCannotRemoveAdmin
		}
		if actorID != userID {
			if err := requireChatManager(chat, actorID); err != nil {
				return err
			}
		}
		if removed, err = removeAndSave(ctx, tx, chat, models.FieldMembers, userID); err != nil {
			return err
		}
		if _, err := removeAndSave(ctx, tx, chat, models.FieldModerators, userID); err != nil {
			return err
		}
		if user != nil {
			_, err = removeAndSave(ctx, tx, user, models.FieldChats, chatID)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// AddModerator promotes a member of a group chat. Only the admin may do so.
func (s *ChatService) AddModerator(ctx context.Context, chatID, actorID, userID int64) (bool, error) {
	var added bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		chat, _, err := s.lockGroupChat(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		if !chat.IsAdmin(actorID) {
			return ErrNotChatAdmin
		}
		member, err := chat.IsMember(userID)
		if err != nil {
			return err
		}
		if !member {
			return ErrTargetNotMember
		}
		added, err = addAndSave(ctx, tx, chat, models.FieldModerators, userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// TransferAdmin hands a group chat to newAdminID, who must already be a
// member. Only the current admin may do so; they stay on as a moderator.
func (s *ChatService) TransferAdmin(ctx context.Context, chatID, actorID, newAdminID int64) error {
	var changed bool
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		chat, user, err := s.lockGroupChat(ctx, tx, chatID, newAdminID)
		if err != nil {
			return err
		}
		if !chat.IsAdmin(actorID) {
			return ErrNotChatAdmin
		}
		if newAdminID == actorID {
			return nil
		}
		if user == nil {
			return ErrUserNotFound
		}
		member, err := chat.IsMember(newAdminID)
		if err != nil {
			return err
		}
		if !member {
			return ErrTargetNotMember
		}

		if err := tx.SetAdmin(ctx, chat.Ref(), newAdminID); err != nil {
			return missing(err, ErrChatNotFound)
		}
		chat.Admin = newAdminID
		if _, err := removeAndSave(ctx, tx, chat, models.FieldModerators, newAdminID); err != nil {
			return err
		}
		if _, err := addAndSave(ctx, tx, chat, models.FieldModerators, actorID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		s.logger.Info("chat admin transferred", logging.Fields{
			"chat_id":      chatID,
			"previous_id":  actorID,
			"new_admin_id": newAdminID,
		})
		s.notifier.emit(ctx, events.AdminChanged, chatKey(chatID), chatEvent{ChatID: chatID, ActorID: actorID})
	}
	return nil
}
