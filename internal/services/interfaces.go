package services

import (
	"context"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
)

// Limiter throttles alert creation per creator party.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RelationServiceInterface defines the contract for ledger operations.
type RelationServiceInterface interface {
	AddRelation(ctx context.Context, owner models.Ref, field ledger.Field, id int64) (bool, error)
	RemoveRelation(ctx context.Context, owner models.Ref, field ledger.Field, id int64) (string, bool, error)
	ListRelation(ctx context.Context, owner models.Ref, field ledger.Field) ([]models.Entity, error)
	ListRelationIDs(ctx context.Context, owner models.Ref, field ledger.Field) ([]int64, error)
}

// AlertServiceInterface defines the contract for the alert workflow.
type AlertServiceInterface interface {
	Create(ctx context.Context, params models.CreateAlertParams) (*models.Alert, error)
	Accept(ctx context.Context, alertID, actorID int64) (*models.Alert, error)
	Cancel(ctx context.Context, alertID, actorID int64) (*models.Alert, error)
	Summarize(ctx context.Context, alertID int64) (*models.AlertSummary, error)
	ListForParty(ctx context.Context, party models.Ref) ([]*models.AlertSummary, error)
	Notify(ctx context.Context, params NotifyParams) (*models.Alert, error)
}

// ChatServiceInterface defines the contract for chats and messages.
type ChatServiceInterface interface {
	OpenPersonalChat(ctx context.Context, userA, userB int64) (*models.Chat, error)
	OpenGroupChat(ctx context.Context, params OpenGroupChatParams) (*models.Chat, error)
	PostMessage(ctx context.Context, params PostMessageParams) (*models.Message, error)
	ListMessages(ctx context.Context, chatID, viewerID int64) (*ChatView, error)
	DeleteMessage(ctx context.Context, messageID, actorID int64) (bool, error)
	AddMember(ctx context.Context, chatID, actorID, userID int64) (bool, error)
	RemoveMember(ctx context.Context, chatID, actorID, userID int64) (bool, error)
	AddModerator(ctx context.Context, chatID, actorID, userID int64) (bool, error)
	TransferAdmin(ctx context.Context, chatID, actorID, newAdminID int64) error
}

// UserServiceInterface defines the contract for user operations.
type UserServiceInterface interface {
	Register(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	SetBlocked(ctx context.Context, actorID, userID int64, blocked bool) error
}

// CommunityServiceInterface defines the contract for groups and courses.
type CommunityServiceInterface interface {
	CreateGroup(ctx context.Context, params CreateCommunityParams) (*models.Group, error)
	CreateCourse(ctx context.Context, params CreateCommunityParams) (*models.Course, error)
	Join(ctx context.Context, community models.Ref, userID int64) (bool, error)
	TransferAdmin(ctx context.Context, community models.Ref, actorID, newAdminID int64) error
}

var (
	_ RelationServiceInterface  = (*RelationService)(nil)
	_ AlertServiceInterface     = (*AlertService)(nil)
	_ ChatServiceInterface      = (*ChatService)(nil)
	_ UserServiceInterface      = (*UserService)(nil)
	_ CommunityServiceInterface = (*CommunityService)(nil)
)
