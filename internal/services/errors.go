package services

import (
	"errors"
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// Class sentinels. Every Rejection unwraps to exactly one of them.
var (
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
)

type RejectionClass string

const (
	ClassConflict   RejectionClass = "conflict"
	ClassNotFound   RejectionClass = "not_found"
	ClassPermission RejectionClass = "permission"
)

// Rejection is an expected, typed refusal of a request. Callers branch on
// it with errors.Is against the class sentinels or a specific rejection.
type Rejection struct {
	Class   RejectionClass
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	switch r.Class {
	case ClassNotFound:
		return ErrNotFound
	case ClassPermission:
		return ErrPermission
	default:
		return ErrConflict
	}
}

// Is matches rejections by code, so a copy carrying extra detail still
// equals its sentinel.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

func (r *Rejection) withDetail(format string, args ...interface{}) *Rejection {
	return &Rejection{
		Class:   r.Class,
		Code:    r.Code,
		Message: r.Message + ": " + fmt.Sprintf(format, args...),
	}
}

func conflict(code, msg string) *Rejection {
	return &Rejection{Class: ClassConflict, Code: code, Message: msg}
}

func notFound(code, msg string) *Rejection {
	return &Rejection{Class: ClassNotFound, Code: code, Message: msg}
}

func permission(code, msg string) *Rejection {
	return &Rejection{Class: ClassPermission, Code: code, Message: msg}
}

var (
	ErrInvalidRequest        = conflict("invalid_request", "invalid request")
	ErrInvalidShape          = conflict("invalid_shape", "alert type does not allow these parties")
	ErrCannotAddressSelf     = conflict("self_address", "a party cannot address itself")
	ErrAlreadyFriends        = conflict("already_friends", "users are already friends")
	ErrDuplicateAlert        = conflict("duplicate_alert", "an equivalent pending alert already exists")
	ErrAlreadyAffiliated     = conflict("already_affiliated", "user already belongs to the target")
	ErrTargetOpen            = conflict("target_open", "target is open and does not take applications")
	ErrTargetClosed          = conflict("target_closed", "target is closed and requires an application")
	ErrNotAcceptable         = conflict("not_acceptable", "notifications cannot be accepted")
	ErrRateLimited           = conflict("rate_limited", "too many alerts, try again later")
	ErrPersonalChatImmutable = conflict("personal_chat_immutable", "personal chat membership cannot change")
	ErrTargetNotMember       = conflict("target_not_member", "user is not a member of the chat")
	ErrCannotRemoveAdmin     = conflict("cannot_remove_admin", "the chat admin cannot be removed")
	ErrEmailTaken            = conflict("email_taken", "email is already registered")

	ErrUserNotFound    = notFound("user_not_found", "user not found")
	ErrPartyNotFound   = notFound("party_not_found", "party not found")
	ErrEntityNotFound  = notFound("entity_not_found", "entity not found")
	ErrAlertNotFound   = notFound("alert_not_found", "alert not found")
	ErrChatNotFound    = notFound("chat_not_found", "chat not found")
	ErrMessageNotFound = notFound("message_not_found", "message not found")

	ErrNotAlertParty  = permission("not_alert_party", "actor is neither the creator nor a recipient of the alert")
	ErrNotRecipient   = permission("not_recipient", "actor is not a recipient of the alert")
	ErrNotCreator     = permission("not_creator", "actor does not act for the alert creator")
	ErrNotManager     = permission("not_manager", "actor does not administer the group or course")
	ErrNotChatManager = permission("not_chat_manager", "actor is not the chat admin or a moderator")
	ErrNotChatAdmin   = permission("not_chat_admin", "actor is not the chat admin")
	ErrNotOwner       = permission("not_owner", "actor is not the admin of the group or course")
	ErrNotMember      = permission("not_member", "actor is not a member of the chat")
	ErrNotAuthor      = permission("not_author", "actor is not the author of the message")
	ErrNotAdmin       = permission("not_admin", "actor is not a site admin")
	ErrUserBlocked    = permission("user_blocked", "user is blocked")
)

// IsRejection reports whether err is an expected refusal rather than a
// fault.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// missing maps store.ErrNotFound to rej and passes other errors through.
func missing(err error, rej *Rejection) error {
	if errors.Is(err, store.ErrNotFound) {
		return rej
	}
	return err
}
