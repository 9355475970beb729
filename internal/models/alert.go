package models

import (
	"fmt"
	"time"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

// AlertType is the persisted type tag of an alert. The numbers are an
// external contract.
type AlertType int

const (
	AlertFriendshipApplication AlertType = 100
	AlertMembershipApplication AlertType = 101

	AlertChatInvitation   AlertType = 200
	AlertCourseInvitation AlertType = 201
	AlertGroupInvitation  AlertType = 202

	AlertNotificationText   AlertType = 300
	AlertFriendshipAccepted AlertType = 301
	AlertMembershipGranted  AlertType = 302
	AlertMembershipDeclined AlertType = 303
)

var alertTypeNames = map[AlertType]string{
	AlertFriendshipApplication: "APPLICATION_FRIENDSHIP",
	AlertMembershipApplication: "APPLICATION_GROUP_MEMBERSHIP",
	AlertChatInvitation:        "INVITATION_CHAT_MEMBERSHIP",
	AlertCourseInvitation:      "INVITATION_COURSE_MEMBERSHIP",
	AlertGroupInvitation:       "INVITATION_GROUP_MEMBERSHIP",
	AlertNotificationText:      "NOTIFICATION_TEXT",
	AlertFriendshipAccepted:    "NOTIFICATION_FRIENDSHIP_ACCEPTED",
	AlertMembershipGranted:     "NOTIFICATION_MEMBERSHIP_GRANTED",
	AlertMembershipDeclined:    "NOTIFICATION_MEMBERSHIP_DECLINED",
}

func (t AlertType) String() string {
	if name, ok := alertTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ALERT_TYPE(%d)", int(t))
}

func (t AlertType) Valid() bool {
	_, ok := alertTypeNames[t]
	return ok
}

func (t AlertType) IsApplication() bool  { return t >= 100 && t < 200 && t.Valid() }
func (t AlertType) IsInvitation() bool   { return t >= 200 && t < 300 && t.Valid() }
func (t AlertType) IsNotification() bool { return t >= 300 && t < 400 && t.Valid() }

// UnknownAlertTypeError reports a type tag outside the enumeration.
type UnknownAlertTypeError struct {
	Tag int
}

func (e *UnknownAlertTypeError) Error() string {
	return fmt.Sprintf("unknown alert type tag %d", e.Tag)
}

func ParseAlertType(tag int) (AlertType, error) {
	t := AlertType(tag)
	if !t.Valid() {
		return 0, &UnknownAlertTypeError{Tag: tag}
	}
	return t, nil
}

// Shape returns the creator and recipient kinds allowed for t.
func (t AlertType) Shape() (creators []EntityKind, recipients []EntityKind) {
	switch t {
	case AlertFriendshipApplication:
		return []EntityKind{KindUser}, []EntityKind{KindUser}
	case AlertMembershipApplication:
		return []EntityKind{KindUser}, []EntityKind{KindGroup, KindCourse}
	case AlertChatInvitation:
		return []EntityKind{KindUser}, []EntityKind{KindUser}
	case AlertCourseInvitation:
		return []EntityKind{KindCourse}, []EntityKind{KindUser}
	case AlertGroupInvitation:
		return []EntityKind{KindGroup}, []EntityKind{KindUser}
	}
	if t.IsNotification() {
		return []EntityKind{KindUser, KindGroup, KindCourse}, []EntityKind{KindUser}
	}
	return nil, nil
}

// AlertState is not persisted: a stored alert is always pending and is
// deleted when it reaches a terminal state.
type AlertState string

const (
	AlertPending   AlertState = "pending"
	AlertAccepted  AlertState = "accepted"
	AlertCancelled AlertState = "cancelled"
)

type Alert struct {
	ID            int64      `json:"id"`
	Type          AlertType  `json:"type"`
	CreatorID     int64      `json:"creator"`
	CreatorKind   EntityKind `json:"creator_kind"`
	Recipients    string     `json:"-"`
	RecipientKind EntityKind `json:"recipient_kind"`
	SubjectID     int64      `json:"subject,omitempty"`
	Text          string     `json:"text,omitempty"`
	State         AlertState `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (a *Alert) KindName() string { return KindAlert.String() }
func (a *Alert) Ref() Ref         { return AlertRef(a.ID) }

func (a *Alert) Ledger(f ledger.Field) (*string, bool) {
	if f == FieldRecipients {
		return &a.Recipients, true
	}
	return nil, false
}

func (a *Alert) Creator() Ref {
	return Ref{Kind: a.CreatorKind, ID: a.CreatorID}
}

// Parties returns the creator followed by every recipient.
func (a *Alert) Parties() ([]Ref, error) {
	ids, err := ledger.IDs(a, FieldRecipients)
	if err != nil {
		return nil, err
	}
	parties := make([]Ref, 0, len(ids)+1)
	parties = append(parties, a.Creator())
	for _, id := range ids {
		parties = append(parties, Ref{Kind: a.RecipientKind, ID: id})
	}
	return parties, nil
}

// Party is the display form of an alert creator or recipient.
type Party struct {
	Kind    EntityKind `json:"kind"`
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Unknown bool       `json:"unknown,omitempty"`
}

// UnknownPartyName is shown for parties that no longer exist.
const UnknownPartyName = "Unknown"

type AlertSummary struct {
	ID         int64     `json:"id"`
	Type       AlertType `json:"type"`
	TypeName   string    `json:"type_name"`
	Creator    Party     `json:"creator"`
	Recipients []Party   `json:"recipients"`
	SubjectID  int64     `json:"subject,omitempty"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateAlertParams struct {
	Type          AlertType  `validate:"required"`
	CreatorID     int64      `validate:"gt=0"`
	CreatorKind   EntityKind `validate:"required"`
	RecipientIDs  []int64    `validate:"required,min=1,dive,gt=0"`
	RecipientKind EntityKind `validate:"required"`
	SubjectID     int64      `validate:"gte=0"`
	Text          string     `validate:"max=1024"`
	// ActorID is the user performing the request. For user creators it
	// must equal CreatorID; for group or course creators it must manage
	// the creator.
	ActorID int64 `validate:"gt=0"`
}

// Validate checks that t may be sent from a creator of creatorKind to
// recipients of recipientKind.
func (t AlertType) Validate(creatorKind, recipientKind EntityKind) error {
	if !t.Valid() {
		return &UnknownAlertTypeError{Tag: int(t)}
	}
	creators, recipients := t.Shape()
	if !containsKind(creators, creatorKind) || !containsKind(recipients, recipientKind) {
		return fmt.Errorf("%s cannot be sent from %s to %s", t, creatorKind, recipientKind)
	}
	return nil
}

func containsKind(kinds []EntityKind, k EntityKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
