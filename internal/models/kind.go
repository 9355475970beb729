package models

import (
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

// EntityKind identifies a table of entities. The values 1-3 are persisted as
// creator/recipient kind tags and must not be renumbered.
type EntityKind int

const (
	KindUser    EntityKind = 1
	KindGroup   EntityKind = 2
	KindCourse  EntityKind = 3
	KindChat    EntityKind = 4
	KindMessage EntityKind = 5
	KindAlert   EntityKind = 6
)

func (k EntityKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	case KindCourse:
		return "course"
	case KindChat:
		return "chat"
	case KindMessage:
		return "message"
	case KindAlert:
		return "alert"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsParty reports whether k may appear as an alert creator or recipient.
func (k EntityKind) IsParty() bool {
	return k == KindUser || k == KindGroup || k == KindCourse
}

// IsCommunity reports whether k is a group or a course.
func (k EntityKind) IsCommunity() bool {
	return k == KindGroup || k == KindCourse
}

// UnknownKindError reports a party kind tag outside the closed enumeration.
type UnknownKindError struct {
	Tag int
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown entity kind tag %d", e.Tag)
}

// ParsePartyKind maps a persisted kind tag to its kind. Unknown tags are an
// error; there is no fallback to KindUser.
func ParsePartyKind(tag int) (EntityKind, error) {
	kind := EntityKind(tag)
	if !kind.IsParty() {
		return 0, &UnknownKindError{Tag: tag}
	}
	return kind, nil
}

// Ref addresses a single entity.
type Ref struct {
	Kind EntityKind
	ID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Less orders refs by kind then id. Row locks are taken in this order.
func (r Ref) Less(o Ref) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.ID < o.ID
}

func UserRef(id int64) Ref   { return Ref{Kind: KindUser, ID: id} }
func GroupRef(id int64) Ref  { return Ref{Kind: KindGroup, ID: id} }
func CourseRef(id int64) Ref { return Ref{Kind: KindCourse, ID: id} }
func ChatRef(id int64) Ref   { return Ref{Kind: KindChat, ID: id} }
func AlertRef(id int64) Ref  { return Ref{Kind: KindAlert, ID: id} }

func MessageRef(id int64) Ref { return Ref{Kind: KindMessage, ID: id} }

// Entity is any stored record. Relation fields are exposed through the
// embedded ledger.Holder.
type Entity interface {
	ledger.Holder
	Ref() Ref
}

// Relation fields. The names double as column names.
const (
	FieldFriends    ledger.Field = "friends"
	FieldChats      ledger.Field = "chats"
	FieldGroups     ledger.Field = "groups"
	FieldCourses    ledger.Field = "courses"
	FieldAlerts     ledger.Field = "alerts"
	FieldModerators ledger.Field = "moderators"
	FieldMembers    ledger.Field = "members"
	FieldMessages   ledger.Field = "messages"
	FieldRecipients ledger.Field = "recipients"
)

// LedgerFields lists the relation fields each kind declares.
var LedgerFields = map[EntityKind][]ledger.Field{
	KindUser:   {FieldFriends, FieldChats, FieldGroups, FieldCourses, FieldAlerts},
	KindGroup:  {FieldModerators, FieldMembers, FieldGroups, FieldCourses, FieldChats, FieldAlerts},
	KindCourse: {FieldModerators, FieldMembers, FieldAlerts},
	KindChat:   {FieldModerators, FieldMembers, FieldMessages},
	KindAlert:  {FieldRecipients},
}

// TargetKind returns the kind of entity referenced by ids in field of e.
func TargetKind(e Entity, field ledger.Field) (EntityKind, error) {
	if _, ok := e.Ledger(field); !ok {
		return 0, &ledger.CapabilityError{Kind: e.KindName(), Field: field}
	}
	switch field {
	case FieldFriends, FieldMembers, FieldModerators:
		return KindUser, nil
	case FieldChats:
		return KindChat, nil
	case FieldGroups:
		return KindGroup, nil
	case FieldCourses:
		return KindCourse, nil
	case FieldAlerts:
		return KindAlert, nil
	case FieldMessages:
		return KindMessage, nil
	case FieldRecipients:
		if a, ok := e.(*Alert); ok {
			return a.RecipientKind, nil
		}
	}
	return 0, &ledger.CapabilityError{Kind: e.KindName(), Field: field}
}
