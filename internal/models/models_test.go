package models

import (
	"errors"
	"testing"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
)

func TestParsePartyKind(t *testing.T) {
	for tag, want := range map[int]EntityKind{1: KindUser, 2: KindGroup, 3: KindCourse} {
		got, err := ParsePartyKind(tag)
		if err != nil || got != want {
			t.Fatalf("ParsePartyKind(%d) = %v, %v", tag, got, err)
		}
	}
	for _, tag := range []int{0, 4, 6, 7, -1} {
		_, err := ParsePartyKind(tag)
		var kindErr *UnknownKindError
		if !errors.As(err, &kindErr) || kindErr.Tag != tag {
			t.Fatalf("ParsePartyKind(%d) should fail with UnknownKindError, got %v", tag, err)
		}
	}
}

func TestRefOrdering(t *testing.T) {
	tests := []struct {
		a, b Ref
		less bool
	}{
		{UserRef(9), GroupRef(1), true},
		{GroupRef(1), UserRef(9), false},
		{ChatRef(2), ChatRef(3), true},
		{AlertRef(3), AlertRef(3), false},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.less {
			t.Fatalf("%s < %s = %v, want %v", tt.a, tt.b, got, tt.less)
		}
	}
	if s := CourseRef(4).String(); s != "course:4" {
		t.Fatalf("unexpected ref string %q", s)
	}
}

func TestPersonalChatKey(t *testing.T) {
	if PersonalChatKey(9, 2) != "2;9" || PersonalChatKey(2, 9) != "2;9" {
		t.Fatalf("key must be order independent, got %q and %q", PersonalChatKey(9, 2), PersonalChatKey(2, 9))
	}
}

func TestAlertTypeClassification(t *testing.T) {
	tests := []struct {
		typ                                   AlertType
		name                                  string
		application, invitation, notification bool
	}{
		{AlertFriendshipApplication, "APPLICATION_FRIENDSHIP", true, false, false},
		{AlertMembershipApplication, "APPLICATION_GROUP_MEMBERSHIP", true, false, false},
		{AlertChatInvitation, "INVITATION_CHAT_MEMBERSHIP", false, true, false},
		{AlertGroupInvitation, "INVITATION_GROUP_MEMBERSHIP", false, true, false},
		{AlertNotificationText, "NOTIFICATION_TEXT", false, false, true},
		{AlertMembershipDeclined, "NOTIFICATION_MEMBERSHIP_DECLINED", false, false, true},
		{AlertType(150), "ALERT_TYPE(150)", false, false, false},
	}
	for _, tt := range tests {
		if tt.typ.String() != tt.name {
			t.Fatalf("%d.String() = %q, want %q", int(tt.typ), tt.typ.String(), tt.name)
		}
		if tt.typ.IsApplication() != tt.application || tt.typ.IsInvitation() != tt.invitation || tt.typ.IsNotification() != tt.notification {
			t.Fatalf("unexpected classification for %s", tt.typ)
		}
	}

	if _, err := ParseAlertType(203); err == nil {
		t.Fatal("203 is not a known alert type")
	}
	if got, err := ParseAlertType(202); err != nil || got != AlertGroupInvitation {
		t.Fatalf("ParseAlertType(202) = %v, %v", got, err)
	}
}

func TestAlertTypeValidate(t *testing.T) {
	tests := []struct {
		typ       AlertType
		creator   EntityKind
		recipient EntityKind
		ok        bool
	}{
		{AlertFriendshipApplication, KindUser, KindUser, true},
		{AlertFriendshipApplication, KindGroup, KindUser, false},
		{AlertMembershipApplication, KindUser, KindGroup, true},
		{AlertMembershipApplication, KindUser, KindCourse, true},
		{AlertMembershipApplication, KindUser, KindUser, false},
		{AlertCourseInvitation, KindCourse, KindUser, true},
		{AlertCourseInvitation, KindGroup, KindUser, false},
		{AlertGroupInvitation, KindGroup, KindUser, true},
		{AlertNotificationText, KindCourse, KindUser, true},
		{AlertNotificationText, KindUser, KindGroup, false},
	}
	for _, tt := range tests {
		err := tt.typ.Validate(tt.creator, tt.recipient)
		if (err == nil) != tt.ok {
			t.Fatalf("%s from %s to %s: err = %v", tt.typ, tt.creator, tt.recipient, err)
		}
	}

	var typeErr *UnknownAlertTypeError
	if err := AlertType(999).Validate(KindUser, KindUser); !errors.As(err, &typeErr) {
		t.Fatalf("expected UnknownAlertTypeError, got %v", err)
	}
}

func TestAlertParties(t *testing.T) {
	a := &Alert{ID: 5, CreatorID: 1, CreatorKind: KindCourse, Recipients: "4;2", RecipientKind: KindUser}
	parties, err := a.Parties()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Ref{CourseRef(1), UserRef(4), UserRef(2)}
	if len(parties) != len(want) {
		t.Fatalf("expected %v, got %v", want, parties)
	}
	for i := range want {
		if parties[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, parties)
		}
	}

	a.Recipients = "4;-"
	var formatErr *ledger.FormatError
	if _, err := a.Parties(); !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestLedgerFieldsMatchDeclarations(t *testing.T) {
	entities := map[EntityKind]Entity{
		KindUser:   &User{},
		KindGroup:  &Group{},
		KindCourse: &Course{},
		KindChat:   &Chat{},
		KindAlert:  &Alert{RecipientKind: KindUser},
	}
	all := []ledger.Field{FieldFriends, FieldChats, FieldGroups, FieldCourses, FieldAlerts, FieldModerators, FieldMembers, FieldMessages, FieldRecipients}
	for kind, e := range entities {
		declared := map[ledger.Field]bool{}
		for _, f := range LedgerFields[kind] {
			declared[f] = true
			if _, err := TargetKind(e, f); err != nil {
				t.Fatalf("%s.%s has no target kind: %v", kind, f, err)
			}
		}
		for _, f := range all {
			if _, ok := e.Ledger(f); ok != declared[f] {
				t.Fatalf("%s.Ledger(%s) = %v, LedgerFields says %v", kind, f, ok, declared[f])
			}
		}
	}

	var capErr *ledger.CapabilityError
	if _, err := TargetKind(&Course{}, FieldFriends); !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if k, _ := TargetKind(&Alert{RecipientKind: KindGroup}, FieldRecipients); k != KindGroup {
		t.Fatalf("alert recipients should target the recipient kind, got %v", k)
	}
}

func TestCommunityRoles(t *testing.T) {
	g := &Group{Admin: 1, Moderators: "2", Members: "3"}
	for id, want := range map[int64][2]bool{1: {true, true}, 2: {true, true}, 3: {false, true}, 4: {false, false}} {
		manager, err := IsManager(g, id)
		if err != nil {
			t.Fatalf("IsManager: %v", err)
		}
		affiliated, err := IsAffiliated(g, id)
		if err != nil {
			t.Fatalf("IsAffiliated: %v", err)
		}
		if manager != want[0] || affiliated != want[1] {
			t.Fatalf("user %d: manager=%v affiliated=%v, want %v", id, manager, affiliated, want)
		}
	}

	bad := &Course{Admin: 1, Moderators: "x"}
	if _, err := IsManager(bad, 2); err == nil {
		t.Fatal("corrupt moderators should surface an error")
	}
}

func TestChatRoles(t *testing.T) {
	c := &Chat{Admin: 1, Members: "1;2;3", Moderators: "2"}
	if !c.IsAdmin(1) || c.IsAdmin(0) {
		t.Fatal("unexpected admin check")
	}
	if ok, _ := c.IsModerator(2); !ok {
		t.Fatal("2 moderates")
	}
	if ok, _ := c.IsMember(4); ok {
		t.Fatal("4 is not a member")
	}
}

func TestPasswords(t *testing.T) {
	u := &User{PasswordHash: HashPassword("secret-pass")}
	if len(u.PasswordHash) != 128 {
		t.Fatalf("expected hex blake2b-512 digest, got %d chars", len(u.PasswordHash))
	}
	if !u.CheckPassword("secret-pass") || u.CheckPassword("other") {
		t.Fatal("password check mismatch")
	}
	if (&User{}).CheckPassword("") {
		t.Fatal("empty hash must never match")
	}
}
