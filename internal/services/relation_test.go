package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
	"github.com/HammerMeetNail/schoolhub/internal/testutil"
)

func TestRelationService_AddIsIdempotent(t *testing.T) {
	seed := testutil.NewSeededStore()
	owner := seed.User(t, "owner")
	group := seed.Group(t, "Robotics", owner.ID, models.Opened)
	svc := NewRelationService(seed.Store)
	ctx := context.Background()

	added, err := svc.AddRelation(ctx, group.Ref(), models.FieldMembers, 42)
	testutil.AssertNoError(t, err, "first add")
	testutil.AssertTrue(t, added, "first add mutates")

	added, err = svc.AddRelation(ctx, group.Ref(), models.FieldMembers, 42)
	testutil.AssertNoError(t, err, "second add")
	testutil.AssertFalse(t, added, "second add is a no-op")

	testutil.AssertIDs(t, []int64{42}, seed.Ledger(t, group.Ref(), models.FieldMembers), "members")
}

func TestRelationService_AddRejectsBadIDs(t *testing.T) {
	seed := testutil.NewSeededStore()
	owner := seed.User(t, "owner")
	group := seed.Group(t, "Robotics", owner.ID, models.Opened)
	svc := NewRelationService(seed.Store)

	for _, id := range []int64{0, -3} {
		added, err := svc.AddRelation(context.Background(), group.Ref(), models.FieldMembers, id)
		testutil.AssertNoError(t, err, "bad id")
		testutil.AssertFalse(t, added, "bad id is not added")
	}
	if got := seed.Ledger(t, group.Ref(), models.FieldMembers); len(got) != 0 {
		t.Fatalf("expected empty ledger, got %v", got)
	}
}

func TestRelationService_RemoveMutatesOnce(t *testing.T) {
	seed := testutil.NewSeededStore()
	owner := seed.User(t, "owner")
	group := seed.Group(t, "Robotics", owner.ID, models.Opened)
	seed.SetLedger(t, group.Ref(), models.FieldMembers, "4;5;6")
	svc := NewRelationService(seed.Store)
	ctx := context.Background()

	value, removed, err := svc.RemoveRelation(ctx, group.Ref(), models.FieldMembers, 5)
	testutil.AssertNoError(t, err, "first remove")
	testutil.AssertTrue(t, removed, "first remove mutates")
	testutil.AssertEqual(t, "4;6", value, "new encoding")

	value, removed, err = svc.RemoveRelation(ctx, group.Ref(), models.FieldMembers, 5)
	testutil.AssertNoError(t, err, "second remove")
	testutil.AssertFalse(t, removed, "second remove is unchanged")
	testutil.AssertEqual(t, "4;6", value, "unchanged encoding")
}

func TestRelationService_FriendsStaySymmetric(t *testing.T) {
	seed := testutil.NewSeededStore()
	a := seed.User(t, "a")
	b := seed.User(t, "b")
	svc := NewRelationService(seed.Store)
	ctx := context.Background()

	added, err := svc.AddRelation(ctx, a.Ref(), models.FieldFriends, b.ID)
	testutil.AssertNoError(t, err, "add friend")
	testutil.AssertTrue(t, added, "friend added")
	testutil.AssertIDs(t, []int64{b.ID}, seed.Ledger(t, a.Ref(), models.FieldFriends), "a friends")
	testutil.AssertIDs(t, []int64{a.ID}, seed.Ledger(t, b.Ref(), models.FieldFriends), "b friends")

	_, removed, err := svc.RemoveRelation(ctx, b.Ref(), models.FieldFriends, a.ID)
	testutil.AssertNoError(t, err, "remove friend")
	testutil.AssertTrue(t, removed, "friend removed")
	if got := seed.Ledger(t, a.Ref(), models.FieldFriends); len(got) != 0 {
		t.Fatalf("expected a to have no friends, got %v", got)
	}

	_, err = svc.AddRelation(ctx, a.Ref(), models.FieldFriends, a.ID)
	testutil.AssertErrorIs(t, err, ErrCannotAddressSelf, "self friendship")

	_, err = svc.AddRelation(ctx, a.Ref(), models.FieldFriends, 999)
	testutil.AssertErrorIs(t, err, ErrUserNotFound, "unknown friend")
}

func TestRelationService_ListToleratesTombstones(t *testing.T) {
	seed := testutil.NewSeededStore()
	u := seed.User(t, "u")
	gone := seed.User(t, "gone")
	kept := seed.User(t, "kept")
	svc := NewRelationService(seed.Store)
	ctx := context.Background()

	for _, id := range []int64{gone.ID, kept.ID} {
		_, err := svc.AddRelation(ctx, u.Ref(), models.FieldFriends, id)
		testutil.AssertNoError(t, err, "add friend")
	}
	seed.Delete(t, gone.Ref())

	friends, err := svc.ListRelation(ctx, u.Ref(), models.FieldFriends)
	testutil.AssertNoError(t, err, "list friends")
	if len(friends) != 1 || friends[0].Ref() != kept.Ref() {
		t.Fatalf("expected only %s, got %v", kept.Ref(), friends)
	}

	ids, err := svc.ListRelationIDs(ctx, u.Ref(), models.FieldFriends)
	testutil.AssertNoError(t, err, "list ids")
	testutil.AssertIDs(t, []int64{gone.ID, kept.ID}, ids, "raw ids keep the stale entry")
}

func TestRelationService_UndeclaredField(t *testing.T) {
	seed := testutil.NewSeededStore()
	u := seed.User(t, "u")
	svc := NewRelationService(seed.Store)

	_, err := svc.AddRelation(context.Background(), u.Ref(), models.FieldMessages, 1)
	var capErr *ledger.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if capErr.Kind != "user" || capErr.Field != models.FieldMessages {
		t.Fatalf("unexpected capability error %+v", capErr)
	}
	if IsRejection(err) {
		t.Fatal("capability errors are faults, not rejections")
	}
}

func TestRelationService_CorruptLedgerAbortsWithoutWrites(t *testing.T) {
	seed := testutil.NewSeededStore()
	ctx := context.Background()

	// Historical rows may hold values the codec rejects.
	group := &models.Group{Name: "Legacy", Admin: 1, Members: "3;abc"}
	err := store.WithTx(ctx, seed.Store, func(tx store.Tx) error {
		return tx.Insert(ctx, group)
	})
	testutil.AssertNoError(t, err, "insert legacy group")

	svc := NewRelationService(seed.Store)
	_, err = svc.AddRelation(ctx, group.Ref(), models.FieldMembers, 9)
	var formatErr *ledger.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	testutil.AssertEqual(t, "abc", formatErr.Token, "offending token")

	stored := seed.Get(t, group.Ref()).(*models.Group)
	testutil.AssertEqual(t, "3;abc", stored.Members, "ledger untouched")
}

func TestRelationService_MissingOwner(t *testing.T) {
	seed := testutil.NewSeededStore()
	svc := NewRelationService(seed.Store)

	_, err := svc.AddRelation(context.Background(), models.CourseRef(404), models.FieldMembers, 1)
	testutil.AssertErrorIs(t, err, ErrEntityNotFound, "missing owner")
	testutil.AssertErrorIs(t, err, ErrNotFound, "not found class")

	_, err = svc.ListRelation(context.Background(), models.CourseRef(404), models.FieldMembers)
	testutil.AssertErrorIs(t, err, ErrEntityNotFound, "missing owner on list")
}

func TestRelationService_PersonalChatMembershipIsFixed(t *testing.T) {
	seed := testutil.NewSeededStore()
	a := seed.User(t, "a")
	b := seed.User(t, "b")
	c := seed.User(t, "c")
	chats, _ := newChatService(seed)
	ctx := context.Background()

	chat, err := chats.OpenPersonalChat(ctx, a.ID, b.ID)
	testutil.AssertNoError(t, err, "open")
	svc := NewRelationService(seed.Store)

	_, err = svc.AddRelation(ctx, chat.Ref(), models.FieldMembers, c.ID)
	testutil.AssertErrorIs(t, err, ErrPersonalChatImmutable, "add member")
	_, _, err = svc.RemoveRelation(ctx, chat.Ref(), models.FieldMembers, a.ID)
	testutil.AssertErrorIs(t, err, ErrPersonalChatImmutable, "remove member")
	_, err = svc.AddRelation(ctx, chat.Ref(), models.FieldModerators, a.ID)
	testutil.AssertErrorIs(t, err, ErrPersonalChatImmutable, "add moderator")

	members := seed.Ledger(t, chat.Ref(), models.FieldMembers)
	if len(members) != 2 || !containsID(members, a.ID) || !containsID(members, b.ID) {
		t.Fatalf("personal chat members changed: %v", members)
	}
	if got := seed.Ledger(t, chat.Ref(), models.FieldModerators); len(got) != 0 {
		t.Fatalf("personal chat gained moderators: %v", got)
	}
}

func TestRelationService_FriendsClearsPendingApplication(t *testing.T) {
	for _, tc := range []struct {
		name    string
		creator int
	}{
		{name: "sent by owner", creator: 0},
		{name: "sent by friend", creator: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seed := testutil.NewSeededStore()
			users := []*models.User{seed.User(t, "a"), seed.User(t, "b")}
			alerts, _ := newAlertService(seed)
			ctx := context.Background()

			creator, recipient := users[tc.creator], users[1-tc.creator]
			alert, err := alerts.Create(ctx, friendship(creator.ID, recipient.ID))
			testutil.AssertNoError(t, err, "create")

			svc := NewRelationService(seed.Store)
			added, err := svc.AddRelation(ctx, users[0].Ref(), models.FieldFriends, users[1].ID)
			testutil.AssertNoError(t, err, "add friend")
			testutil.AssertTrue(t, added, "friend added")

			testutil.AssertFalse(t, seed.Exists(t, alert.Ref()), "application retired")
			for _, u := range users {
				if got := seed.Ledger(t, u.Ref(), models.FieldAlerts); len(got) != 0 {
					t.Fatalf("%s alerts should be empty, got %v", u.DisplayName, got)
				}
			}
			_, err = alerts.Accept(ctx, alert.ID, recipient.ID)
			testutil.AssertErrorIs(t, err, ErrAlertNotFound, "accepting the retired application")
		})
	}
}

func TestRelationService_MemberAddClearsApplication(t *testing.T) {
	seed := testutil.NewSeededStore()
	admin := seed.User(t, "admin")
	u := seed.User(t, "u")
	group := seed.Group(t, "Chess", admin.ID, models.Closed)
	alerts, _ := newAlertService(seed)
	ctx := context.Background()

	alert, err := alerts.Create(ctx, application(u.ID, group.Ref()))
	testutil.AssertNoError(t, err, "apply")

	svc := NewRelationService(seed.Store)
	_, err = svc.AddRelation(ctx, group.Ref(), models.FieldMembers, u.ID)
	testutil.AssertNoError(t, err, "add member")

	testutil.AssertFalse(t, seed.Exists(t, alert.Ref()), "application retired")
	if got := seed.Ledger(t, group.Ref(), models.FieldAlerts); len(got) != 0 {
		t.Fatalf("group alerts should be empty, got %v", got)
	}
	if got := seed.Ledger(t, u.Ref(), models.FieldAlerts); len(got) != 0 {
		t.Fatalf("user alerts should be empty, got %v", got)
	}
}

func TestRelationService_ConcurrentAddsKeepEveryID(t *testing.T) {
	seed := testutil.NewSeededStore()
	owner := seed.User(t, "owner")
	group := seed.Group(t, "Robotics", owner.ID, models.Opened)
	svc := NewRelationService(seed.Store)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := svc.AddRelation(context.Background(), group.Ref(), models.FieldMembers, id); err != nil {
				errs <- err
			}
		}(int64(1000 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent add: %v", err)
	}

	members := seed.Ledger(t, group.Ref(), models.FieldMembers)
	if len(members) != n {
		t.Fatalf("expected %d members, got %d", n, len(members))
	}
	for i := 0; i < n; i++ {
		if !containsID(members, int64(1000+i)) {
			t.Fatalf("member %d lost", 1000+i)
		}
	}
}
