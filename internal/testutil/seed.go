package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
	"github.com/HammerMeetNail/schoolhub/internal/store/memory"
)

// Seed writes fixtures straight into a memory store, bypassing the
// services so tests can set up states the services would refuse to build.
type Seed struct {
	Store *memory.Store
}

// NewSeededStore returns an empty memory store wrapped in a Seed.
func NewSeededStore() *Seed {
	return &Seed{Store: memory.New()}
}

// Insert stores e as is. Ledger values are not validated, which lets tests
// plant rows the codec rejects.
func (s *Seed) Insert(t *testing.T, e models.Entity) {
	t.Helper()
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		return tx.Insert(context.Background(), e)
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", e.KindName(), err)
	}
}

func (s *Seed) User(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		DisplayName:  name,
		Email:        RandomEmail(),
		PasswordHash: models.HashPassword("password123"),
		Role:         models.RoleUser,
	}
	s.Insert(t, u)
	return u
}

func (s *Seed) Admin(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		DisplayName: name,
		Email:       RandomEmail(),
		Role:        models.RoleAdmin,
	}
	s.Insert(t, u)
	return u
}

// Group inserts a group administered by admin and records it on the
// admin's groups ledger.
func (s *Seed) Group(t *testing.T, title string, admin int64, openness models.Openness) *models.Group {
	t.Helper()
	g := &models.Group{Name: title, Admin: admin, Openness: openness}
	s.Insert(t, g)
	s.AddToLedger(t, models.UserRef(admin), models.FieldGroups, g.ID)
	return g
}

func (s *Seed) Course(t *testing.T, title string, admin int64, openness models.Openness) *models.Course {
	t.Helper()
	c := &models.Course{Name: title, Admin: admin, Openness: openness}
	s.Insert(t, c)
	s.AddToLedger(t, models.UserRef(admin), models.FieldCourses, c.ID)
	return c
}

// GroupChat inserts a group chat with admin as first member followed by
// members.
func (s *Seed) GroupChat(t *testing.T, title string, admin int64, members ...int64) *models.Chat {
	t.Helper()
	c := &models.Chat{
		Type:    models.ChatGroup,
		Title:   title,
		Admin:   admin,
		Members: ledger.NewSet(append([]int64{admin}, members...)...).String(),
	}
	s.Insert(t, c)
	for _, id := range append([]int64{admin}, members...) {
		s.AddToLedger(t, models.UserRef(id), models.FieldChats, c.ID)
	}
	return c
}

// AddToLedger appends id to field of ref.
func (s *Seed) AddToLedger(t *testing.T, ref models.Ref, field ledger.Field, id int64) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, s.Store, func(tx store.Tx) error {
		e, err := tx.Lock(ctx, ref)
		if err != nil {
			return err
		}
		if _, err := ledger.Add(e, field, id); err != nil {
			return err
		}
		value, _ := e.Ledger(field)
		return tx.SaveLedger(ctx, ref, field, *value)
	})
	if err != nil {
		t.Fatalf("adding %d to %s.%s: %v", id, ref, field, err)
	}
}

// Ledger returns the ids stored in field of ref.
func (s *Seed) Ledger(t *testing.T, ref models.Ref, field ledger.Field) []int64 {
	t.Helper()
	var ids []int64
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		e, err := tx.Get(context.Background(), ref)
		if err != nil {
			return err
		}
		ids, err = ledger.IDs(e, field)
		return err
	})
	if err != nil {
		t.Fatalf("reading %s.%s: %v", ref, field, err)
	}
	return ids
}

// Get loads ref, failing the test when it is missing.
func (s *Seed) Get(t *testing.T, ref models.Ref) models.Entity {
	t.Helper()
	var e models.Entity
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		var err error
		e, err = tx.Get(context.Background(), ref)
		return err
	})
	if err != nil {
		t.Fatalf("getting %s: %v", ref, err)
	}
	return e
}

// Exists reports whether ref resolves.
func (s *Seed) Exists(t *testing.T, ref models.Ref) bool {
	t.Helper()
	var found bool
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		_, err := tx.Get(context.Background(), ref)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		t.Fatalf("checking %s: %v", ref, err)
	}
	return found
}

// Delete removes ref without touching any ledger that references it.
func (s *Seed) Delete(t *testing.T, ref models.Ref) {
	t.Helper()
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		return tx.Delete(context.Background(), ref)
	})
	if err != nil {
		t.Fatalf("deleting %s: %v", ref, err)
	}
}

// SetLedger overwrites field of ref with a raw value.
func (s *Seed) SetLedger(t *testing.T, ref models.Ref, field ledger.Field, value string) {
	t.Helper()
	err := store.WithTx(context.Background(), s.Store, func(tx store.Tx) error {
		return tx.SaveLedger(context.Background(), ref, field, value)
	})
	if err != nil {
		t.Fatalf("setting %s.%s: %v", ref, field, err)
	}
}
