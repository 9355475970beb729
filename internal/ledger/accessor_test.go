package ledger

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type testHolder struct {
	friends string
	chats   string
}

func (h *testHolder) KindName() string { return "test" }

func (h *testHolder) Ledger(f Field) (*string, bool) {
	switch f {
	case "friends":
		return &h.friends, true
	case "chats":
		return &h.chats, true
	}
	return nil, false
}

func TestAdd_Idempotent(t *testing.T) {
	h := &testHolder{}

	added, err := Add(h, "friends", 5)
	if err != nil || !added {
		t.Fatalf("expected insertion, got added=%v err=%v", added, err)
	}
	added, err = Add(h, "friends", 5)
	if err != nil || added {
		t.Fatalf("expected no-op, got added=%v err=%v", added, err)
	}
	if h.friends != "5" {
		t.Fatalf("expected 5, got %q", h.friends)
	}
}

func TestAdd_RejectsBadID(t *testing.T) {
	h := &testHolder{friends: "1"}
	for _, id := range []int64{0, -3} {
		added, err := Add(h, "friends", id)
		if err != nil || added {
			t.Fatalf("expected rejection for %d, got added=%v err=%v", id, added, err)
		}
	}
	if h.friends != "1" {
		t.Fatalf("ledger mutated: %q", h.friends)
	}
}

func TestAdd_UndeclaredField(t *testing.T) {
	h := &testHolder{}
	_, err := Add(h, "courses", 1)
	var capErr *CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if capErr.Kind != "test" || capErr.Field != "courses" {
		t.Fatalf("unexpected error contents: %+v", capErr)
	}
}

func TestAdd_CorruptedValue(t *testing.T) {
	h := &testHolder{friends: "1;abc"}
	_, err := Add(h, "friends", 2)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if h.friends != "1;abc" {
		t.Fatalf("corrupted ledger should be left alone, got %q", h.friends)
	}
}

func TestRemove(t *testing.T) {
	h := &testHolder{chats: "3;4;5"}

	value, removed, err := Remove(h, "chats", 4)
	if err != nil || !removed || value != "3;5" {
		t.Fatalf("expected removal, got value=%q removed=%v err=%v", value, removed, err)
	}
	value, removed, err = Remove(h, "chats", 4)
	if err != nil || removed || value != "3;5" {
		t.Fatalf("expected unchanged, got value=%q removed=%v err=%v", value, removed, err)
	}
}

func TestResolve_DropsTombstones(t *testing.T) {
	names := map[int64]string{1: "a", 3: "c"}
	load := func(ctx context.Context, id int64) (string, error) {
		name, ok := names[id]
		if !ok {
			return "", ErrUnresolved
		}
		return name, nil
	}

	got, err := Resolve(context.Background(), []int64{3, 2, 1}, Loader[string](load))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestResolve_PropagatesFailures(t *testing.T) {
	boom := errors.New("boom")
	load := func(ctx context.Context, id int64) (string, error) {
		return "", boom
	}
	if _, err := Resolve(context.Background(), []int64{1}, Loader[string](load)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
