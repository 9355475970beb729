package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeCounter struct {
	counts map[string]int64
	keys   []string
	ttl    time.Duration
	err    error
}

func (f *fakeCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	f.keys = append(f.keys, key)
	f.ttl = ttl
	return f.counts[key], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	counter := &fakeCounter{}
	l := NewWithCounter(counter, 2, time.Hour, "alerts")
	l.now = fixedClock(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(context.Background(), "user:1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	res, err := l.Check(context.Background(), "user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("expected third call to be rejected, got %+v", res)
	}
	if want := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC); !res.ResetAt.Equal(want) {
		t.Fatalf("expected reset at %v, got %v", want, res.ResetAt)
	}
	if counter.ttl != time.Hour {
		t.Fatalf("expected ttl of one window, got %v", counter.ttl)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	counter := &fakeCounter{}
	l := NewWithCounter(counter, 1, time.Minute, "alerts")

	if ok, _ := l.Allow(context.Background(), "user:1"); !ok {
		t.Fatal("user 1 should be allowed")
	}
	if ok, _ := l.Allow(context.Background(), "user:2"); !ok {
		t.Fatal("user 2 should be allowed")
	}
	if !strings.HasPrefix(counter.keys[0], "alerts:user:1:") {
		t.Fatalf("unexpected bucket key %q", counter.keys[0])
	}
}

func TestLimiter_NewWindowResets(t *testing.T) {
	counter := &fakeCounter{}
	l := NewWithCounter(counter, 1, time.Minute, "alerts")
	now := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow(context.Background(), "user:1"); !ok {
		t.Fatal("first call should be allowed")
	}
	if ok, _ := l.Allow(context.Background(), "user:1"); ok {
		t.Fatal("second call in the same window should be rejected")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(context.Background(), "user:1"); !ok {
		t.Fatal("call in the next window should be allowed")
	}
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := NewWithCounter(&fakeCounter{err: errors.New("connection refused")}, 1, time.Minute, "alerts")
	allowed, err := l.Allow(context.Background(), "user:1")
	if err == nil {
		t.Fatal("expected counter error to be reported")
	}
	if !allowed {
		t.Fatal("expected limiter to fail open")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		limiter *Limiter
	}{
		{"nil redis client", New(nil, 5, time.Minute, "alerts")},
		{"zero limit", NewWithCounter(&fakeCounter{}, 0, time.Minute, "alerts")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				allowed, err := tt.limiter.Allow(context.Background(), "user:1")
				if err != nil || !allowed {
					t.Fatalf("expected disabled limiter to allow, got %v %v", allowed, err)
				}
			}
		})
	}
}
