package services

import (
	"context"
	"io"
	"sync"

	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func quietLogger() *logging.Logger {
	return logging.New().SetOutput(io.Discard)
}

func friendship(creator, recipient int64) models.CreateAlertParams {
	return models.CreateAlertParams{
		Type:          models.AlertFriendshipApplication,
		CreatorID:     creator,
		CreatorKind:   models.KindUser,
		RecipientIDs:  []int64{recipient},
		RecipientKind: models.KindUser,
		ActorID:       creator,
	}
}

func application(user int64, target models.Ref) models.CreateAlertParams {
	return models.CreateAlertParams{
		Type:          models.AlertMembershipApplication,
		CreatorID:     user,
		CreatorKind:   models.KindUser,
		RecipientIDs:  []int64{target.ID},
		RecipientKind: target.Kind,
		ActorID:       user,
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
