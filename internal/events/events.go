// Package events carries alert and chat lifecycle events to downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AlertCreated   = "alert.created"
	AlertAccepted  = "alert.accepted"
	AlertCancelled = "alert.cancelled"

	MessagePosted  = "chat.message_posted"
	MessageDeleted = "chat.message_deleted"
	ChatOpened     = "chat.opened"
	AdminChanged   = "chat.admin_changed"
)

type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event. Key selects the partition, so events about the same
// alert or chat stay ordered.
func New(eventType, key string, payload interface{}) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Publisher delivers events after the unit of work that produced them has
// committed. Delivery is at most once.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
