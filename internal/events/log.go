package events

import (
	"context"

	"github.com/HammerMeetNail/schoolhub/internal/logging"
)

// LogPublisher writes events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		p.logger.Info("event", logging.Fields{
			"event_id":   e.ID.String(),
			"event_type": e.Type,
			"key":        e.Key,
			"payload":    string(e.Payload),
		})
	}
	return nil
}
