package services

import (
	"context"

	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
)

// notifier publishes events after commit. Delivery failures are logged and
// never fail the operation that produced the event.
type notifier struct {
	publisher events.Publisher
	logger    *logging.Logger
}

func newNotifier(publisher events.Publisher, logger *logging.Logger) notifier {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = logging.Default
	}
	return notifier{publisher: publisher, logger: logger}
}

func (n notifier) emit(ctx context.Context, eventType, key string, payload interface{}) {
	e, err := events.New(eventType, key, payload)
	if err != nil {
		n.logger.Warn("building event failed", logging.Fields{"event_type": eventType, "error": err.Error()})
		return
	}
	if err := n.publisher.Publish(ctx, e); err != nil {
		n.logger.Warn("publishing event failed", logging.Fields{
			"event_type": eventType,
			"event_id":   e.ID.String(),
			"error":      err.Error(),
		})
	}
}
