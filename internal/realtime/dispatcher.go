package realtime

import (
	"go.uber.org/zap"

	"github.com/parleylabs/parley/internal/chat"
)

// Dispatcher pushes each persisted message to the sessions subscribed to its
// group at publish time. Delivery is best-effort at-least-once to connected
// sessions: a full send buffer or a deregistered session is treated as a
// disconnect and the delivery is dropped without retry, since the message is
// already durable and recoverable through history backfill. Sessions that
// join after Publish returns rely on backfill for this message.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher constructs a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = noOpLogger
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Publish fans the message out to the group's current subscribers. Callers
// invoke Publish in append order per group; per-session channels preserve
// that order to each subscriber.
func (d *Dispatcher) Publish(message chat.Message) {
	subscribers := d.registry.SubscribersOf(message.GroupID)
	if len(subscribers) == 0 {
		return
	}

	delivery := Delivery{
		GroupID:   message.GroupID,
		SenderID:  message.SenderID,
		Timestamp: message.CreatedAt,
		Message:   message,
	}
	for _, session := range subscribers {
		if !session.deliver(delivery) {
			d.logger.Debug("realtime delivery dropped",
				zap.String("session_id", session.ID),
				zap.String("group_id", message.GroupID),
				zap.Int64("seq", message.Seq))
		}
	}
}
