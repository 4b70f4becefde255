package realtime

import (
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/chat"
)

// Delivery is the payload pushed to a subscribed session, shaped for direct
// client consumption.
type Delivery struct {
	GroupID   string
	SenderID  string
	Timestamp time.Time
	Message   chat.Message
}

// Session is one authenticated realtime connection. It is ephemeral: created
// on connect, destroyed on disconnect, never persisted. A user may hold many
// sessions at once (multi-device).
type Session struct {
	ID     string
	UserID string

	outbound  chan Delivery
	done      chan struct{}
	closeOnce sync.Once

	// groups is the session's subscription set, guarded by the registry's lock.
	groups map[string]bool
}

// Deliveries exposes the session's outbound stream, read by the connection's
// write pump. Deliveries for one group arrive in append order.
func (s *Session) Deliveries() <-chan Delivery {
	return s.outbound
}

// Done is closed when the session is deregistered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// deliver enqueues without blocking. A full buffer or a deregistered session
// drops the delivery; the client recovers through history backfill.
func (s *Session) deliver(delivery Delivery) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbound <- delivery:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
