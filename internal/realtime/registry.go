package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSendBuffer = 32

var (
	errMissingMembership = errors.New("membership checker is required")
	noOpLogger           = zap.NewNop()

	// ErrSessionNotFound indicates an unknown or already deregistered session.
	ErrSessionNotFound = errors.New("realtime: session not found")
)

// Membership gates room joins on current group membership. Implementations
// must fail closed: any error is a denial.
type Membership interface {
	Require(ctx context.Context, userID, groupID string) error
}

// RegistryConfig configures the session registry.
type RegistryConfig struct {
	Membership Membership
	SendBuffer int
	Logger     *zap.Logger
}

// Registry tracks live sessions and the groupId->sessions subscription index
// the dispatcher reads. The two sides of the index are updated under one lock
// so joins, leaves, deregistrations, and subscriber reads never observe a
// half-applied change.
type Registry struct {
	membership Membership
	buffer     int
	logger     *zap.Logger

	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[string]map[string]*Session
}

// NewRegistry constructs the session registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Membership == nil {
		return nil, errMissingMembership
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{
		membership:  cfg.Membership,
		buffer:      buffer,
		logger:      logger,
		sessions:    make(map[string]*Session),
		subscribers: make(map[string]map[string]*Session),
	}, nil
}

// Register creates a session for an authenticated connection.
func (r *Registry) Register(userID string) *Session {
	session := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		outbound: make(chan Delivery, r.buffer),
		done:     make(chan struct{}),
		groups:   make(map[string]bool),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Debug("session registered",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID))
	return session
}

// Join subscribes the session to the group's live stream. Membership is
// checked at call time; a denial leaves the session's other subscriptions
// untouched.
func (r *Registry) Join(ctx context.Context, sessionID, groupID string) error {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := r.membership.Require(ctx, session.UserID, groupID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The session may have disconnected while the membership check ran.
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	session.groups[groupID] = true
	group, ok := r.subscribers[groupID]
	if !ok {
		group = make(map[string]*Session)
		r.subscribers[groupID] = group
	}
	group[sessionID] = session
	return nil
}

// Leave unsubscribes the session from the group. Idempotent.
func (r *Registry) Leave(sessionID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(session.groups, groupID)
	r.dropSubscriber(groupID, sessionID)
}

// Deregister removes the session and every subscription it holds. Idempotent;
// triggered by disconnect.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		for groupID := range session.groups {
			r.dropSubscriber(groupID, sessionID)
		}
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok {
		session.close()
		r.logger.Debug("session deregistered",
			zap.String("session_id", sessionID),
			zap.String("user_id", session.UserID))
	}
}

// SubscribersOf snapshots the sessions currently subscribed to the group.
func (r *Registry) SubscribersOf(groupID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := r.subscribers[groupID]
	if len(group) == 0 {
		return nil
	}
	snapshot := make([]*Session, 0, len(group))
	for _, session := range group {
		snapshot = append(snapshot, session)
	}
	return snapshot
}

// dropSubscriber requires r.mu to be held.
func (r *Registry) dropSubscriber(groupID, sessionID string) {
	group := r.subscribers[groupID]
	if group == nil {
		return
	}
	delete(group, sessionID)
	if len(group) == 0 {
		delete(r.subscribers, groupID)
	}
}
