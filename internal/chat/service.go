package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("message store is required")
	errMissingMembership = errors.New("membership checker is required")
)

// Membership gates sends on current group membership. Implementations must
// fail closed: any error is a denial.
type Membership interface {
	Require(ctx context.Context, userID, groupID string) error
}

// Publisher receives each durably appended message for live fan-out.
type Publisher interface {
	Publish(message Message)
}

// noopPublisher drops messages; used when no realtime dispatcher is wired.
type noopPublisher struct{}

func (noopPublisher) Publish(Message) {}

// ServiceConfig describes the dependencies of the send pipeline.
type ServiceConfig struct {
	Store      *Store
	Membership Membership
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service is the send pipeline: membership check, durable append, then live
// fan-out. Publish is invoked only after the append's durability
// acknowledgement, and append+publish are serialized per group so subscribers
// observe fan-out in append order.
type Service struct {
	store      *Store
	membership Membership
	publisher  Publisher
	logger     *zap.Logger
	sends      *keyedMutex
}

// NewService constructs the send pipeline.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Membership == nil {
		return nil, errMissingMembership
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		membership: cfg.Membership,
		publisher:  publisher,
		logger:     logger,
		sends:      newKeyedMutex(),
	}, nil
}

// Send persists a message for the group and fans it out to connected
// subscribers. A failed append aborts the send; nothing is ever published
// that was not first persisted.
func (s *Service) Send(ctx context.Context, groupID, senderID, body string) (Message, error) {
	started := time.Now()
	if err := s.membership.Require(ctx, senderID, groupID); err != nil {
		return Message{}, err
	}

	unlock := s.sends.lock(groupID)
	defer unlock()

	message, err := s.store.Append(ctx, groupID, senderID, body)
	if err != nil {
		return Message{}, err
	}
	s.publisher.Publish(message)

	s.logger.Debug("message sent",
		zap.String("group_id", groupID),
		zap.String("sender_id", senderID),
		zap.Int64("seq", message.Seq),
		zap.Duration("elapsed", time.Since(started)))
	return message, nil
}
