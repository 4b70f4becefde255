package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxBodyLength = 4000

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("group directory is required")
	noOpLogger          = zap.NewNop()

	// ErrGroupNotFound indicates the group id is unknown.
	ErrGroupNotFound = errors.New("chat: group not found")
	// ErrEmptyBody indicates a message with no content.
	ErrEmptyBody = errors.New("chat: message body is empty")
	// ErrBodyTooLong indicates a message exceeding the configured maximum length.
	ErrBodyTooLong = errors.New("chat: message body too long")
	// ErrInvalidLimit indicates a non-positive page limit.
	ErrInvalidLimit = errors.New("chat: limit must be positive")
)

// GroupDirectory answers whether a group id exists. The store does not own
// group records; the referential check is delegated.
type GroupDirectory interface {
	Exists(ctx context.Context, groupID string) (bool, error)
}

// StoreConfig describes the dependencies of the message store.
type StoreConfig struct {
	Database      *gorm.DB
	Directory     GroupDirectory
	Clock         func() time.Time
	MaxBodyLength int
	Logger        *zap.Logger
}

// Store is the durable, append-only message log. Appends to the same group
// are serialized so seq values are assigned in send order with no races;
// reads are cursor-paginated in ascending seq order.
type Store struct {
	db        *gorm.DB
	directory GroupDirectory
	clock     func() time.Time
	maxBody   int
	logger    *zap.Logger
	appends   *keyedMutex
}

// NewStore constructs the message store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxBody := cfg.MaxBodyLength
	if maxBody <= 0 {
		maxBody = defaultMaxBodyLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:        cfg.Database,
		directory: cfg.Directory,
		clock:     clock,
		maxBody:   maxBody,
		logger:    logger,
		appends:   newKeyedMutex(),
	}, nil
}

// Append durably persists a message and returns it with its assigned seq.
// The returned seq strictly follows every previously appended message of the
// same group, even under concurrent appends.
func (s *Store) Append(ctx context.Context, groupID, senderID, body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > s.maxBody {
		return Message{}, ErrBodyTooLong
	}

	exists, err := s.directory.Exists(ctx, groupID)
	if err != nil {
		return Message{}, err
	}
	if !exists {
		return Message{}, ErrGroupNotFound
	}

	unlock := s.appends.lock(groupID)
	defer unlock()

	message := Message{
		GroupID:   groupID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("message append failed",
			zap.String("group_id", groupID),
			zap.String("sender_id", senderID),
			zap.Error(err))
		return Message{}, err
	}
	return message, nil
}

// ListSince returns up to limit messages of the group with seq strictly
// greater than afterSeq, ascending. Passing the last returned seq as the next
// afterSeq resumes the scan with no gaps or repeats.
func (s *Store) ListSince(ctx context.Context, groupID string, afterSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND seq > ?", groupID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
