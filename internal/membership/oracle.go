package membership

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCacheTTL     = 5 * time.Second
	defaultCheckTimeout = 2 * time.Second
)

var (
	errMissingSource = errors.New("membership source is required")
	noOpLogger       = zap.NewNop()

	// ErrNotMember indicates the user does not currently belong to the group.
	ErrNotMember = errors.New("membership: not a member")
	// ErrGroupNotFound indicates the group id is unknown to the source.
	ErrGroupNotFound = errors.New("membership: group not found")
	// ErrSourceUnavailable indicates the authoritative source did not answer in
	// time. Callers must treat this as a denial, never as an allow.
	ErrSourceUnavailable = errors.New("membership: source unavailable")
)

// Source is the authoritative answer to "is user U a member of group G".
// Implementations return ErrGroupNotFound (wrapped is fine) for unknown groups.
type Source interface {
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}

// OracleConfig configures the membership oracle.
type OracleConfig struct {
	Source       Source
	CacheTTL     time.Duration
	CheckTimeout time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Oracle answers membership questions on the hot send/join path. Answers are
// cached for at most CacheTTL so that external membership changes are observed
// with bounded staleness. A source timeout is reported as ErrSourceUnavailable
// and the stale cache entry is not extended.
type Oracle struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	userID  string
	groupID string
}

type cacheEntry struct {
	member  bool
	expires time.Time
}

// NewOracle constructs a membership oracle over the given source.
func NewOracle(cfg OracleConfig) (*Oracle, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Oracle{
		source:  cfg.Source,
		ttl:     ttl,
		timeout: timeout,
		clock:   clock,
		logger:  logger,
		cache:   make(map[cacheKey]cacheEntry),
	}, nil
}

// IsMember reports current membership, serving from cache within the TTL.
func (o *Oracle) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	key := cacheKey{userID: userID, groupID: groupID}
	now := o.clock()

	o.mu.Lock()
	entry, ok := o.cache[key]
	o.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.member, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	member, err := o.source.IsMember(checkCtx, userID, groupID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			o.logger.Warn("membership check timed out",
				zap.String("user_id", userID),
				zap.String("group_id", groupID),
				zap.Error(err))
			return false, ErrSourceUnavailable
		}
		return false, err
	}

	o.mu.Lock()
	o.cache[key] = cacheEntry{member: member, expires: now.Add(o.ttl)}
	o.mu.Unlock()
	return member, nil
}

// Require returns nil only when the user is currently a member. Any failure to
// establish membership, including a source timeout, is a denial.
func (o *Oracle) Require(ctx context.Context, userID, groupID string) error {
	member, err := o.IsMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// Invalidate drops any cached answer for the user/group pair. Used by tests
// and by callers that just observed a membership change they initiated.
func (o *Oracle) Invalidate(userID, groupID string) {
	o.mu.Lock()
	delete(o.cache, cacheKey{userID: userID, groupID: groupID})
	o.mu.Unlock()
}
