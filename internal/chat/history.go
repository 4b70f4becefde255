package chat

import (
	"context"
	"errors"
)

const defaultPageLimit = 50

var errMissingHistoryStore = errors.New("message store is required")

// BackfillPage is one page of a group's transcript. NextCursor is the seq of
// the last returned message and resumes the scan when passed back as the
// cursor; HasMore reports whether older pages remain beyond this one.
type BackfillPage struct {
	Messages   []Message
	NextCursor int64
	HasMore    bool
}

// HistoryConfig describes the dependencies of the history service.
type HistoryConfig struct {
	Store      *Store
	Membership Membership
	PageLimit  int
}

// History is the pull side of delivery: clients read it on join and after
// reconnect to cover any window the live fan-out missed.
type History struct {
	store      *Store
	membership Membership
	pageLimit  int
}

// NewHistory constructs the history service.
func NewHistory(cfg HistoryConfig) (*History, error) {
	if cfg.Store == nil {
		return nil, errMissingHistoryStore
	}
	if cfg.Membership == nil {
		return nil, errMissingMembership
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	return &History{
		store:      cfg.Store,
		membership: cfg.Membership,
		pageLimit:  pageLimit,
	}, nil
}

// Backfill returns the group's messages with seq strictly greater than
// cursor, ascending, for members only. A non-positive or oversized limit is
// clamped to the configured page limit.
func (h *History) Backfill(ctx context.Context, groupID, userID string, cursor int64, limit int) (BackfillPage, error) {
	if err := h.membership.Require(ctx, userID, groupID); err != nil {
		return BackfillPage{}, err
	}

	if limit <= 0 || limit > h.pageLimit {
		limit = h.pageLimit
	}

	// One extra row decides HasMore without a second query.
	messages, err := h.store.ListSince(ctx, groupID, cursor, limit+1)
	if err != nil {
		return BackfillPage{}, err
	}

	page := BackfillPage{NextCursor: cursor}
	if len(messages) > limit {
		page.HasMore = true
		messages = messages[:limit]
	}
	page.Messages = messages
	if len(messages) > 0 {
		page.NextCursor = messages[len(messages)-1].Seq
	}
	return page, nil
}
