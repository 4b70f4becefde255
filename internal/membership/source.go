package membership

import (
	"context"
	"errors"

	"github.com/parleylabs/parley/internal/groups"
)

// GroupSource adapts the group management service to the oracle's Source
// contract, translating its not-found sentinel.
type GroupSource struct {
	Groups *groups.Service
}

// IsMember delegates to the group service's authoritative membership set.
func (s GroupSource) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	member, err := s.Groups.IsMember(ctx, userID, groupID)
	if errors.Is(err, groups.ErrGroupNotFound) {
		return false, ErrGroupNotFound
	}
	if err != nil {
		return false, err
	}
	return member, nil
}
