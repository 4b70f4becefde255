package groups

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrGroupNotFound indicates the group id or invite token is unknown.
	ErrGroupNotFound = errors.New("groups: group not found")
	// ErrNotOwner indicates the acting user does not own the group.
	ErrNotOwner = errors.New("groups: only the group owner may do this")
	// ErrNotMember indicates the acting user is not a member of the group.
	ErrNotMember = errors.New("groups: not a member of this group")
	// ErrAlreadyMember indicates the user already belongs to the group.
	ErrAlreadyMember = errors.New("groups: already a member of this group")
	// ErrOwnerImmutable indicates an attempt to remove the owner from its group.
	ErrOwnerImmutable = errors.New("groups: the owner cannot be removed")
	// ErrInvalidName indicates a missing group name.
	ErrInvalidName = errors.New("groups: group name is required")
)

// ServiceConfig describes the dependencies required for group management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the authoritative owner of groups and their membership sets. The
// chat core never mutates membership; it only observes it through the
// membership oracle.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the group management service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create creates a group owned by ownerID. The owner is always enrolled as a
// member; additional memberIDs are enrolled alongside, duplicates ignored.
func (s *Service) Create(ctx context.Context, ownerID, name, description string, memberIDs []string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrInvalidName
	}

	now := s.clock().UTC()
	group := Group{
		GroupID:     uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		InviteToken: uuid.NewString(),
		CreatedAt:   now,
	}

	enrolled := map[string]bool{ownerID: true}
	members := []Member{{GroupID: group.GroupID, UserID: ownerID, AddedAt: now}}
	for _, memberID := range memberIDs {
		memberID = strings.TrimSpace(memberID)
		if memberID == "" || enrolled[memberID] {
			continue
		}
		enrolled[memberID] = true
		members = append(members, Member{GroupID: group.GroupID, UserID: memberID, AddedAt: now})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		return tx.Create(&members).Error
	})
	if txErr != nil {
		s.logger.Error("group creation failed", zap.String("owner_id", ownerID), zap.Error(txErr))
		return Group{}, txErr
	}

	s.logger.Info("group created",
		zap.String("group_id", group.GroupID),
		zap.String("owner_id", ownerID),
		zap.Int("members", len(members)))
	return group, nil
}

// Get returns the group and its member list. Only members may read a group.
func (s *Service) Get(ctx context.Context, groupID, userID string) (Group, []Member, error) {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}

	member, err := s.IsMember(ctx, userID, groupID)
	if err != nil {
		return Group{}, nil, err
	}
	if !member {
		return Group{}, nil, ErrNotMember
	}

	var members []Member
	if err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("added_at ASC").
		Find(&members).Error; err != nil {
		return Group{}, nil, err
	}
	return group, members, nil
}

// ListForUser returns every group the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Group, error) {
	var result []Group
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_group_members ON chat_group_members.group_id = chat_groups.group_id").
		Where("chat_group_members.user_id = ?", userID).
		Order("chat_groups.created_at ASC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddMembers enrolls the given users. Only the owner may add members; users
// that are already members are skipped.
func (s *Service) AddMembers(ctx context.Context, groupID, actorID string, userIDs []string) error {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != actorID {
		return ErrNotOwner
	}

	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, userID := range userIDs {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				continue
			}
			var count int64
			if err := tx.Model(&Member{}).
				Where("group_id = ? AND user_id = ?", groupID, userID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&Member{GroupID: groupID, UserID: userID, AddedAt: now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveMember removes one user from the group. Only the owner may remove
// members, and the owner itself can never be removed.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, userID string) error {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != actorID {
		return ErrNotOwner
	}
	if userID == group.OwnerID {
		return ErrOwnerImmutable
	}
	return s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&Member{}).Error
}

// Delete removes the group and its membership records. Owner only.
func (s *Service) Delete(ctx context.Context, groupID, actorID string) error {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != actorID {
		return ErrNotOwner
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&Member{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).Delete(&Group{}).Error
	})
}

// RotateInvite replaces the group's invite token, invalidating the old one.
// Owner only. Returns the new token.
func (s *Service) RotateInvite(ctx context.Context, groupID, actorID string) (string, error) {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return "", err
	}
	if group.OwnerID != actorID {
		return "", ErrNotOwner
	}

	token := uuid.NewString()
	err = s.db.WithContext(ctx).Model(&Group{}).
		Where("group_id = ?", groupID).
		Update("invite_token", token).Error
	if err != nil {
		return "", err
	}
	return token, nil
}

// JoinByInvite enrolls the user in the group identified by the invite token.
func (s *Service) JoinByInvite(ctx context.Context, userID, inviteToken string) (Group, error) {
	var group Group
	err := s.db.WithContext(ctx).Where("invite_token = ?", inviteToken).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, err
	}

	member, err := s.IsMember(ctx, userID, group.GroupID)
	if err != nil {
		return Group{}, err
	}
	if member {
		return Group{}, ErrAlreadyMember
	}

	record := Member{GroupID: group.GroupID, UserID: userID, AddedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Group{}, err
	}

	s.logger.Info("user joined group via invite",
		zap.String("group_id", group.GroupID),
		zap.String("user_id", userID))
	return group, nil
}

// IsMember reports whether the user currently belongs to the group. Returns
// ErrGroupNotFound for unknown groups.
func (s *Service) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if _, err := s.load(ctx, groupID); err != nil {
		return false, err
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Exists reports whether the group id is known.
func (s *Service) Exists(ctx context.Context, groupID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Group{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) load(ctx context.Context, groupID string) (Group, error) {
	var group Group
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, err
	}
	return group, nil
}
