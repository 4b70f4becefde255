package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleylabs/parley/internal/groups"
)

const migrationBackfillInviteTokens = "2026-06-18_backfill_group_invite_tokens"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillInviteTokens, apply: backfillInviteTokens},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Groups created before invite links shipped carry an empty token; give each
// one a token so join-by-invite works uniformly.
func backfillInviteTokens(db *gorm.DB) error {
	var stale []groups.Group
	if err := db.Where("invite_token = ''").Find(&stale).Error; err != nil {
		return err
	}
	for _, group := range stale {
		err := db.Model(&groups.Group{}).
			Where("group_id = ?", group.GroupID).
			Update("invite_token", uuid.NewString()).Error
		if err != nil {
			return err
		}
	}
	return nil
}
