package users

import "time"

// User is a registered account. Credentials are stored as a bcrypt hash only.
type User struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:36;not null"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}
