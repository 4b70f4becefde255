package groups

import "time"

// Group is a named collection of users sharing one message stream. Membership
// is stored in the members table; the owner is always a member.
type Group struct {
	GroupID     string    `gorm:"column:group_id;primaryKey;size:36;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;size:1000"`
	OwnerID     string    `gorm:"column:owner_id;size:36;not null;index"`
	InviteToken string    `gorm:"column:invite_token;size:36;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing groups.
func (Group) TableName() string {
	return "chat_groups"
}

// Member records one user's membership in one group.
type Member struct {
	GroupID string    `gorm:"column:group_id;primaryKey;size:36;not null"`
	UserID  string    `gorm:"column:user_id;primaryKey;size:36;not null;index"`
	AddedAt time.Time `gorm:"column:added_at;not null"`
}

// TableName exposes the table backing group membership.
func (Member) TableName() string {
	return "chat_group_members"
}
