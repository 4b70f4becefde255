package chat

import "time"

// Message is one immutable chat message. Seq is assigned by the store on
// append and is the total order key within a group: appends are serialized
// per group, so ascending seq is ascending send order. Seq also serves as the
// history cursor.
type Message struct {
	Seq       int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	GroupID   string    `gorm:"column:group_id;size:36;not null;index:idx_chat_messages_group_seq"`
	SenderID  string    `gorm:"column:sender_id;size:36;not null"`
	Body      string    `gorm:"column:body;size:4096;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "chat_messages"
}
