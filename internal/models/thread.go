package models

import "time"

// Thread types.
const (
	ThreadDirect = "direct"
	ThreadGroup  = "group"
)

// MessageThread groups messages between a fixed set of participants within a
// single tenant.
type MessageThread struct {
	BaseModel

	TenantID string `gorm:"type:uuid;index;not null" json:"tenant_id"`
	Title    string `gorm:"type:varchar(255)" json:"title,omitempty"`
	Type     string `gorm:"type:varchar(16);not null" json:"type"`
}

// Message is a single post inside a thread.
type Message struct {
	BaseModel

	ThreadID string     `gorm:"type:uuid;index:idx_messages_thread;not null" json:"thread_id"`
	SenderID string     `gorm:"type:uuid;not null" json:"sender_id"`
	Body     string     `gorm:"type:text;not null" json:"body"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

// ThreadParticipant records membership and the participant's read cursor.
//
// LastReadMessageID only ever advances; concurrent updates from multiple
// devices of the same user race through a conditional write.
type ThreadParticipant struct {
	ThreadID string    `gorm:"type:uuid;primaryKey" json:"thread_id"`
	UserID   string    `gorm:"type:uuid;primaryKey" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`

	LastReadMessageID *string `gorm:"type:uuid" json:"last_read_message_id,omitempty"`
}
