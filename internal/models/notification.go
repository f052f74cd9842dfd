package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Notification categories. The payload blob is tagged by category; clients
// decode it accordingly.
const (
	CategorySystem    = "system"
	CategoryMessage   = "message"
	CategoryReminder  = "reminder"
	CategoryAlert     = "alert"
	CategoryBroadcast = "broadcast"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Categories lists every known notification category.
func Categories() []string {
	return []string{CategorySystem, CategoryMessage, CategoryReminder, CategoryAlert, CategoryBroadcast}
}

// ValidCategory reports whether the supplied category is a known enum value.
func ValidCategory(category string) bool {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case CategorySystem, CategoryMessage, CategoryReminder, CategoryAlert, CategoryBroadcast:
		return true
	default:
		return false
	}
}

// ValidPriority reports whether the supplied priority is a known enum value.
func ValidPriority(priority string) bool {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// Notification is the durable record of a single delivery to one recipient.
//
// DeliveredAt is set exactly once, on the first successful realtime push.
// ReadAt is set by recipient action. Records are never hard-deleted by the
// delivery core; ArchivedAt marks soft archival.
type Notification struct {
	BaseModel

	TenantID    string `gorm:"type:uuid;index:idx_notifications_recipient;not null" json:"tenant_id"`
	RecipientID string `gorm:"type:uuid;index:idx_notifications_recipient;not null" json:"recipient_id"`
	SenderID    string `gorm:"type:uuid" json:"sender_id,omitempty"`

	Category string         `gorm:"type:varchar(32);not null" json:"category"`
	Payload  datatypes.JSON `json:"payload"`
	Priority string         `gorm:"type:varchar(16);default:'normal'" json:"priority"`

	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `gorm:"index" json:"read_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}
