package database

import (
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Notification{},
		&models.NotificationPreference{},
		&models.MessageThread{},
		&models.Message{},
		&models.ThreadParticipant{},
		&models.CacheEntry{},
	)
}
