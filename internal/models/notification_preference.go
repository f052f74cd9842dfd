package models

// Delivery channels.
const (
	ChannelRealtime = "realtime"
	ChannelEmail    = "email"
)

// NotificationPreference stores an explicit per-user opt-in/opt-out for one
// (category, channel) pair. Absence of a row means the channel default applies.
type NotificationPreference struct {
	BaseModel

	UserID   string `gorm:"type:uuid;uniqueIndex:idx_pref_user_category_channel;not null" json:"user_id"`
	Category string `gorm:"type:varchar(32);uniqueIndex:idx_pref_user_category_channel;not null" json:"category"`
	Channel  string `gorm:"type:varchar(16);uniqueIndex:idx_pref_user_category_channel;not null" json:"channel"`
	Enabled  bool   `gorm:"not null" json:"enabled"`
}

// ChannelPrefs is the resolved per-category channel selection for a user.
type ChannelPrefs struct {
	Realtime bool `json:"realtime"`
	Email    bool `json:"email"`
}

// DefaultChannelPrefs returns the channel selection applied when no explicit
// preference rows exist: realtime on, email off. Alerts are always delivered
// on both channels.
func DefaultChannelPrefs(category string) ChannelPrefs {
	if category == CategoryAlert {
		return ChannelPrefs{Realtime: true, Email: true}
	}
	return ChannelPrefs{Realtime: true, Email: false}
}
