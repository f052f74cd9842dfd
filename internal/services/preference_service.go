package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/caseflowhq/caseflow/internal/cache"
	"github.com/caseflowhq/caseflow/internal/models"
	apperrors "github.com/caseflowhq/caseflow/pkg/errors"
)

const preferenceCacheTTL = 30 * time.Second

// UpdatePreferenceInput sets one (category, channel) opt-in or opt-out.
type UpdatePreferenceInput struct {
	UserID   string
	Category string
	Channel  string
	Enabled  bool
}

// PreferenceService resolves and stores per-user delivery channel
// preferences. Resolutions are cached briefly; a stale read only delays a
// preference change taking effect, it never affects record persistence.
type PreferenceService struct {
	db    *gorm.DB
	cache cache.Store
	ttl   time.Duration
}

// NewPreferenceService constructs a PreferenceService. The cache may be nil,
// in which case every resolution hits the database.
func NewPreferenceService(db *gorm.DB, store cache.Store) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db, cache: store, ttl: preferenceCacheTTL}, nil
}

// Resolve returns the effective channel selection for a user and category.
// Explicit rows override the category defaults. Alerts are always delivered
// on both channels regardless of stored preferences.
func (s *PreferenceService) Resolve(ctx context.Context, userID, category string) (models.ChannelPrefs, error) {
	ctx = ensureContext(ctx)
	category = strings.ToLower(strings.TrimSpace(category))

	if category == models.CategoryAlert {
		return models.ChannelPrefs{Realtime: true, Email: true}, nil
	}

	key := preferenceCacheKey(userID, category)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var prefs models.ChannelPrefs
			if json.Unmarshal(data, &prefs) == nil {
				return prefs, nil
			}
		}
	}

	var rows []models.NotificationPreference
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND category = ?", userID, category).
		Find(&rows).Error; err != nil {
		return models.ChannelPrefs{}, fmt.Errorf("preference service: load preferences: %w", err)
	}

	prefs := models.DefaultChannelPrefs(category)
	for _, row := range rows {
		switch row.Channel {
		case models.ChannelRealtime:
			prefs.Realtime = row.Enabled
		case models.ChannelEmail:
			prefs.Email = row.Enabled
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(prefs); err == nil {
			_ = s.cache.Set(ctx, key, data, s.ttl)
		}
	}
	return prefs, nil
}

// Update upserts one explicit preference row and invalidates the cached
// resolution for that user and category.
func (s *PreferenceService) Update(ctx context.Context, input UpdatePreferenceInput) error {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return apperrors.NewBadRequest("user id is required")
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if !models.ValidCategory(category) {
		return apperrors.ErrInvalidCategory
	}
	channel := strings.ToLower(strings.TrimSpace(input.Channel))
	if channel != models.ChannelRealtime && channel != models.ChannelEmail {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown channel %q", input.Channel))
	}

	row := models.NotificationPreference{
		UserID:   userID,
		Category: category,
		Channel:  channel,
		Enabled:  input.Enabled,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(&row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("preference service: conflicting update for %s/%s/%s: %w", userID, category, channel, err)
		}
		return fmt.Errorf("preference service: save preference: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, preferenceCacheKey(userID, category))
	}
	return nil
}

// List returns the effective channel selection per category for a user.
func (s *PreferenceService) List(ctx context.Context, userID string) (map[string]models.ChannelPrefs, error) {
	ctx = ensureContext(ctx)

	var rows []models.NotificationPreference
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("preference service: list preferences: %w", err)
	}

	out := make(map[string]models.ChannelPrefs, len(models.Categories()))
	for _, category := range models.Categories() {
		out[category] = models.DefaultChannelPrefs(category)
	}
	for _, row := range rows {
		if row.Category == models.CategoryAlert {
			continue
		}
		prefs := out[row.Category]
		switch row.Channel {
		case models.ChannelRealtime:
			prefs.Realtime = row.Enabled
		case models.ChannelEmail:
			prefs.Email = row.Enabled
		}
		out[row.Category] = prefs
	}
	return out, nil
}

func preferenceCacheKey(userID, category string) string {
	return "prefs:" + userID + ":" + category
}
