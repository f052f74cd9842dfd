package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/pkg/logger"
)

const (
	defaultRetentionDays  = 90
	defaultArchiveSpec    = "@daily"
	defaultCacheEntrySpec = "@hourly"
)

// Archiver soft-archives read notifications past the retention horizon.
// Implemented by the notification service.
type Archiver interface {
	ArchiveReadBefore(ctx context.Context, horizon time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: archiving read notifications
// past retention and pruning expired database cache rows. Records are never
// hard-deleted here; archival is a soft flag.
type Cleaner struct {
	db        *gorm.DB
	archiver  Archiver
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	archiveSchedule string
	cacheSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetentionDays adjusts how long read notifications are kept before archival.
func WithRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithArchiveSchedule overrides the cron specification for notification archival.
func WithArchiveSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.archiveSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache entry pruning.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, archiver Archiver, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		archiver:        archiver,
		now:             time.Now,
		retention:       defaultRetentionDays,
		archiveSchedule: defaultArchiveSpec,
		cacheSchedule:   defaultCacheEntrySpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.archiver != nil || cleaner.db != nil

	return cleaner
}

// Start registers jobs with the cron scheduler and launches it if at least
// one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.archiver != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.archiveSchedule, func() {
			ctx := context.Background()
			if _, err := c.archiver.ArchiveReadBefore(ctx, c.horizon()); err != nil {
				c.log.Warn("notification archival failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
				c.log.Warn("cache entry cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially.
// Primarily used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.archiver != nil && c.retention > 0 {
		if _, err := c.archiver.ArchiveReadBefore(ctx, c.horizon()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) horizon() time.Time {
	return c.now().UTC().AddDate(0, 0, -c.retention)
}

// CleanupCacheEntries removes expired rows from the database cache table.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, nil
	}

	result := db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
