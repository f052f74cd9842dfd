package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/pkg/logger"
	"github.com/caseflowhq/caseflow/pkg/metrics"
)

// PresenceReader is the registry view the dispatcher needs for the deferred
// channel decision.
type PresenceReader interface {
	IsOnline(tenantID, userID string) bool
}

// PreferenceResolver yields the effective channel selection for a user and
// category.
type PreferenceResolver interface {
	Resolve(ctx context.Context, userID, category string) (models.ChannelPrefs, error)
}

// EmailQueue hands a notification to the deferred email channel. The handoff
// is fire-and-forget: failures are logged by the caller, never propagated.
type EmailQueue interface {
	Enqueue(ctx context.Context, userID, category string, payload []byte) error
}

// Dispatcher fans a persisted notification out to the recipient's open
// connections and, when the recipient is offline and opted in, defers to the
// email channel. It never raises on transport failure: the record simply
// stays undelivered and is recovered via the reconciliation query.
type Dispatcher struct {
	db       *gorm.DB
	pusher   realtime.Pusher
	presence PresenceReader
	prefs    PreferenceResolver
	emails   EmailQueue
	log      *zap.Logger
	now      func() time.Time
}

// NewDispatcher constructs a Dispatcher. The email queue may be nil when the
// deferred channel is disabled.
func NewDispatcher(db *gorm.DB, pusher realtime.Pusher, presence PresenceReader, prefs PreferenceResolver, emails EmailQueue) (*Dispatcher, error) {
	if db == nil {
		return nil, errors.New("dispatcher: db is required")
	}
	if pusher == nil {
		return nil, errors.New("dispatcher: pusher is required")
	}
	if presence == nil {
		return nil, errors.New("dispatcher: presence reader is required")
	}
	if prefs == nil {
		return nil, errors.New("dispatcher: preference resolver is required")
	}
	return &Dispatcher{
		db:       db,
		pusher:   pusher,
		presence: presence,
		prefs:    prefs,
		emails:   emails,
		log:      logger.WithModule("dispatch"),
		now:      time.Now,
	}, nil
}

// Dispatch pushes the record to the supplied connections of its recipient.
// Per-connection failures are isolated; delivered_at is written at most once
// across concurrent dispatches of the same record.
func (d *Dispatcher) Dispatch(ctx context.Context, record *models.Notification, connIDs []string) {
	if record == nil {
		return
	}

	prefs, err := d.prefs.Resolve(ctx, record.RecipientID, record.Category)
	if err != nil {
		// Channel selection degrades to the defaults; the record itself is
		// already persisted and stays correct.
		d.log.Warn("preference lookup failed",
			zap.String("notification_id", record.ID),
			zap.String("recipient_id", record.RecipientID),
			zap.Error(err),
		)
		prefs = models.DefaultChannelPrefs(record.Category)
	}

	if prefs.Realtime {
		d.push(ctx, record, connIDs)
	}

	if prefs.Email && !d.presence.IsOnline(record.TenantID, record.RecipientID) {
		d.deferToEmail(ctx, record)
	}
}

func (d *Dispatcher) push(ctx context.Context, record *models.Notification, connIDs []string) {
	if len(connIDs) == 0 {
		return
	}

	frame := realtime.Frame{Event: realtime.EventNotification, Data: record}

	delivered := 0
	var pushErrs error
	for _, connID := range connIDs {
		if err := d.pusher.Push(connID, frame); err != nil {
			pushErrs = multierr.Append(pushErrs, err)
			metrics.Pushes.WithLabelValues("error").Inc()
			continue
		}
		delivered++
		metrics.Pushes.WithLabelValues("ok").Inc()
	}

	if pushErrs != nil {
		d.log.Warn("push failures during fan-out",
			zap.String("notification_id", record.ID),
			zap.Int("failed", len(multierr.Errors(pushErrs))),
			zap.Int("delivered", delivered),
			zap.Error(pushErrs),
		)
	}

	if delivered > 0 {
		d.markDelivered(ctx, record)
	}
}

// markDelivered performs the set-if-null conditional write so that only the
// first successful dispatch stamps the record.
func (d *Dispatcher) markDelivered(ctx context.Context, record *models.Notification) {
	now := d.now().UTC()
	result := d.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL", record.ID).
		Update("delivered_at", now)
	if result.Error != nil {
		d.log.Error("mark delivered failed",
			zap.String("notification_id", record.ID),
			zap.Error(result.Error),
		)
		return
	}
	if result.RowsAffected > 0 {
		record.DeliveredAt = &now
	}
}

func (d *Dispatcher) deferToEmail(ctx context.Context, record *models.Notification) {
	if d.emails == nil {
		return
	}

	metrics.EmailDeferrals.WithLabelValues(record.Category).Inc()
	if err := d.emails.Enqueue(ctx, record.RecipientID, record.Category, record.Payload); err != nil {
		d.log.Warn("email deferral failed",
			zap.String("notification_id", record.ID),
			zap.String("recipient_id", record.RecipientID),
			zap.Error(err),
		)
	}
}
