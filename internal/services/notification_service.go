package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/realtime"
	apperrors "github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/logger"
)

// TargetResolver expands a logical delivery target into recipients and their
// open connections.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, target realtime.Target) (realtime.Resolution, error)
}

// DeliveryDispatcher fans a persisted record out to the recipient's
// connections and the deferred email channel.
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, record *models.Notification, connIDs []string)
}

// NotificationDTO is the API-facing shape of a notification record.
type NotificationDTO struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	RecipientID string         `json:"recipient_id"`
	SenderID    string         `json:"sender_id,omitempty"`
	Category    string         `json:"category"`
	Priority    string         `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PublishInput describes a notification to fan out to a logical target.
type PublishInput struct {
	TenantID string
	SenderID string
	Target   realtime.Target
	Category string
	Priority string
	Payload  map[string]any
}

// ListUnreadInput defines the reconciliation query parameters.
type ListUnreadInput struct {
	TenantID string
	UserID   string
	Cursor   string
	Limit    int
}

// UnreadPage is one page of the unread backlog plus the cursor for the next.
type UnreadPage struct {
	Items      []NotificationDTO `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// NotificationService owns the durable notification records: publishing to
// logical targets, read-state transitions and the offline reconciliation
// query.
type NotificationService struct {
	db         *gorm.DB
	router     TargetResolver
	dispatcher DeliveryDispatcher
	log        *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, router TargetResolver, dispatcher DeliveryDispatcher) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if router == nil {
		return nil, errors.New("notification service: target resolver is required")
	}
	if dispatcher == nil {
		return nil, errors.New("notification service: dispatcher is required")
	}
	return &NotificationService{
		db:         db,
		router:     router,
		dispatcher: dispatcher,
		log:        logger.WithModule("notifications"),
	}, nil
}

// Publish persists one record per resolved recipient and hands each to the
// dispatcher. Persistence happens before any push, so a crash mid fan-out
// loses at most the realtime delivery, never the record.
func (s *NotificationService) Publish(ctx context.Context, input PublishInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	category := strings.ToLower(strings.TrimSpace(input.Category))
	if !models.ValidCategory(category) {
		return nil, apperrors.ErrInvalidCategory
	}
	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !models.ValidPriority(priority) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown priority %q", input.Priority))
	}

	var payload datatypes.JSON
	if input.Payload != nil {
		data, err := json.Marshal(input.Payload)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal payload: %w", err)
		}
		payload = datatypes.JSON(data)
	}

	if input.Target.Kind == realtime.TargetThreadParticipants {
		if err := s.ensureThreadPublisher(ctx, input.TenantID, input.Target.ThreadID, input.SenderID); err != nil {
			return nil, err
		}
	}

	res, err := s.router.ResolveTarget(ctx, input.Target)
	if err != nil {
		return nil, fmt.Errorf("notification service: resolve target: %w", err)
	}
	tenantID := input.TenantID
	if tenantID == "" {
		tenantID = res.TenantID
	} else if res.TenantID != "" && res.TenantID != tenantID {
		// A target must never fan out beyond the publisher's tenant.
		return nil, apperrors.ErrNotFound
	}

	items := make([]NotificationDTO, 0, len(res.Recipients))
	for _, recipientID := range res.Recipients {
		record := models.Notification{
			TenantID:    tenantID,
			RecipientID: recipientID,
			SenderID:    strings.TrimSpace(input.SenderID),
			Category:    category,
			Priority:    priority,
			Payload:     payload,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			return nil, fmt.Errorf("notification service: persist notification for %s: %w", recipientID, err)
		}

		s.dispatcher.Dispatch(ctx, &record, res.Connections[recipientID])
		items = append(items, mapNotification(record))
	}

	return items, nil
}

// ensureThreadPublisher gates thread targets: the thread must belong to the
// publisher's tenant and the publisher must be a participant. A foreign-tenant
// thread reads as absent rather than forbidden.
func (s *NotificationService) ensureThreadPublisher(ctx context.Context, tenantID, threadID, senderID string) error {
	var thread models.MessageThread
	if err := s.db.WithContext(ctx).First(&thread, "id = ?", threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("notification service: load thread: %w", err)
	}
	if tenantID != "" && thread.TenantID != tenantID {
		return apperrors.ErrNotFound
	}

	var participant models.ThreadParticipant
	if err := s.db.WithContext(ctx).
		First(&participant, "thread_id = ? AND user_id = ?", threadID, senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotAParticipant
		}
		return fmt.Errorf("notification service: load participant: %w", err)
	}
	return nil
}

// MarkRead stamps read_at on a record owned by the caller. Repeating the call
// is a no-op that returns the unchanged record.
func (s *NotificationService) MarkRead(ctx context.Context, tenantID, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	var record models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND recipient_id = ?", notificationID, tenantID, userID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	if record.ReadAt == nil {
		now := time.Now().UTC()
		result := s.db.WithContext(ctx).
			Model(&models.Notification{}).
			Where("id = ? AND read_at IS NULL", record.ID).
			Update("read_at", now)
		if result.Error != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			record.ReadAt = &now
		} else if err := s.db.WithContext(ctx).First(&record, "id = ?", record.ID).Error; err != nil {
			return nil, fmt.Errorf("notification service: reload notification: %w", err)
		}
	}

	dto := mapNotification(record)
	return &dto, nil
}

// MarkAllRead stamps every unread record of the user within the tenant and
// returns how many rows transitioned.
func (s *NotificationService) MarkAllRead(ctx context.Context, tenantID, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("tenant_id = ? AND recipient_id = ? AND read_at IS NULL", tenantID, userID).
		Update("read_at", time.Now().UTC())
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListUnread returns the caller's unread, unarchived backlog, newest first,
// keyset-paginated. Clients call this after reconnecting to recover anything
// published while they were offline.
func (s *NotificationService) ListUnread(ctx context.Context, input ListUnreadInput) (*UnreadPage, error) {
	ctx = ensureContext(ctx)
	limit := clampPageSize(input.Limit)

	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND recipient_id = ? AND read_at IS NULL AND archived_at IS NULL", input.TenantID, input.UserID)

	if input.Cursor != "" {
		at, id, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list unread: %w", err)
	}

	page := &UnreadPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	page.Items = make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		page.Items = append(page.Items, mapNotification(row))
	}
	return page, nil
}

// ArchiveReadBefore soft-archives read records older than the retention
// horizon. Driven by the scheduled maintenance job.
func (s *NotificationService) ArchiveReadBefore(ctx context.Context, horizon time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("read_at IS NOT NULL AND archived_at IS NULL AND created_at < ?", horizon).
		Update("archived_at", time.Now().UTC())
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: archive read notifications: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Info("archived read notifications",
			zap.Int64("count", result.RowsAffected),
			zap.Time("horizon", horizon),
		)
	}
	return result.RowsAffected, nil
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:          row.ID,
		TenantID:    row.TenantID,
		RecipientID: row.RecipientID,
		SenderID:    row.SenderID,
		Category:    row.Category,
		Priority:    row.Priority,
		Payload:     decodeJSON(row.Payload),
		DeliveredAt: row.DeliveredAt,
		ReadAt:      row.ReadAt,
		CreatedAt:   row.CreatedAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
