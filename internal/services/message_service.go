package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/realtime"
	apperrors "github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/logger"
)

const cursorRetryAttempts = 3

// NotificationPublisher persists and dispatches durable notification records.
type NotificationPublisher interface {
	Publish(ctx context.Context, input PublishInput) ([]NotificationDTO, error)
}

// ThreadDTO is the API-facing shape of a message thread.
type ThreadDTO struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Title        string    `json:"title,omitempty"`
	Type         string    `json:"type"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageDTO is the API-facing shape of a thread message.
type MessageDTO struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	SenderID  string     `json:"sender_id"`
	Body      string     `json:"body"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateThreadInput describes a new thread and its initial membership.
type CreateThreadInput struct {
	TenantID       string
	CreatorID      string
	Type           string
	Title          string
	ParticipantIDs []string
}

// SendMessageInput describes one message post.
type SendMessageInput struct {
	ThreadID string
	SenderID string
	Body     string
}

// ListMessagesInput defines the thread history query parameters.
type ListMessagesInput struct {
	ThreadID string
	UserID   string
	Cursor   string
	Limit    int
}

// MessagePage is one page of thread history plus the cursor for the next.
type MessagePage struct {
	Items      []MessageDTO `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// MessageService owns threads, messages and per-participant read cursors.
// Every operation is gated on thread membership.
type MessageService struct {
	db            *gorm.DB
	router        TargetResolver
	pusher        realtime.Pusher
	notifications NotificationPublisher
	log           *zap.Logger
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB, router TargetResolver, pusher realtime.Pusher, notifications NotificationPublisher) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if router == nil {
		return nil, errors.New("message service: target resolver is required")
	}
	if pusher == nil {
		return nil, errors.New("message service: pusher is required")
	}
	if notifications == nil {
		return nil, errors.New("message service: notification publisher is required")
	}
	return &MessageService{
		db:            db,
		router:        router,
		pusher:        pusher,
		notifications: notifications,
		log:           logger.WithModule("messages"),
	}, nil
}

// ThreadParticipantsResolver adapts the thread store into the router's
// participant lookup.
func ThreadParticipantsResolver(db *gorm.DB) realtime.ParticipantsResolver {
	return func(ctx context.Context, threadID string) (string, []string, error) {
		var thread models.MessageThread
		if err := db.WithContext(ctx).First(&thread, "id = ?", threadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil, apperrors.ErrNotFound
			}
			return "", nil, fmt.Errorf("load thread %s: %w", threadID, err)
		}

		var userIDs []string
		if err := db.WithContext(ctx).
			Model(&models.ThreadParticipant{}).
			Where("thread_id = ?", threadID).
			Pluck("user_id", &userIDs).Error; err != nil {
			return "", nil, fmt.Errorf("load thread %s participants: %w", threadID, err)
		}
		return thread.TenantID, userIDs, nil
	}
}

// CreateThread creates a thread with its initial participants. Direct threads
// hold exactly two participants.
func (s *MessageService) CreateThread(ctx context.Context, input CreateThreadInput) (*ThreadDTO, error) {
	ctx = ensureContext(ctx)

	tenantID := strings.TrimSpace(input.TenantID)
	creatorID := strings.TrimSpace(input.CreatorID)
	if tenantID == "" || creatorID == "" {
		return nil, apperrors.NewBadRequest("tenant id and creator id are required")
	}

	threadType := strings.ToLower(strings.TrimSpace(input.Type))
	if threadType != models.ThreadDirect && threadType != models.ThreadGroup {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown thread type %q", input.Type))
	}

	participantIDs := normaliseIDs(append(input.ParticipantIDs, creatorID))
	if threadType == models.ThreadDirect && len(participantIDs) != 2 {
		return nil, apperrors.NewBadRequest("direct threads require exactly two participants")
	}
	if len(participantIDs) < 2 {
		return nil, apperrors.NewBadRequest("threads require at least two participants")
	}

	thread := models.MessageThread{
		TenantID: tenantID,
		Title:    strings.TrimSpace(input.Title),
		Type:     threadType,
	}
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&thread).Error; err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		for _, userID := range participantIDs {
			participant := models.ThreadParticipant{
				ThreadID: thread.ID,
				UserID:   userID,
				JoinedAt: now,
			}
			if err := tx.Create(&participant).Error; err != nil {
				return fmt.Errorf("add participant %s: %w", userID, err)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("message service: %w", err)
	}

	return &ThreadDTO{
		ID:           thread.ID,
		TenantID:     thread.TenantID,
		Title:        thread.Title,
		Type:         thread.Type,
		Participants: participantIDs,
		CreatedAt:    thread.CreatedAt,
	}, nil
}

// SendMessage persists a message, streams it to the other participants' open
// connections and publishes the durable per-recipient notification records.
func (s *MessageService) SendMessage(ctx context.Context, input SendMessageInput) (*MessageDTO, error) {
	ctx = ensureContext(ctx)

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewBadRequest("message body is required")
	}

	thread, err := s.loadThread(ctx, input.ThreadID)
	if err != nil {
		return nil, err
	}
	if _, err := s.participant(ctx, thread.ID, input.SenderID); err != nil {
		return nil, err
	}

	message := models.Message{
		ThreadID: thread.ID,
		SenderID: input.SenderID,
		Body:     body,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("message service: persist message: %w", err)
	}
	dto := mapMessage(message)

	s.streamMessage(ctx, thread, &dto)

	if _, err := s.notifications.Publish(ctx, PublishInput{
		TenantID: thread.TenantID,
		SenderID: input.SenderID,
		Target:   realtime.ThreadParticipants(thread.ID, input.SenderID),
		Category: models.CategoryMessage,
		Payload: map[string]any{
			"thread_id":  thread.ID,
			"message_id": message.ID,
			"sender_id":  input.SenderID,
			"preview":    preview(body),
		},
	}); err != nil {
		// The message is already durable; notification fan-out failing must
		// not fail the send.
		s.log.Warn("message notification publish failed",
			zap.String("thread_id", thread.ID),
			zap.String("message_id", message.ID),
			zap.Error(err),
		)
	}

	return &dto, nil
}

// ListThreadMessages returns thread history for a participant, newest first,
// keyset-paginated.
func (s *MessageService) ListThreadMessages(ctx context.Context, input ListMessagesInput) (*MessagePage, error) {
	ctx = ensureContext(ctx)

	if _, err := s.loadThread(ctx, input.ThreadID); err != nil {
		return nil, err
	}
	if _, err := s.participant(ctx, input.ThreadID, input.UserID); err != nil {
		return nil, err
	}

	limit := clampPageSize(input.Limit)
	query := s.db.WithContext(ctx).Where("thread_id = ?", input.ThreadID)
	if input.Cursor != "" {
		at, id, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var rows []models.Message
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message service: list messages: %w", err)
	}

	page := &MessagePage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	page.Items = make([]MessageDTO, 0, len(rows))
	for _, row := range rows {
		page.Items = append(page.Items, mapMessage(row))
	}
	return page, nil
}

// AdvanceReadCursor moves the participant's read cursor forward to the given
// message. The cursor never moves backwards: a stale advance from a lagging
// device leaves the newer position in place. Returns the effective cursor.
func (s *MessageService) AdvanceReadCursor(ctx context.Context, threadID, userID, messageID string) (*string, error) {
	ctx = ensureContext(ctx)

	thread, err := s.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	participant, err := s.participant(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}

	var target models.Message
	if err := s.db.WithContext(ctx).
		First(&target, "id = ? AND thread_id = ?", messageID, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}

	for attempt := 0; attempt < cursorRetryAttempts; attempt++ {
		current := participant.LastReadMessageID
		if current != nil {
			if *current == messageID {
				return current, nil
			}
			ahead, err := s.cursorAhead(ctx, threadID, *current, &target)
			if err != nil {
				return nil, err
			}
			if ahead {
				return current, nil
			}
		}

		guard := s.db.WithContext(ctx).
			Model(&models.ThreadParticipant{}).
			Where("thread_id = ? AND user_id = ?", threadID, userID)
		if current == nil {
			guard = guard.Where("last_read_message_id IS NULL")
		} else {
			guard = guard.Where("last_read_message_id = ?", *current)
		}

		result := guard.Update("last_read_message_id", messageID)
		if result.Error != nil {
			return nil, fmt.Errorf("message service: advance read cursor: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			s.streamCursor(ctx, thread.TenantID, threadID, userID, messageID)
			return &messageID, nil
		}

		// Lost the race against another device. Reload and re-evaluate.
		participant, err = s.participant(ctx, threadID, userID)
		if err != nil {
			return nil, err
		}
	}

	return participant.LastReadMessageID, nil
}

func (s *MessageService) loadThread(ctx context.Context, threadID string) (*models.MessageThread, error) {
	var thread models.MessageThread
	if err := s.db.WithContext(ctx).First(&thread, "id = ?", threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load thread: %w", err)
	}
	return &thread, nil
}

func (s *MessageService) participant(ctx context.Context, threadID, userID string) (*models.ThreadParticipant, error) {
	var participant models.ThreadParticipant
	if err := s.db.WithContext(ctx).
		First(&participant, "thread_id = ? AND user_id = ?", threadID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotAParticipant
		}
		return nil, fmt.Errorf("message service: load participant: %w", err)
	}
	return &participant, nil
}

// cursorAhead reports whether the stored cursor already points at or past the
// target message in thread order.
func (s *MessageService) cursorAhead(ctx context.Context, threadID, currentID string, target *models.Message) (bool, error) {
	var current models.Message
	if err := s.db.WithContext(ctx).
		First(&current, "id = ? AND thread_id = ?", currentID, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("message service: load cursor message: %w", err)
	}
	if current.CreatedAt.After(target.CreatedAt) {
		return true, nil
	}
	return current.CreatedAt.Equal(target.CreatedAt) && current.ID >= target.ID, nil
}

func (s *MessageService) streamMessage(ctx context.Context, thread *models.MessageThread, dto *MessageDTO) {
	res, err := s.router.ResolveTarget(ctx, realtime.ThreadParticipants(thread.ID, dto.SenderID))
	if err != nil {
		s.log.Warn("message stream resolution failed",
			zap.String("thread_id", thread.ID),
			zap.Error(err),
		)
		return
	}

	frame := realtime.Frame{Event: realtime.EventMessageSent, Data: dto}
	for _, connID := range res.ConnIDs() {
		_ = s.pusher.Push(connID, frame)
	}
}

// streamCursor notifies the user's other devices so their unread badges stay
// in sync. Best effort only.
func (s *MessageService) streamCursor(ctx context.Context, tenantID, threadID, userID, messageID string) {
	res, err := s.router.ResolveTarget(ctx, realtime.SingleUser(tenantID, userID))
	if err != nil {
		return
	}
	frame := realtime.Frame{Event: realtime.EventReadCursorAdvanced, Data: map[string]string{
		"thread_id":            threadID,
		"user_id":              userID,
		"last_read_message_id": messageID,
	}}
	for _, connID := range res.ConnIDs() {
		_ = s.pusher.Push(connID, frame)
	}
}

func mapMessage(row models.Message) MessageDTO {
	return MessageDTO{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		SenderID:  row.SenderID,
		Body:      row.Body,
		EditedAt:  row.EditedAt,
		CreatedAt: row.CreatedAt,
	}
}

func preview(body string) string {
	const maxPreview = 120
	if len(body) <= maxPreview {
		return body
	}
	// Cut on a rune boundary so a multi-byte character is never split.
	cut := maxPreview
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
