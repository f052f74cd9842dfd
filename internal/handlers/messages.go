package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caseflowhq/caseflow/internal/services"
	"github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/response"
)

// MessageHandler exposes HTTP endpoints for threads, messages and read
// cursors.
type MessageHandler struct {
	service *services.MessageService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(service *services.MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, errors.New("HANDLER_CONFIG", "message service is required", http.StatusInternalServerError)
	}
	return &MessageHandler{service: service}, nil
}

type createThreadRequest struct {
	Type           string   `json:"type" validate:"required,oneof=direct group"`
	Title          string   `json:"title,omitempty" validate:"omitempty,max=255"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1"`
}

// CreateThread opens a new thread with the caller as a participant.
func (h *MessageHandler) CreateThread(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req createThreadRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.service.CreateThread(requestContext(c), services.CreateThreadInput{
		TenantID:       identity.TenantID,
		CreatorID:      identity.UserID,
		Type:           req.Type,
		Title:          req.Title,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

type sendMessageRequest struct {
	Body string `json:"body" validate:"required,max=16384"`
}

// SendMessage posts a message into a thread.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.service.SendMessage(requestContext(c), services.SendMessageInput{
		ThreadID: strings.TrimSpace(c.Param("id")),
		SenderID: identity.UserID,
		Body:     req.Body,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// ListMessages returns thread history for a participant, cursor-paginated.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	page, err := h.service.ListThreadMessages(requestContext(c), services.ListMessagesInput{
		ThreadID: strings.TrimSpace(c.Param("id")),
		UserID:   identity.UserID,
		Cursor:   strings.TrimSpace(c.Query("cursor")),
		Limit:    parseIntQuery(c, "limit", 25),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items, &response.Meta{
		NextCursor: page.NextCursor,
		Count:      len(page.Items),
	})
}

type advanceCursorRequest struct {
	MessageID string `json:"message_id" validate:"required"`
}

// AdvanceReadCursor moves the caller's read position forward in a thread.
func (h *MessageHandler) AdvanceReadCursor(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req advanceCursorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	cursor, err := h.service.AdvanceReadCursor(requestContext(c), strings.TrimSpace(c.Param("id")), identity.UserID, req.MessageID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"last_read_message_id": nil}
	if cursor != nil {
		payload["last_read_message_id"] = *cursor
	}
	response.Success(c, http.StatusOK, payload)
}
