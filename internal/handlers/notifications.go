package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caseflowhq/caseflow/internal/middleware"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/internal/services"
	"github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notification records.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("HANDLER_CONFIG", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{service: service}, nil
}

type publishRequest struct {
	Target   string         `json:"target" validate:"required,oneof=user tenant role thread"`
	UserID   string         `json:"user_id,omitempty"`
	Role     string         `json:"role,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
	Category string         `json:"category" validate:"required"`
	Priority string         `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Publish fans a notification out to a logical target. The caller's tenant
// scopes every target form; cross-tenant publishes are not expressible.
func (h *NotificationHandler) Publish(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req publishRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var target realtime.Target
	switch req.Target {
	case "user":
		if strings.TrimSpace(req.UserID) == "" {
			response.Error(c, errors.NewBadRequest("user_id is required for user targets"))
			return
		}
		target = realtime.SingleUser(identity.TenantID, req.UserID)
	case "tenant":
		target = realtime.TenantAll(identity.TenantID)
	case "role":
		if strings.TrimSpace(req.Role) == "" {
			response.Error(c, errors.NewBadRequest("role is required for role targets"))
			return
		}
		target = realtime.TenantRole(identity.TenantID, req.Role)
	case "thread":
		if strings.TrimSpace(req.ThreadID) == "" {
			response.Error(c, errors.NewBadRequest("thread_id is required for thread targets"))
			return
		}
		target = realtime.ThreadParticipants(req.ThreadID, identity.UserID)
	}

	items, err := h.service.Publish(requestContext(c), services.PublishInput{
		TenantID: identity.TenantID,
		SenderID: identity.UserID,
		Target:   target,
		Category: req.Category,
		Priority: req.Priority,
		Payload:  req.Payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusCreated, items, &response.Meta{Count: len(items)})
}

// ListUnread returns the caller's unread backlog, cursor-paginated.
func (h *NotificationHandler) ListUnread(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	page, err := h.service.ListUnread(requestContext(c), services.ListUnreadInput{
		TenantID: identity.TenantID,
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

// MarkRead marks one notification read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	dto, err := h.service.MarkRead(requestContext(c), identity.TenantID, identity.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead marks the caller's whole backlog read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	count, err := h.service.MarkAllRead(requestContext(c), identity.TenantID, identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, gin.H{"marked_read": count}, &response.Meta{Updated: count})
}

// callerIdentity extracts the authenticated identity set by the auth
// middleware. Writes the 401 response itself when absent.
func callerIdentity(c *gin.Context) (realtime.Identity, bool) {
	identity := realtime.Identity{
		UserID:   c.GetString(middleware.CtxUserIDKey),
		TenantID: c.GetString(middleware.CtxTenantIDKey),
		Role:     c.GetString(middleware.CtxRoleKey),
	}
	if identity.UserID == "" || identity.TenantID == "" {
		response.Error(c, errors.ErrAuthenticationRequired)
		return realtime.Identity{}, false
	}
	return identity, true
}
