package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/caseflowhq/caseflow/internal/auth"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated websocket
// streams served by the hub.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream authenticates the caller and hands the connection to the hub. The
// token rides in the query string because browsers cannot set headers on
// websocket upgrades.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, errors.ErrAuthenticationRequired)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrAuthenticationRequired)
		return
	}

	identity := realtime.Identity{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}

	h.hub.Serve(identity, c.Writer, c.Request)
}
