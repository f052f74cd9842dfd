package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflowhq/caseflow/internal/services"
	"github.com/caseflowhq/caseflow/pkg/errors"
	"github.com/caseflowhq/caseflow/pkg/response"
)

// PreferenceHandler exposes HTTP endpoints for delivery channel preferences.
type PreferenceHandler struct {
	service *services.PreferenceService
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(service *services.PreferenceService) (*PreferenceHandler, error) {
	if service == nil {
		return nil, errors.New("HANDLER_CONFIG", "preference service is required", http.StatusInternalServerError)
	}
	return &PreferenceHandler{service: service}, nil
}

// List returns the caller's effective channel selection per category.
func (h *PreferenceHandler) List(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	prefs, err := h.service.List(requestContext(c), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, prefs)
}

type updatePreferenceRequest struct {
	Category string `json:"category" validate:"required"`
	Channel  string `json:"channel" validate:"required,oneof=realtime email"`
	Enabled  *bool  `json:"enabled" validate:"required"`
}

// Update sets one (category, channel) opt-in or opt-out for the caller.
func (h *PreferenceHandler) Update(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req updatePreferenceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Update(requestContext(c), services.UpdatePreferenceInput{
		UserID:   identity.UserID,
		Category: req.Category,
		Channel:  req.Channel,
		Enabled:  *req.Enabled,
	}); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
