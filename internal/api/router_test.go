package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/caseflowhq/caseflow/internal/auth"
	"github.com/caseflowhq/caseflow/internal/database/testutil"
	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/presence"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/internal/services"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, *models.Notification, []string) {}

func newTestRouter(t *testing.T) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	registry := presence.NewRegistry()
	router, err := realtime.NewRouter(registry, services.ThreadParticipantsResolver(db), realtime.DirectoryResolvers{})
	require.NoError(t, err)

	notifications, err := services.NewNotificationService(db, router, nopDispatcher{})
	require.NoError(t, err)
	hub := realtime.NewHub(registry)
	messages, err := services.NewMessageService(db, router, hub, notifications)
	require.NoError(t, err)
	prefs, err := services.NewPreferenceService(db, nil)
	require.NoError(t, err)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)

	engine, err := NewRouter(Dependencies{
		DB:            db,
		JWT:           jwt,
		Hub:           hub,
		Notifications: notifications,
		Messages:      messages,
		Preferences:   prefs,
	})
	require.NoError(t, err)
	return engine, jwt
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	engine, jwt := newTestRouter(t)

	// Health should be public
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Protected endpoints without auth should be 401
	for _, path := range []string{"/api/notifications/unread", "/api/preferences"} {
		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// And reachable with a valid token
	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: "u1", TenantID: "t1"})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications/unread", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "go_goroutines") ||
		strings.Contains(w.Body.String(), "caseflow_"))
}

func TestRouterUnknownRoute(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebsocketRouteRejectsAnonymous(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
