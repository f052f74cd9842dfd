package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/caseflowhq/caseflow/pkg/errors"
)

func performJSON(t *testing.T, write func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	write(c)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestSuccessWithMeta(t *testing.T) {
	rec, body := performJSON(t, func(c *gin.Context) {
		SuccessWithMeta(c, http.StatusOK, []string{"a", "b"}, &Meta{NextCursor: "abc", Count: 2})
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	require.Equal(t, "abc", body.Meta.NextCursor)
	require.Equal(t, 2, body.Meta.Count)
}

func TestErrorRendersAppError(t *testing.T) {
	rec, body := performJSON(t, func(c *gin.Context) {
		Error(c, appErrors.ErrNotAParticipant)
	})

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, body.Success)
	require.Equal(t, appErrors.ErrNotAParticipant.Code, body.Error.Code)
}

func TestErrorDefaultsToInternal(t *testing.T) {
	rec, body := performJSON(t, func(c *gin.Context) {
		Error(c, nil)
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, appErrors.ErrInternalServer.Code, body.Error.Code)
}
