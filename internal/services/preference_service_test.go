package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caseflowhq/caseflow/internal/cache"
	"github.com/caseflowhq/caseflow/internal/database/testutil"
	"github.com/caseflowhq/caseflow/internal/models"
	apperrors "github.com/caseflowhq/caseflow/pkg/errors"
)

func newPreferenceService(t *testing.T) *PreferenceService {
	t.Helper()
	svc, err := NewPreferenceService(testutil.MustOpenTestDB(t), cache.NewMemoryStore())
	require.NoError(t, err)
	return svc
}

func TestResolveDefaultsWithoutRows(t *testing.T) {
	svc := newPreferenceService(t)

	prefs, err := svc.Resolve(context.Background(), "u1", models.CategorySystem)
	require.NoError(t, err)
	require.True(t, prefs.Realtime)
	require.False(t, prefs.Email)
}

func TestResolveAppliesStoredOverrides(t *testing.T) {
	svc := newPreferenceService(t)

	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategoryMessage, Channel: models.ChannelRealtime, Enabled: false,
	}))
	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategoryMessage, Channel: models.ChannelEmail, Enabled: true,
	}))

	prefs, err := svc.Resolve(context.Background(), "u1", models.CategoryMessage)
	require.NoError(t, err)
	require.False(t, prefs.Realtime)
	require.True(t, prefs.Email)

	// Another user keeps the defaults.
	other, err := svc.Resolve(context.Background(), "u2", models.CategoryMessage)
	require.NoError(t, err)
	require.True(t, other.Realtime)
	require.False(t, other.Email)
}

func TestResolveAlertIgnoresOptOuts(t *testing.T) {
	svc := newPreferenceService(t)

	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategoryAlert, Channel: models.ChannelEmail, Enabled: false,
	}))

	prefs, err := svc.Resolve(context.Background(), "u1", models.CategoryAlert)
	require.NoError(t, err)
	require.True(t, prefs.Realtime)
	require.True(t, prefs.Email)
}

func TestUpdateInvalidatesCachedResolution(t *testing.T) {
	svc := newPreferenceService(t)

	before, err := svc.Resolve(context.Background(), "u1", models.CategoryReminder)
	require.NoError(t, err)
	require.False(t, before.Email)

	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategoryReminder, Channel: models.ChannelEmail, Enabled: true,
	}))

	after, err := svc.Resolve(context.Background(), "u1", models.CategoryReminder)
	require.NoError(t, err)
	require.True(t, after.Email, "stale cache entry must not survive an update")
}

func TestUpdateUpsertsSameRow(t *testing.T) {
	svc := newPreferenceService(t)

	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategorySystem, Channel: models.ChannelRealtime, Enabled: false,
	}))
	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategorySystem, Channel: models.ChannelRealtime, Enabled: true,
	}))

	var count int64
	require.NoError(t, svc.db.Model(&models.NotificationPreference{}).
		Where("user_id = ?", "u1").
		Count(&count).Error)
	require.EqualValues(t, 1, count)

	prefs, err := svc.Resolve(context.Background(), "u1", models.CategorySystem)
	require.NoError(t, err)
	require.True(t, prefs.Realtime)
}

func TestUpdateRejectsUnknownCategoryAndChannel(t *testing.T) {
	svc := newPreferenceService(t)

	err := svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: "fax", Channel: models.ChannelEmail,
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidCategory)

	err = svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategorySystem, Channel: "pigeon",
	})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestListReturnsEffectivePrefsPerCategory(t *testing.T) {
	svc := newPreferenceService(t)

	require.NoError(t, svc.Update(context.Background(), UpdatePreferenceInput{
		UserID: "u1", Category: models.CategoryMessage, Channel: models.ChannelEmail, Enabled: true,
	}))

	out, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out, len(models.Categories()))
	require.True(t, out[models.CategoryMessage].Email)
	require.False(t, out[models.CategorySystem].Email)
	require.True(t, out[models.CategoryAlert].Email)
	require.True(t, out[models.CategoryAlert].Realtime)
}
