package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/database/testutil"
	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/realtime"
)

type fakePusher struct {
	mu     sync.Mutex
	frames map[string][]realtime.Frame
	fail   map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{frames: make(map[string][]realtime.Frame), fail: make(map[string]bool)}
}

func (p *fakePusher) Push(connID string, frame realtime.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[connID] {
		return realtime.ErrConnectionGone
	}
	p.frames[connID] = append(p.frames[connID], frame)
	return nil
}

type fakePresence struct {
	online map[string]bool
}

func (p fakePresence) IsOnline(tenantID, userID string) bool {
	return p.online[tenantID+"/"+userID]
}

type fakePrefs struct {
	prefs map[string]models.ChannelPrefs
	err   error
}

func (p fakePrefs) Resolve(_ context.Context, userID, category string) (models.ChannelPrefs, error) {
	if p.err != nil {
		return models.ChannelPrefs{}, p.err
	}
	if prefs, ok := p.prefs[userID+"/"+category]; ok {
		return prefs, nil
	}
	return models.DefaultChannelPrefs(category), nil
}

type fakeEmailQueue struct {
	mu    sync.Mutex
	sends []string
}

func (q *fakeEmailQueue) Enqueue(_ context.Context, userID, category string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sends = append(q.sends, userID+"/"+category)
	return nil
}

func seedNotification(t *testing.T, db *gorm.DB, tenantID, recipientID, category string) *models.Notification {
	t.Helper()
	record := &models.Notification{
		TenantID:    tenantID,
		RecipientID: recipientID,
		Category:    category,
		Priority:    models.PriorityNormal,
		Payload:     datatypes.JSON([]byte(`{"title":"hello"}`)),
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func newDispatcher(t *testing.T, db *gorm.DB, pusher realtime.Pusher, presence PresenceReader, prefs PreferenceResolver, emails EmailQueue) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(db, pusher, presence, prefs, emails)
	require.NoError(t, err)
	return d
}

func TestDispatchPushesToAllConnections(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, fakePrefs{}, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, []string{"conn-1", "conn-2"})

	require.Len(t, pusher.frames["conn-1"], 1)
	require.Len(t, pusher.frames["conn-2"], 1)
	require.Equal(t, realtime.EventNotification, pusher.frames["conn-1"][0].Event)
	require.NotNil(t, record.DeliveredAt)

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.NotNil(t, stored.DeliveredAt)
}

func TestDispatchIsolatesPerConnectionFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	pusher.fail["conn-bad"] = true
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, fakePrefs{}, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, []string{"conn-bad", "conn-ok"})

	require.Len(t, pusher.frames["conn-ok"], 1)
	require.NotNil(t, record.DeliveredAt, "one success is enough to mark delivered")
}

func TestDispatchDeliveredAtSetOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, fakePrefs{}, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, []string{"conn-1"})
	require.NotNil(t, record.DeliveredAt)
	first := *record.DeliveredAt

	// A later concurrent dispatch of the same record must not overwrite the stamp.
	other := *record
	d.Dispatch(context.Background(), &other, []string{"conn-1"})

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.NotNil(t, stored.DeliveredAt)
	require.Equal(t, first.Unix(), stored.DeliveredAt.Unix())
}

func TestDispatchEmptyTargetLeavesRecordUndelivered(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{}}, fakePrefs{}, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, nil)

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.Nil(t, stored.DeliveredAt)
}

func TestDispatchDefersToEmailWhenOfflineAndOptedIn(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	emails := &fakeEmailQueue{}
	prefs := fakePrefs{prefs: map[string]models.ChannelPrefs{
		"u1/reminder": {Realtime: true, Email: true},
	}}
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{}}, prefs, emails)

	record := seedNotification(t, db, "t1", "u1", models.CategoryReminder)
	d.Dispatch(context.Background(), record, nil)

	require.Equal(t, []string{"u1/reminder"}, emails.sends)
}

func TestDispatchNoEmailWhenOptedOut(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	emails := &fakeEmailQueue{}
	prefs := fakePrefs{prefs: map[string]models.ChannelPrefs{
		"u1/message": {Realtime: true, Email: false},
	}}
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{}}, prefs, emails)

	record := seedNotification(t, db, "t1", "u1", models.CategoryMessage)
	d.Dispatch(context.Background(), record, nil)

	require.Empty(t, emails.sends)

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.Nil(t, stored.DeliveredAt, "record persisted, not delivered")
}

func TestDispatchNoEmailWhenOnline(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	emails := &fakeEmailQueue{}
	prefs := fakePrefs{prefs: map[string]models.ChannelPrefs{
		"u1/reminder": {Realtime: true, Email: true},
	}}
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, prefs, emails)

	record := seedNotification(t, db, "t1", "u1", models.CategoryReminder)
	d.Dispatch(context.Background(), record, []string{"conn-1"})

	require.Empty(t, emails.sends)
}

func TestDispatchRealtimeOptOutSkipsPush(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	prefs := fakePrefs{prefs: map[string]models.ChannelPrefs{
		"u1/system": {Realtime: false, Email: false},
	}}
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, prefs, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, []string{"conn-1"})

	require.Empty(t, pusher.frames)

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.Nil(t, stored.DeliveredAt)
}

func TestDispatchPreferenceErrorFallsBackToDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pusher := newFakePusher()
	prefs := fakePrefs{err: errors.New("cache down")}
	d := newDispatcher(t, db, pusher, fakePresence{online: map[string]bool{"t1/u1": true}}, prefs, nil)

	record := seedNotification(t, db, "t1", "u1", models.CategorySystem)
	d.Dispatch(context.Background(), record, []string{"conn-1"})

	require.Len(t, pusher.frames["conn-1"], 1)
}
