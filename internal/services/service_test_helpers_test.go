package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/database/testutil"
	"github.com/caseflowhq/caseflow/internal/models"
	"github.com/caseflowhq/caseflow/internal/presence"
	"github.com/caseflowhq/caseflow/internal/realtime"
)

// capturingDispatcher records every dispatch without touching transports.
type capturingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

type dispatchCall struct {
	record  models.Notification
	connIDs []string
}

func (d *capturingDispatcher) Dispatch(_ context.Context, record *models.Notification, connIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{record: *record, connIDs: connIDs})
}

func (d *capturingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// capturingPusher records pushed frames per connection.
type capturingPusher struct {
	mu     sync.Mutex
	frames map[string][]realtime.Frame
}

func newCapturingPusher() *capturingPusher {
	return &capturingPusher{frames: make(map[string][]realtime.Frame)}
}

func (p *capturingPusher) Push(connID string, frame realtime.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[connID] = append(p.frames[connID], frame)
	return nil
}

func (p *capturingPusher) framesFor(connID string) []realtime.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[connID]
}

type testEnv struct {
	db         *gorm.DB
	registry   *presence.Registry
	router     *realtime.Router
	dispatcher *capturingDispatcher
	pusher     *capturingPusher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	registry := presence.NewRegistry()
	router, err := realtime.NewRouter(registry, ThreadParticipantsResolver(db), realtime.DirectoryResolvers{})
	require.NoError(t, err)

	return &testEnv{
		db:         db,
		registry:   registry,
		router:     router,
		dispatcher: &capturingDispatcher{},
		pusher:     newCapturingPusher(),
	}
}

func (e *testEnv) notificationService(t *testing.T) *NotificationService {
	t.Helper()
	svc, err := NewNotificationService(e.db, e.router, e.dispatcher)
	require.NoError(t, err)
	return svc
}

func (e *testEnv) messageService(t *testing.T) *MessageService {
	t.Helper()
	svc, err := NewMessageService(e.db, e.router, e.pusher, e.notificationService(t))
	require.NoError(t, err)
	return svc
}

func (e *testEnv) seedThread(t *testing.T, tenantID string, userIDs ...string) *models.MessageThread {
	t.Helper()
	svc := e.messageService(t)
	dto, err := svc.CreateThread(context.Background(), CreateThreadInput{
		TenantID:       tenantID,
		CreatorID:      userIDs[0],
		Type:           models.ThreadGroup,
		Title:          "case discussion",
		ParticipantIDs: userIDs,
	})
	require.NoError(t, err)

	var thread models.MessageThread
	require.NoError(t, e.db.First(&thread, "id = ?", dto.ID).Error)
	return &thread
}
