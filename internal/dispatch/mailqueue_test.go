package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseflowhq/caseflow/pkg/mail"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	done chan struct{}
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	select {
	case m.done <- struct{}{}:
	default:
	}
	return nil
}

func TestEnqueueDoesNotBlockOnAddressLookup(t *testing.T) {
	release := make(chan struct{})
	mailer := &captureMailer{done: make(chan struct{}, 1)}

	queue, err := NewSMTPQueue(mailer, func(_ context.Context, userID string) (string, error) {
		<-release
		return userID + "@example.com", nil
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, queue.Enqueue(context.Background(), "u1", "message", []byte(`{"k":"v"}`)))
	require.Less(t, time.Since(start), 200*time.Millisecond, "handoff must not wait on the directory")

	close(release)
	select {
	case <-mailer.done:
	case <-time.After(time.Second):
		t.Fatal("expected a deferred send")
	}

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"u1@example.com"}, mailer.sent[0].To)
	require.Equal(t, "You have a new message", mailer.sent[0].Subject)
}

func TestEnqueueSwallowsLookupFailure(t *testing.T) {
	mailer := &captureMailer{done: make(chan struct{}, 1)}

	queue, err := NewSMTPQueue(mailer, func(context.Context, string) (string, error) {
		return "", errors.New("directory down")
	})
	require.NoError(t, err)

	require.NoError(t, queue.Enqueue(context.Background(), "u1", "alert", nil))

	select {
	case <-mailer.done:
		t.Fatal("no send expected when the address lookup fails")
	case <-time.After(100 * time.Millisecond):
	}
}
