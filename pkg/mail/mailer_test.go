package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendDisabledReturnsSentinel(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestNewSMTPMailerRequiresHostWhenEnabled(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	raw := formatMessage("noreply@caseflow.dev", []string{"a@example.com", "b@example.com"}, "New message", "You have a new message.")

	require.True(t, strings.HasPrefix(raw, "From: noreply@caseflow.dev\r\n"))
	require.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	require.Contains(t, raw, "Subject: New message\r\n")
	require.True(t, strings.HasSuffix(raw, "You have a new message.\r\n"))
}

func TestUniqueAddresses(t *testing.T) {
	out := uniqueAddresses([]string{"A@example.com", "a@example.com", " ", "b@example.com"})
	require.Equal(t, []string{"A@example.com", "b@example.com"}, out)
}
