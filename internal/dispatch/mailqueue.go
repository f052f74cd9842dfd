package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/caseflowhq/caseflow/pkg/logger"
	"github.com/caseflowhq/caseflow/pkg/mail"
)

// sendTimeout bounds one deferred email, lookup and wire included.
const sendTimeout = time.Minute

// AddressResolver maps a user to their email address. Supplied by the
// external user-directory collaborator.
type AddressResolver func(ctx context.Context, userID string) (string, error)

// SMTPQueue is the EmailQueue implementation backed by the SMTP mailer. The
// actual send happens on a detached goroutine; Enqueue itself never blocks on
// the wire.
type SMTPQueue struct {
	mailer    mail.Mailer
	addressOf AddressResolver
	log       *zap.Logger
}

// NewSMTPQueue constructs an SMTPQueue.
func NewSMTPQueue(mailer mail.Mailer, addressOf AddressResolver) (*SMTPQueue, error) {
	if mailer == nil {
		return nil, errors.New("mail queue: mailer is required")
	}
	if addressOf == nil {
		return nil, errors.New("mail queue: address resolver is required")
	}
	return &SMTPQueue{
		mailer:    mailer,
		addressOf: addressOf,
		log:       logger.WithModule("mailqueue"),
	}, nil
}

// Enqueue hands the notification to the email channel. Address resolution and
// the send both run on a detached goroutine, so the caller never waits on the
// directory or the wire. The request context is deliberately not carried over;
// the handoff outlives the request.
func (q *SMTPQueue) Enqueue(_ context.Context, userID, category string, payload []byte) error {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		address, err := q.addressOf(sendCtx, userID)
		if err != nil {
			q.log.Warn("deferred email address lookup failed",
				zap.String("user_id", userID),
				zap.String("category", category),
				zap.Error(err),
			)
			return
		}

		msg := mail.Message{
			To:      []string{address},
			Subject: subjectFor(category),
			Body:    string(payload),
		}

		if err := q.mailer.Send(sendCtx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
			q.log.Warn("deferred email send failed",
				zap.String("user_id", userID),
				zap.String("category", category),
				zap.Error(err),
			)
		}
	}()
	return nil
}

func subjectFor(category string) string {
	switch category {
	case "message":
		return "You have a new message"
	case "alert":
		return "Alert from your caseflow workspace"
	case "reminder":
		return "Reminder"
	default:
		return "New notification"
	}
}
