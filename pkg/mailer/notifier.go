package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/claimgate/pkg/async"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

const taskPrefix = "email:"

// Notifier renders auth emails and delivers them on a background queue.
// Callers never wait on SMTP.
type Notifier struct {
	sender   Sender
	queue    *async.Queue
	recorder Recorder
	logger   *observability.Logger

	magicLinkTTL  time.Duration
	activationTTL time.Duration
}

// NotifierConfig controls the queue and the lifetimes quoted in emails.
type NotifierConfig struct {
	Queue         async.QueueConfig
	MagicLinkTTL  time.Duration
	ActivationTTL time.Duration
}

// NewNotifier starts the delivery queue. recorder may be nil.
func NewNotifier(ctx context.Context, sender Sender, recorder Recorder, config NotifierConfig, logger *observability.Logger) *Notifier {
	n := &Notifier{
		sender:        sender,
		recorder:      recorder,
		logger:        logger.WithField("component", "mailer"),
		magicLinkTTL:  config.MagicLinkTTL,
		activationTTL: config.ActivationTTL,
	}
	n.queue = async.NewQueue(ctx, "email", config.Queue, logger, n.onFailure)
	return n
}

// SendMagicLink queues the sign-in email.
func (n *Notifier) SendMagicLink(_ context.Context, email, link string) error {
	return n.enqueue(TemplateMagicLink, email, link, n.magicLinkTTL)
}

// SendActivation queues the account activation email.
func (n *Notifier) SendActivation(_ context.Context, email, link string) error {
	return n.enqueue(TemplateActivation, email, link, n.activationTTL)
}

// Ping checks the underlying sender.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.sender.Ping(ctx)
}

// Pending returns the number of queued emails.
func (n *Notifier) Pending() int {
	return n.queue.Len()
}

// Shutdown drains queued emails for up to timeout.
func (n *Notifier) Shutdown(timeout time.Duration) error {
	return n.queue.Shutdown(timeout)
}

func (n *Notifier) enqueue(template, to, link string, ttl time.Duration) error {
	msg, err := Render(template, to, LinkData{Email: to, Link: link, ExpiresIn: humanDuration(ttl)})
	if err != nil {
		return err
	}

	err = n.queue.Submit(taskPrefix+template, func(ctx context.Context) error {
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
		n.record(template, StatusSent)
		return nil
	})
	if err != nil {
		n.record(template, StatusDropped)
		return fmt.Errorf("failed to queue %s email: %w", template, err)
	}
	n.record(template, StatusQueued)
	return nil
}

func (n *Notifier) onFailure(task string, attempts int, err error) {
	template := strings.TrimPrefix(task, taskPrefix)
	n.record(template, StatusFailed)
	n.logger.WithError(err).WithFields(map[string]interface{}{
		"template": template,
		"attempts": attempts,
	}).Error("email delivery failed")
}

func (n *Notifier) record(template, status string) {
	if n.recorder != nil {
		n.recorder.RecordEmail(template, status)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%(24*time.Hour) == 0:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
}
