package mailer

import (
	"context"
	"errors"
	"time"
)

// Template names.
const (
	TemplateMagicLink  = "magic_link"
	TemplateActivation = "activation"
)

// Delivery statuses reported to the Recorder.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusQueued  = "queued"
	StatusDropped = "dropped"
)

// ErrNoRecipient is returned when a message has no address.
var ErrNoRecipient = errors.New("message has no recipient")

// Config holds SMTP settings.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StartTLS upgrades the connection when the server offers it.
	StartTLS bool
	Timeout  time.Duration
}

// DefaultConfig returns a disabled mailer that logs instead of sending.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Port:     587,
		From:     "ClaimGate <no-reply@localhost>",
		StartTLS: true,
		Timeout:  10 * time.Second,
	}
}

// Message is one rendered email.
type Message struct {
	To       string
	Subject  string
	Body     string
	Template string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
}

// Recorder counts email outcomes by template.
type Recorder interface {
	RecordEmail(template, status string)
}
