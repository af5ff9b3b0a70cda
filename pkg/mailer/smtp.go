package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/claimgate/pkg/observability"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	config Config
	now    func() time.Time
}

// NewSMTPSender validates the sender address and returns a sender.
func NewSMTPSender(config Config) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if _, err := mail.ParseAddress(config.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", config.From, err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &SMTPSender{config: config, now: time.Now}, nil
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	deadline := time.Now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start smtp session: %w", err)
	}
	if s.config.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start tls: %w", err)
			}
		}
	}
	if s.config.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
			if err := client.Auth(auth); err != nil {
				client.Close()
				return nil, fmt.Errorf("smtp auth failed: %w", err)
			}
		}
	}
	return client, nil
}

// Send delivers one message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	from, _ := mail.ParseAddress(s.config.From)
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to.Address); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := wc.Write(s.compose(from, to, msg)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp server rejected message: %w", err)
	}
	return client.Quit()
}

// Ping opens a session and quits. Used by readiness.
func (s *SMTPSender) Ping(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func (s *SMTPSender) compose(from, to *mail.Address, msg Message) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}
	domain := s.config.Host
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", s.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return buf.Bytes()
}

// LogSender writes messages to the log instead of sending them. It is used
// when mail delivery is disabled.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger.WithField("component", "mailer")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger.WithFields(map[string]interface{}{
		"to":       msg.To,
		"template": msg.Template,
		"subject":  msg.Subject,
	}).Info("email delivery disabled, message not sent")
	return nil
}

func (s *LogSender) Ping(context.Context) error { return nil }
