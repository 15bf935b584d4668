// Package mail provides the outbound mail capability consumed by the
// auth service. The service treats it as fire-and-forget for
// registration and as load-bearing for explicit resends; that policy
// lives in the caller, not here.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/commune-chat/commune/pkg/observability"
)

// Message is a single outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string // host:port
}

// NewSMTPMailer creates a mailer pointed at the given relay.
func NewSMTPMailer(addr string) *SMTPMailer {
	return &SMTPMailer{addr: addr}
}

// Send delivers one message. The context bounds nothing here: net/smtp
// dials synchronously, and callers treat failures as advisory or fatal
// according to their flow.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	_ = ctx

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	if err := smtp.SendMail(m.addr, nil, msg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// LogMailer logs messages instead of sending them. Used in development
// and as the default when no relay is configured.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("mail send skipped (log-only mailer)")
	return nil
}
