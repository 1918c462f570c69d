// Package notifier carries outcome events to the user: an in-process bus for
// presenters plus email delivery for digests and failures.
package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"log"

	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/digest"
	"github.com/ibeckermayer/post4me/internal/notifier/providers"
)

// Notifier sends mail to the configured recipient
type Notifier struct {
	sender Sender
	to     string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier with the given sender
func New(sender Sender, to string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "smtp", "":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr), nil
}

// SendDigest sends a digest email
func (n *Notifier) SendDigest(d *digest.Digest) error {
	return n.sender.Send(n.to, d.Subject, d.HTMLBody, d.PlainBody)
}

var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html><body style="font-family: -apple-system, sans-serif;">
<h3 style="color: #c0392b;">post4me error</h3>
<p>{{.Message}}</p>
{{if .PostID}}<p style="color: #666;">Post #{{.PostID}}</p>{{end}}
<p style="color: #999; font-size: 12px;">{{.Time.Format "2006-01-02 15:04:05"}}</p>
</body></html>`))

// SendAlert mails a single event.
func (n *Notifier) SendAlert(e Event) error {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, e); err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}
	plain := e.Message
	if e.PostID != 0 {
		plain = fmt.Sprintf("Post #%d: %s", e.PostID, e.Message)
	}
	return n.sender.Send(n.to, "post4me: "+truncateSubject(e.Message), buf.String(), plain)
}

func truncateSubject(s string) string {
	r := []rune(s)
	if len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}

// EmailSink mails error events. Delivery runs on its own goroutine so the bus
// never waits on SMTP.
type EmailSink struct {
	notifier *Notifier
}

func NewEmailSink(n *Notifier) *EmailSink {
	return &EmailSink{notifier: n}
}

func (s *EmailSink) Deliver(e Event) {
	if e.Level != LevelError {
		return
	}
	go func() {
		if err := s.notifier.SendAlert(e); err != nil {
			log.Printf("[notify] Failed to mail alert %s: %v", e.ID, err)
		}
	}()
}
