package providers

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

// Send sends an email via SMTP
func (s *SMTPSender) Send(to, subject, htmlBody, plainBody string) error {
	if s.host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := s.send(addr, auth, s.from, []string{to}, buildMessage(s.from, to, subject, htmlBody, plainBody)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func buildMessage(from, to, subject, htmlBody, plainBody string) []byte {
	boundary := "p4m-" + uuid.NewString()

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	msg.WriteString("\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(plainBody)
	msg.WriteString("\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(htmlBody)
	msg.WriteString("\r\n")

	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return []byte(msg.String())
}
