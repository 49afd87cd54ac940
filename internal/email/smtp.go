package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"
)

// SMTPSender sends plain-text email through an SMTP relay using mailyak.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers body to a single recipient. Port 465 uses implicit TLS;
// any other port negotiates STARTTLS when the server offers it.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	var mail *mailyak.MailYak
	if s.port == 465 {
		var err error
		mail, err = mailyak.NewWithTLS(addr, auth, nil)
		if err != nil {
			return fmt.Errorf("smtp tls client: %w", err)
		}
	} else {
		mail = mailyak.New(addr, auth)
	}

	mail.To(to)
	mail.From(s.from)
	mail.Subject(subject)
	mail.Plain().Set(body)

	done := make(chan error, 1)
	go func() {
		done <- mail.Send()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email to %s: %w", to, err)
		}
		return nil
	}
}
