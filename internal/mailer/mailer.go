// Package mailer is the SMTP collaborator. Notifications are sent
// fire-and-forget by the engine; a send failure is a warning, never a run
// failure.
package mailer

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/tbracken/gridpoll/internal/models"
)

// Mailer sends file-update notifications over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// New builds a mailer from the global settings. Returns nil when no SMTP
// server is configured.
func New(settings models.Settings) *Mailer {
	if settings.SMTPServer == "" {
		return nil
	}
	return &Mailer{
		dialer: gomail.NewDialer(settings.SMTPServer, settings.SMTPPort,
			settings.SMTPUsername, settings.SMTPPassword),
		from: settings.FromAddress,
	}
}

// NotifyFileUpdate sends one notification about a freshly downloaded file.
func (m *Mailer) NotifyFileUpdate(recipients []string, device, file string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", fmt.Sprintf("File update for %s", device))
	msg.SetBody("text/plain",
		fmt.Sprintf("A new copy of %s was downloaded from %s.", file, device))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending notification for %s: %w", device, err)
	}
	return nil
}
