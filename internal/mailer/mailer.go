// Package mailer renders and delivers one email notification per due
// event: an HTML body from a template plus an event.ics attachment.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	gomail "gopkg.in/gomail.v2"

	"github.com/r3voc/ical-email-notifier/internal/config"
	appLog "github.com/r3voc/ical-email-notifier/internal/log"
	"github.com/r3voc/ical-email-notifier/internal/model"
)

// sender abstracts gomail's DialAndSend so tests can intercept the
// outbound message instead of opening an SMTP session.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer delivers event notifications over SMTP with STARTTLS and
// authentication. One SMTP session is opened per message.
type Mailer struct {
	sender sender
	from   string
	to     []string
	tmpl   *template.Template
}

// New creates a Mailer from the given settings. templatePath may be
// empty to use the embedded default body template.
func New(settings config.Settings, templatePath string) (*Mailer, error) {
	tmpl, err := loadTemplate(templatePath)
	if err != nil {
		return nil, err
	}

	return &Mailer{
		sender: gomail.NewDialer(settings.SMTPHost, settings.SMTPPort, settings.SMTPUser, settings.SMTPPassword),
		from:   settings.EmailFrom,
		to:     settings.EmailTo,
		tmpl:   tmpl,
	}, nil
}

// Dispatch renders and sends the notification for one instance. Any
// failure (template, transport, authentication) is returned as an error,
// never a panic, so the caller can leave the event eligible for the next
// run.
func (m *Mailer) Dispatch(inst model.Instance) error {
	var body bytes.Buffer
	if err := m.tmpl.Execute(&body, inst); err != nil {
		return fmt.Errorf("render body for %q: %w", inst.Summary, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", Subject(inst))
	msg.SetBody("text/html", body.String())

	attachment := eventAttachment(inst)
	msg.Attach("event.ics",
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(attachment)
			return err
		}),
	)

	appLog.Info("sending notification", "summary", inst.Summary, "start", inst.Start.Format("2006-01-02 15:04"))

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send notification for %q: %w", inst.Summary, err)
	}
	return nil
}

// Subject formats the notification subject line for an instance.
func Subject(inst model.Instance) string {
	return fmt.Sprintf("Upcoming Event: %s on %s", inst.Summary, inst.Start.Format("2006-01-02 15:04"))
}
