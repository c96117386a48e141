// Package notification delivers outbound messages: email through SMTP or the
// Resend API, and browser Web Push for slot availability.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"parking-status-backend/config"
)

// Message kinds, used as metric and log labels.
const (
	KindConfirmationCode = "confirmation_code"
	KindSlotAvailable    = "slot_available"
)

// ErrMissingRecipient is returned when a message has no recipient or subject.
var ErrMissingRecipient = errors.New("message needs a recipient and a subject")

// Message is a rendered email ready for delivery.
type Message struct {
	Kind    string
	To      string
	Subject string
	Text    string
	HTML    string
	// Meta is attached to logs only.
	Meta map[string]string
}

func (m Message) validate() error {
	if m.To == "" || m.Subject == "" {
		return ErrMissingRecipient
	}
	return nil
}

// Gateway sends a message and reports whether it was accepted.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// NewGateway builds the gateway selected by cfg.Provider.
func NewGateway(cfg config.MailConfig, log *zerolog.Logger) (Gateway, error) {
	switch cfg.Provider {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("smtp provider requires mail.smtp.host")
		}
		return NewSMTPGateway(cfg.SMTP, cfg.From), nil
	case "resend":
		if cfg.Resend.APIKey == "" {
			return nil, fmt.Errorf("resend provider requires an api key")
		}
		return NewResendGateway(cfg.Resend, cfg.From), nil
	case "log", "":
		return NewLogGateway(log), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// LogGateway writes messages to the log instead of delivering them.
type LogGateway struct {
	log *zerolog.Logger
}

func NewLogGateway(log *zerolog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	ev := g.log.Info().Str("kind", msg.Kind).Str("to", msg.To).Str("subject", msg.Subject)
	for k, v := range msg.Meta {
		ev = ev.Str(k, v)
	}
	ev.Msg("mail not delivered (log provider)")
	return nil
}
