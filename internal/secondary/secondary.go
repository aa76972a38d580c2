// Package secondary delivers notifications over an out-of-band channel when
// a recipient is unreachable via the broker. The only implementation today
// is SMTP; a disabled configuration yields a noop channel so callers never
// branch on availability.
package secondary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"nudge/internal/config"
	"nudge/internal/logging"
)

// Channel sends a notification body to a device's secondary address.
type Channel interface {
	// Send delivers body to address. The body is still ciphertext; the
	// secondary channel is transport, not a decryption point.
	Send(ctx context.Context, address, subject, body string) error
	// Enabled reports whether sends can succeed at all.
	Enabled() bool
}

// NewChannel builds the channel described by cfg. Disabled configurations
// return a noop channel.
func NewChannel(cfg config.Secondary, logger *slog.Logger) (Channel, error) {
	if !cfg.Enabled {
		return noopChannel{}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &smtpChannel{
		client: client,
		from:   cfg.From,
		logger: logging.NewComponentLogger(logger, "secondary"),
	}, nil
}

type smtpChannel struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

func (c *smtpChannel) Enabled() bool { return true }

func (c *smtpChannel) Send(ctx context.Context, address, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(c.from); err != nil {
		return fmt.Errorf("secondary sender %q: %w", c.from, err)
	}
	if err := msg.To(address); err != nil {
		return fmt.Errorf("secondary recipient %q: %w", address, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if err := c.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("secondary send: %w", err)
	}
	c.logger.Info("notification relayed over secondary channel", logging.FieldRecipient, address)
	return nil
}

type noopChannel struct{}

func (noopChannel) Enabled() bool { return false }

func (noopChannel) Send(context.Context, string, string, string) error {
	return fmt.Errorf("secondary channel disabled")
}
