package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Mailer sends one rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the delivery endpoint.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages over SMTP.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notification: building smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send delivers the message. Errors keep their go-mail type so the dispatcher
// can tell temporary SMTP failures from permanent ones.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	message := mail.NewMsg()
	if err := message.From(m.from); err != nil {
		return fmt.Errorf("notification: invalid sender %q: %w", m.from, err)
	}
	if err := message.To(msg.To); err != nil {
		return fmt.Errorf("notification: invalid recipient %q: %w", msg.To, err)
	}
	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextHTML, msg.HTML)

	return m.client.DialAndSendWithContext(ctx, message)
}

// temporary reports whether a delivery failure is worth retrying. go-mail
// marks 4xx SMTP responses and connection problems as temporary.
func temporary(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	// Errors outside go-mail's taxonomy (dial timeouts wrapped elsewhere)
	// default to retryable.
	return true
}
