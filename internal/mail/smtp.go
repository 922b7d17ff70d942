package mail

import (
	"bytes"
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPDispatcher struct {
	client *gomail.Client
	from   string
}

// NewSMTPDispatcher rejects an unusable sender address up front. The
// connection itself is only opened per send.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if err := gomail.NewMsg().From(from); err != nil {
		return nil, fmt.Errorf("%w: SMTP_FROM %q: %v", ErrInvalidSender, from, err)
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}

	// local relays (mailhog and friends) run without auth
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &SMTPDispatcher{client: client, from: from}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, to string, s playlist.Snapshot) error {
	msg, err := BuildMessage(d.from, to, s)
	if err != nil {
		return err
	}

	if err := d.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// BuildMessage assembles the export email without sending it.
func BuildMessage(from, to string, s playlist.Snapshot) (*gomail.Msg, error) {
	msg := gomail.NewMsg()

	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSender, from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	msg.Subject(Subject)

	msg.SetBodyString(gomail.TypeTextPlain, BodyText)

	attachment, err := RenderAttachment(s)
	if err != nil {
		return nil, err
	}

	err = msg.AttachReader(AttachmentName, bytes.NewReader(attachment),
		gomail.WithFileContentType(gomail.ContentType("application/json")))
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", AttachmentName, err)
	}

	return msg, nil
}
