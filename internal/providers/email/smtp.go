package email

import (
	"bytes"
	"context"
	"time"

	"github.com/wneessen/go-mail"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, in Message) error {
	if err := validate(in); err != nil {
		return err
	}

	msg, err := p.build(in)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(p.cfg.Host, p.options()...)
	if err != nil {
		return ierr.WithError(err).
			WithMessage("create smtp client").
			Mark(ierr.ErrConfiguration)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return ierr.WithError(err).
			WithMessagef("smtp send to %d recipients", len(in.To)).
			Mark(ierr.ErrExternalProvider)
	}
	return nil
}

func (p *SMTPProvider) build(in Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if p.cfg.FromName != "" {
		if err := msg.FromFormat(p.cfg.FromName, p.cfg.From); err != nil {
			return nil, ierr.WithError(err).WithMessage("invalid from address").Mark(ierr.ErrConfiguration)
		}
	} else if err := msg.From(p.cfg.From); err != nil {
		return nil, ierr.WithError(err).WithMessage("invalid from address").Mark(ierr.ErrConfiguration)
	}
	if err := msg.To(in.To...); err != nil {
		return nil, ierr.WithError(err).WithMessage("invalid recipient address").Mark(ierr.ErrValidation)
	}
	msg.Subject(in.Subject)

	switch {
	case in.HTMLBody != "" && in.TextBody != "":
		msg.SetBodyString(mail.TypeTextPlain, in.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, in.HTMLBody)
	case in.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, in.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, in.TextBody)
	}

	for _, att := range in.Attachments {
		if err := msg.AttachReader(att.Filename, bytes.NewReader(att.Content),
			mail.WithFileContentType(mail.ContentType(att.ContentType))); err != nil {
			return nil, ierr.WithError(err).WithMessagef("attach %s", att.Filename).Mark(ierr.ErrValidation)
		}
	}
	return msg, nil
}

func (p *SMTPProvider) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(p.cfg.Port),
		mail.WithTimeout(p.cfg.Timeout),
	}

	switch p.cfg.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if p.cfg.Username != "" && p.cfg.Password != "" {
		opts = append(opts,
			mail.WithUsername(p.cfg.Username),
			mail.WithPassword(p.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}
