package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("email_no_recipients")

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

func validate(msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	return nil
}
