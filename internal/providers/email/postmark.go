package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

const DefaultPostmarkURL = "https://api.postmarkapp.com"

type PostmarkConfig struct {
	BaseURL  string
	Token    string
	From     string
	FromName string
	Timeout  time.Duration
	RetryMax int
}

type PostmarkProvider struct {
	cfg    PostmarkConfig
	client *retryablehttp.Client
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkEmail struct {
	From        string               `json:"From"`
	To          string               `json:"To"`
	Subject     string               `json:"Subject"`
	HTMLBody    string               `json:"HtmlBody,omitempty"`
	TextBody    string               `json:"TextBody,omitempty"`
	Attachments []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

func NewPostmark(cfg PostmarkConfig) *PostmarkProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPostmarkURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &PostmarkProvider{cfg: cfg, client: client}
}

func (p *PostmarkProvider) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	from := p.cfg.From
	if p.cfg.FromName != "" {
		from = p.cfg.FromName + " <" + p.cfg.From + ">"
	}
	body := postmarkEmail{
		From:     from,
		To:       strings.Join(msg.To, ","),
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	}
	for _, att := range msg.Attachments {
		body.Attachments = append(body.Attachments, postmarkAttachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return ierr.WithError(err).WithMessage("encode postmark email").Mark(ierr.ErrValidation)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/email", bytes.NewReader(raw))
	if err != nil {
		return ierr.WithError(err).WithMessage("build postmark request").Mark(ierr.ErrConfiguration)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return ierr.WithError(err).WithMessage("postmark request").Mark(ierr.ErrExternalProvider)
	}
	defer resp.Body.Close()

	var out postmarkResponse
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(payload, &out)

	if resp.StatusCode >= http.StatusMultipleChoices || out.ErrorCode != 0 {
		return ierr.NewErrorf("postmark rejected email: status=%d code=%d message=%s",
			resp.StatusCode, out.ErrorCode, out.Message).
			Mark(ierr.ErrExternalProvider)
	}
	return nil
}
