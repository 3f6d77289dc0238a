package einvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
)

const (
	providerName     = "einvoice"
	maxResponseBytes = 1 << 20
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) *Client {
	timeout := p.Config.EInvoice.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(p.Config.EInvoice.BaseURL, "/"),
		apiKey:  p.Config.EInvoice.APIKey,
		userID:  p.Config.EInvoice.UserID,
		http:    &http.Client{Timeout: timeout},
		log:     p.Log.Named("providers.einvoice"),
		metrics: p.Metrics,
	}
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Success *bool           `json:"success"`
	Mark    flexString      `json:"mark"`
	UID     flexString      `json:"uid"`
	Number  flexString      `json:"number"`
	URL     string          `json:"url"`
	Errors  json.RawMessage `json:"errors"`
}

// Upload registers doc. A non-nil error is always marked ErrExternalProvider
// and covers transport failures, non-2xx answers and rejections reported in
// an otherwise successful response.
func (c *Client) Upload(ctx context.Context, doc Document) (result Result, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveProviderCall(providerName, "upload", start, err) }()

	body, err := json.Marshal(doc)
	if err != nil {
		return Result{}, ierr.WithError(err).WithMessage("encode e-invoice document").Mark(ierr.ErrExternalProvider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return Result{}, ierr.WithError(err).WithMessage("build e-invoice request").Mark(ierr.ErrExternalProvider)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-User-Id", c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, ierr.WithError(err).WithMessage("e-invoice request").Mark(ierr.ErrExternalProvider)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, ierr.WithError(err).WithMessage("read e-invoice response").Mark(ierr.ErrExternalProvider)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Raw: raw}, ierr.NewErrorf("e-invoice upload rejected: status=%d body=%s",
			resp.StatusCode, ierr.Truncate(string(raw), 512)).
			Mark(ierr.ErrExternalProvider)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{Raw: raw}, ierr.WithError(err).WithMessage("decode e-invoice response").Mark(ierr.ErrExternalProvider)
	}

	if msgs := parseErrors(out.Errors); len(msgs) > 0 {
		return Result{Raw: raw}, ierr.NewErrorf("e-invoice upload rejected: %s", strings.Join(msgs, "; ")).
			Mark(ierr.ErrExternalProvider)
	}
	if out.Success != nil && !*out.Success {
		return Result{Raw: raw}, ierr.NewError("e-invoice upload rejected: success=false").
			Mark(ierr.ErrExternalProvider)
	}
	if out.Mark == "" {
		return Result{Raw: raw}, ierr.NewError("e-invoice upload returned no mark").
			Mark(ierr.ErrExternalProvider)
	}

	c.log.Debug("e-invoice uploaded",
		zap.String("series", doc.Header.Series),
		zap.String("aa", doc.Header.AA),
		zap.String("mark", string(out.Mark)),
	)

	return Result{
		Mark:   string(out.Mark),
		UID:    string(out.UID),
		Number: string(out.Number),
		URL:    out.URL,
		Raw:    raw,
	}, nil
}

// flexString decodes either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// parseErrors accepts errors as objects, plain strings or a single string.
func parseErrors(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var objects []responseError
	if err := json.Unmarshal(raw, &objects); err == nil {
		out := make([]string, 0, len(objects))
		for _, e := range objects {
			switch {
			case e.Code != "" && e.Message != "":
				out = append(out, e.Code+": "+e.Message)
			case e.Message != "":
				out = append(out, e.Message)
			case e.Code != "":
				out = append(out, e.Code)
			default:
				out = append(out, "unknown error")
			}
		}
		return out
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		return strs
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}
