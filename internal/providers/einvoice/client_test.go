package einvoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	cfg := config.Config{}
	cfg.EInvoice = config.EInvoiceConfig{
		BaseURL: baseURL,
		APIKey:  "key-1",
		UserID:  "user-1",
		Timeout: timeout,
	}
	return New(Params{Config: cfg, Log: zap.NewNop()})
}

func sampleDocument() Document {
	return Document{
		Issuer: Party{VATNumber: "123456789", Country: "GR"},
		Header: Header{Series: "APY", AA: "7", IssueDate: "2026-03-01", InvoiceType: "11.2", Currency: "EUR"},
		Lines: []Line{{
			LineNumber:  1,
			NetValue:    NewAmount(decimal.RequireFromString("16.13")),
			VATCategory: 1,
			VATAmount:   NewAmount(decimal.RequireFromString("3.87")),
		}},
	}
}

func TestUploadSuccess(t *testing.T) {
	var headers http.Header
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoices", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"success":true,"mark":400001234567890,"uid":"ABCDEF","number":"APY-7","url":"https://doc.example.test/1"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL, time.Second).Upload(context.Background(), sampleDocument())
	require.NoError(t, err)

	assert.Equal(t, "key-1", headers.Get("X-Api-Key"))
	assert.Equal(t, "user-1", headers.Get("X-User-Id"))
	assert.Equal(t, "400001234567890", res.Mark)
	assert.Equal(t, "ABCDEF", res.UID)
	assert.Equal(t, "APY-7", res.Number)
	assert.Equal(t, "https://doc.example.test/1", res.URL)
	assert.NotEmpty(t, res.Raw)

	lines := body["invoiceDetails"].([]any)
	line := lines[0].(map[string]any)
	assert.Equal(t, 16.13, line["netValue"])
	assert.NotContains(t, body, "counterpart")
}

func TestUploadInBandErrors(t *testing.T) {
	cases := map[string]string{
		"success false":  `{"success":false,"mark":"1"}`,
		"error objects":  `{"success":true,"mark":"1","errors":[{"code":"101","message":"invalid vat"}]}`,
		"error strings":  `{"mark":"1","errors":["invalid vat"]}`,
		"missing mark":   `{"success":true}`,
		"not json":       `<html>oops</html>`,
		"single message": `{"errors":"broken"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, time.Second).Upload(context.Background(), sampleDocument())
			require.Error(t, err)
			assert.True(t, ierr.IsExternalProvider(err))
		})
	}
}

func TestUploadEmptyErrorListIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"mark":"42","errors":[]}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL, time.Second).Upload(context.Background(), sampleDocument())
	require.NoError(t, err)
	assert.Equal(t, "42", res.Mark)
}

func TestUploadHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Second).Upload(context.Background(), sampleDocument())
	require.Error(t, err)
	assert.True(t, ierr.IsExternalProvider(err))
}

func TestUploadRejectionBodyIsCutOnRuneBoundary(t *testing.T) {
	body := "x" + strings.Repeat("μη έγκυρο ΑΦΜ ", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Second).Upload(context.Background(), sampleDocument())
	require.Error(t, err)

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	_, excerpt, found := strings.Cut(msg, "body=")
	require.True(t, found)
	assert.LessOrEqual(t, len(excerpt), 512)
	assert.True(t, strings.HasPrefix(body, excerpt))
}

func TestUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Upload(context.Background(), sampleDocument())
	require.Error(t, err)
	assert.True(t, ierr.IsExternalProvider(err))
}
