package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	// InsertEvent reports false when the event id is already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// Adapter verifies and decodes one provider's webhook deliveries.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns ErrEventIgnored for event types the gateway does not route.
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type Gateway interface {
	// Handle verifies, records and routes one webhook delivery.
	// ErrEventIgnored and ErrEventAlreadyProcessed are acknowledgements.
	Handle(ctx context.Context, payload []byte, headers http.Header) error
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)

// Acknowledged reports whether err still deserves a 2xx response.
func Acknowledged(err error) bool {
	return err == nil || errors.Is(err, ErrEventIgnored) || errors.Is(err, ErrEventAlreadyProcessed)
}
