// Package payment is the port to the external payment processor.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/rongwang/cryptotrace-server/internal/models"
)

var (
	// ErrUnavailable wraps processor failures that may succeed on retry
	ErrUnavailable = errors.New("payment processor unavailable")
	// ErrInvalidWebhook is returned for events that fail verification or parsing
	ErrInvalidWebhook = errors.New("invalid payment webhook")
)

// IntentRequest asks the processor to prepare a charge for one trace
type IntentRequest struct {
	TraceID     string
	UserID      string
	AmountCents int64
	Currency    string
}

// Intent is the processor's handle for a pending charge
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified outcome notification. Status is empty for event
// types the server does not act on.
type Event struct {
	IntentID string
	Status   models.PaymentStatus
}

// Processor creates payment intents and verifies their asynchronous outcomes
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}
