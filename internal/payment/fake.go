package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rongwang/cryptotrace-server/internal/models"
)

// FakeSignatureHeader carries the shared secret on fake webhook calls
const FakeSignatureHeader = "X-Fake-Signature"

// Fake is a deterministic in-process processor for local runs and tests.
// Intent ids are numbered in creation order.
type Fake struct {
	mu       sync.Mutex
	secret   string
	next     int
	err      error
	requests []IntentRequest
}

// NewFake creates a fake processor. A non-empty secret must be echoed in
// FakeSignatureHeader by webhook callers.
func NewFake(secret string) *Fake {
	return &Fake{secret: secret}
}

// FailWith makes subsequent CreateIntent calls fail with err; nil restores success.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, f.err)
	}

	f.next++
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("pi_fake_%d", f.next)
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

// Requests returns the intents created so far
func (f *Fake) Requests() []IntentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IntentRequest(nil), f.requests...)
}

// ParseWebhook accepts {"intentId": "...", "status": "succeeded|failed"}
func (f *Fake) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	if f.secret != "" && subtle.ConstantTimeCompare([]byte(header.Get(FakeSignatureHeader)), []byte(f.secret)) != 1 {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidWebhook)
	}

	var body struct {
		IntentID string               `json:"intentId"`
		Status   models.PaymentStatus `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if body.IntentID == "" || !body.Status.Terminal() {
		return nil, fmt.Errorf("%w: intentId and a terminal status are required", ErrInvalidWebhook)
	}
	return &Event{IntentID: body.IntentID, Status: body.Status}, nil
}

// WebhookPayload builds a body ParseWebhook accepts
func WebhookPayload(intentID string, status models.PaymentStatus) []byte {
	data, _ := json.Marshal(map[string]string{"intentId": intentID, "status": string(status)})
	return data
}
