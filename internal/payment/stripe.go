package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProcessor talks to Stripe payment intents
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProcessor creates a processor for the given secret key. A nil
// backends uses Stripe's default endpoints.
func NewStripeProcessor(secretKey, webhookSecret string, backends *stripe.Backends) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProcessor{
		api:           api,
		webhookSecret: webhookSecret,
	}
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("trace_id", req.TraceID)
	params.AddMetadata("user_id", req.UserID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: creating intent: %v", ErrUnavailable, err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProcessor) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	var status models.PaymentStatus
	switch event.Type {
	case "payment_intent.succeeded":
		status = models.PaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = models.PaymentFailed
	default:
		return &Event{}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: decoding payment intent: %v", ErrInvalidWebhook, err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("%w: event without payment intent id", ErrInvalidWebhook)
	}

	return &Event{IntentID: pi.ID, Status: status}, nil
}
