package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// EventCheckoutSessionCompleted is the only event type that triggers fulfillment.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("payments: webhook signature missing")
	// ErrInvalidSignature is returned when the signature does not match the payload.
	ErrInvalidSignature = errors.New("payments: webhook signature invalid")
	// ErrMalformedEvent is returned when a signed payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: webhook event malformed")
	// ErrWebhookNotConfigured is returned when no signing secret is available.
	ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")
)

// WebhookEvent is a verified gateway event.
type WebhookEvent struct {
	ID         string
	Type       string
	Created    time.Time
	Payload    []byte
	Completion *CheckoutCompletion
}

// CheckoutCompletion is the subset of a completed checkout session needed for fulfillment.
type CheckoutCompletion struct {
	SessionID       string
	PaymentStatus   string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
	PaymentIntentID string
	CustomerEmail   string
	CustomerName    string
	CustomerPhone   string
}

// IsPaid reports whether the gateway marked the session as paid.
func (c CheckoutCompletion) IsPaid() bool {
	return c.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// TransactionID is the payment intent id, or the session id when no intent was attached.
func (c CheckoutCompletion) TransactionID() string {
	if id := strings.TrimSpace(c.PaymentIntentID); id != "" {
		return id
	}
	return c.SessionID
}

// StripeWebhookVerifier authenticates Stripe webhook deliveries.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier builds a verifier. An empty secret yields a verifier that rejects every
// event with ErrWebhookNotConfigured.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) *StripeWebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify checks the signature header against the payload and decodes the event envelope.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	if v == nil || v.secret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return WebhookEvent{}, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned):
			return WebhookEvent{}, ErrMissingSignature
		case errors.Is(err, webhook.ErrInvalidHeader), errors.Is(err, webhook.ErrNoValidSignature), errors.Is(err, webhook.ErrTooOld):
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}

	out := WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Payload: payload,
	}
	if out.Type != EventCheckoutSessionCompleted {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return WebhookEvent{}, fmt.Errorf("%w: missing data object", ErrMalformedEvent)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}
	out.Completion = checkoutCompletionFromSession(&session)
	return out, nil
}

func checkoutCompletionFromSession(session *stripe.CheckoutSession) *CheckoutCompletion {
	completion := &CheckoutCompletion{
		SessionID:     session.ID,
		PaymentStatus: string(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToUpper(string(session.Currency)),
		Metadata:      session.Metadata,
	}
	if session.PaymentIntent != nil {
		completion.PaymentIntentID = session.PaymentIntent.ID
	}
	if details := session.CustomerDetails; details != nil {
		completion.CustomerEmail = strings.TrimSpace(details.Email)
		completion.CustomerName = strings.TrimSpace(details.Name)
		completion.CustomerPhone = strings.TrimSpace(details.Phone)
	}
	if completion.CustomerEmail == "" {
		completion.CustomerEmail = strings.TrimSpace(session.CustomerEmail)
	}
	return completion
}
