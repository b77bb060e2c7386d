package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded in full.
	StatusRefunded Status = "refunded"
)

// ErrProviderUnavailable is returned when the gateway is not configured or the breaker is open.
var ErrProviderUnavailable = errors.New("payments: provider unavailable")

// CheckoutLineItem describes a single line item on the hosted checkout page.
type CheckoutLineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
}

// CheckoutSessionRequest captures the payload required to create a hosted checkout session.
type CheckoutSessionRequest struct {
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession represents the hosted session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// LookupRequest identifies a payment intent to fetch.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider          string
	IntentID          string
	Status            Status
	Amount            int64
	Currency          string
	PaymentMethodType string
	ReceiptURL        string
}

// Provider defines the gateway operations the checkout pipeline relies on.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}
