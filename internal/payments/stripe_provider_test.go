package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessionAPI struct {
	newFn func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (s stubSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.newFn(params)
}

type stubIntentAPI struct {
	getFn func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.getFn(id, params)
}

func newStubStripeProvider(t *testing.T, sessions stripeSessionAPI, intents stripePaymentIntentAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		AccountID: "acct_123",
		Clock:     func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		Clients:   &stripeClients{sessions: sessions, intents: intents},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider error: %v", err)
	}
	return provider
}

func TestNewStripeProvider_RequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	sessions := stubSessionAPI{newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{
			ID:            "cs_test_1",
			URL:           "https://checkout.stripe.com/pay/cs_test_1",
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
			ExpiresAt:     time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC).Unix(),
		}, nil
	}}
	provider := newStubStripeProvider(t, sessions, stubIntentAPI{})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency:       "USD",
		SuccessURL:     "https://shop.example/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "https://shop.example/checkout/cancel",
		Metadata:       map[string]string{"user_id": "user_1"},
		IdempotencyKey: "idem-1",
		Items: []CheckoutLineItem{
			{Name: "Brake pads", Quantity: 2, UnitAmount: 4599},
			{Name: "Shipping", Quantity: 0, UnitAmount: 1000},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession error: %v", err)
	}
	if session.ID != "cs_test_1" || session.RedirectURL == "" || session.IntentID != "pi_1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected provider stripe, got %q", session.Provider)
	}

	if captured == nil {
		t.Fatalf("expected params to be captured")
	}
	if got := stripe.StringValue(captured.Mode); got != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("expected payment mode, got %q", got)
	}
	if len(captured.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(captured.LineItems))
	}
	first := captured.LineItems[0]
	if stripe.Int64Value(first.PriceData.UnitAmount) != 4599 || stripe.Int64Value(first.Quantity) != 2 {
		t.Fatalf("unexpected first line: %+v", first.PriceData)
	}
	if stripe.StringValue(first.PriceData.Currency) != "usd" {
		t.Fatalf("expected lower-case currency, got %q", stripe.StringValue(first.PriceData.Currency))
	}
	if stripe.Int64Value(captured.LineItems[1].Quantity) != 1 {
		t.Fatalf("expected quantity floor of 1")
	}
	if captured.Metadata["user_id"] != "user_1" || captured.PaymentIntentData.Metadata["user_id"] != "user_1" {
		t.Fatalf("expected metadata on session and intent")
	}
	if stripe.StringValue(captured.IdempotencyKey) != "idem-1" {
		t.Fatalf("expected idempotency key forwarded")
	}
	if stripe.StringValue(captured.StripeAccount) != "acct_123" {
		t.Fatalf("expected connected account header")
	}
}

func TestStripeProvider_CreateCheckoutSessionWrapsErrors(t *testing.T) {
	sessions := stubSessionAPI{newFn: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("boom")
	}}
	provider := newStubStripeProvider(t, sessions, stubIntentAPI{})

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency: "USD",
		Items:    []CheckoutLineItem{{Name: "x", Quantity: 1, UnitAmount: 100}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestStripeProvider_LookupPayment(t *testing.T) {
	var expanded []*string
	intents := stubIntentAPI{getFn: func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		if id != "pi_1" {
			t.Fatalf("unexpected intent id %q", id)
		}
		expanded = params.Expand
		return &stripe.PaymentIntent{
			ID:       "pi_1",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Amount:   12681,
			Currency: stripe.CurrencyUSD,
			LatestCharge: &stripe.Charge{
				ReceiptURL: "https://pay.stripe.com/receipts/1",
				PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
					Type: stripe.ChargePaymentMethodDetailsType("card"),
				},
			},
		}, nil
	}}
	provider := newStubStripeProvider(t, stubSessionAPI{}, intents)

	details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_1"})
	if err != nil {
		t.Fatalf("LookupPayment error: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", details.Status)
	}
	if details.PaymentMethodType != "card" || details.ReceiptURL == "" {
		t.Fatalf("expected charge enrichment, got %+v", details)
	}
	if details.Currency != "USD" {
		t.Fatalf("expected upper-case currency, got %q", details.Currency)
	}
	if len(expanded) != 1 || stripe.StringValue(expanded[0]) != "latest_charge" {
		t.Fatalf("expected latest_charge expansion")
	}
}

func TestStripeProvider_LookupPaymentRequiresIntent(t *testing.T) {
	provider := newStubStripeProvider(t, stubSessionAPI{}, stubIntentAPI{})
	if _, err := provider.LookupPayment(context.Background(), LookupRequest{}); err == nil {
		t.Fatalf("expected error for empty intent id")
	}
}
