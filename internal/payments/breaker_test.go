package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	createFn func(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	lookupFn func(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	calls    int
}

func (s *stubProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	s.calls++
	return s.createFn(ctx, req)
}

func (s *stubProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	s.calls++
	return s.lookupFn(ctx, req)
}

func TestBreakerProvider_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &stubProvider{
		createFn: func(context.Context, CheckoutSessionRequest) (CheckoutSession, error) {
			return CheckoutSession{}, errors.New("gateway down")
		},
	}
	provider, err := NewBreakerProvider(next, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})
	if err != nil {
		t.Fatalf("NewBreakerProvider error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{}); err == nil || errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("attempt %d: expected gateway error, got %v", i, err)
		}
	}

	_, err = provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable once open, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected open breaker to skip the provider, got %d calls", next.calls)
	}
	if provider.State() != "open" {
		t.Fatalf("expected open state, got %s", provider.State())
	}
}

func TestBreakerProvider_PassesResults(t *testing.T) {
	next := &stubProvider{
		createFn: func(context.Context, CheckoutSessionRequest) (CheckoutSession, error) {
			return CheckoutSession{ID: "cs_1"}, nil
		},
		lookupFn: func(context.Context, LookupRequest) (PaymentDetails, error) {
			return PaymentDetails{IntentID: "pi_1", PaymentMethodType: "card"}, nil
		},
	}
	provider, err := NewBreakerProvider(next, BreakerConfig{})
	if err != nil {
		t.Fatalf("NewBreakerProvider error: %v", err)
	}

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	if err != nil || session.ID != "cs_1" {
		t.Fatalf("unexpected result %+v %v", session, err)
	}
	details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_1"})
	if err != nil || details.PaymentMethodType != "card" {
		t.Fatalf("unexpected lookup %+v %v", details, err)
	}
}

func TestNewBreakerProvider_RequiresProvider(t *testing.T) {
	if _, err := NewBreakerProvider(nil, BreakerConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
