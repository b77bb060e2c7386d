package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker placed in front of the gateway.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	Logger              StripeLogger
}

// BreakerProvider short-circuits gateway calls after repeated failures so checkout fails fast
// while the gateway is down.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerProvider wraps next with a circuit breaker.
func NewBreakerProvider(next Provider, cfg BreakerConfig) (*BreakerProvider, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a provider")
	}
	name := cfg.Name
	if name == "" {
		name = stripeProviderName
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	halfOpen := cfg.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger(context.Background(), "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &BreakerProvider{next: next, breaker: breaker}, nil
}

// CreateCheckoutSession forwards to the wrapped provider unless the breaker is open.
func (p *BreakerProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.next.CreateCheckoutSession(ctx, req)
	})
	if err != nil {
		return CheckoutSession{}, translateBreakerError(err)
	}
	return result.(CheckoutSession), nil
}

// LookupPayment forwards to the wrapped provider unless the breaker is open.
func (p *BreakerProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.next.LookupPayment(ctx, req)
	})
	if err != nil {
		return PaymentDetails{}, translateBreakerError(err)
	}
	return result.(PaymentDetails), nil
}

// State exposes the breaker state for readiness reporting.
func (p *BreakerProvider) State() string {
	return p.breaker.State().String()
}

func translateBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}
