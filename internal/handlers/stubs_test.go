package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/services"
)

type stubCheckoutService struct {
	createFunc   func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error)
	quoteFunc    func(ctx context.Context, cmd services.QuoteCheckoutCommand) (services.CheckoutQuote, error)
	shippingFunc func(ctx context.Context) ([]domain.ShippingMethod, error)
}

func (s *stubCheckoutService) CreateSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
	if s.createFunc == nil {
		return services.CheckoutSessionResult{}, errors.New("create not configured")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubCheckoutService) Quote(ctx context.Context, cmd services.QuoteCheckoutCommand) (services.CheckoutQuote, error) {
	if s.quoteFunc == nil {
		return services.CheckoutQuote{}, errors.New("quote not configured")
	}
	return s.quoteFunc(ctx, cmd)
}

func (s *stubCheckoutService) ShippingMethods(ctx context.Context) ([]domain.ShippingMethod, error) {
	if s.shippingFunc == nil {
		return nil, nil
	}
	return s.shippingFunc(ctx)
}

type stubOrderService struct {
	transitionOrderFunc   func(ctx context.Context, cmd services.TransitionOrderStatusCommand) (domain.Order, error)
	transitionPaymentFunc func(ctx context.Context, cmd services.TransitionPaymentStatusCommand) (domain.OrderPayment, error)
	getFunc               func(ctx context.Context, query services.GetOrderQuery) (domain.Order, error)
	listFunc              func(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderService) TransitionOrderStatus(ctx context.Context, cmd services.TransitionOrderStatusCommand) (domain.Order, error) {
	if s.transitionOrderFunc == nil {
		return domain.Order{}, errors.New("not configured")
	}
	return s.transitionOrderFunc(ctx, cmd)
}

func (s *stubOrderService) TransitionPaymentStatus(ctx context.Context, cmd services.TransitionPaymentStatusCommand) (domain.OrderPayment, error) {
	if s.transitionPaymentFunc == nil {
		return domain.OrderPayment{}, errors.New("not configured")
	}
	return s.transitionPaymentFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (domain.Order, error) {
	if s.getFunc == nil {
		return domain.Order{}, errors.New("not configured")
	}
	return s.getFunc(ctx, query)
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFunc(ctx, query)
}

type stubFulfillmentService struct {
	calls  int
	ctx    context.Context
	got    payments.CheckoutCompletion
	result *services.FulfillmentResult
	err    error
}

func (s *stubFulfillmentService) FulfillCheckout(ctx context.Context, completion payments.CheckoutCompletion) (services.FulfillmentResult, error) {
	s.calls++
	s.ctx = ctx
	s.got = completion
	if s.err != nil {
		return services.FulfillmentResult{}, s.err
	}
	if s.result != nil {
		return *s.result, nil
	}
	return services.FulfillmentResult{Outcome: services.FulfillmentCreated, OrderID: "ord_1"}, nil
}

type stubVerifier struct {
	event payments.WebhookEvent
	err   error
}

func (s stubVerifier) Verify([]byte, string) (payments.WebhookEvent, error) {
	return s.event, s.err
}

type stubArchive struct {
	eventID string
	err     error
}

func (s *stubArchive) ArchiveEvent(_ context.Context, provider, eventID, _ string, _ []byte) (string, error) {
	s.eventID = eventID
	if s.err != nil {
		return "", s.err
	}
	return provider + "/" + eventID + ".json", nil
}

// tokenVerifier maps bearer tokens to fixed claims.
type tokenVerifier map[string]auth.Claims

func (v tokenVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	claims, ok := v[token]
	if !ok {
		return auth.Claims{}, auth.ErrTokenInvalid
	}
	return claims, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{
		"admin-token": {Subject: "admin-1", Values: map[string]any{"role": "admin"}},
		"user-token":  {Subject: "user-1", Email: "user@example.com"},
	})
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error, body.Message
}

func jsonBody(v string) *strings.Reader {
	return strings.NewReader(v)
}
