package services

import (
	"context"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
)

// LineItemResolver re-reads authoritative product data for client-submitted cart lines.
type LineItemResolver interface {
	ResolveCheckoutItems(ctx context.Context, lines []domain.CartLineRequest) ([]domain.ResolvedLineItem, error)
}

// CheckoutService prices carts and opens hosted payment sessions.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	Quote(ctx context.Context, cmd QuoteCheckoutCommand) (CheckoutQuote, error)
	ShippingMethods(ctx context.Context) ([]domain.ShippingMethod, error)
}

// FulfillmentService turns completed gateway checkouts into durable orders.
type FulfillmentService interface {
	FulfillCheckout(ctx context.Context, completion payments.CheckoutCompletion) (FulfillmentResult, error)
}

// OrderService governs order and payment lifecycle transitions and order reads.
type OrderService interface {
	TransitionOrderStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (domain.Order, error)
	TransitionPaymentStatus(ctx context.Context, cmd TransitionPaymentStatusCommand) (domain.OrderPayment, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error)
}

// CreateCheckoutSessionCommand carries a checkout request after authentication.
type CreateCheckoutSessionCommand struct {
	UserID           string
	Guest            domain.GuestContact
	Items            []domain.CartLineRequest
	ShippingAddress  *domain.Address
	BillingAddress   *domain.Address
	Currency         string
	ShippingMethodID string
	Origin           string
	IdempotencyKey   string
}

// CheckoutSessionResult is returned to the browser. OrderID is only set on the gateway-less path.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
	OrderID   string
	Totals    domain.OrderTotals
}

// QuoteCheckoutCommand prices a cart without contacting the gateway.
type QuoteCheckoutCommand struct {
	Items            []domain.CartLineRequest
	ShippingAddress  *domain.Address
	BillingAddress   *domain.Address
	Currency         string
	ShippingMethodID string
}

// CheckoutQuote is the priced cart.
type CheckoutQuote struct {
	Items          []domain.ResolvedLineItem
	ShippingMethod domain.ShippingMethod
	Totals         domain.OrderTotals
	Currency       string
}

// FulfillmentOutcome describes what a fulfillment attempt did.
type FulfillmentOutcome string

const (
	FulfillmentCreated   FulfillmentOutcome = "created"
	FulfillmentDuplicate FulfillmentOutcome = "duplicate"
	FulfillmentIgnored   FulfillmentOutcome = "ignored"
)

// FulfillmentResult reports the order produced (or found) for a completed checkout.
type FulfillmentResult struct {
	Outcome   FulfillmentOutcome
	Reason    string
	OrderID   string
	PaymentID string
}

// TransitionOrderStatusCommand requests an order lifecycle transition.
type TransitionOrderStatusCommand struct {
	OrderID          string
	Status           domain.OrderStatus
	SkipPaymentCheck bool
	ActorID          string
}

// TransitionPaymentStatusCommand requests a payment status transition.
type TransitionPaymentStatusCommand struct {
	PaymentID string
	Status    domain.PaymentStatus
	ActorID   string
}

// GetOrderQuery loads one order. Non-admin callers only see their own orders.
type GetOrderQuery struct {
	OrderID string
	UserID  string
	IsAdmin bool
}

// ListOrdersQuery lists a user's orders newest first.
type ListOrdersQuery struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OutcomeRecorder counts operation outcomes, e.g. ("checkout.session", "created").
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOutcome(context.Context, string, string) {}
