package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultCheckoutTimeout = 20 * time.Second

	checkoutSuccessPath = "/checkout/success"
	checkoutCancelPath  = "/checkout/cancel"
	// Stripe substitutes the placeholder with the session id on redirect.
	checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service. Payments may be
// nil, in which case sessions are replaced by directly created pending orders.
type CheckoutServiceDeps struct {
	Resolver        LineItemResolver
	Pricing         *PricingEngine
	ShippingMethods repositories.ShippingMethodRepository
	Payments        payments.Provider
	Orders          repositories.OrderRepository
	OrderPayments   repositories.OrderPaymentRepository
	UnitOfWork      repositories.UnitOfWork
	Events          OrderEventPublisher
	Metrics         OutcomeRecorder
	DefaultCurrency string
	Timeout         time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	resolver        LineItemResolver
	pricing         *PricingEngine
	shippingMethods repositories.ShippingMethodRepository
	payments        payments.Provider
	orders          repositories.OrderRepository
	orderPayments   repositories.OrderPaymentRepository
	unitOfWork      repositories.UnitOfWork
	events          OrderEventPublisher
	metrics         OutcomeRecorder
	currency        string
	timeout         time.Duration
	now             func() time.Time
	ids             idFactory
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Resolver == nil {
		return nil, errors.New("checkout service: line item resolver is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Payments == nil && (deps.Orders == nil || deps.OrderPayments == nil) {
		return nil, errors.New("checkout service: order repositories are required without a payment provider")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}

	return &checkoutService{
		resolver:        deps.Resolver,
		pricing:         deps.Pricing,
		shippingMethods: deps.ShippingMethods,
		payments:        deps.Payments,
		orders:          deps.Orders,
		orderPayments:   deps.OrderPayments,
		unitOfWork:      unit,
		events:          deps.Events,
		metrics:         metrics,
		currency:        normalizeCurrency(deps.DefaultCurrency, defaultCurrency),
		timeout:         timeout,
		now: func() time.Time {
			return clock().UTC()
		},
		ids:    newIDFactory(deps.IDGenerator),
		logger: logger,
	}, nil
}

// CreateSession resolves and prices the cart, then opens a hosted payment session. The whole
// operation is bounded by the configured timeout. No local record is written on the gateway path.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	origin := strings.TrimRight(strings.TrimSpace(cmd.Origin), "/")
	if origin == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: return origin is required", ErrValidation)
	}
	identity := orderIdentity{UserID: strings.TrimSpace(cmd.UserID), Guest: cmd.Guest}
	if identity.empty() {
		return CheckoutSessionResult{}, fmt.Errorf("%w: checkout requires a user or guest email", ErrValidation)
	}

	quote, err := s.price(ctx, QuoteCheckoutCommand{
		Items:            cmd.Items,
		ShippingAddress:  cmd.ShippingAddress,
		BillingAddress:   cmd.BillingAddress,
		Currency:         cmd.Currency,
		ShippingMethodID: cmd.ShippingMethodID,
	})
	if err != nil {
		s.metrics.RecordOutcome(ctx, "checkout.session", string(ErrorKind(err)))
		return CheckoutSessionResult{}, err
	}

	if s.payments == nil {
		return s.createManualOrder(ctx, cmd, identity, quote, origin)
	}

	meta := CheckoutMetadata{
		UserID:             identity.UserID,
		Items:              cartLinesFromResolved(quote.Items),
		ShippingAddress:    cmd.ShippingAddress,
		BillingAddress:     cmd.BillingAddress,
		Totals:             quote.Totals,
		ShippingMethodID:   quote.ShippingMethod.ID,
		ShippingMethodCode: quote.ShippingMethod.Code,
		Currency:           quote.Currency,
	}
	if identity.UserID == "" {
		guest := identity.Guest
		meta.Guest = &guest
	}
	metadata, err := meta.Encode()
	if err != nil {
		s.metrics.RecordOutcome(ctx, "checkout.session", string(KindValidation))
		return CheckoutSessionResult{}, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Currency:       quote.Currency,
		CustomerEmail:  identity.Guest.Email,
		SuccessURL:     origin + checkoutSuccessPath + "?session_id=" + checkoutSessionPlaceholder,
		CancelURL:      origin + checkoutCancelPath,
		Metadata:       metadata,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Items:          gatewayLineItems(quote, quote.Currency),
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"userId":   identity.UserID,
			"currency": quote.Currency,
			"error":    err.Error(),
		})
		s.metrics.RecordOutcome(ctx, "checkout.session", string(KindUpstream))
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"userId":    identity.UserID,
		"total":     quote.Totals.Total,
		"currency":  quote.Currency,
	})
	s.metrics.RecordOutcome(ctx, "checkout.session", "created")
	return CheckoutSessionResult{
		SessionID: session.ID,
		URL:       session.RedirectURL,
		Totals:    quote.Totals,
	}, nil
}

// Quote prices the cart without touching the gateway.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCheckoutCommand) (CheckoutQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.price(ctx, cmd)
}

// ShippingMethods lists the active methods, or the fallback pair when none are configured.
func (s *checkoutService) ShippingMethods(ctx context.Context) ([]domain.ShippingMethod, error) {
	methods := activeMethods(s.loadShippingMethods(ctx))
	if len(methods) == 0 {
		return s.pricing.FallbackMethods(), nil
	}
	return methods, nil
}

func (s *checkoutService) price(ctx context.Context, cmd QuoteCheckoutCommand) (CheckoutQuote, error) {
	if len(cmd.Items) == 0 {
		return CheckoutQuote{}, ErrCartEmpty
	}
	currency := normalizeCurrency(cmd.Currency, s.currency)
	if !validCurrency(currency) {
		return CheckoutQuote{}, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrValidation, cmd.Currency)
	}

	items, err := s.resolver.ResolveCheckoutItems(ctx, cmd.Items)
	if err != nil {
		s.logger(ctx, "checkout.resolve.failed", map[string]any{"error": err.Error()})
		return CheckoutQuote{}, err
	}
	if len(items) == 0 {
		return CheckoutQuote{}, ErrCartUnresolvable
	}

	method := s.pricing.SelectShippingMethod(s.loadShippingMethods(ctx), cmd.ShippingMethodID)
	totals := s.pricing.ComputeOrderTotals(Subtotal(items), &method, taxCountry(cmd.ShippingAddress, cmd.BillingAddress))

	return CheckoutQuote{
		Items:          items,
		ShippingMethod: method,
		Totals:         totals,
		Currency:       currency,
	}, nil
}

// loadShippingMethods degrades to the engine's fallback when the store is unavailable.
func (s *checkoutService) loadShippingMethods(ctx context.Context) []domain.ShippingMethod {
	if s.shippingMethods == nil {
		return nil
	}
	methods, err := s.shippingMethods.ListActive(ctx)
	if err != nil {
		s.logger(ctx, "checkout.shipping_methods.unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	return methods
}

func (s *checkoutService) createManualOrder(ctx context.Context, cmd CreateCheckoutSessionCommand, identity orderIdentity, quote CheckoutQuote, origin string) (CheckoutSessionResult, error) {
	now := s.now()
	order := buildOrder(s.ids, orderDraft{
		Identity:         identity,
		Status:           domain.OrderStatusPending,
		Currency:         quote.Currency,
		Items:            quote.Items,
		Totals:           quote.Totals,
		TotalAmount:      quote.Totals.Total,
		ShippingMethodID: quote.ShippingMethod.ID,
		ShippingAddress:  cmd.ShippingAddress,
		BillingAddress:   cmd.BillingAddress,
	}, now)
	payment := domain.OrderPayment{
		ID:            s.ids.payment(),
		OrderID:       order.ID,
		Amount:        quote.Totals.Total,
		Currency:      quote.Currency,
		Status:        domain.PaymentStatusPending,
		Provider:      manualPaymentProvider,
		TransactionID: manualTransactionPfx + order.ID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.orderPayments.Insert(txCtx, payment)
	})
	if err != nil {
		s.logger(ctx, "checkout.manual_order.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		s.metrics.RecordOutcome(ctx, "checkout.session", string(KindUpstream))
		return CheckoutSessionResult{}, translateRepositoryError(err, "order")
	}

	order.Payments = []domain.OrderPayment{payment}
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		CurrentStatus: string(order.Status),
		ActorID:       identity.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":    order.TotalAmount,
			"currency": order.Currency,
			"provider": manualPaymentProvider,
		},
	})
	s.logger(ctx, "checkout.manual_order.created", map[string]any{
		"orderId": order.ID,
		"total":   order.TotalAmount,
	})
	s.metrics.RecordOutcome(ctx, "checkout.session", "manual_order")

	return CheckoutSessionResult{
		OrderID: order.ID,
		URL:     origin + checkoutSuccessPath + "?order_id=" + url.QueryEscape(order.ID),
		Totals:  quote.Totals,
	}, nil
}

// gatewayLineItems builds one line per product plus shipping and tax lines when non-zero. Every
// unit amount is lifted to the gateway minimum.
func gatewayLineItems(quote CheckoutQuote, currency string) []payments.CheckoutLineItem {
	lines := make([]payments.CheckoutLineItem, 0, len(quote.Items)+2)
	for _, item := range quote.Items {
		lines = append(lines, payments.CheckoutLineItem{
			Name:       item.Name,
			Quantity:   int64(item.Quantity),
			UnitAmount: payments.ChargeableUnitAmount(item.Price, currency),
		})
	}
	if quote.Totals.Shipping > 0 {
		name := strings.TrimSpace(quote.ShippingMethod.Name)
		if name == "" {
			name = "Shipping"
		}
		lines = append(lines, payments.CheckoutLineItem{
			Name:       name,
			Quantity:   1,
			UnitAmount: payments.ChargeableUnitAmount(quote.Totals.Shipping, currency),
		})
	}
	if quote.Totals.Tax > 0 {
		name := strings.TrimSpace(quote.Totals.TaxLabel)
		if name == "" {
			name = "Tax"
		}
		lines = append(lines, payments.CheckoutLineItem{
			Name:       name,
			Quantity:   1,
			UnitAmount: payments.ChargeableUnitAmount(quote.Totals.Tax, currency),
		})
	}
	return lines
}

func cartLinesFromResolved(items []domain.ResolvedLineItem) []domain.CartLineRequest {
	lines := make([]domain.CartLineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.CartLineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
