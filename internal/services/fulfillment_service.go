package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultPaymentMethodType = "card"

	reasonNotPaid         = "payment_not_paid"
	reasonNoTransaction   = "missing_transaction_reference"
	reasonInvalidMetadata = "invalid_metadata"
	reasonNoIdentity      = "no_identity"
	reasonNoItems         = "no_resolvable_items"
)

// FulfillmentServiceDeps wires the dependencies of the fulfillment processor.
type FulfillmentServiceDeps struct {
	Resolver      LineItemResolver
	Payments      payments.Provider
	Orders        repositories.OrderRepository
	OrderPayments repositories.OrderPaymentRepository
	UnitOfWork    repositories.UnitOfWork
	Events        OrderEventPublisher
	Metrics       OutcomeRecorder
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	resolver      LineItemResolver
	payments      payments.Provider
	orders        repositories.OrderRepository
	orderPayments repositories.OrderPaymentRepository
	unitOfWork    repositories.UnitOfWork
	events        OrderEventPublisher
	metrics       OutcomeRecorder
	now           func() time.Time
	ids           idFactory
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewFulfillmentService constructs the fulfillment processor.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Resolver == nil {
		return nil, errors.New("fulfillment service: line item resolver is required")
	}
	if deps.Orders == nil || deps.OrderPayments == nil {
		return nil, errors.New("fulfillment service: order repositories are required")
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

	return &fulfillmentService{
		resolver:      deps.Resolver,
		payments:      deps.Payments,
		orders:        deps.Orders,
		orderPayments: deps.OrderPayments,
		unitOfWork:    unit,
		events:        deps.Events,
		metrics:       metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		ids:    newIDFactory(deps.IDGenerator),
		logger: logger,
	}, nil
}

// FulfillCheckout persists the order, its items and a completed payment for a paid checkout.
// Repeated deliveries for the same transaction return the existing order as a duplicate.
// Business problems (unpaid, unattributable, nothing resolvable) are reported as ignored
// outcomes; only infrastructure failures are returned as errors.
func (s *fulfillmentService) FulfillCheckout(ctx context.Context, completion payments.CheckoutCompletion) (FulfillmentResult, error) {
	if !completion.IsPaid() {
		return s.ignore(ctx, completion, reasonNotPaid, nil), nil
	}
	txID := strings.TrimSpace(completion.TransactionID())
	if txID == "" {
		return s.ignore(ctx, completion, reasonNoTransaction, nil), nil
	}

	if existing, found, err := s.findExisting(ctx, txID); err != nil {
		return FulfillmentResult{}, err
	} else if found {
		return s.duplicate(ctx, existing), nil
	}

	meta, err := DecodeCheckoutMetadata(completion.Metadata)
	if err != nil {
		return s.ignore(ctx, completion, reasonInvalidMetadata, err), nil
	}

	identity, ok := resolveFulfillmentIdentity(meta, completion)
	if !ok {
		return s.ignore(ctx, completion, reasonNoIdentity, nil), nil
	}

	items, err := s.resolver.ResolveCheckoutItems(ctx, meta.Items)
	if err != nil {
		s.metrics.RecordOutcome(ctx, "fulfillment", "failed")
		return FulfillmentResult{}, err
	}
	if len(items) == 0 {
		return s.ignore(ctx, completion, reasonNoItems, nil), nil
	}

	currency := strings.ToUpper(strings.TrimSpace(completion.Currency))
	if currency == "" {
		currency = normalizeCurrency(meta.Currency, defaultCurrency)
	}
	amount := payments.FromMinorUnits(completion.AmountTotal, currency)
	if subtotal := Subtotal(items); meta.Totals.Subtotal > 0 && math.Abs(subtotal-meta.Totals.Subtotal) > 0.005 {
		s.logger(ctx, "fulfillment.subtotal_drift", map[string]any{
			"sessionId":       completion.SessionID,
			"quotedSubtotal":  meta.Totals.Subtotal,
			"currentSubtotal": subtotal,
		})
	}

	provider, receiptURL := s.enrichPayment(ctx, completion.PaymentIntentID)

	now := s.now()
	order := buildOrder(s.ids, orderDraft{
		Identity:          identity,
		Status:            domain.OrderStatusPaid,
		Currency:          currency,
		Items:             items,
		Totals:            meta.Totals,
		TotalAmount:       amount,
		ShippingMethodID:  meta.ShippingMethodID,
		ShippingAddress:   meta.ShippingAddress,
		BillingAddress:    meta.BillingAddress,
		CheckoutSessionID: completion.SessionID,
	}, now)
	payment := domain.OrderPayment{
		ID:            s.ids.payment(),
		OrderID:       order.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        domain.PaymentStatusCompleted,
		Provider:      provider,
		TransactionID: txID,
		ReceiptURL:    receiptURL,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var existing domain.OrderPayment
	var duplicate bool
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orderPayments.LockTransaction(txCtx, txID); err != nil {
			return err
		}
		found, ok, err := s.findExisting(txCtx, txID)
		if err != nil {
			return err
		}
		if ok {
			existing, duplicate = found, true
			return nil
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.orderPayments.Insert(txCtx, payment)
	})
	if err != nil {
		if s.orderPayments.IsDuplicateTransaction(err) {
			if found, ok, findErr := s.findExisting(ctx, txID); findErr == nil && ok {
				return s.duplicate(ctx, found), nil
			}
			return FulfillmentResult{Outcome: FulfillmentDuplicate, Reason: "unique_violation"}, nil
		}
		s.logger(ctx, "fulfillment.persist.failed", map[string]any{
			"sessionId":     completion.SessionID,
			"transactionId": txID,
			"error":         err.Error(),
		})
		s.metrics.RecordOutcome(ctx, "fulfillment", "failed")
		return FulfillmentResult{}, translateRepositoryError(err, "order")
	}
	if duplicate {
		return s.duplicate(ctx, existing), nil
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		CurrentStatus: string(order.Status),
		ActorID:       identity.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":         amount,
			"currency":      currency,
			"provider":      provider,
			"sessionId":     completion.SessionID,
			"transactionId": txID,
		},
	})
	s.logger(ctx, "fulfillment.order.created", map[string]any{
		"orderId":       order.ID,
		"paymentId":     payment.ID,
		"sessionId":     completion.SessionID,
		"transactionId": txID,
		"items":         len(order.Items),
		"total":         amount,
	})
	s.metrics.RecordOutcome(ctx, "fulfillment", string(FulfillmentCreated))

	return FulfillmentResult{
		Outcome:   FulfillmentCreated,
		OrderID:   order.ID,
		PaymentID: payment.ID,
	}, nil
}

func (s *fulfillmentService) findExisting(ctx context.Context, txID string) (domain.OrderPayment, bool, error) {
	payment, err := s.orderPayments.FindByTransactionID(ctx, txID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return domain.OrderPayment{}, false, nil
		}
		return domain.OrderPayment{}, false, translateRepositoryError(err, "order payment")
	}
	return payment, true, nil
}

// enrichPayment looks the payment intent up for its method type and receipt. Failures are logged
// and the provider defaults to card.
func (s *fulfillmentService) enrichPayment(ctx context.Context, intentID string) (string, string) {
	intentID = strings.TrimSpace(intentID)
	if s.payments == nil || intentID == "" {
		return defaultPaymentMethodType, ""
	}
	details, err := s.payments.LookupPayment(ctx, payments.LookupRequest{IntentID: intentID})
	if err != nil {
		s.logger(ctx, "fulfillment.payment_lookup.failed", map[string]any{
			"paymentIntent": intentID,
			"error":         err.Error(),
		})
		return defaultPaymentMethodType, ""
	}
	provider := strings.TrimSpace(details.PaymentMethodType)
	if provider == "" {
		provider = defaultPaymentMethodType
	}
	return provider, details.ReceiptURL
}

func (s *fulfillmentService) ignore(ctx context.Context, completion payments.CheckoutCompletion, reason string, cause error) FulfillmentResult {
	fields := map[string]any{
		"sessionId":     completion.SessionID,
		"paymentStatus": completion.PaymentStatus,
		"reason":        reason,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.logger(ctx, "fulfillment.ignored", fields)
	s.metrics.RecordOutcome(ctx, "fulfillment", string(FulfillmentIgnored))
	return FulfillmentResult{Outcome: FulfillmentIgnored, Reason: reason}
}

func (s *fulfillmentService) duplicate(ctx context.Context, existing domain.OrderPayment) FulfillmentResult {
	s.logger(ctx, "fulfillment.duplicate", map[string]any{
		"orderId":       existing.OrderID,
		"paymentId":     existing.ID,
		"transactionId": existing.TransactionID,
	})
	s.metrics.RecordOutcome(ctx, "fulfillment", string(FulfillmentDuplicate))
	return FulfillmentResult{
		Outcome:   FulfillmentDuplicate,
		OrderID:   existing.OrderID,
		PaymentID: existing.ID,
	}
}

// resolveFulfillmentIdentity picks the metadata user, then the metadata guest, then the
// customer captured by the gateway.
func resolveFulfillmentIdentity(meta CheckoutMetadata, completion payments.CheckoutCompletion) (orderIdentity, bool) {
	if meta.UserID != "" {
		return orderIdentity{UserID: meta.UserID}, true
	}
	if meta.Guest != nil && !meta.Guest.IsZero() {
		guest := *meta.Guest
		if guest.Email == "" {
			guest.Email = strings.TrimSpace(completion.CustomerEmail)
		}
		return orderIdentity{Guest: guest}, true
	}
	if email := strings.TrimSpace(completion.CustomerEmail); email != "" {
		return orderIdentity{Guest: domain.GuestContact{
			Email: email,
			Name:  completion.CustomerName,
			Phone: completion.CustomerPhone,
		}}, true
	}
	return orderIdentity{}, false
}
