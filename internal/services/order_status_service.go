package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Position of each status on the forward lifecycle. Terminal statuses have no rank.
var orderLifecycleRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:   0,
	domain.OrderStatusPaid:      1,
	domain.OrderStatusConfirmed: 2,
	domain.OrderStatusShipped:   3,
	domain.OrderStatusDelivered: 4,
}

var terminalOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusCancelled: true,
	domain.OrderStatusRefunded:  true,
}

// Statuses that require a completed payment unless the operator overrides the check.
var paymentGuardedStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPaid:      true,
	domain.OrderStatusConfirmed: true,
	domain.OrderStatusShipped:   true,
	domain.OrderStatusDelivered: true,
}

var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending:   {domain.PaymentStatusCompleted, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:    {domain.PaymentStatusPending, domain.PaymentStatusCompleted},
	domain.PaymentStatusCompleted: {domain.PaymentStatusRefunded},
}

var orderStatusVerbs = map[domain.OrderStatus]string{
	domain.OrderStatusPending:   "reset to pending",
	domain.OrderStatusPaid:      "mark as paid",
	domain.OrderStatusConfirmed: "confirm",
	domain.OrderStatusShipped:   "ship",
	domain.OrderStatusDelivered: "mark as delivered",
	domain.OrderStatusCancelled: "cancel",
	domain.OrderStatusRefunded:  "refund",
}

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	OrderPayments repositories.OrderPaymentRepository
	UnitOfWork    repositories.UnitOfWork
	Events        OrderEventPublisher
	Metrics       OutcomeRecorder
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	orderPayments repositories.OrderPaymentRepository
	unitOfWork    repositories.UnitOfWork
	events        OrderEventPublisher
	metrics       OutcomeRecorder
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.OrderPayments == nil {
		return nil, errors.New("order service: order payment repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &orderService{
		orders:        deps.Orders,
		orderPayments: deps.OrderPayments,
		unitOfWork:    unit,
		events:        deps.Events,
		metrics:       metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// TransitionOrderStatus moves an order along its lifecycle under a row lock.
func (s *orderService) TransitionOrderStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !isKnownOrderStatus(target) {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, cmd.Status)
	}

	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return translateRepositoryError(err, "order")
		}
		payments, err := s.orderPayments.ListByOrder(txCtx, orderID)
		if err != nil {
			return translateRepositoryError(err, "order payments")
		}
		order.Payments = payments

		if err := ValidateOrderTransition(order, target, cmd.SkipPaymentCheck); err != nil {
			return err
		}

		previous = order.Status
		updated, err = s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID:         orderID,
			Status:          target,
			ExpectedVersion: order.Version,
			UpdatedAt:       s.now(),
		})
		if err != nil {
			return translateRepositoryError(err, "order")
		}
		updated.Payments = payments
		return nil
	})
	if err != nil {
		s.metrics.RecordOutcome(ctx, "order.transition", string(ErrorKind(err)))
		return domain.Order{}, err
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":          orderID,
		"from":             string(previous),
		"to":               string(target),
		"actorId":          cmd.ActorID,
		"skipPaymentCheck": cmd.SkipPaymentCheck,
	})
	s.metrics.RecordOutcome(ctx, "order.transition", string(target))
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        orderID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        cmd.ActorID,
		OccurredAt:     updated.UpdatedAt,
		Metadata: map[string]any{
			"skipPaymentCheck": cmd.SkipPaymentCheck,
		},
	})
	return updated, nil
}

// TransitionPaymentStatus changes a payment record's status. It never touches the order.
func (s *orderService) TransitionPaymentStatus(ctx context.Context, cmd TransitionPaymentStatusCommand) (domain.OrderPayment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return domain.OrderPayment{}, fmt.Errorf("%w: payment id is required", ErrValidation)
	}
	target := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !isKnownPaymentStatus(target) {
		return domain.OrderPayment{}, fmt.Errorf("%w: unknown payment status %q", ErrValidation, cmd.Status)
	}

	var (
		updated  domain.OrderPayment
		previous domain.PaymentStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.orderPayments.FindByIDForUpdate(txCtx, paymentID)
		if err != nil {
			return translateRepositoryError(err, "order payment")
		}
		if err := ValidatePaymentTransition(payment.Status, target); err != nil {
			return err
		}
		previous = payment.Status
		updated, err = s.orderPayments.UpdateStatus(txCtx, repositories.PaymentStatusUpdate{
			PaymentID:       paymentID,
			Status:          target,
			ExpectedVersion: payment.Version,
			UpdatedAt:       s.now(),
		})
		if err != nil {
			return translateRepositoryError(err, "order payment")
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordOutcome(ctx, "payment.transition", string(ErrorKind(err)))
		return domain.OrderPayment{}, err
	}

	s.logger(ctx, "payment.status.changed", map[string]any{
		"paymentId": paymentID,
		"orderId":   updated.OrderID,
		"from":      string(previous),
		"to":        string(target),
		"actorId":   cmd.ActorID,
	})
	s.metrics.RecordOutcome(ctx, "payment.transition", string(target))
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           paymentEventStatusChanged,
		OrderID:        updated.OrderID,
		PaymentID:      paymentID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        cmd.ActorID,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

// GetOrder loads an order with its items and payments. Orders owned by someone else look missing.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepositoryError(err, "order")
	}
	if !query.IsAdmin && (order.UserID == nil || *order.UserID != strings.TrimSpace(query.UserID)) {
		return domain.Order{}, fmt.Errorf("%w: order", ErrNotFound)
	}
	payments, err := s.orderPayments.ListByOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepositoryError(err, "order payments")
	}
	order.Payments = payments
	return order, nil
}

// ListOrders returns one page of a user's orders.
func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	for _, status := range query.Status {
		if !isKnownOrderStatus(status) {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
		}
	}
	pager := query.Pagination
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultOrderPageSize
	case pager.PageSize > maxOrderPageSize:
		pager.PageSize = maxOrderPageSize
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     query.Status,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, translateRepositoryError(err, "orders")
	}
	for i := range page.Items {
		payments, err := s.orderPayments.ListByOrder(ctx, page.Items[i].ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, translateRepositoryError(err, "order payments")
		}
		page.Items[i].Payments = payments
	}
	return page, nil
}

// ValidateOrderTransition applies the lifecycle guard rules to a loaded order (with payments).
func ValidateOrderTransition(order domain.Order, target domain.OrderStatus, skipPaymentCheck bool) error {
	from := order.Status
	reject := func(reason string) error {
		return &OrderStatusTransitionError{From: from, To: target, Reason: reason}
	}
	verb := orderStatusVerbs[target]

	if from == target {
		return reject(fmt.Sprintf("order is already %s", target))
	}
	if terminalOrderStatuses[from] {
		return reject(fmt.Sprintf("cannot %s: order is %s", verb, from))
	}
	if !terminalOrderStatuses[target] {
		if from == domain.OrderStatusDelivered {
			return reject(fmt.Sprintf("cannot %s: delivered orders can only be refunded", verb))
		}
		fromRank, fromKnown := orderLifecycleRank[from]
		if !fromKnown {
			return reject(fmt.Sprintf("cannot %s: current status %q is not recognised", verb, from))
		}
		if orderLifecycleRank[target] < fromRank {
			return reject(fmt.Sprintf("cannot %s: order is already %s", verb, from))
		}
	} else if from == domain.OrderStatusDelivered && target != domain.OrderStatusRefunded {
		return reject(fmt.Sprintf("cannot %s: delivered orders can only be refunded", verb))
	}

	if paymentGuardedStatuses[target] && !skipPaymentCheck && !order.HasCompletedPayment() {
		return reject(fmt.Sprintf("cannot %s: no completed payment on file", verb))
	}
	return nil
}

// ValidatePaymentTransition applies the payment status rules.
func ValidatePaymentTransition(from, target domain.PaymentStatus) error {
	if from == target {
		return &PaymentStatusTransitionError{From: from, To: target, Reason: fmt.Sprintf("payment is already %s", target)}
	}
	for _, allowed := range paymentStateTransitions[from] {
		if allowed == target {
			return nil
		}
	}
	return &PaymentStatusTransitionError{
		From:   from,
		To:     target,
		Reason: fmt.Sprintf("cannot move payment from %s to %s", from, target),
	}
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	_, ranked := orderLifecycleRank[status]
	return ranked || terminalOrderStatuses[status]
}

func isKnownPaymentStatus(status domain.PaymentStatus) bool {
	switch status {
	case domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
