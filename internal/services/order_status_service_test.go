package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func newTestOrderService(t *testing.T, store *memoryStore, events OrderEventPublisher) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{
		Orders:        memoryOrders{store: store},
		OrderPayments: memoryPayments{store: store},
		UnitOfWork:    &memoryUnitOfWork{},
		Events:        events,
		Clock:         fixedClock(),
	})
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}
	return service
}

func seedOrder(store *memoryStore, id string, status domain.OrderStatus, owner string) {
	userID := owner
	store.addOrder(domain.Order{
		ID:        id,
		UserID:    &userID,
		Status:    status,
		Currency:  "USD",
		Version:   1,
		CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestOrderService_ConfirmRequiresCompletedPayment(t *testing.T) {
	store := newMemoryStore()
	events := &recordedEvents{}
	service := newTestOrderService(t, store, events)
	seedOrder(store, "ord_1", domain.OrderStatusPending, "user_1")
	store.addPayment(domain.OrderPayment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusPending, TransactionID: "manual_ord_1", Version: 1})

	_, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusConfirmed})
	var transitionErr *OrderStatusTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if !strings.Contains(transitionErr.Reason, "no completed payment") {
		t.Fatalf("expected payment reason, got %q", transitionErr.Reason)
	}
	if ErrorKind(err) != KindStateTransition {
		t.Fatalf("expected state transition kind, got %s", ErrorKind(err))
	}

	if _, err := service.TransitionPaymentStatus(context.Background(), TransitionPaymentStatusCommand{PaymentID: "pay_1", Status: domain.PaymentStatusCompleted}); err != nil {
		t.Fatalf("TransitionPaymentStatus error: %v", err)
	}
	order, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusConfirmed, ActorID: "admin_1"})
	if err != nil {
		t.Fatalf("expected confirm to succeed, got %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed || order.Version != 2 {
		t.Fatalf("unexpected order: %+v", order)
	}

	types := events.types()
	if len(types) != 2 || types[0] != "payment.status_changed" || types[1] != "order.status_changed" {
		t.Fatalf("unexpected events: %v", types)
	}
	events.mu.Lock()
	last := events.events[1]
	events.mu.Unlock()
	if last.PreviousStatus != "pending" || last.CurrentStatus != "confirmed" || last.ActorID != "admin_1" {
		t.Fatalf("unexpected event payload: %+v", last)
	}
}

func TestOrderService_SkipPaymentCheck(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)
	seedOrder(store, "ord_1", domain.OrderStatusPending, "user_1")

	order, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusShipped, SkipPaymentCheck: true})
	if err != nil {
		t.Fatalf("expected override to succeed, got %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", order.Status)
	}
}

func TestOrderService_RejectsBackwardsAndTerminal(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)
	seedOrder(store, "ord_shipped", domain.OrderStatusShipped, "user_1")
	seedOrder(store, "ord_cancelled", domain.OrderStatusCancelled, "user_1")

	_, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_shipped", Status: domain.OrderStatusPending})
	if ErrorKind(err) != KindStateTransition {
		t.Fatalf("expected shipped -> pending to fail, got %v", err)
	}
	_, err = service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_cancelled", Status: domain.OrderStatusConfirmed, SkipPaymentCheck: true})
	if ErrorKind(err) != KindStateTransition {
		t.Fatalf("expected terminal order to reject transition, got %v", err)
	}

	stored, _ := memoryOrders{store: store}.FindByID(context.Background(), "ord_shipped")
	if stored.Status != domain.OrderStatusShipped || stored.Version != 1 {
		t.Fatalf("rejected transition must not modify the order: %+v", stored)
	}
}

func TestOrderService_TransitionInputErrors(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)

	if _, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_x", Status: domain.OrderStatusCancelled}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := service.TransitionOrderStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_x", Status: "archived"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := service.TransitionPaymentStatus(context.Background(), TransitionPaymentStatusCommand{PaymentID: "", Status: domain.PaymentStatusFailed}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateOrderTransition(t *testing.T) {
	paid := []domain.OrderPayment{{Status: domain.PaymentStatusCompleted}}
	cases := []struct {
		from     domain.OrderStatus
		to       domain.OrderStatus
		payments []domain.OrderPayment
		skip     bool
		ok       bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusPaid, paid, false, true},
		{domain.OrderStatusPending, domain.OrderStatusPaid, nil, false, false},
		{domain.OrderStatusPaid, domain.OrderStatusConfirmed, paid, false, true},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, paid, false, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusPaid, paid, false, false},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, paid, false, false},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, nil, false, true},
		{domain.OrderStatusShipped, domain.OrderStatusRefunded, paid, false, true},
		{domain.OrderStatusDelivered, domain.OrderStatusRefunded, paid, false, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, paid, false, false},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped, paid, true, false},
		{domain.OrderStatusRefunded, domain.OrderStatusCancelled, paid, false, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, nil, true, false},
		{domain.OrderStatusPending, domain.OrderStatusConfirmed, nil, true, true},
	}
	for _, tc := range cases {
		err := ValidateOrderTransition(domain.Order{Status: tc.from, Payments: tc.payments}, tc.to, tc.skip)
		if (err == nil) != tc.ok {
			t.Fatalf("%s -> %s (skip=%v): expected ok=%v, got %v", tc.from, tc.to, tc.skip, tc.ok, err)
		}
	}

	err := ValidateOrderTransition(domain.Order{Status: domain.OrderStatusShipped}, domain.OrderStatusShipped, false)
	if err == nil || !strings.Contains(err.Error(), "order is already shipped") {
		t.Fatalf("expected same-status message, got %v", err)
	}
}

func TestValidatePaymentTransition(t *testing.T) {
	cases := []struct {
		from domain.PaymentStatus
		to   domain.PaymentStatus
		ok   bool
	}{
		{domain.PaymentStatusPending, domain.PaymentStatusCompleted, true},
		{domain.PaymentStatusPending, domain.PaymentStatusFailed, true},
		{domain.PaymentStatusPending, domain.PaymentStatusRefunded, false},
		{domain.PaymentStatusFailed, domain.PaymentStatusPending, true},
		{domain.PaymentStatusFailed, domain.PaymentStatusCompleted, true},
		{domain.PaymentStatusCompleted, domain.PaymentStatusRefunded, true},
		{domain.PaymentStatusCompleted, domain.PaymentStatusPending, false},
		{domain.PaymentStatusRefunded, domain.PaymentStatusCompleted, false},
		{domain.PaymentStatusCompleted, domain.PaymentStatusCompleted, false},
	}
	for _, tc := range cases {
		err := ValidatePaymentTransition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("%s -> %s: expected ok=%v, got %v", tc.from, tc.to, tc.ok, err)
		}
	}
}

func TestOrderService_PaymentTransitionLeavesOrderAlone(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)
	seedOrder(store, "ord_1", domain.OrderStatusPaid, "user_1")
	store.addPayment(domain.OrderPayment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusCompleted, Version: 1})

	payment, err := service.TransitionPaymentStatus(context.Background(), TransitionPaymentStatusCommand{PaymentID: "pay_1", Status: domain.PaymentStatusRefunded})
	if err != nil {
		t.Fatalf("TransitionPaymentStatus error: %v", err)
	}
	if payment.Status != domain.PaymentStatusRefunded || payment.Version != 2 {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	order, _ := memoryOrders{store: store}.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("payment transition must not change order status, got %s", order.Status)
	}
}

func TestOrderService_GetOrderOwnership(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)
	seedOrder(store, "ord_1", domain.OrderStatusPaid, "user_1")
	store.addPayment(domain.OrderPayment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusCompleted})

	order, err := service.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("owner should read order: %v", err)
	}
	if len(order.Payments) != 1 {
		t.Fatalf("expected payments attached")
	}
	if _, err := service.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "user_2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if _, err := service.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "admin", IsAdmin: true}); err != nil {
		t.Fatalf("admin should read any order: %v", err)
	}
}

func TestOrderService_ListOrders(t *testing.T) {
	store := newMemoryStore()
	service := newTestOrderService(t, store, nil)
	seedOrder(store, "ord_1", domain.OrderStatusPaid, "user_1")
	seedOrder(store, "ord_2", domain.OrderStatusPaid, "user_2")

	page, err := service.ListOrders(context.Background(), ListOrdersQuery{UserID: "user_1"})
	if err != nil {
		t.Fatalf("ListOrders error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected page: %+v", page.Items)
	}
	if _, err := service.ListOrders(context.Background(), ListOrdersQuery{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without user")
	}
}
