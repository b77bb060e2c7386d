package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
	duplicateTx bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func repoNotFound(what string) error { return &stubRepoError{msg: what + " not found", notFound: true} }
func repoConflict(what string) error { return &stubRepoError{msg: what + " conflict", conflict: true} }
func repoDuplicateTx() error {
	return &stubRepoError{msg: "order payment transaction conflict", conflict: true, duplicateTx: true}
}

type stubProductRepo struct {
	products map[string]domain.Product
	err      error
	calls    [][]string
}

func (s *stubProductRepo) FindByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

type stubShippingRepo struct {
	methods []domain.ShippingMethod
	err     error
}

func (s stubShippingRepo) ListActive(context.Context) ([]domain.ShippingMethod, error) {
	return s.methods, s.err
}

type stubGateway struct {
	createFn func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	lookupFn func(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error)
	requests []payments.CheckoutSessionRequest
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.requests = append(s.requests, req)
	if s.createFn == nil {
		return payments.CheckoutSession{ID: "cs_test", RedirectURL: "https://checkout.example/cs_test"}, nil
	}
	return s.createFn(ctx, req)
}

func (s *stubGateway) LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn == nil {
		return payments.PaymentDetails{}, errors.New("lookup not configured")
	}
	return s.lookupFn(ctx, req)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordedEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

// memoryStore implements the order and payment repositories. Transactions are serialised by
// memoryUnitOfWork, which stands in for the advisory lock.
type memoryStore struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	payments map[string]domain.OrderPayment

	insertOrderErr   error
	insertPaymentErr error
	skipTxLookup     bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.OrderPayment),
	}
}

type memoryOrders struct{ store *memoryStore }
type memoryPayments struct{ store *memoryStore }

func (m memoryOrders) Insert(_ context.Context, order domain.Order) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertOrderErr != nil {
		return s.insertOrderErr
	}
	if _, exists := s.orders[order.ID]; exists {
		return repoConflict("order")
	}
	s.orders[order.ID] = order
	return nil
}

func (m memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoNotFound("order")
	}
	return order, nil
}

func (m memoryOrders) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return m.FindByID(ctx, orderID)
}

func (m memoryOrders) UpdateStatus(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[update.OrderID]
	if !ok {
		return domain.Order{}, repoNotFound("order")
	}
	if order.Version != update.ExpectedVersion {
		return domain.Order{}, repoConflict("order version")
	}
	order.Status = update.Status
	order.Version++
	order.UpdatedAt = update.UpdatedAt
	s.orders[order.ID] = order
	return order, nil
}

func (m memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID != nil && *order.UserID == filter.UserID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Pagination.PageSize > 0 && len(out) > filter.Pagination.PageSize {
		out = out[:filter.Pagination.PageSize]
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (m memoryPayments) Insert(_ context.Context, payment domain.OrderPayment) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertPaymentErr != nil {
		return s.insertPaymentErr
	}
	for _, existing := range s.payments {
		if existing.TransactionID == payment.TransactionID {
			return repoDuplicateTx()
		}
	}
	s.payments[payment.ID] = payment
	return nil
}

func (m memoryPayments) FindByID(_ context.Context, paymentID string) (domain.OrderPayment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.OrderPayment{}, repoNotFound("payment")
	}
	return payment, nil
}

func (m memoryPayments) FindByIDForUpdate(ctx context.Context, paymentID string) (domain.OrderPayment, error) {
	return m.FindByID(ctx, paymentID)
}

func (m memoryPayments) FindByTransactionID(_ context.Context, transactionID string) (domain.OrderPayment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.skipTxLookup {
		for _, payment := range s.payments {
			if payment.TransactionID == transactionID {
				return payment, nil
			}
		}
	}
	return domain.OrderPayment{}, repoNotFound("payment")
}

func (m memoryPayments) ListByOrder(_ context.Context, orderID string) ([]domain.OrderPayment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderPayment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			out = append(out, payment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memoryPayments) UpdateStatus(_ context.Context, update repositories.PaymentStatusUpdate) (domain.OrderPayment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[update.PaymentID]
	if !ok {
		return domain.OrderPayment{}, repoNotFound("payment")
	}
	if payment.Version != update.ExpectedVersion {
		return domain.OrderPayment{}, repoConflict("payment version")
	}
	payment.Status = update.Status
	payment.Version++
	payment.UpdatedAt = update.UpdatedAt
	s.payments[payment.ID] = payment
	return payment, nil
}

func (m memoryPayments) LockTransaction(context.Context, string) error { return nil }

func (m memoryPayments) IsDuplicateTransaction(err error) bool {
	var repoErr *stubRepoError
	return errors.As(err, &repoErr) && repoErr.duplicateTx
}

func (s *memoryStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memoryStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *memoryStore) addPayment(payment domain.OrderPayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.ID] = payment
}

func (s *memoryStore) addOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

type memoryUnitOfWork struct {
	mu sync.Mutex
}

func (u *memoryUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return fn(ctx)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordOutcome(_ context.Context, operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[operation+"/"+outcome]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}
