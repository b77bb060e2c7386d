package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called with
// the context handed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads authoritative product data from the catalog store.
type ProductRepository interface {
	// FindByIDs returns the products that exist, keyed by id. Missing ids are simply absent.
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// ShippingMethodRepository lists the configured shipping methods.
type ShippingMethodRepository interface {
	ListActive(ctx context.Context) ([]domain.ShippingMethod, error)
}

// OrderRepository persists orders together with their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIDForUpdate loads the order and holds a row lock until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderPaymentRepository stores payment records attached to orders.
type OrderPaymentRepository interface {
	Insert(ctx context.Context, payment domain.OrderPayment) error
	FindByID(ctx context.Context, paymentID string) (domain.OrderPayment, error)
	FindByIDForUpdate(ctx context.Context, paymentID string) (domain.OrderPayment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.OrderPayment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderPayment, error)
	UpdateStatus(ctx context.Context, update PaymentStatusUpdate) (domain.OrderPayment, error)
	// LockTransaction serialises writers working on the same gateway transaction until the
	// surrounding transaction ends.
	LockTransaction(ctx context.Context, transactionID string) error
	// IsDuplicateTransaction reports whether err came from a second payment being written for
	// an already recorded gateway transaction.
	IsDuplicateTransaction(err error) bool
}

// ProfileRepository resolves operator roles for authenticated users.
type ProfileRepository interface {
	FindRole(ctx context.Context, userID string) (string, error)
}

// OrderStatusUpdate is a guarded status write. The update only applies when the stored version
// still equals ExpectedVersion.
type OrderStatusUpdate struct {
	OrderID         string
	Status          domain.OrderStatus
	ExpectedVersion int64
	UpdatedAt       time.Time
}

// PaymentStatusUpdate is a guarded payment status write.
type PaymentStatusUpdate struct {
	PaymentID       string
	Status          domain.PaymentStatus
	ExpectedVersion int64
	UpdatedAt       time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}
