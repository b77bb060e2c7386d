package services

import (
	"errors"
	"fmt"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrValidation indicates a malformed or empty request payload.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound indicates the referenced order, payment or product does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent modification won the race for the same record.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates the gateway, catalog or order store could not serve the request.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrCartEmpty is returned when a checkout request carries no items.
	ErrCartEmpty = fmt.Errorf("%w: cart is empty", ErrValidation)
	// ErrCartUnresolvable is returned when none of the requested products exist.
	ErrCartUnresolvable = fmt.Errorf("%w: unable to resolve cart items", ErrValidation)
	// ErrCartTooLarge is returned when the cart does not fit into gateway metadata.
	ErrCartTooLarge = fmt.Errorf("%w: cart is too large", ErrValidation)
	// ErrPaymentUnavailable is returned when the payment gateway rejected or did not answer.
	ErrPaymentUnavailable = fmt.Errorf("%w: payment provider", ErrUpstream)
	// ErrCatalogUnavailable is returned when the catalog store failed.
	ErrCatalogUnavailable = fmt.Errorf("%w: catalog", ErrUpstream)
)

// Kind classifies service errors for transport mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindStateTransition Kind = "state_transition"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUpstream        Kind = "upstream"
	KindUnknown         Kind = "unknown"
)

// ErrorKind reports the taxonomy bucket an error belongs to.
func ErrorKind(err error) Kind {
	var orderErr *OrderStatusTransitionError
	var paymentErr *PaymentStatusTransitionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &orderErr), errors.As(err, &paymentErr):
		return KindStateTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindUnknown
	}
}

// OrderStatusTransitionError reports a rejected order lifecycle transition.
type OrderStatusTransitionError struct {
	From   domain.OrderStatus
	To     domain.OrderStatus
	Reason string
}

func (e *OrderStatusTransitionError) Error() string {
	return fmt.Sprintf("order status %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// PaymentStatusTransitionError reports a rejected payment status transition.
type PaymentStatusTransitionError struct {
	From   domain.PaymentStatus
	To     domain.PaymentStatus
	Reason string
}

func (e *PaymentStatusTransitionError) Error() string {
	return fmt.Sprintf("payment status %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

func translateRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, subject)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, subject, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUpstream, subject, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, subject, err)
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
