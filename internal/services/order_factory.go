package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	orderIDPrefix   = "ord_"
	itemIDPrefix    = "itm_"
	paymentIDPrefix = "pay_"

	manualPaymentProvider = "manual"
	manualTransactionPfx  = "manual_"
	defaultCurrency       = "USD"
)

// orderIdentity attributes an order to a user or a guest.
type orderIdentity struct {
	UserID string
	Guest  domain.GuestContact
}

func (i orderIdentity) empty() bool {
	return strings.TrimSpace(i.UserID) == "" && strings.TrimSpace(i.Guest.Email) == ""
}

type orderDraft struct {
	Identity          orderIdentity
	Status            domain.OrderStatus
	Currency          string
	Items             []domain.ResolvedLineItem
	Totals            domain.OrderTotals
	TotalAmount       float64
	ShippingMethodID  string
	ShippingAddress   *domain.Address
	BillingAddress    *domain.Address
	CheckoutSessionID string
}

type idFactory struct {
	newID func() string
}

func newIDFactory(gen func() string) idFactory {
	if gen == nil {
		gen = func() string { return ulid.Make().String() }
	}
	return idFactory{newID: gen}
}

func (f idFactory) order() string   { return orderIDPrefix + f.newID() }
func (f idFactory) item() string    { return itemIDPrefix + f.newID() }
func (f idFactory) payment() string { return paymentIDPrefix + f.newID() }

// buildOrder turns a draft into an order with item snapshots taken from the resolved prices.
func buildOrder(ids idFactory, draft orderDraft, now time.Time) domain.Order {
	orderID := ids.order()
	order := domain.Order{
		ID:                orderID,
		Status:            draft.Status,
		Currency:          draft.Currency,
		Totals:            draft.Totals,
		TotalAmount:       draft.TotalAmount,
		ShippingMethodID:  draft.ShippingMethodID,
		ShippingAddress:   draft.ShippingAddress,
		BillingAddress:    draft.BillingAddress,
		CheckoutSessionID: draft.CheckoutSessionID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if userID := strings.TrimSpace(draft.Identity.UserID); userID != "" {
		order.UserID = &userID
	} else {
		order.GuestEmail = optionalString(draft.Identity.Guest.Email)
		order.GuestName = optionalString(draft.Identity.Guest.Name)
		order.GuestPhone = optionalString(draft.Identity.Guest.Phone)
	}

	order.Items = make([]domain.OrderItem, 0, len(draft.Items))
	for _, item := range draft.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:              ids.item(),
			OrderID:         orderID,
			ProductID:       item.ProductID,
			ProductName:     item.Name,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.Price,
		})
	}
	return order
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeCurrency(value, fallback string) string {
	currency := strings.ToUpper(strings.TrimSpace(value))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if currency == "" {
		currency = defaultCurrency
	}
	return currency
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// taxCountry prefers the shipping destination and falls back to the billing country.
func taxCountry(shipping, billing *domain.Address) string {
	if shipping != nil && strings.TrimSpace(shipping.Country) != "" {
		return shipping.Country
	}
	if billing != nil {
		return billing.Country
	}
	return ""
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

var _ repositories.UnitOfWork = noopUnitOfWork{}
