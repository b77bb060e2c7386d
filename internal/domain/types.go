package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is one page of a keyset-paginated listing.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the authoritative catalog view used when pricing a cart.
type Product struct {
	ID     string
	Name   string
	Price  float64
	Active bool
}

// CartLineRequest is a client-submitted cart line. Quantity is untrusted.
type CartLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// UnmarshalJSON accepts any quantity value. Whole positive numbers, as JSON numbers or numeric
// strings, are kept; everything else decodes to 0 and is later coerced to 1.
func (l *CartLineRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID string          `json:"productId"`
		Quantity  json.RawMessage `json:"quantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = CartLineRequest{ProductID: raw.ProductID, Quantity: lenientQuantity(raw.Quantity)}
	return nil
}

func lenientQuantity(raw json.RawMessage) int {
	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		text = strings.TrimSpace(s)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value < 1 || value > math.MaxInt32 || value != math.Trunc(value) {
		return 0
	}
	return int(value)
}

// ResolvedLineItem is a cart line re-read from the catalog.
type ResolvedLineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Address is a shipping or billing snapshot. Unknown fields submitted by clients are kept in Raw
// so the snapshot persisted with the order matches what the customer sent.
type Address struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the compacted original document.
func (a *Address) UnmarshalJSON(data []byte) error {
	type plain Address
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Address{}
		return nil
	}
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return err
	}
	*a = Address(decoded)
	a.Raw = json.RawMessage(compact.Bytes())
	return nil
}

// MarshalJSON emits the original document when one was decoded.
func (a Address) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	type plain Address
	return json.Marshal(plain(a))
}

// GuestContact identifies a checkout without an authenticated user.
type GuestContact struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IsZero reports whether the contact carries no usable identity.
func (g GuestContact) IsZero() bool {
	return g.Email == "" && g.Name == "" && g.Phone == ""
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is used for orders created without a confirmed payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is the status of orders created from a completed gateway checkout.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusConfirmed indicates an operator accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus enumerates the states of an order payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Order is the durable record created once a checkout is paid.
type Order struct {
	ID                string
	UserID            *string
	GuestEmail        *string
	GuestName         *string
	GuestPhone        *string
	Status            OrderStatus
	Currency          string
	Totals            OrderTotals
	TotalAmount       float64
	ShippingMethodID  string
	ShippingAddress   *Address
	BillingAddress    *Address
	CheckoutSessionID string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Items    []OrderItem
	Payments []OrderPayment
}

// OrderItem is an immutable point-in-time snapshot of a purchased product.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductName     string
	Quantity        int
	PriceAtPurchase float64
}

// OrderPayment records one payment attempt against an order.
type OrderPayment struct {
	ID            string
	OrderID       string
	Amount        float64
	Currency      string
	Status        PaymentStatus
	Provider      string
	TransactionID string
	ReceiptURL    string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCompletedPayment reports whether any payment on the order is completed.
func (o Order) HasCompletedPayment() bool {
	for _, payment := range o.Payments {
		if payment.Status == PaymentStatusCompleted {
			return true
		}
	}
	return false
}
