package postgres

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type productRecord struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Name      string          `gorm:"column:name"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2)"`
	Active    bool            `gorm:"column:active"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (productRecord) TableName() string { return "products" }

func (r productRecord) toDomain() domain.Product {
	return domain.Product{
		ID:     r.ID,
		Name:   r.Name,
		Price:  r.Price.InexactFloat64(),
		Active: r.Active,
	}
}

type shippingMethodRecord struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Code      string          `gorm:"column:code"`
	Name      string          `gorm:"column:name"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2)"`
	IsDefault bool            `gorm:"column:is_default"`
	IsExpress bool            `gorm:"column:is_express"`
	Active    bool            `gorm:"column:active"`
	SortOrder int             `gorm:"column:sort_order"`
}

func (shippingMethodRecord) TableName() string { return "shipping_methods" }

func (r shippingMethodRecord) toDomain() domain.ShippingMethod {
	return domain.ShippingMethod{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		Price:     r.Price.InexactFloat64(),
		IsDefault: r.IsDefault,
		IsExpress: r.IsExpress,
		Active:    r.Active,
	}
}

type profileRecord struct {
	UserID string `gorm:"column:user_id;primaryKey"`
	Role   string `gorm:"column:role"`
}

func (profileRecord) TableName() string { return "profiles" }

type orderRecord struct {
	ID                string          `gorm:"column:id;primaryKey"`
	UserID            *string         `gorm:"column:user_id"`
	GuestEmail        *string         `gorm:"column:guest_email"`
	GuestName         *string         `gorm:"column:guest_name"`
	GuestPhone        *string         `gorm:"column:guest_phone"`
	Status            string          `gorm:"column:status"`
	Currency          string          `gorm:"column:currency"`
	Subtotal          decimal.Decimal `gorm:"column:subtotal;type:numeric(14,4)"`
	ShippingAmount    decimal.Decimal `gorm:"column:shipping_amount;type:numeric(14,4)"`
	TaxAmount         decimal.Decimal `gorm:"column:tax_amount;type:numeric(14,4)"`
	TaxRate           decimal.Decimal `gorm:"column:tax_rate;type:numeric(6,4)"`
	TaxLabel          string          `gorm:"column:tax_label"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:numeric(14,4)"`
	ShippingMethodID  string          `gorm:"column:shipping_method_id"`
	ShippingAddress   *string         `gorm:"column:shipping_address;type:jsonb"`
	BillingAddress    *string         `gorm:"column:billing_address;type:jsonb"`
	CheckoutSessionID string          `gorm:"column:checkout_session_id"`
	Version           int64           `gorm:"column:version"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

type orderItemRecord struct {
	ID              string          `gorm:"column:id;primaryKey"`
	OrderID         string          `gorm:"column:order_id"`
	ProductID       string          `gorm:"column:product_id"`
	ProductName     string          `gorm:"column:product_name"`
	Quantity        int             `gorm:"column:quantity"`
	PriceAtPurchase decimal.Decimal `gorm:"column:price_at_purchase;type:numeric(12,2)"`
}

func (orderItemRecord) TableName() string { return "order_items" }

type orderPaymentRecord struct {
	ID            string          `gorm:"column:id;primaryKey"`
	OrderID       string          `gorm:"column:order_id"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,4)"`
	Currency      string          `gorm:"column:currency"`
	Status        string          `gorm:"column:status"`
	Provider      string          `gorm:"column:provider"`
	TransactionID string          `gorm:"column:transaction_id"`
	ReceiptURL    string          `gorm:"column:receipt_url"`
	Version       int64           `gorm:"column:version"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (orderPaymentRecord) TableName() string { return "order_payments" }

func orderToRecord(order domain.Order) (orderRecord, []orderItemRecord, error) {
	shipping, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return orderRecord{}, nil, err
	}
	billing, err := encodeAddress(order.BillingAddress)
	if err != nil {
		return orderRecord{}, nil, err
	}
	record := orderRecord{
		ID:                order.ID,
		UserID:            order.UserID,
		GuestEmail:        order.GuestEmail,
		GuestName:         order.GuestName,
		GuestPhone:        order.GuestPhone,
		Status:            string(order.Status),
		Currency:          order.Currency,
		Subtotal:          decimal.NewFromFloat(order.Totals.Subtotal),
		ShippingAmount:    decimal.NewFromFloat(order.Totals.Shipping),
		TaxAmount:         decimal.NewFromFloat(order.Totals.Tax),
		TaxRate:           decimal.NewFromFloat(order.Totals.TaxRate),
		TaxLabel:          order.Totals.TaxLabel,
		TotalAmount:       decimal.NewFromFloat(order.TotalAmount),
		ShippingMethodID:  order.ShippingMethodID,
		ShippingAddress:   shipping,
		BillingAddress:    billing,
		CheckoutSessionID: order.CheckoutSessionID,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	if record.Version <= 0 {
		record.Version = 1
	}
	items := make([]orderItemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemRecord{
			ID:              item.ID,
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: decimal.NewFromFloat(item.PriceAtPurchase),
		})
	}
	return record, items, nil
}

func orderFromRecord(record orderRecord, items []orderItemRecord) (domain.Order, error) {
	shipping, err := decodeAddress(record.ShippingAddress)
	if err != nil {
		return domain.Order{}, err
	}
	billing, err := decodeAddress(record.BillingAddress)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.Order{
		ID:         record.ID,
		UserID:     record.UserID,
		GuestEmail: record.GuestEmail,
		GuestName:  record.GuestName,
		GuestPhone: record.GuestPhone,
		Status:     domain.OrderStatus(record.Status),
		Currency:   record.Currency,
		Totals: domain.OrderTotals{
			Subtotal: record.Subtotal.InexactFloat64(),
			Shipping: record.ShippingAmount.InexactFloat64(),
			Tax:      record.TaxAmount.InexactFloat64(),
			Total:    record.TotalAmount.InexactFloat64(),
			TaxRate:  record.TaxRate.InexactFloat64(),
			TaxLabel: record.TaxLabel,
		},
		TotalAmount:       record.TotalAmount.InexactFloat64(),
		ShippingMethodID:  record.ShippingMethodID,
		ShippingAddress:   shipping,
		BillingAddress:    billing,
		CheckoutSessionID: record.CheckoutSessionID,
		Version:           record.Version,
		CreatedAt:         record.CreatedAt.UTC(),
		UpdatedAt:         record.UpdatedAt.UTC(),
		Items:             make([]domain.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:              item.ID,
			OrderID:         item.OrderID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.InexactFloat64(),
		})
	}
	return order, nil
}

func paymentToRecord(payment domain.OrderPayment) orderPaymentRecord {
	version := payment.Version
	if version <= 0 {
		version = 1
	}
	return orderPaymentRecord{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Amount:        decimal.NewFromFloat(payment.Amount),
		Currency:      payment.Currency,
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		TransactionID: payment.TransactionID,
		ReceiptURL:    payment.ReceiptURL,
		Version:       version,
		CreatedAt:     payment.CreatedAt.UTC(),
		UpdatedAt:     payment.UpdatedAt.UTC(),
	}
}

func paymentFromRecord(record orderPaymentRecord) domain.OrderPayment {
	return domain.OrderPayment{
		ID:            record.ID,
		OrderID:       record.OrderID,
		Amount:        record.Amount.InexactFloat64(),
		Currency:      record.Currency,
		Status:        domain.PaymentStatus(record.Status),
		Provider:      record.Provider,
		TransactionID: record.TransactionID,
		ReceiptURL:    record.ReceiptURL,
		Version:       record.Version,
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
	}
}

// Addresses are stored exactly as submitted; Address.MarshalJSON replays the raw document.
func encodeAddress(address *domain.Address) (*string, error) {
	if address == nil {
		return nil, nil
	}
	data, err := json.Marshal(address)
	if err != nil {
		return nil, err
	}
	value := string(data)
	return &value, nil
}

func decodeAddress(raw *string) (*domain.Address, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}
	var address domain.Address
	if err := json.Unmarshal([]byte(*raw), &address); err != nil {
		return nil, err
	}
	return &address, nil
}
