package postgres

import (
	"encoding/json"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func TestOrderRecordRoundTripKeepsAddressSnapshot(t *testing.T) {
	var shipping domain.Address
	raw := `{"name":"Anna","line1":"Fő utca 1","country":"Hungary","doorCode":"42"}`
	if err := json.Unmarshal([]byte(raw), &shipping); err != nil {
		t.Fatalf("unmarshal address: %v", err)
	}
	userID := "user-1"
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:              "ord_1",
		UserID:          &userID,
		Status:          domain.OrderStatusPaid,
		Currency:        "USD",
		Totals:          domain.OrderTotals{Subtotal: 91.98, Shipping: 10, Tax: 24.8346, Total: 126.8146, TaxRate: 0.27, TaxLabel: "Hungarian VAT (27%)"},
		TotalAmount:     126.81,
		ShippingAddress: &shipping,
		CreatedAt:       created,
		UpdatedAt:       created,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "P1", ProductName: "Widget", Quantity: 2, PriceAtPurchase: 45.99},
		},
	}

	record, items, err := orderToRecord(order)
	if err != nil {
		t.Fatalf("orderToRecord: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", record.Version)
	}
	if record.ShippingAddress == nil || *record.ShippingAddress != raw {
		t.Fatalf("expected raw address snapshot, got %v", record.ShippingAddress)
	}
	if record.BillingAddress != nil {
		t.Fatalf("expected nil billing address")
	}
	if len(items) != 1 || items[0].OrderID != "ord_1" {
		t.Fatalf("unexpected items %+v", items)
	}
	if record.TotalAmount.String() != "126.81" {
		t.Fatalf("unexpected total %s", record.TotalAmount)
	}

	restored, err := orderFromRecord(record, items)
	if err != nil {
		t.Fatalf("orderFromRecord: %v", err)
	}
	if restored.ShippingAddress == nil || restored.ShippingAddress.Country != "Hungary" {
		t.Fatalf("unexpected shipping address %+v", restored.ShippingAddress)
	}
	encoded, _ := json.Marshal(restored.ShippingAddress)
	if string(encoded) != raw {
		t.Fatalf("expected unknown fields preserved, got %s", encoded)
	}
	if restored.TotalAmount != 126.81 || restored.Totals.TaxLabel != "Hungarian VAT (27%)" {
		t.Fatalf("unexpected totals %+v", restored.Totals)
	}
	if len(restored.Items) != 1 || restored.Items[0].PriceAtPurchase != 45.99 {
		t.Fatalf("unexpected restored items %+v", restored.Items)
	}
}

func TestDecodeAddressTreatsNullAsAbsent(t *testing.T) {
	null := "null"
	empty := ""
	for _, raw := range []*string{nil, &null, &empty} {
		address, err := decodeAddress(raw)
		if err != nil || address != nil {
			t.Fatalf("expected nil address, got %+v err=%v", address, err)
		}
	}
	broken := "{"
	if _, err := decodeAddress(&broken); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPaymentRecordDefaultsVersion(t *testing.T) {
	record := paymentToRecord(domain.OrderPayment{ID: "pay_1", Amount: 12.5, Status: domain.PaymentStatusPending})
	if record.Version != 1 {
		t.Fatalf("expected version 1, got %d", record.Version)
	}
	if got := paymentFromRecord(record); got.Amount != 12.5 || got.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment %+v", got)
	}
}

func TestConstructorsRejectNilDatabase(t *testing.T) {
	if _, err := NewOrderRepository(nil); err == nil {
		t.Fatalf("expected order repository error")
	}
	if _, err := NewPaymentRepository(nil); err == nil {
		t.Fatalf("expected payment repository error")
	}
	if _, err := NewProductRepository(nil); err == nil {
		t.Fatalf("expected product repository error")
	}
	if _, err := NewShippingMethodRepository(nil); err == nil {
		t.Fatalf("expected shipping repository error")
	}
	if _, err := NewProfileRepository(nil); err == nil {
		t.Fatalf("expected profile repository error")
	}
}
