package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func newTestResolver(t *testing.T, repo *stubProductRepo) LineItemResolver {
	t.Helper()
	resolver, err := NewLineItemResolver(LineItemResolverDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewLineItemResolver error: %v", err)
	}
	return resolver
}

func TestLineItemResolver_UnknownProductResolvesToEmpty(t *testing.T) {
	resolver := newTestResolver(t, &stubProductRepo{})

	items, err := resolver.ResolveCheckoutItems(context.Background(), []domain.CartLineRequest{{ProductID: "unknown-id", Quantity: 2}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestLineItemResolver_UsesCatalogDataAndCoercesQuantity(t *testing.T) {
	repo := &stubProductRepo{products: map[string]domain.Product{
		"P1": {ID: "P1", Name: "Brake pads", Price: 45.99, Active: true},
		"P2": {ID: "P2", Name: "Oil filter", Price: 12.5, Active: true},
		"P3": {ID: "P3", Name: "Retired", Price: 5, Active: false},
		"P4": {ID: "P4", Name: "Broken price", Price: -3, Active: true},
	}}
	resolver := newTestResolver(t, repo)

	items, err := resolver.ResolveCheckoutItems(context.Background(), []domain.CartLineRequest{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "gone", Quantity: 1},
		{ProductID: " P2 ", Quantity: 0},
		{ProductID: "P3", Quantity: 1},
		{ProductID: "P1", Quantity: -4},
		{ProductID: "P4", Quantity: 1},
		{ProductID: "", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("ResolveCheckoutItems error: %v", err)
	}

	want := []domain.ResolvedLineItem{
		{ProductID: "P1", Name: "Brake pads", Price: 45.99, Quantity: 2},
		{ProductID: "P2", Name: "Oil filter", Price: 12.5, Quantity: 1},
		{ProductID: "P1", Name: "Brake pads", Price: 45.99, Quantity: 1},
		{ProductID: "P4", Name: "Broken price", Price: 0, Quantity: 1},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d: %+v", len(want), len(items), items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("item %d: expected %+v, got %+v", i, want[i], items[i])
		}
	}

	if len(repo.calls) != 1 {
		t.Fatalf("expected a single batched lookup, got %d", len(repo.calls))
	}
	if len(repo.calls[0]) != 5 {
		t.Fatalf("expected 5 distinct ids, got %v", repo.calls[0])
	}
}

func TestLineItemResolver_CoercesUntrustedJSONQuantities(t *testing.T) {
	repo := &stubProductRepo{products: map[string]domain.Product{
		"P1": {ID: "P1", Name: "Brake pads", Price: 45.99, Active: true},
	}}
	resolver := newTestResolver(t, repo)

	var lines []domain.CartLineRequest
	body := `[{"productId":"P1","quantity":2.5},{"productId":"P1","quantity":"3"},{"productId":"P1","quantity":"abc"},{"productId":"P1","quantity":null}]`
	if err := json.Unmarshal([]byte(body), &lines); err != nil {
		t.Fatalf("decode cart lines: %v", err)
	}
	items, err := resolver.ResolveCheckoutItems(context.Background(), lines)
	if err != nil {
		t.Fatalf("ResolveCheckoutItems error: %v", err)
	}
	want := []int{1, 3, 1, 1}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %+v", len(want), items)
	}
	for i, qty := range want {
		if items[i].Quantity != qty {
			t.Fatalf("line %d: expected quantity %d, got %d", i, qty, items[i].Quantity)
		}
	}
}

func TestLineItemResolver_CatalogFailure(t *testing.T) {
	resolver := newTestResolver(t, &stubProductRepo{err: errors.New("connection refused")})

	_, err := resolver.ResolveCheckoutItems(context.Background(), []domain.CartLineRequest{{ProductID: "P1", Quantity: 1}})
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	if ErrorKind(err) != KindUpstream {
		t.Fatalf("expected upstream kind, got %s", ErrorKind(err))
	}
}

func TestLineItemResolver_NoLinesSkipsLookup(t *testing.T) {
	repo := &stubProductRepo{}
	resolver := newTestResolver(t, repo)

	items, err := resolver.ResolveCheckoutItems(context.Background(), nil)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty result, got %v %v", items, err)
	}
	if len(repo.calls) != 0 {
		t.Fatalf("expected no catalog call")
	}
}
