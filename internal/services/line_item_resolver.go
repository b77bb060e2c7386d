package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// LineItemResolverDeps wires the catalog used to resolve cart lines.
type LineItemResolverDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type lineItemResolver struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewLineItemResolver constructs a resolver over the catalog store.
func NewLineItemResolver(deps LineItemResolverDeps) (LineItemResolver, error) {
	if deps.Products == nil {
		return nil, errors.New("line item resolver: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &lineItemResolver{products: deps.Products, logger: logger}, nil
}

// ResolveCheckoutItems looks every requested product up in one batch. Unknown and inactive
// products are dropped, quantities below one become one, and the result is never nil.
func (r *lineItemResolver) ResolveCheckoutItems(ctx context.Context, lines []domain.CartLineRequest) ([]domain.ResolvedLineItem, error) {
	resolved := make([]domain.ResolvedLineItem, 0, len(lines))

	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return resolved, nil
	}

	products, err := r.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	dropped := 0
	for _, line := range lines {
		product, ok := products[strings.TrimSpace(line.ProductID)]
		if !ok || !product.Active {
			dropped++
			continue
		}
		resolved = append(resolved, domain.ResolvedLineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     max(product.Price, 0),
			Quantity:  max(line.Quantity, 1),
		})
	}

	if dropped > 0 {
		r.logger(ctx, "checkout.items.dropped", map[string]any{
			"requested": len(lines),
			"dropped":   dropped,
		})
	}
	return resolved, nil
}
