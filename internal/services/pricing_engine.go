package services

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// FallbackShippingMethods is used whenever the shipping method catalog is empty or unavailable.
func FallbackShippingMethods() []domain.ShippingMethod {
	return []domain.ShippingMethod{
		{ID: "standard", Code: "standard", Name: "Standard shipping", Price: 10.00, IsDefault: true, Active: true},
		{ID: "express", Code: "express", Name: "Express shipping", Price: 25.00, IsExpress: true, Active: true},
	}
}

// PricingEngine resolves tax zones, selects shipping methods and computes order totals. It holds
// no mutable state and is safe for concurrent use.
type PricingEngine struct {
	zones    []domain.TaxZone
	fallback []domain.ShippingMethod
}

// PricingEngineDeps configures the pricing engine. Zero values select the built-in tables.
type PricingEngineDeps struct {
	TaxZones                []domain.TaxZone
	FallbackShippingMethods []domain.ShippingMethod
}

// NewPricingEngine validates the zone table and builds an engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	zones := deps.TaxZones
	if len(zones) == 0 {
		zones = DefaultTaxZones()
	}
	if err := validateTaxZones(zones); err != nil {
		return nil, err
	}
	fallback := deps.FallbackShippingMethods
	if len(fallback) == 0 {
		fallback = FallbackShippingMethods()
	}
	for _, method := range fallback {
		if strings.TrimSpace(method.ID) == "" || method.Price < 0 {
			return nil, errors.New("pricing engine: fallback shipping methods need an id and a non-negative price")
		}
	}
	return &PricingEngine{
		zones:    cloneZones(zones),
		fallback: append([]domain.ShippingMethod(nil), fallback...),
	}, nil
}

// ResolveTaxZone matches free-text country input against the zone table. Unmatched input
// resolves to domain.DefaultTaxZone. A code obtained by truncating unrecognised text only
// matches a zone alias spelled exactly like the input, so "Atlantis" never lands in Austria.
func (e *PricingEngine) ResolveTaxZone(countryInput string) domain.TaxZone {
	code, exact := normalizeCountry(countryInput)
	if code == "" {
		return domain.DefaultTaxZone
	}
	canonical, hasCanonical := alpha2For(code)
	raw := strings.TrimSpace(countryInput)

	for _, zone := range e.zones {
		candidates := make([]string, 0, len(zone.CountryCodes)+len(zone.Aliases))
		candidates = append(candidates, zone.CountryCodes...)
		candidates = append(candidates, zone.Aliases...)
		for _, candidate := range candidates {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			if foldCountryKey(candidate) == foldCountryKey(raw) {
				return zone
			}
			if !exact {
				continue
			}
			if strings.EqualFold(candidate, code) || (hasCanonical && strings.EqualFold(candidate, canonical)) {
				return zone
			}
		}
	}
	return domain.DefaultTaxZone
}

// ComputeTax returns the tax owed on subtotal for the country. Negative subtotals are clamped to 0.
func (e *PricingEngine) ComputeTax(subtotal float64, countryInput string) domain.TaxQuote {
	zone := e.ResolveTaxZone(countryInput)
	amount := clampZero(decimal.NewFromFloat(subtotal)).Mul(decimal.NewFromFloat(zone.Rate))
	return domain.TaxQuote{
		Amount: amount.InexactFloat64(),
		Rate:   zone.Rate,
		Label:  zone.Label,
	}
}

// SelectShippingMethod picks the requested method, else the flagged default, else the first
// active method. An empty or fully inactive list falls back to the built-in methods, so a method
// is always returned.
func (e *PricingEngine) SelectShippingMethod(methods []domain.ShippingMethod, requestedID string) domain.ShippingMethod {
	candidates := activeMethods(methods)
	if len(candidates) == 0 {
		candidates = e.fallback
	}

	requestedID = strings.TrimSpace(requestedID)
	if requestedID != "" {
		for _, method := range candidates {
			if method.ID == requestedID {
				return method
			}
		}
		for _, method := range candidates {
			if method.Code != "" && strings.EqualFold(method.Code, requestedID) {
				return method
			}
		}
	}
	for _, method := range candidates {
		if method.IsDefault {
			return method
		}
	}
	return candidates[0]
}

// ComputeOrderTotals composes shipping and tax on top of subtotal. A nil method means free shipping.
func (e *PricingEngine) ComputeOrderTotals(subtotal float64, method *domain.ShippingMethod, countryInput string) domain.OrderTotals {
	sub := decimal.NewFromFloat(subtotal)
	shipping := decimal.Zero
	if method != nil {
		shipping = clampZero(decimal.NewFromFloat(method.Price))
	}

	zone := e.ResolveTaxZone(countryInput)
	tax := clampZero(sub).Mul(decimal.NewFromFloat(zone.Rate))
	total := sub.Add(shipping).Add(tax)

	return domain.OrderTotals{
		Subtotal: sub.InexactFloat64(),
		Shipping: shipping.InexactFloat64(),
		Tax:      tax.InexactFloat64(),
		Total:    total.InexactFloat64(),
		TaxRate:  zone.Rate,
		TaxLabel: zone.Label,
	}
}

// Subtotal sums price times quantity over the resolved items.
func Subtotal(items []domain.ResolvedLineItem) float64 {
	sum := decimal.Zero
	for _, item := range items {
		line := decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum.InexactFloat64()
}

func activeMethods(methods []domain.ShippingMethod) []domain.ShippingMethod {
	out := make([]domain.ShippingMethod, 0, len(methods))
	for _, method := range methods {
		if !method.Active || strings.TrimSpace(method.ID) == "" {
			continue
		}
		out = append(out, method)
	}
	return out
}

func clampZero(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

func cloneZones(zones []domain.TaxZone) []domain.TaxZone {
	out := make([]domain.TaxZone, len(zones))
	for i, zone := range zones {
		out[i] = zone
		out[i].CountryCodes = append([]string(nil), zone.CountryCodes...)
		out[i].Aliases = append([]string(nil), zone.Aliases...)
	}
	return out
}

// FallbackMethods returns a copy of the methods used when the catalog has none.
func (e *PricingEngine) FallbackMethods() []domain.ShippingMethod {
	return append([]domain.ShippingMethod(nil), e.fallback...)
}
