package domain

// TaxZone is a named jurisdiction with a flat tax rate.
type TaxZone struct {
	Label        string   `json:"label"`
	Rate         float64  `json:"rate"`
	CountryCodes []string `json:"countryCodes"`
	Aliases      []string `json:"aliases,omitempty"`
}

// DefaultTaxZone applies to every country that no configured zone matches.
var DefaultTaxZone = TaxZone{
	Label: "Standard tax",
	Rate:  0.10,
}

// TaxQuote is the tax owed on a subtotal.
type TaxQuote struct {
	Amount float64
	Rate   float64
	Label  string
}

// ShippingMethod is a selectable delivery option.
type ShippingMethod struct {
	ID        string  `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	IsDefault bool    `json:"isDefault"`
	IsExpress bool    `json:"isExpress"`
	Active    bool    `json:"active"`
}

// OrderTotals captures the computed price breakdown of an order.
type OrderTotals struct {
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	TaxRate  float64 `json:"taxRate"`
	TaxLabel string  `json:"taxLabel"`
}
