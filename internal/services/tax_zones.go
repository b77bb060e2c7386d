package services

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// DefaultTaxZones is the built-in zone table used when no override file is configured.
func DefaultTaxZones() []domain.TaxZone {
	return []domain.TaxZone{
		{Label: "Hungarian VAT (27%)", Rate: 0.27, CountryCodes: []string{"HU"}, Aliases: []string{"HUN", "Magyarország"}},
		{Label: "German VAT (19%)", Rate: 0.19, CountryCodes: []string{"DE"}, Aliases: []string{"DEU", "Deutschland"}},
		{Label: "Austrian VAT (20%)", Rate: 0.20, CountryCodes: []string{"AT"}, Aliases: []string{"AUT", "Österreich"}},
		{Label: "French VAT (20%)", Rate: 0.20, CountryCodes: []string{"FR"}, Aliases: []string{"FRA"}},
		{Label: "Italian VAT (22%)", Rate: 0.22, CountryCodes: []string{"IT"}, Aliases: []string{"ITA", "Italia"}},
		{Label: "Spanish VAT (21%)", Rate: 0.21, CountryCodes: []string{"ES"}, Aliases: []string{"ESP", "España"}},
		{Label: "Dutch VAT (21%)", Rate: 0.21, CountryCodes: []string{"NL"}, Aliases: []string{"NLD", "Holland"}},
		{Label: "Czech VAT (21%)", Rate: 0.21, CountryCodes: []string{"CZ"}, Aliases: []string{"CZE", "Czechia"}},
		{Label: "Polish VAT (23%)", Rate: 0.23, CountryCodes: []string{"PL"}, Aliases: []string{"POL", "Polska"}},
		{Label: "Nordic VAT (25%)", Rate: 0.25, CountryCodes: []string{"DK", "SE", "NO"}, Aliases: []string{"DNK", "SWE", "NOR"}},
		{Label: "UK VAT (20%)", Rate: 0.20, CountryCodes: []string{"GB"}, Aliases: []string{"UK", "GBR"}},
		{Label: "Swiss VAT (8.1%)", Rate: 0.081, CountryCodes: []string{"CH"}, Aliases: []string{"CHE", "Schweiz", "Suisse"}},
		{Label: "Japanese consumption tax (10%)", Rate: 0.10, CountryCodes: []string{"JP"}, Aliases: []string{"JPN", "Nippon"}},
		{Label: "Australian GST (10%)", Rate: 0.10, CountryCodes: []string{"AU"}, Aliases: []string{"AUS"}},
		{Label: "Canadian GST (5%)", Rate: 0.05, CountryCodes: []string{"CA"}, Aliases: []string{"CAN"}},
	}
}

// ParseTaxZones decodes a JSON array of tax zones and validates each entry.
func ParseTaxZones(data []byte) ([]domain.TaxZone, error) {
	var zones []domain.TaxZone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("tax zones: decode: %w", err)
	}
	if err := validateTaxZones(zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func validateTaxZones(zones []domain.TaxZone) error {
	for i, zone := range zones {
		if strings.TrimSpace(zone.Label) == "" {
			return fmt.Errorf("tax zones: zone %d: label is required", i)
		}
		if zone.Rate < 0 || zone.Rate > 1 {
			return fmt.Errorf("tax zones: zone %q: rate %v outside [0,1]", zone.Label, zone.Rate)
		}
		if len(zone.CountryCodes) == 0 && len(zone.Aliases) == 0 {
			return fmt.Errorf("tax zones: zone %q: at least one country code or alias is required", zone.Label)
		}
	}
	return nil
}
