package services

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Names people type that are not the CLDR English region name.
var countryNameAliases = map[string]string{
	"usa":                      "US",
	"united states of america": "US",
	"america":                  "US",
	"uk":                       "GB",
	"great britain":            "GB",
	"britain":                  "GB",
	"england":                  "GB",
	"scotland":                 "GB",
	"wales":                    "GB",
	"northern ireland":         "GB",
	"holland":                  "NL",
	"the netherlands":          "NL",
	"czech republic":           "CZ",
	"korea":                    "KR",
	"republic of korea":        "KR",
	"russian federation":       "RU",
	"deutschland":              "DE",
	"magyarország":             "HU",
	"österreich":               "AT",
	"españa":                   "ES",
	"nippon":                   "JP",
	"nihon":                    "JP",
}

var (
	countryIndexOnce sync.Once
	countryIndex     map[string]string
)

// countryCodesByName maps case-folded English country names to ISO 3166-1 alpha-2 codes.
func countryCodesByName() map[string]string {
	countryIndexOnce.Do(func() {
		namer := display.English.Regions()
		index := make(map[string]string, 300)
		for first := 'A'; first <= 'Z'; first++ {
			for second := 'A'; second <= 'Z'; second++ {
				region, err := language.ParseRegion(string([]rune{first, second}))
				if err != nil || !region.IsCountry() {
					continue
				}
				name := namer.Name(region)
				if name == "" {
					continue
				}
				index[foldCountryKey(name)] = region.String()
			}
		}
		for alias, code := range countryNameAliases {
			index[foldCountryKey(alias)] = code
		}
		countryIndex = index
	})
	return countryIndex
}

// NormalizeCountryCode turns free-text country input into a comparable code: a known country
// name maps to its alpha-2 code, 2-3 letter input passes through upper-cased, anything else is
// reduced to its first two characters upper-cased.
func NormalizeCountryCode(input string) string {
	code, _ := normalizeCountry(input)
	return code
}

// normalizeCountry reports whether the code came from a name lookup or a code passthrough
// rather than from truncation.
func normalizeCountry(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	if code, ok := countryCodesByName()[foldCountryKey(trimmed)]; ok {
		return code, true
	}
	runes := []rune(trimmed)
	if len(runes) >= 2 && len(runes) <= 3 && allLetters(runes) {
		return strings.ToUpper(trimmed), true
	}
	if len(runes) < 2 {
		return strings.ToUpper(trimmed), false
	}
	return strings.ToUpper(string(runes[:2])), false
}

// alpha2For canonicalises an ISO alpha-3 code ("HUN") to alpha-2 ("HU").
func alpha2For(code string) (string, bool) {
	if len(code) != 3 {
		return "", false
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return "", false
	}
	return region.String(), true
}

func foldCountryKey(value string) string {
	return strings.Join(strings.Fields(cases.Fold().String(value)), " ")
}

func allLetters(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
