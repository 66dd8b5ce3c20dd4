package policy

import "strings"

var countryAliases = map[string]string{
	"united states":            "US",
	"united states of america": "US",
	"usa":                      "US",
	"us":                       "US",
	"united kingdom":           "UK",
	"great britain":            "UK",
	"uk":                       "UK",
	"gb":                       "UK",
	"canada":                   "CA",
	"ca":                       "CA",
	"australia":                "AU",
	"au":                       "AU",
	"european union":           "EU",
	"eu":                       "EU",
}

// CountryCode normalizes a country name or code to a registry key.
// Names without an alias are returned upper-cased and never abbreviated,
// so they cannot collide with another jurisdiction's code.
func CountryCode(country string) string {
	trimmed := strings.TrimSpace(country)
	if code, ok := countryAliases[strings.ToLower(trimmed)]; ok {
		return code
	}
	return strings.ToUpper(trimmed)
}

var euMembers = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
}

// Covers reports whether a country falls under the jurisdiction. The EU
// jurisdiction covers its member states by ISO code.
func Covers(jurisdictionID, country string) bool {
	code := CountryCode(country)
	id := strings.ToUpper(jurisdictionID)
	if code == id {
		return true
	}
	if id == "UK" && code == "GB" {
		return true
	}
	return id == "EU" && euMembers[code]
}
