package model

import "strings"

// zipPrefixJurisdiction maps the leading three digits of a US ZIP code to a
// two-letter jurisdiction (state) code. It is intentionally sparse: only
// prefixes exercised by the scheduling scenarios are populated. Looking up
// an unmapped prefix returns "".
var zipPrefixJurisdiction = map[string]string{
	"900": "CA", "901": "CA", "902": "CA", "903": "CA", "904": "CA",
	"905": "CA", "906": "CA", "907": "CA", "908": "CA", "917": "CA",
	"930": "CA", "940": "CA", "941": "CA", "942": "CA", "945": "CA",
	"100": "NY", "101": "NY", "102": "NY", "103": "NY", "104": "NY",
	"110": "NY", "111": "NY", "112": "NY", "113": "NY", "114": "NY",
	"606": "IL", "607": "IL", "608": "IL", "609": "IL", "610": "IL",
	"611": "IL", "612": "IL", "613": "IL",
	"889": "NV", "890": "NV", "891": "NV", "893": "NV", "894": "NV",
	"060": "CT", "061": "CT", "062": "CT", "063": "CT", "064": "CT",
	"065": "CT", "066": "CT", "067": "CT", "068": "CT", "069": "CT",
}

// JurisdictionFromZip returns the jurisdiction code inferred from a postal
// code's leading three digits, or "" when unknown.
func JurisdictionFromZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) < 3 {
		return ""
	}
	return zipPrefixJurisdiction[zip[:3]]
}
