// Package money holds the lenient number parsing shared by ranking and
// formatting. Upstream numeric fields arrive as free text ("US $12.40",
// "1,204", "96.5%"); parsing never fails, it yields 0 instead.
package money

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var foreignMarker = regexp.MustCompile(`(?i)usd|\$|us\s*\$`)

// Loose strips everything except digits and dots and parses the rest.
// Unparsable or non-finite input yields 0.
func Loose(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return 0
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}

// Converter turns upstream prices into whole units of the display currency.
type Converter struct {
	// Code is the display currency code, e.g. "ILS".
	Code string
	// Rate multiplies foreign (USD) prices.
	Rate float64
}

// Convert returns the rounded display amount for raw. The second result is
// false when raw holds no usable number.
func (c Converter) Convert(raw, currencyHint string) (int64, bool) {
	n := Loose(raw)
	if n == 0 {
		return 0, false
	}
	if c.isForeign(raw, currencyHint) {
		rate := c.Rate
		if rate <= 0 {
			rate = 1
		}
		n *= rate
	}
	return int64(math.Round(n)), true
}

func (c Converter) isForeign(raw, hint string) bool {
	hint = strings.TrimSpace(hint)
	if hint != "" && c.Code != "" && strings.EqualFold(hint, c.Code) {
		return false
	}
	if strings.EqualFold(hint, "USD") {
		return true
	}
	return foreignMarker.MatchString(raw)
}
