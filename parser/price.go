// Package parser cleans raw extraction output before validation.
package parser

import (
	"strconv"
	"strings"
)

// CleanPrice strips the currency symbol, thousands separators, and
// surrounding whitespace from a scraped price string.
func CleanPrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "$", "")
	price = strings.ReplaceAll(price, ",", "")
	return strings.TrimSpace(price)
}

// ParsePrice converts a cleaned price string to a number. The empty string is
// not a parse error to report upward; callers treat it as a missing price.
func ParsePrice(price string) (float64, error) {
	return strconv.ParseFloat(price, 64)
}
