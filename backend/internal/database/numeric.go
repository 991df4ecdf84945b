package database

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric columns are selected as ::text and written as ::numeric so no
// value passes through a float.

func parseDecimal(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", value, err)
	}
	return d, nil
}

func parseOptional(ptr *string) (*decimal.Decimal, error) {
	if ptr == nil || strings.TrimSpace(*ptr) == "" {
		return nil, nil
	}
	d, err := parseDecimal(*ptr)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
