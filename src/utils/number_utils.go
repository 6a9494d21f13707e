package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMoney parses a currency amount as brokerages print them: optional
// currency markers ("$", "US$", "C$", "CAD"), thousands separators, optional
// parentheses for negatives. Returns an error for anything that does not
// reduce to a finite number; downstream numeric columns must never see
// NaN/Inf.
func ParseMoney(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	for _, marker := range []string{"US$", "C$", "CA$", "$", "USD", "CAD"} {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable amount %q: %w", raw, err)
	}
	if !IsFinite(v) {
		return 0, fmt.Errorf("non-finite amount %q", raw)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// ParsePositiveQuantity parses a share/contract count and rejects zero,
// negative and non-finite values.
func ParsePositiveQuantity(raw string) (float64, error) {
	v, err := ParseMoney(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %g", v)
	}
	return v, nil
}
