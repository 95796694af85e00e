package register

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places stored for every amount.
const AmountScale = 2

// HasCents reports whether d fits the stored amount scale without rounding.
func HasCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}

// RoundUnit rounds to whole currency units, half away from zero.
func RoundUnit(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// FormatAmount renders d with two decimals, thousands separators and the
// currency symbol, e.g. "-$1,234.50".
func FormatAmount(d decimal.Decimal, symbol string) string {
	fixed := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.IsNegative() && !d.Round(2).IsZero() {
		b.WriteByte('-')
	}
	b.WriteString(symbol)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func orZero(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}
