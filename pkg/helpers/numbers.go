package helpers

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fraction digits kept for currency amounts
const MoneyScale = 8

// RoundMoney rounds an amount to the ledger scale
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Percent returns amount * percent / 100 rounded to the ledger scale
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(decimal.NewFromInt(100)))
}

// FormatMoney formats an amount with two decimals and thousands separators ("$1,234.50")
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	intPart, decPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := "$" + b.String() + "." + decPart
	if negative {
		return "-" + out
	}
	return out
}

// ParseMoney parses a decimal string, rounding it to the ledger scale
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(d), nil
}
