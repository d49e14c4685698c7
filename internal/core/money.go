package core

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// FormatUSD renders an amount as US dollars with thousands separators and two
// decimals, e.g. "$1,234.50" or "-$20.00".
func FormatUSD(d decimal.Decimal) string {
	abs := d.Abs().Round(2)
	_, frac, _ := strings.Cut(abs.StringFixed(2), ".")
	sign := ""
	if d.Round(2).IsNegative() {
		sign = "-"
	}
	return sign + "$" + humanize.Comma(abs.IntPart()) + "." + frac
}

// FormatNullUSD is FormatUSD for optional amounts; missing renders as "-".
func FormatNullUSD(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return FormatUSD(d.Decimal)
}
