package core

import (
	"github.com/shopspring/decimal"
)

var currencySymbols = map[Currency]string{
	GBP: "£",
	USD: "$",
	EUR: "€",
	RMB: "¥",
}

// Symbol returns the display symbol, falling back to the pound like the
// dashboard always did.
func (c Currency) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return "£"
}

// FormatAmount renders an amount with two decimals and the currency symbol.
//
//	FormatAmount(GBP, decimal.RequireFromString("12.5")) -> "£12.50"
//	FormatAmount(USD, decimal.RequireFromString("-3"))   -> "-$3.00"
func FormatAmount(c Currency, amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "-" + c.Symbol() + amount.Neg().StringFixed(2)
	}
	return c.Symbol() + amount.StringFixed(2)
}

// SumAmounts adds up detail rows, as the details panel total does.
func SumAmounts(rows []DetailRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}
