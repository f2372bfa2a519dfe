package tools

import (
	"github.com/shopspring/decimal"
)

const (
	// QuantityPlaces is the precision quantities are truncated to (satoshi-level for crypto pairs).
	QuantityPlaces int32 = 8
	// MoneyPlaces is the precision cash and P&L amounts are rounded to.
	MoneyPlaces int32 = 8
)

// TruncateQuantity drops precision below QuantityPlaces so a sized order never exceeds its budget.
func TruncateQuantity(q float64) float64 {
	return decimal.NewFromFloat(q).Truncate(QuantityPlaces).InexactFloat64()
}

func RoundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(MoneyPlaces).InexactFloat64()
}

// Mul multiplies through decimal so products like price*quantity keep their exact cent value.
func Mul(a, b float64) decimal.Decimal {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b))
}
