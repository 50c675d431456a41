package binance

import (
	"math"
	"strconv"
)

// maxQuantityPrecision is the ceiling for quantity rounding. Amounts already
// known to the exchange (position sizes) are rounded at this precision.
const maxQuantityPrecision = 8

// QuantityFromNotional converts a USDT notional and a reference price into an
// exchange-legal quantity string. The raw quantity is floor-rounded to the
// symbol's precision so the submitted notional never exceeds the requested
// amount. Precision is clamped to [0, maxQuantityPrecision].
func QuantityFromNotional(symbol string, notional, price float64, precision int) (string, error) {
	if price <= 0 {
		return "", &InvalidPriceError{Price: price}
	}
	if precision < 0 {
		precision = 0
	}
	if precision > maxQuantityPrecision {
		precision = maxQuantityPrecision
	}

	scale := math.Pow10(precision)
	qty := math.Floor(notional/price*scale) / scale
	if qty <= 0 {
		return "", &NonPositiveQuantityError{
			Symbol:    symbol,
			Notional:  notional,
			Price:     price,
			Precision: precision,
		}
	}

	return strconv.FormatFloat(qty, 'f', precision, 64), nil
}

// FormatQuantity renders an already-exchange-precise amount, such as a
// position size fraction, at the fixed precision ceiling with trailing zeros
// trimmed.
func FormatQuantity(qty float64) string {
	s := strconv.FormatFloat(round8(qty), 'f', -1, 64)
	return s
}

func round8(v float64) float64 {
	scale := math.Pow10(maxQuantityPrecision)
	return math.Round(v*scale) / scale
}
