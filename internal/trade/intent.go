package trade

import (
	"strings"

	"tradeflow/internal/binance"
)

// OrderIntent is a row-level request to open or close a position, created
// from a tabular input row or an API request body and consumed exactly once.
type OrderIntent struct {
	Currency     string
	NotionalUSDT float64
	Direction    string
	Leverage     int
	ReduceOnly   bool

	// Fraction applies to close intents only; zero means close everything.
	Fraction float64
	// LimitPrice, when positive, turns the order into a LIMIT order at that
	// price.
	LimitPrice float64
}

// MapDirection maps a user-facing direction to an exchange side. The mapping
// is case-insensitive; "close" routes to the position-close path instead of a
// fresh notional order.
func MapDirection(direction string) (side string, isClose bool, err error) {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "long", "buy":
		return binance.SideBuy, false, nil
	case "short", "sell":
		return binance.SideSell, false, nil
	case "close":
		return "", true, nil
	default:
		return "", false, &binance.UnknownDirectionError{Direction: direction}
	}
}
