package binance

import "fmt"

// ExchangeError is returned whenever the exchange answers with a non-success
// HTTP status. The raw response body is kept for diagnostics.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange returned status %d: %s", e.Status, e.Body)
}

// UnknownSymbolError is returned when a user-supplied currency or symbol
// cannot be mapped to any listed trading symbol.
type UnknownSymbolError struct {
	Input string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("unknown symbol %q", e.Input)
}

// InvalidPriceError is returned when a quantity is computed against a
// non-positive reference price.
type InvalidPriceError struct {
	Price float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %v: must be positive", e.Price)
}

// NonPositiveQuantityError is returned when a notional is too small to
// represent at the symbol's quantity precision. This is a business-rule
// rejection of the request, distinct from a bad price.
type NonPositiveQuantityError struct {
	Symbol    string
	Notional  float64
	Price     float64
	Precision int
}

func (e *NonPositiveQuantityError) Error() string {
	return fmt.Sprintf("notional %v at price %v floors to zero quantity for %s (precision %d)",
		e.Notional, e.Price, e.Symbol, e.Precision)
}

// UnknownDirectionError is returned for a direction outside the accepted set
// of long, short, close, buy and sell.
type UnknownDirectionError struct {
	Direction string
}

func (e *UnknownDirectionError) Error() string {
	return fmt.Sprintf("unknown direction %q", e.Direction)
}

// InvalidAmountError is returned by batch pre-validation when an order row
// carries a non-positive or out-of-bounds notional. Index identifies the
// offending row so the whole batch can be rejected before any network call.
type InvalidAmountError struct {
	Index  int
	Amount float64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("order %d has invalid notional amount %v", e.Index, e.Amount)
}
