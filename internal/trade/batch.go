package trade

import (
	"context"
	"fmt"
	"strconv"

	"tradeflow/internal/audit"
	"tradeflow/internal/binance"
	"tradeflow/logger"
)

// BatchOrder is one row of a multi-order submission.
type BatchOrder struct {
	Currency     string
	NotionalUSDT float64
	Direction    string
	OrderType    string
	Price        float64
	ReduceOnly   bool
}

// PlaceBatch validates, composes and submits a list of orders in exchange
// batches. Every notional is checked before any network call so a single
// malformed row never causes a partial submission. When leverage is supplied
// it is set once per distinct symbol before any chunk goes out. Chunk failure
// aborts the remaining chunks; callers needing partial-failure tolerance must
// pre-validate.
func (e *Engine) PlaceBatch(ctx context.Context, orders []BatchOrder, leverage int) ([]binance.BatchItemResult, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	for i, o := range orders {
		if o.NotionalUSDT <= 0 {
			return nil, &binance.InvalidAmountError{Index: i, Amount: o.NotionalUSDT}
		}
		if e.orders.MaxNotional > 0 && o.NotionalUSDT > e.orders.MaxNotional {
			return nil, &binance.InvalidAmountError{Index: i, Amount: o.NotionalUSDT}
		}
	}

	composed := make([]binance.ComposedOrder, 0, len(orders))
	var symbolOrder []string
	seen := make(map[string]bool)
	markPrices := make(map[string]float64)

	for i, o := range orders {
		side, isClose, err := MapDirection(o.Direction)
		if err != nil {
			return nil, err
		}
		if isClose {
			return nil, fmt.Errorf("order %d: close intents are not supported in a batch", i)
		}

		symbol, err := e.resolver.Resolve(ctx, o.Currency)
		if err != nil {
			return nil, err
		}
		if !seen[symbol] {
			seen[symbol] = true
			symbolOrder = append(symbolOrder, symbol)
		}

		orderType := o.OrderType
		if orderType == "" {
			orderType = binance.OrderTypeMarket
		}

		price := o.Price
		if price <= 0 {
			mark, ok := markPrices[symbol]
			if !ok {
				mark, err = e.client.MarkPrice(ctx, symbol)
				if err != nil {
					return nil, fmt.Errorf("failed to fetch mark price for %s: %w", symbol, err)
				}
				markPrices[symbol] = mark
			}
			price = mark
		}

		quantity, err := binance.QuantityFromNotional(symbol, o.NotionalUSDT, price, e.resolver.PrecisionOf(ctx, symbol))
		if err != nil {
			return nil, err
		}

		order := binance.ComposedOrder{
			Symbol:        symbol,
			Side:          side,
			Type:          orderType,
			Quantity:      quantity,
			ReduceOnly:    o.ReduceOnly,
			ClientOrderID: newClientOrderID(),
		}
		if orderType == binance.OrderTypeLimit {
			order.Price = strconv.FormatFloat(price, 'f', -1, 64)
			order.TimeInForce = binance.TimeInForceGTC
		}
		composed = append(composed, order)
	}

	if leverage > 0 {
		for _, symbol := range symbolOrder {
			if err := e.client.SetLeverage(ctx, symbol, leverage); err != nil {
				return nil, fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
			}
		}
	}

	var results []binance.BatchItemResult
	for start := 0; start < len(composed); start += binance.MaxBatchSize {
		end := start + binance.MaxBatchSize
		if end > len(composed) {
			end = len(composed)
		}

		chunk, err := e.client.PlaceBatchOrders(ctx, composed[start:end])
		if err != nil {
			return results, fmt.Errorf("batch chunk starting at order %d failed: %w", start, err)
		}

		for _, item := range chunk {
			if item.Order != nil {
				e.appendAudit(audit.FromOrderResponse(item.Order, audit.EventPlaced, "batch"))
				continue
			}
			e.log.WithComponent(component).WithFields(logger.Fields{
				"code": item.Code,
				"msg":  item.Msg,
			}).Warn("batch order rejected by exchange")
		}
		results = append(results, chunk...)
	}

	return results, nil
}
