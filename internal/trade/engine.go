package trade

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tradeflow/config"
	"tradeflow/internal/audit"
	"tradeflow/internal/binance"
	"tradeflow/logger"
)

const component = "trade_engine"

// AuditLog is the slice of the audit trail the engine needs. Keeping it an
// interface lets the trail move off flat files without touching order flow.
type AuditLog interface {
	Append(audit.Record) error
}

// Engine turns order intents into exchange-legal orders. It owns symbol
// resolution, leverage pre-setting, price lookup, quantity computation and
// audit logging for every order it places.
type Engine struct {
	client   *binance.Client
	resolver *binance.Resolver
	audit    AuditLog
	orders   config.OrdersConfig
	log      *logger.Log
}

// NewEngine wires the engine together.
func NewEngine(client *binance.Client, resolver *binance.Resolver, auditWriter AuditLog, orders config.OrdersConfig, log *logger.Log) *Engine {
	return &Engine{
		client:   client,
		resolver: resolver,
		audit:    auditWriter,
		orders:   orders,
		log:      log,
	}
}

// Binance caps client order ids at 36 characters, so the uuid is used
// without its dashes.
func newClientOrderID() string {
	return "tf-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (e *Engine) appendAudit(record audit.Record) {
	if err := e.audit.Append(record); err != nil {
		e.log.WithComponent(component).WithError(err).Warn("failed to append audit record")
	}
}

// PlaceOrder executes one intent: resolve, set leverage if requested, look up
// the reference price, size the order and submit it. Close intents and
// reduce-only intents route to the position-close path.
func (e *Engine) PlaceOrder(ctx context.Context, intent OrderIntent) (*binance.OrderResponse, error) {
	side, isClose, err := MapDirection(intent.Direction)
	if err != nil {
		return nil, err
	}
	if isClose || intent.ReduceOnly {
		fraction := intent.Fraction
		if fraction <= 0 {
			fraction = 1
		}
		if intent.LimitPrice > 0 {
			return e.ClosePositionLimit(ctx, intent.Currency, fraction, intent.LimitPrice)
		}
		return e.ClosePosition(ctx, intent.Currency, fraction)
	}

	symbol, err := e.resolver.Resolve(ctx, intent.Currency)
	if err != nil {
		return nil, err
	}

	if intent.Leverage > 0 {
		if err := e.client.SetLeverage(ctx, symbol, intent.Leverage); err != nil {
			return nil, fmt.Errorf("failed to set leverage for %s: %w", intent.Currency, err)
		}
	}

	price := intent.LimitPrice
	if price <= 0 {
		price, err = e.client.MarkPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch price for %s: %w", intent.Currency, err)
		}
	}

	quantity, err := binance.QuantityFromNotional(symbol, intent.NotionalUSDT, price, e.resolver.PrecisionOf(ctx, symbol))
	if err != nil {
		return nil, err
	}

	order := binance.ComposedOrder{
		Symbol:        symbol,
		Side:          side,
		Type:          binance.OrderTypeMarket,
		Quantity:      quantity,
		ClientOrderID: newClientOrderID(),
	}
	if intent.LimitPrice > 0 {
		order.Type = binance.OrderTypeLimit
		order.Price = strconv.FormatFloat(intent.LimitPrice, 'f', -1, 64)
		order.TimeInForce = binance.TimeInForceGTC
	}

	resp, err := e.client.PlaceOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("order for %s failed: %w", intent.Currency, err)
	}

	e.appendAudit(audit.FromOrderResponse(resp, audit.EventPlaced, "rest"))
	return resp, nil
}

// ClosePosition closes a fraction of the open position on a symbol with a
// reduce-only market order. A flat position or a non-positive fraction is a
// no-op, not an error; both return a nil response.
func (e *Engine) ClosePosition(ctx context.Context, symbolInput string, fraction float64) (*binance.OrderResponse, error) {
	return e.closePosition(ctx, symbolInput, fraction, false, 0)
}

// ClosePositionLimit is the limit variant of ClosePosition. A non-positive
// price resolves to the current mark price.
func (e *Engine) ClosePositionLimit(ctx context.Context, symbolInput string, fraction float64, price float64) (*binance.OrderResponse, error) {
	return e.closePosition(ctx, symbolInput, fraction, true, price)
}

func (e *Engine) closePosition(ctx context.Context, symbolInput string, fraction float64, limit bool, price float64) (*binance.OrderResponse, error) {
	symbol, err := e.resolver.Resolve(ctx, symbolInput)
	if err != nil {
		return nil, err
	}

	position, err := e.client.PositionFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if position == nil || position.PositionAmt == 0 {
		e.log.WithComponent(component).WithFields(logger.Fields{"symbol": symbol}).Info(
			"no open position to close")
		return nil, nil
	}

	if fraction > 1 {
		fraction = 1
	}
	if fraction <= 0 {
		return nil, nil
	}

	side := binance.SideSell
	if position.PositionAmt < 0 {
		side = binance.SideBuy
	}
	quantity := binance.FormatQuantity(math.Abs(position.PositionAmt) * fraction)

	order := binance.ComposedOrder{
		Symbol:        symbol,
		Side:          side,
		Type:          binance.OrderTypeMarket,
		Quantity:      quantity,
		ReduceOnly:    true,
		ClientOrderID: newClientOrderID(),
	}
	if limit {
		if price <= 0 {
			price, err = e.client.MarkPrice(ctx, symbol)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch mark price for %s: %w", symbol, err)
			}
		}
		order.Type = binance.OrderTypeLimit
		order.Price = strconv.FormatFloat(price, 'f', -1, 64)
		order.TimeInForce = binance.TimeInForceGTC
	}

	resp, err := e.client.PlaceOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("close order for %s failed: %w", symbol, err)
	}

	e.appendAudit(audit.FromOrderResponse(resp, audit.EventPlaced, "close"))
	return resp, nil
}

// GetOrderStatus queries the current state of an order and, unless told
// otherwise, records the observation in the audit trail.
func (e *Engine) GetOrderStatus(ctx context.Context, symbolInput string, orderID int64, clientOrderID string, writeAudit bool) (*binance.OrderResponse, error) {
	symbol, err := e.resolver.Resolve(ctx, symbolInput)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.GetOrder(ctx, symbol, orderID, clientOrderID)
	if err != nil {
		return nil, err
	}

	if writeAudit {
		e.appendAudit(audit.FromOrderResponse(resp, audit.EventStatusCheck, "rest"))
	}
	return resp, nil
}

// SetLeverage resolves the symbol and changes its initial leverage.
func (e *Engine) SetLeverage(ctx context.Context, symbolInput string, leverage int) error {
	symbol, err := e.resolver.Resolve(ctx, symbolInput)
	if err != nil {
		return err
	}
	return e.client.SetLeverage(ctx, symbol, leverage)
}

// Result is the per-row outcome of a multi-intent execution. NoOp marks a
// close against a flat position.
type Result struct {
	Index    int
	Currency string
	Response *binance.OrderResponse
	Err      error
	NoOp     bool
}

// ExecuteIntents places each intent independently. One row's failure never
// aborts the others; the caller receives a structured result per row.
func (e *Engine) ExecuteIntents(ctx context.Context, intents []OrderIntent) []Result {
	results := make([]Result, 0, len(intents))
	for i, intent := range intents {
		resp, err := e.PlaceOrder(ctx, intent)
		result := Result{Index: i, Currency: intent.Currency, Response: resp, Err: err}
		if err == nil && resp == nil {
			result.NoOp = true
		}
		if err != nil {
			e.log.WithComponent(component).WithFields(logger.Fields{
				"row":      i,
				"currency": intent.Currency,
			}).WithError(err).Warn("order row failed")
		}
		results = append(results, result)
	}
	return results
}
