package trade

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tradeflow/config"
	"tradeflow/internal/binance"
)

// LoadIntentsCSV reads bulk order intents from a tabular file. Expected
// columns are currency, notional_usdt, direction, leverage and reduce_only;
// leverage and reduce_only may be omitted. Missing leverage falls back to the
// configured default and notionals are clamped to the configured bounds.
func LoadIntentsCSV(path string, defaults config.OrdersConfig) ([]OrderIntent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open orders file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read orders file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("orders file %s has no data rows", path)
	}

	cols := indexColumns(rows[0])
	currencyIdx, ok := cols["currency"]
	if !ok {
		return nil, fmt.Errorf("orders file %s is missing a currency column", path)
	}

	intents := make([]OrderIntent, 0, len(rows)-1)
	for i, row := range rows[1:] {
		currency := strings.TrimSpace(cell(row, currencyIdx))
		if currency == "" {
			continue
		}

		intent := OrderIntent{
			Currency:  currency,
			Direction: "long",
			Leverage:  defaults.DefaultLeverage,
		}
		if idx, ok := cols["direction"]; ok {
			if v := strings.TrimSpace(cell(row, idx)); v != "" {
				intent.Direction = v
			}
		}
		if idx, ok := firstColumn(cols, "notional_usdt", "notional", "amount"); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell(row, idx)), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid notional %q", i+1, cell(row, idx))
			}
			intent.NotionalUSDT = clampNotional(v, defaults)
		}
		if idx, ok := cols["leverage"]; ok {
			if v := strings.TrimSpace(cell(row, idx)); v != "" {
				lev, err := strconv.Atoi(v)
				if err != nil || lev < 1 {
					return nil, fmt.Errorf("row %d: invalid leverage %q", i+1, v)
				}
				intent.Leverage = lev
			}
		}
		if idx, ok := cols["reduce_only"]; ok {
			intent.ReduceOnly = parseBool(cell(row, idx))
		}
		if idx, ok := cols["fraction"]; ok {
			if v := strings.TrimSpace(cell(row, idx)); v != "" {
				intent.Fraction, _ = strconv.ParseFloat(v, 64)
			}
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// CloseRequest is one row of a close template: which symbol to reduce, by how
// much, and optionally at what limit price.
type CloseRequest struct {
	Symbol   string
	Fraction float64
	Price    float64
}

// LoadCloseTemplateCSV reads a close template. Expected columns are symbol,
// fraction and price; a missing fraction closes the whole position.
func LoadCloseTemplateCSV(path string) ([]CloseRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open close template: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read close template: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("close template %s has no data rows", path)
	}

	cols := indexColumns(rows[0])
	symbolIdx, ok := firstColumn(cols, "symbol", "currency")
	if !ok {
		return nil, fmt.Errorf("close template %s is missing a symbol column", path)
	}

	requests := make([]CloseRequest, 0, len(rows)-1)
	for _, row := range rows[1:] {
		symbol := strings.TrimSpace(cell(row, symbolIdx))
		if symbol == "" {
			continue
		}
		req := CloseRequest{Symbol: symbol, Fraction: 1}
		if idx, ok := cols["fraction"]; ok {
			if v := strings.TrimSpace(cell(row, idx)); v != "" {
				req.Fraction, _ = strconv.ParseFloat(v, 64)
			}
		}
		if idx, ok := cols["price"]; ok {
			if v := strings.TrimSpace(cell(row, idx)); v != "" {
				req.Price, _ = strconv.ParseFloat(v, 64)
			}
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// ExecuteCloseRequests runs a close template row by row with the same
// isolation rules as ExecuteIntents.
func (e *Engine) ExecuteCloseRequests(ctx context.Context, requests []CloseRequest) []Result {
	results := make([]Result, 0, len(requests))
	for i, req := range requests {
		var (
			resp *binance.OrderResponse
			err  error
		)
		if req.Price > 0 {
			resp, err = e.ClosePositionLimit(ctx, req.Symbol, req.Fraction, req.Price)
		} else {
			resp, err = e.ClosePosition(ctx, req.Symbol, req.Fraction)
		}
		result := Result{Index: i, Currency: req.Symbol, Response: resp, Err: err}
		if err == nil && resp == nil {
			result.NoOp = true
		}
		results = append(results, result)
	}
	return results
}

func indexColumns(headerRow []string) map[string]int {
	cols := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func firstColumn(cols map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if idx, ok := cols[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func clampNotional(v float64, defaults config.OrdersConfig) float64 {
	if defaults.MinNotional > 0 && v < defaults.MinNotional {
		return defaults.MinNotional
	}
	if defaults.MaxNotional > 0 && v > defaults.MaxNotional {
		return defaults.MaxNotional
	}
	return v
}
