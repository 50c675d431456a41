package snapshot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradeflow/internal/binance"
	"tradeflow/logger"
)

const marketDataComponent = "market_data_snapshot"

var marketDataHeader = []string{
	"symbol",
	"last_price",
	"mark_price",
	"funding_rate",
	"next_funding_time",
	"price_change_pct",
	"high_24h",
	"low_24h",
	"quote_volume_24h",
	"open_interest",
	"updated_at",
}

// MarketData periodically snapshots public market metadata for a fixed
// symbol list. When an upstream source is transiently unavailable the
// previous pass's value is preserved instead of blanking a field; downstream
// consumers must never see known data flap to empty.
type MarketData struct {
	client  *binance.Client
	symbols []string
	limiter *rate.Limiter
	path    string
	log     *logger.Log

	mu     sync.RWMutex
	rows   map[string][]string
	loaded bool
}

// NewMarketData builds the market-data snapshotter. The limiter paces the
// public API calls across all symbols in a pass and may be shared with other
// loops hitting the same API.
func NewMarketData(client *binance.Client, symbols []string, limiter *rate.Limiter, path string, log *logger.Log) *MarketData {
	return &MarketData{
		client:  client,
		symbols: symbols,
		limiter: limiter,
		path:    path,
		log:     log,
		rows:    make(map[string][]string),
	}
}

// loadExisting seeds the in-memory rows from a previous run's file so the
// preserve-on-empty merge works across restarts.
func (m *MarketData) loadExisting() {
	if m.loaded {
		return
	}
	m.loaded = true

	rows, err := readCSV(m.path)
	if err != nil {
		m.log.WithComponent(marketDataComponent).WithError(err).Warn("failed to load prior market data snapshot")
		return
	}
	for i, row := range rows {
		if i == 0 || len(row) != len(marketDataHeader) {
			continue
		}
		m.rows[row[0]] = row
	}
}

// Latest returns the most recent row for a symbol as a column-name map.
func (m *MarketData) Latest(symbol string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[symbol]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(marketDataHeader))
	for i, col := range marketDataHeader {
		out[col] = row[i]
	}
	return out, true
}

// Pass fetches fresh fields for every configured symbol, merges them against
// the previous snapshot and atomically replaces the file.
func (m *MarketData) Pass(ctx context.Context) error {
	m.mu.Lock()
	m.loadExisting()
	m.mu.Unlock()

	// Fetches run without the lock; Latest readers must not wait out a
	// whole pass of network calls.
	fresh := make(map[string][]string, len(m.symbols))
	for _, symbol := range m.symbols {
		fresh[symbol] = m.fetchRow(ctx, symbol)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	ordered := make([][]string, 0, len(m.symbols))

	m.mu.Lock()
	for _, symbol := range m.symbols {
		merged := mergeRow(m.rows[symbol], fresh[symbol])
		merged[0] = symbol
		merged[len(merged)-1] = now
		m.rows[symbol] = merged
		ordered = append(ordered, merged)
	}
	m.mu.Unlock()

	return writeCSVAtomic(m.path, marketDataHeader, ordered)
}

// fetchRow gathers one symbol's fields. Each upstream source fails
// independently; a failure leaves its fields empty for the merge to fill.
func (m *MarketData) fetchRow(ctx context.Context, symbol string) []string {
	row := make([]string, len(marketDataHeader))
	row[0] = symbol

	if err := m.limiter.Wait(ctx); err == nil {
		if premium, err := m.client.PremiumIndex(ctx, symbol); err == nil {
			row[2] = premium.MarkPrice
			row[3] = premium.LastFundingRate
			row[4] = strconv.FormatInt(premium.NextFundingTime, 10)
		} else {
			m.log.WithComponent(marketDataComponent).WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Debug("premium index fetch failed")
		}
	}

	if err := m.limiter.Wait(ctx); err == nil {
		if stats, err := m.client.Ticker24h(ctx, symbol); err == nil {
			row[1] = stats.LastPrice
			row[5] = stats.PriceChangePercent
			row[6] = stats.HighPrice
			row[7] = stats.LowPrice
			row[8] = stats.QuoteVolume
		} else {
			m.log.WithComponent(marketDataComponent).WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Debug("24h ticker fetch failed")
		}
	}

	if err := m.limiter.Wait(ctx); err == nil {
		if oi, err := m.client.OpenInterest(ctx, symbol); err == nil {
			row[9] = strconv.FormatFloat(oi, 'f', -1, 64)
		} else {
			m.log.WithComponent(marketDataComponent).WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Debug("open interest fetch failed")
		}
	}

	return row
}

// mergeRow keeps the previous value for any column the fresh fetch left
// empty.
func mergeRow(prev, fresh []string) []string {
	merged := make([]string, len(marketDataHeader))
	copy(merged, fresh)
	if len(prev) != len(marketDataHeader) {
		return merged
	}
	for i := range merged {
		if merged[i] == "" {
			merged[i] = prev[i]
		}
	}
	return merged
}
