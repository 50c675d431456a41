package binance

import (
	"context"
	"strings"
	"sync"

	"tradeflow/logger"
)

const resolverComponent = "symbol_resolver"

// defaultPrecision is the degraded-mode fallback used when exchange metadata
// could not be loaded. It is deliberately conservative, not a guess at what
// the exchange actually allows.
const defaultPrecision = 3

// symbolInfo is the per-symbol slice of exchange metadata the engine needs.
type symbolInfo struct {
	canonical      string
	baseAsset      string
	precision      int
	tradingEnabled bool
}

// Resolver maps user-supplied currency strings to canonical USD-M trading
// symbols and their quantity precision. Metadata is loaded lazily on first
// use and cached for the process lifetime; listings do not change
// intra-process.
type Resolver struct {
	client *Client
	log    *logger.Log

	mu      sync.Mutex
	loaded  bool
	symbols map[string]symbolInfo
	aliases map[string]string
}

// NewResolver builds a Resolver backed by the given client's public API.
func NewResolver(client *Client, log *logger.Log) *Resolver {
	return &Resolver{client: client, log: log}
}

// SymbolMetadata seeds a resolver without an exchange round trip.
type SymbolMetadata struct {
	Symbol    string
	BaseAsset string
	Precision int
	Trading   bool
}

// NewStaticResolver builds a resolver from fixed metadata. No lazy load
// happens and no retry is attempted.
func NewStaticResolver(entries []SymbolMetadata, log *logger.Log) *Resolver {
	r := &Resolver{
		log:     log,
		loaded:  true,
		symbols: make(map[string]symbolInfo),
		aliases: make(map[string]string),
	}
	for _, e := range entries {
		r.symbols[e.Symbol] = symbolInfo{
			canonical:      e.Symbol,
			baseAsset:      e.BaseAsset,
			precision:      e.Precision,
			tradingEnabled: e.Trading,
		}
		if !e.Trading {
			continue
		}
		if stripped := strings.TrimPrefix(e.BaseAsset, "1000"); stripped != e.BaseAsset && stripped != "" {
			if _, exists := r.aliases[stripped]; !exists {
				r.aliases[stripped] = e.Symbol
			}
		}
	}
	return r
}

// load fetches exchange metadata on first use. A failed fetch leaves the
// resolver unloaded so the next call retries; only a successful fetch is
// cached for the process lifetime. Only USDT-quoted symbols in TRADING
// status are indexed.
func (r *Resolver) load(ctx context.Context) {
	if r.loaded {
		return
	}

	info, err := r.client.Public().NewExchangeInfoService().Do(ctx)
	if err != nil {
		r.log.WithComponent(resolverComponent).WithError(err).Warn(
			"failed to load exchange metadata, will retry on next use")
		return
	}

	symbols := make(map[string]symbolInfo)
	aliases := make(map[string]string)
	for _, s := range info.Symbols {
		if s.QuoteAsset != "USDT" || s.Status != "TRADING" {
			continue
		}
		symbols[s.Symbol] = symbolInfo{
			canonical:      s.Symbol,
			baseAsset:      s.BaseAsset,
			precision:      s.QuantityPrecision,
			tradingEnabled: true,
		}
		// Multiplier-prefixed bases (for example 1000PEPE) must still
		// resolve from the unprefixed user input.
		if stripped := strings.TrimPrefix(s.BaseAsset, "1000"); stripped != s.BaseAsset && stripped != "" {
			if _, exists := aliases[stripped]; !exists {
				aliases[stripped] = s.Symbol
			}
		}
	}
	r.symbols = symbols
	r.aliases = aliases
	r.loaded = true

	r.log.WithComponent(resolverComponent).WithFields(logger.Fields{
		"symbols": len(r.symbols),
		"aliases": len(r.aliases),
	}).Info("exchange metadata loaded")
}

// Resolve maps a user-supplied currency or symbol string to its canonical
// trading symbol. Input is trimmed and uppercased, then matched directly,
// then as base+"USDT", then through the alias table.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)

	candidate := strings.ToUpper(strings.TrimSpace(input))
	if candidate == "" {
		return "", &UnknownSymbolError{Input: input}
	}
	if si, ok := r.symbols[candidate]; ok && si.tradingEnabled {
		return candidate, nil
	}
	if si, ok := r.symbols[candidate+"USDT"]; ok && si.tradingEnabled {
		return candidate + "USDT", nil
	}
	if canonical, ok := r.aliases[candidate]; ok {
		return canonical, nil
	}
	return "", &UnknownSymbolError{Input: input}
}

// PrecisionOf returns the cached quantity precision for a canonical symbol,
// or defaultPrecision when metadata is unavailable.
func (r *Resolver) PrecisionOf(ctx context.Context, symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)

	if si, ok := r.symbols[symbol]; ok {
		return si.precision
	}
	return defaultPrecision
}

// TradingEnabled reports whether the symbol is currently listed for trading.
// Unknown symbols report false.
func (r *Resolver) TradingEnabled(ctx context.Context, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)

	si, ok := r.symbols[symbol]
	return ok && si.tradingEnabled
}
