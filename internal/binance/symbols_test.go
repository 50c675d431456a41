package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tradeflow/logger"
)

func exchangeInfoServer(t *testing.T, failures int32) *httptest.Server {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","quantityPrecision":3},
			{"symbol":"OLDUSDT","status":"SETTLING","baseAsset":"OLD","quoteAsset":"USDT","quantityPrecision":2},
			{"symbol":"BTCUSDC","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDC","quantityPrecision":3}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func lazyResolver(t *testing.T, srv *httptest.Server) *Resolver {
	t.Helper()
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.Public().BaseURL = srv.URL
	return NewResolver(client, logger.GetLogger())
}

func testResolver() *Resolver {
	return NewStaticResolver([]SymbolMetadata{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", Precision: 3, Trading: true},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", Precision: 3, Trading: true},
		{Symbol: "1000PEPEUSDT", BaseAsset: "1000PEPE", Precision: 0, Trading: true},
		{Symbol: "DELISTEDUSDT", BaseAsset: "DELISTED", Precision: 2, Trading: false},
	}, logger.GetLogger())
}

func TestResolveSymbol(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	cases := []struct {
		input string
		want  string
	}{
		{"BTCUSDT", "BTCUSDT"},
		{"btcusdt", "BTCUSDT"},
		{" btc ", "BTCUSDT"},
		{"ETH", "ETHUSDT"},
		{"pepe", "1000PEPEUSDT"},
		{"1000PEPE", "1000PEPEUSDT"},
	}
	for _, c := range cases {
		got, err := r.Resolve(ctx, c.input)
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error: %v", c.input, err)
			continue
		}
		if got != c.want {
			t.Errorf("Resolve(%q) = %q, want %q", c.input, got, c.want)
		}
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	r := testResolver()
	for _, input := range []string{"NOPE", "", "   "} {
		_, err := r.Resolve(context.Background(), input)
		var unknownErr *UnknownSymbolError
		if !errors.As(err, &unknownErr) {
			t.Errorf("Resolve(%q): got %v, want UnknownSymbolError", input, err)
		}
	}
}

func TestPrecisionFallback(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	if got := r.PrecisionOf(ctx, "BTCUSDT"); got != 3 {
		t.Errorf("PrecisionOf(BTCUSDT) = %d, want 3", got)
	}
	if got := r.PrecisionOf(ctx, "UNKNOWNUSDT"); got != defaultPrecision {
		t.Errorf("PrecisionOf(UNKNOWNUSDT) = %d, want fallback %d", got, defaultPrecision)
	}
}

func TestLoadRetriesAfterFailedFetch(t *testing.T) {
	r := lazyResolver(t, exchangeInfoServer(t, 1))
	ctx := context.Background()

	// While metadata is unavailable resolution fails and precision degrades,
	// but the failure must not stick.
	if _, err := r.Resolve(ctx, "BTC"); err == nil {
		t.Fatal("expected resolution to fail while metadata is unavailable")
	}
	if got := r.PrecisionOf(ctx, "BTCUSDT"); got != defaultPrecision {
		t.Errorf("PrecisionOf before load = %d, want fallback %d", got, defaultPrecision)
	}

	got, err := r.Resolve(ctx, "BTC")
	if err != nil {
		t.Fatalf("Resolve after retry failed: %v", err)
	}
	if got != "BTCUSDT" {
		t.Errorf("Resolve(BTC) = %q, want BTCUSDT", got)
	}
	if got := r.PrecisionOf(ctx, "BTCUSDT"); got != 3 {
		t.Errorf("PrecisionOf after retry = %d, want 3", got)
	}
}

func TestLoadKeepsOnlyTradingUSDTSymbols(t *testing.T) {
	r := lazyResolver(t, exchangeInfoServer(t, 0))
	ctx := context.Background()

	if got, err := r.Resolve(ctx, "BTC"); err != nil || got != "BTCUSDT" {
		t.Fatalf("Resolve(BTC) = %q, %v, want BTCUSDT", got, err)
	}
	for _, input := range []string{"BTCUSDC", "OLD", "OLDUSDT"} {
		if got, err := r.Resolve(ctx, input); err == nil {
			t.Errorf("Resolve(%q) = %q, want rejection of non-trading or non-USDT symbols", input, got)
		}
	}
	if r.TradingEnabled(ctx, "OLDUSDT") {
		t.Error("expected OLDUSDT to be untradable")
	}
}

func TestTradingEnabled(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	if !r.TradingEnabled(ctx, "BTCUSDT") {
		t.Error("expected BTCUSDT to be tradable")
	}
	if r.TradingEnabled(ctx, "DELISTEDUSDT") {
		t.Error("expected DELISTEDUSDT to be untradable")
	}
	if r.TradingEnabled(ctx, "UNKNOWNUSDT") {
		t.Error("expected unknown symbol to be untradable")
	}
}
