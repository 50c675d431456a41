package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeflow/config"
	"tradeflow/internal/audit"
	"tradeflow/internal/binance"
	"tradeflow/logger"
)

// exchangeStub records the requests an engine makes and plays back canned
// responses.
type exchangeStub struct {
	mu           sync.Mutex
	positionAmt  float64
	orderParams  []url.Values
	batchSizes   []int
	leverageSets []string
	nextOrderID  int64
}

func (s *exchangeStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.URL.Path {
		case "/fapi/v2/positionRisk":
			fmt.Fprintf(w, `[{"symbol":"BTCUSDT","positionAmt":"%v","entryPrice":"48000","markPrice":"50000","unRealizedProfit":"0","liquidationPrice":"0","leverage":"5","marginType":"cross","updateTime":1}]`, s.positionAmt)
		case "/fapi/v1/order":
			s.orderParams = append(s.orderParams, r.URL.Query())
			s.nextOrderID++
			q := r.URL.Query()
			fmt.Fprintf(w, `{"orderId":%d,"clientOrderId":%q,"symbol":%q,"side":%q,"type":%q,"status":"NEW","origQty":%q,"executedQty":"0","avgPrice":"0","cumQuote":"0"}`,
				s.nextOrderID, q.Get("newClientOrderId"), q.Get("symbol"), q.Get("side"), q.Get("type"), q.Get("quantity"))
		case "/fapi/v1/leverage":
			s.leverageSets = append(s.leverageSets, r.URL.Query().Get("symbol"))
			w.Write([]byte(`{"symbol":"BTCUSDT","leverage":3,"maxNotionalValue":"1000000"}`))
		case "/fapi/v1/batchOrders":
			var payload []map[string]string
			if err := json.Unmarshal([]byte(r.URL.Query().Get("batchOrders")), &payload); err != nil {
				t.Errorf("invalid batchOrders payload: %v", err)
			}
			s.batchSizes = append(s.batchSizes, len(payload))
			items := make([]string, 0, len(payload))
			for _, p := range payload {
				s.nextOrderID++
				items = append(items, fmt.Sprintf(`{"orderId":%d,"clientOrderId":%q,"symbol":%q,"side":%q,"type":%q,"status":"NEW","origQty":%q}`,
					s.nextOrderID, p["newClientOrderId"], p["symbol"], p["side"], p["type"], p["quantity"]))
			}
			fmt.Fprintf(w, "[%s]", joinItems(items))
		default:
			t.Errorf("unexpected request path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func joinItems(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}

func newTestEngine(t *testing.T, stub *exchangeStub) (*Engine, *audit.Writer) {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	log := logger.GetLogger()
	client := binance.NewClient(config.BinanceConfig{
		FuturesBase:    srv.URL,
		RequestTimeout: 5 * time.Second,
	}, config.Credentials{APIKey: "k", APISecret: "s"}, log)

	resolver := binance.NewStaticResolver([]binance.SymbolMetadata{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", Precision: 6, Trading: true},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", Precision: 3, Trading: true},
	}, log)

	auditWriter := audit.NewWriter(filepath.Join(t.TempDir(), "orders_audit.csv"), log)
	engine := NewEngine(client, resolver, auditWriter, config.OrdersConfig{
		DefaultLeverage: 2,
		MaxNotional:     100000,
	}, log)
	return engine, auditWriter
}

func TestPlaceOrderLimit(t *testing.T) {
	stub := &exchangeStub{}
	engine, auditWriter := newTestEngine(t, stub)

	resp, err := engine.PlaceOrder(context.Background(), OrderIntent{
		Currency:     "BTC",
		NotionalUSDT: 1000,
		Direction:    "Long",
		LimitPrice:   50000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if resp.OrderID == 0 {
		t.Fatal("expected an order id")
	}

	if len(stub.orderParams) != 1 {
		t.Fatalf("expected 1 order submission, got %d", len(stub.orderParams))
	}
	q := stub.orderParams[0]
	if q.Get("symbol") != "BTCUSDT" || q.Get("side") != "BUY" {
		t.Errorf("unexpected order: %v", q)
	}
	if q.Get("quantity") != "0.020000" {
		t.Errorf("quantity = %q, want 0.020000", q.Get("quantity"))
	}
	if q.Get("type") != "LIMIT" || q.Get("timeInForce") != "GTC" {
		t.Errorf("limit fields missing: %v", q)
	}

	records, err := auditWriter.Tail(0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(records) != 1 || records[0].EventType != audit.EventPlaced {
		t.Errorf("expected one placed audit record, got %+v", records)
	}
}

func TestPlaceOrderUnknownDirection(t *testing.T) {
	stub := &exchangeStub{}
	engine, _ := newTestEngine(t, stub)

	_, err := engine.PlaceOrder(context.Background(), OrderIntent{
		Currency:     "BTC",
		NotionalUSDT: 1000,
		Direction:    "sideways",
	})
	var dirErr *binance.UnknownDirectionError
	if !errors.As(err, &dirErr) {
		t.Fatalf("got %v, want UnknownDirectionError", err)
	}
	if len(stub.orderParams) != 0 {
		t.Error("no order should be submitted for an invalid direction")
	}
}

func TestClosePositionHalf(t *testing.T) {
	stub := &exchangeStub{positionAmt: 0.1}
	engine, _ := newTestEngine(t, stub)

	resp, err := engine.ClosePosition(context.Background(), "BTCUSDT", 0.5)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	if resp == nil {
		t.Fatal("expected an order response")
	}

	q := stub.orderParams[0]
	if q.Get("side") != "SELL" {
		t.Errorf("side = %q, want SELL", q.Get("side"))
	}
	if q.Get("quantity") != "0.05" {
		t.Errorf("quantity = %q, want 0.05", q.Get("quantity"))
	}
	if q.Get("reduceOnly") != "true" {
		t.Error("close order must be reduce-only")
	}
	if q.Get("type") != "MARKET" {
		t.Errorf("type = %q, want MARKET", q.Get("type"))
	}
}

func TestClosePositionShortSideAndClamp(t *testing.T) {
	stub := &exchangeStub{positionAmt: -2}
	engine, _ := newTestEngine(t, stub)

	// Fractions above one are clamped to the whole position.
	_, err := engine.ClosePosition(context.Background(), "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}

	q := stub.orderParams[0]
	if q.Get("side") != "BUY" {
		t.Errorf("side = %q, want BUY for a short position", q.Get("side"))
	}
	if q.Get("quantity") != "2" {
		t.Errorf("quantity = %q, want 2", q.Get("quantity"))
	}
}

func TestClosePositionNoOp(t *testing.T) {
	stub := &exchangeStub{positionAmt: 0}
	engine, _ := newTestEngine(t, stub)

	resp, err := engine.ClosePosition(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("closing a flat position must not error: %v", err)
	}
	if resp != nil {
		t.Errorf("expected no order, got %+v", resp)
	}

	// A non-positive fraction is a no-op even with an open position.
	stub.positionAmt = 1
	resp, err = engine.ClosePosition(context.Background(), "BTCUSDT", 0)
	if err != nil || resp != nil {
		t.Errorf("zero fraction should be a no-op, got (%+v, %v)", resp, err)
	}
	if len(stub.orderParams) != 0 {
		t.Error("no order should be submitted for a no-op close")
	}
}

func TestClosePositionLimitUsesPrice(t *testing.T) {
	stub := &exchangeStub{positionAmt: 0.1}
	engine, _ := newTestEngine(t, stub)

	if _, err := engine.ClosePositionLimit(context.Background(), "BTCUSDT", 1, 51000); err != nil {
		t.Fatalf("ClosePositionLimit failed: %v", err)
	}

	q := stub.orderParams[0]
	if q.Get("type") != "LIMIT" || q.Get("price") != "51000" || q.Get("timeInForce") != "GTC" {
		t.Errorf("unexpected limit close: %v", q)
	}
	if q.Get("reduceOnly") != "true" {
		t.Error("limit close must be reduce-only")
	}
}

func TestPlaceBatchChunking(t *testing.T) {
	stub := &exchangeStub{}
	engine, auditWriter := newTestEngine(t, stub)

	orders := make([]BatchOrder, 6)
	for i := range orders {
		orders[i] = BatchOrder{
			Currency:     "BTC",
			NotionalUSDT: 1000,
			Direction:    "long",
			OrderType:    binance.OrderTypeLimit,
			Price:        50000,
		}
	}

	results, err := engine.PlaceBatch(context.Background(), orders, 3)
	if err != nil {
		t.Fatalf("PlaceBatch failed: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}

	if len(stub.batchSizes) != 2 || stub.batchSizes[0] != 5 || stub.batchSizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [5 1]", stub.batchSizes)
	}
	// Six orders on one symbol set leverage exactly once.
	if len(stub.leverageSets) != 1 || stub.leverageSets[0] != "BTCUSDT" {
		t.Errorf("leverage sets = %v, want one for BTCUSDT", stub.leverageSets)
	}

	records, err := auditWriter.Tail(0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(records) != 6 {
		t.Errorf("expected 6 audit records, got %d", len(records))
	}
}

func TestPlaceBatchInvalidAmount(t *testing.T) {
	stub := &exchangeStub{}
	engine, _ := newTestEngine(t, stub)

	orders := []BatchOrder{
		{Currency: "BTC", NotionalUSDT: 100, Direction: "long", OrderType: binance.OrderTypeLimit, Price: 50000},
		{Currency: "ETH", NotionalUSDT: 100, Direction: "short", OrderType: binance.OrderTypeLimit, Price: 3000},
		{Currency: "BTC", NotionalUSDT: 0, Direction: "long", OrderType: binance.OrderTypeLimit, Price: 50000},
	}
	_, err := engine.PlaceBatch(context.Background(), orders, 0)
	var amountErr *binance.InvalidAmountError
	if !errors.As(err, &amountErr) {
		t.Fatalf("got %v, want InvalidAmountError", err)
	}
	if amountErr.Index != 2 {
		t.Errorf("offending index = %d, want 2", amountErr.Index)
	}
	if len(stub.batchSizes) != 0 || len(stub.leverageSets) != 0 {
		t.Error("pre-validation must short-circuit before any network call")
	}
}

func TestExecuteIntentsIsolation(t *testing.T) {
	stub := &exchangeStub{}
	engine, _ := newTestEngine(t, stub)

	results := engine.ExecuteIntents(context.Background(), []OrderIntent{
		{Currency: "BTC", NotionalUSDT: 1000, Direction: "long", LimitPrice: 50000},
		{Currency: "NOPE", NotionalUSDT: 1000, Direction: "long", LimitPrice: 1},
		{Currency: "ETH", NotionalUSDT: 600, Direction: "short", LimitPrice: 3000},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy rows must not be aborted by a bad one: %+v", results)
	}
	var unknownErr *binance.UnknownSymbolError
	if !errors.As(results[1].Err, &unknownErr) {
		t.Errorf("row 1 error = %v, want UnknownSymbolError", results[1].Err)
	}
	if len(stub.orderParams) != 2 {
		t.Errorf("expected 2 submitted orders, got %d", len(stub.orderParams))
	}
}
