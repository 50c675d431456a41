package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"tradeflow/config"
	"tradeflow/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.BinanceConfig{
		FuturesBase:    srv.URL,
		RequestTimeout: 5 * time.Second,
		RecvWindow:     5000,
	}, config.Credentials{APIKey: "test-key", APISecret: "test-secret"}, logger.GetLogger())
}

func TestSignedRequestSignature(t *testing.T) {
	var gotQuery url.Values
	var gotKey string

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{}`))
	})

	status, _, err := client.SignedRequest(context.Background(), http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		t.Fatalf("SignedRequest failed: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if gotKey != "test-key" {
		t.Errorf("unexpected api key header: %q", gotKey)
	}
	if gotQuery.Get("timestamp") == "" {
		t.Error("missing timestamp parameter")
	}
	if gotQuery.Get("recvWindow") != "5000" {
		t.Errorf("unexpected recvWindow: %q", gotQuery.Get("recvWindow"))
	}

	// The signature must cover the sorted query string without the
	// signature parameter itself.
	signature := gotQuery.Get("signature")
	if signature == "" {
		t.Fatal("missing signature parameter")
	}
	unsigned := gotQuery
	unsigned.Del("signature")
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(unsigned.Encode()))
	if want := hex.EncodeToString(mac.Sum(nil)); signature != want {
		t.Errorf("signature = %q, want %q", signature, want)
	}
}

func TestSignedRequestStableOrdering(t *testing.T) {
	var rawQuery string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	})

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("leverage", "3")
	if _, _, err := client.SignedRequest(context.Background(), http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		t.Fatalf("SignedRequest failed: %v", err)
	}

	// url.Values.Encode sorts keys, so leverage precedes symbol.
	if got, want := rawQuery[:9], "leverage="; got != want {
		t.Errorf("query does not start with sorted keys: %q", rawQuery)
	}
}

func TestSignedRequestExchangeError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	status, body, err := client.SignedRequest(context.Background(), http.MethodGet, "/fapi/v1/order", nil)
	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("got %v, want ExchangeError", err)
	}
	if exchangeErr.Status != http.StatusBadRequest || status != http.StatusBadRequest {
		t.Errorf("unexpected status: %d", exchangeErr.Status)
	}
	if exchangeErr.Body != `{"code":-1121,"msg":"Invalid symbol."}` {
		t.Errorf("error body not preserved: %q", exchangeErr.Body)
	}
	if string(body) != exchangeErr.Body {
		t.Errorf("response body not returned alongside error: %q", body)
	}
}

func TestKeyedRequestSkipsSignature(t *testing.T) {
	var gotQuery url.Values
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"listenKey":"abc"}`))
	})

	key, err := client.AcquireListenKey(context.Background())
	if err != nil {
		t.Fatalf("AcquireListenKey failed: %v", err)
	}
	if key != "abc" {
		t.Errorf("unexpected listen key: %q", key)
	}
	if gotQuery.Get("signature") != "" || gotQuery.Get("timestamp") != "" {
		t.Errorf("keyed request must not be signed, got query %v", gotQuery)
	}
}
