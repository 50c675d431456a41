package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/internal/binance"
	"tradeflow/logger"
)

func TestMergeRowPreservesOnEmpty(t *testing.T) {
	prev := []string{"BTCUSDT", "49000", "49100", "0.0001", "1700000000000", "1.5", "51000", "48000", "1000000", "5000", "2026-01-01T00:00:00Z"}
	fresh := []string{"BTCUSDT", "50000", "", "", "", "2.0", "52000", "49000", "1100000", "", ""}

	merged := mergeRow(prev, fresh)

	if merged[1] != "50000" {
		t.Errorf("fresh value must win: last_price = %q", merged[1])
	}
	if merged[2] != "49100" || merged[3] != "0.0001" || merged[9] != "5000" {
		t.Errorf("empty fresh fields must keep prior values: %v", merged)
	}
	if merged[5] != "2.0" {
		t.Errorf("fresh change pct must win: %q", merged[5])
	}
}

func TestMergeRowWithoutHistory(t *testing.T) {
	fresh := []string{"BTCUSDT", "50000", "", "", "", "", "", "", "", "", ""}
	merged := mergeRow(nil, fresh)
	if merged[1] != "50000" || merged[2] != "" {
		t.Errorf("merge with no previous row must pass fresh through: %v", merged)
	}
}

func TestMergeRowIgnoresMalformedHistory(t *testing.T) {
	prev := []string{"BTCUSDT", "49000"}
	fresh := make([]string, len(marketDataHeader))
	fresh[0] = "BTCUSDT"
	merged := mergeRow(prev, fresh)
	if merged[1] != "" {
		t.Errorf("short prior row must be ignored, got %v", merged)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market_data.csv")
	rows := [][]string{
		{"BTCUSDT", "50000", "50010", "0.0001", "1700000000000", "1.5", "51000", "48000", "1000000", "5000", "2026-01-01T00:00:00Z"},
	}
	if err := writeCSVAtomic(path, marketDataHeader, rows); err != nil {
		t.Fatalf("writeCSVAtomic failed: %v", err)
	}

	got, err := readCSV(path)
	if err != nil {
		t.Fatalf("readCSV failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected header plus 1 row, got %d", len(got))
	}
	if got[1][0] != "BTCUSDT" || got[1][1] != "50000" {
		t.Errorf("unexpected row: %v", got[1])
	}
}

func TestAppendCSVRowHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	header := []string{"timestamp_utc", "balance"}

	if err := appendCSVRow(path, header, []string{"2026-01-01T00:00:00Z", "100"}); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := appendCSVRow(path, header, []string{"2026-01-01T00:01:00Z", "101"}); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	got, err := readCSV(path)
	if err != nil {
		t.Fatalf("readCSV failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(got))
	}
	if got[0][0] != "timestamp_utc" {
		t.Errorf("first line must be the header, got %v", got[0])
	}
	if got[2][1] != "101" {
		t.Errorf("rows must accumulate in order: %v", got[2])
	}
}

func TestLatestNotBlockedDuringPass(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	releaseFetches := sync.OnceFunc(func() { close(release) })
	defer releaseFetches()

	log := logger.GetLogger()
	client := binance.NewClient(config.BinanceConfig{
		FuturesBase:    srv.URL,
		RequestTimeout: 5 * time.Second,
	}, config.Credentials{}, log)
	client.Public().BaseURL = srv.URL

	path := filepath.Join(t.TempDir(), "market_data.csv")
	seed := [][]string{
		{"BTCUSDT", "50000", "50010", "0.0001", "1700000000000", "1.5", "51000", "48000", "1000000", "5000", "2026-01-01T00:00:00Z"},
	}
	if err := writeCSVAtomic(path, marketDataHeader, seed); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	m := NewMarketData(client, []string{"BTCUSDT"}, rate.NewLimiter(rate.Inf, 1), path, log)

	done := make(chan error, 1)
	go func() { done <- m.Pass(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	// The pass is parked in a network fetch; readers must still get the
	// seeded row.
	got := make(chan bool, 1)
	go func() {
		_, ok := m.Latest("BTCUSDT")
		got <- ok
	}()
	select {
	case ok := <-got:
		if !ok {
			t.Error("seeded row must be readable during a pass")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Latest blocked while a pass was fetching")
	}

	releaseFetches()
	if err := <-done; err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
}

func TestReadCSVMissingFile(t *testing.T) {
	rows, err := readCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if rows != nil {
		t.Errorf("expected no rows, got %v", rows)
	}
}
