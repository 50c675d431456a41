package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/binance"
	"tradeflow/logger"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(filepath.Join(t.TempDir(), "orders_audit.csv"), logger.GetLogger())
}

func sampleRecord(orderID int64, status string) Record {
	return Record{
		EventType:     EventPlaced,
		OrderID:       orderID,
		ClientOrderID: "tf-test",
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		OrderType:     "MARKET",
		Status:        status,
		OrigQty:       "0.020",
		ExecutedQty:   "0",
		AvgPrice:      "0",
		CumQuote:      "0",
		Source:        "rest",
	}
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	w := newTestWriter(t)

	if err := w.Append(sampleRecord(1, "NEW")); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := w.Append(sampleRecord(2, "NEW")); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read trail: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d rows", len(rows))
	}
	if rows[0][0] != "timestamp_utc" {
		t.Errorf("first line is not the header: %v", rows[0])
	}
	if rows[1][0] == "timestamp_utc" || rows[2][0] == "timestamp_utc" {
		t.Error("header must be written only once")
	}
}

func TestConcurrentAppends(t *testing.T) {
	w := newTestWriter(t)

	const goroutines = 10
	const perGoroutine = 5

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if err := w.Append(sampleRecord(int64(g*perGoroutine+i), "NEW")); err != nil {
					t.Errorf("append failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	records, err := w.Tail(0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(records) != goroutines*perGoroutine {
		t.Fatalf("expected %d records, got %d", goroutines*perGoroutine, len(records))
	}
	for _, rec := range records {
		if rec.Symbol != "BTCUSDT" || rec.EventType != EventPlaced {
			t.Fatalf("corrupted record: %+v", rec)
		}
	}
}

func TestTailLimitsAndOrder(t *testing.T) {
	w := newTestWriter(t)
	for i := 1; i <= 5; i++ {
		rec := sampleRecord(int64(i), "NEW")
		rec.TimestampUTC = time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC)
		if err := w.Append(rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	records, err := w.Tail(2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].OrderID != 4 || records[1].OrderID != 5 {
		t.Errorf("tail must keep file order, got %d then %d", records[0].OrderID, records[1].OrderID)
	}
}

func TestLatestStatusLastWriteWins(t *testing.T) {
	w := newTestWriter(t)

	first := sampleRecord(42, "NEW")
	if err := w.Append(first); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	update := sampleRecord(42, "FILLED")
	update.EventType = EventWSUpdate
	update.Source = "ws"
	if err := w.Append(update); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rec, ok, err := w.LatestStatus(42)
	if err != nil {
		t.Fatalf("LatestStatus failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a record for order 42")
	}
	if rec.Status != "FILLED" || rec.EventType != EventWSUpdate {
		t.Errorf("latest record should be the ws update, got %+v", rec)
	}

	if _, ok, _ := w.LatestStatus(999); ok {
		t.Error("unknown order id must report not found")
	}
}

func TestTailMissingFile(t *testing.T) {
	w := newTestWriter(t)
	records, err := w.Tail(10)
	if err != nil {
		t.Fatalf("Tail on a missing file must not error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestFromOrderResponse(t *testing.T) {
	resp := &binance.OrderResponse{
		OrderID:       7,
		ClientOrderID: "tf-x",
		Symbol:        "ETHUSDT",
		Side:          "SELL",
		Type:          "LIMIT",
		Status:        "NEW",
		OrigQty:       "1.5",
		ExecutedQty:   "0",
		AvgPrice:      "0",
		CumQuote:      "0",
	}
	rec := FromOrderResponse(resp, EventStatusCheck, "rest")
	if rec.OrderID != 7 || rec.EventType != EventStatusCheck || rec.Symbol != "ETHUSDT" || rec.Source != "rest" {
		t.Errorf("unexpected record: %+v", rec)
	}
}
