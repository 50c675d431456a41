package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tradeflow/internal/binance"
	"tradeflow/logger"
)

const component = "audit"

// Event types recorded in the trail.
const (
	EventPlaced      = "placed"
	EventStatusCheck = "status_check"
	EventWSUpdate    = "ws_update"
)

var header = []string{
	"timestamp_utc",
	"event_type",
	"order_id",
	"client_order_id",
	"symbol",
	"side",
	"order_type",
	"status",
	"orig_qty",
	"executed_qty",
	"avg_price",
	"cum_quote",
	"source",
}

// Record is one observed order lifecycle event. The trail is append-only;
// the current status of an order is the most recent record carrying its
// order id.
type Record struct {
	TimestampUTC  time.Time
	EventType     string
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          string
	OrderType     string
	Status        string
	OrigQty       string
	ExecutedQty   string
	AvgPrice      string
	CumQuote      string
	Source        string
}

// FromOrderResponse normalizes an exchange order response into a Record.
func FromOrderResponse(resp *binance.OrderResponse, eventType, source string) Record {
	return Record{
		EventType:     eventType,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          resp.Side,
		OrderType:     resp.Type,
		Status:        resp.Status,
		OrigQty:       resp.OrigQty,
		ExecutedQty:   resp.ExecutedQty,
		AvgPrice:      resp.AvgPrice,
		CumQuote:      resp.CumQuote,
		Source:        source,
	}
}

// Writer appends records to a durable CSV trail. It is safe for use from
// multiple goroutines; every append is a whole-line single write.
type Writer struct {
	path string
	log  *logger.Log
	sink func(Record)

	mu sync.Mutex
}

// NewWriter builds a Writer for the trail at path. The file is created, with
// its header, on the first append.
func NewWriter(path string, log *logger.Log) *Writer {
	return &Writer{path: path, log: log}
}

// Path returns the location of the trail file.
func (w *Writer) Path() string {
	return w.path
}

// SetSink registers a callback invoked with every successfully appended
// record, after the local write. The archiver uses this to mirror the trail
// off-host.
func (w *Writer) SetSink(sink func(Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = sink
}

func (r Record) row() []string {
	ts := r.TimestampUTC
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return []string{
		ts.UTC().Format(time.RFC3339Nano),
		r.EventType,
		strconv.FormatInt(r.OrderID, 10),
		r.ClientOrderID,
		r.Symbol,
		r.Side,
		r.OrderType,
		r.Status,
		r.OrigQty,
		r.ExecutedQty,
		r.AvgPrice,
		r.CumQuote,
		r.Source,
	}
}

// Append writes one record to the trail.
func (w *Writer) Append(record Record) error {
	if record.TimestampUTC.IsZero() {
		record.TimestampUTC = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	_, statErr := os.Stat(w.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to encode audit header: %w", err)
		}
	}
	if err := cw.Write(record.row()); err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	logger.IncrementAuditAppend()
	if w.sink != nil {
		w.sink(record)
	}
	w.log.WithComponent(component).WithFields(logger.Fields{
		"event_type": record.EventType,
		"order_id":   record.OrderID,
		"symbol":     record.Symbol,
		"status":     record.Status,
		"source":     record.Source,
	}).Debug("audit record appended")

	return nil
}

// Tail returns up to n of the most recent records in the trail, oldest first.
// A missing file yields an empty slice.
func (w *Writer) Tail(n int) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	var records []Record
	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audit file: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == header[0] {
				continue
			}
		}
		if rec, ok := parseRow(row); ok {
			records = append(records, rec)
		}
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func parseRow(row []string) (Record, bool) {
	if len(row) < len(header) {
		return Record{}, false
	}
	ts, _ := time.Parse(time.RFC3339Nano, row[0])
	orderID, _ := strconv.ParseInt(row[2], 10, 64)
	return Record{
		TimestampUTC:  ts,
		EventType:     row[1],
		OrderID:       orderID,
		ClientOrderID: row[3],
		Symbol:        row[4],
		Side:          row[5],
		OrderType:     row[6],
		Status:        row[7],
		OrigQty:       row[8],
		ExecutedQty:   row[9],
		AvgPrice:      row[10],
		CumQuote:      row[11],
		Source:        row[12],
	}, true
}

// LatestStatus returns the most recent record observed for an order id, or
// false when the trail has never seen it.
func (w *Writer) LatestStatus(orderID int64) (Record, bool, error) {
	records, err := w.Tail(0)
	if err != nil {
		return Record{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].OrderID == orderID {
			return records[i], true, nil
		}
	}
	return Record{}, false, nil
}
