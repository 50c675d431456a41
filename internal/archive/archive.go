package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tradeflow/config"
	"tradeflow/internal/audit"
	"tradeflow/logger"
)

const component = "audit_archiver"

type auditParquetRecord struct {
	Timestamp     int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	EventType     string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderID       int64  `parquet:"name=order_id, type=INT64"`
	ClientOrderID string `parquet:"name=client_order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side          string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderType     string `parquet:"name=order_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status        string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrigQty       string `parquet:"name=orig_qty, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExecutedQty   string `parquet:"name=executed_qty, type=BYTE_ARRAY, convertedtype=UTF8"`
	AvgPrice      string `parquet:"name=avg_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	CumQuote      string `parquet:"name=cum_quote, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source        string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archiver ships audit records to S3 as date-partitioned parquet files. It
// sits behind the audit writer's sink so the trail on disk stays the source
// of truth; a dropped or failed upload never loses a local record.
type Archiver struct {
	cfg      appconfig.S3Config
	s3Client *s3.Client
	log      *logger.Log

	recordCh chan audit.Record

	mu      sync.Mutex
	buffer  []audit.Record
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewArchiver builds an Archiver from configuration. It is an error to build
// one with S3 disabled.
func NewArchiver(cfg appconfig.S3Config, log *logger.Log) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Archiver{
		cfg:      cfg,
		s3Client: s3Client,
		log:      log,
		recordCh: make(chan audit.Record, 1024),
	}, nil
}

// Add enqueues a record for archival. The send never blocks; under
// backpressure the record is dropped here and survives in the local trail.
func (a *Archiver) Add(record audit.Record) {
	select {
	case a.recordCh <- record:
	default:
		a.log.WithComponent(component).Warn("archive queue full, dropping record")
	}
}

// Start launches the ingest and flush loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("audit archiver already running")
	}
	a.running = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.run(runCtx)

	a.log.WithComponent(component).WithFields(logger.Fields{
		"bucket":         a.cfg.Bucket,
		"prefix":         a.cfg.Prefix,
		"flush_interval": a.cfg.FlushInterval.String(),
	}).Info("audit archiver started")
	return nil
}

// Stop flushes the remaining buffer and shuts the archiver down.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
	a.flush(context.Background(), "shutdown")
	a.log.WithComponent(component).Info("audit archiver stopped")
}

func (a *Archiver) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case record := <-a.recordCh:
			a.mu.Lock()
			a.buffer = append(a.buffer, record)
			a.mu.Unlock()
		case <-ticker.C:
			a.flush(ctx, "interval")
		}
	}
}

func (a *Archiver) flush(ctx context.Context, reason string) {
	// Drain anything still queued before taking the buffer.
	for {
		select {
		case record := <-a.recordCh:
			a.mu.Lock()
			a.buffer = append(a.buffer, record)
			a.mu.Unlock()
			continue
		default:
		}
		break
	}

	a.mu.Lock()
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	entryLog := a.log.WithComponent(component).WithFields(logger.Fields{
		"record_count": len(batch),
		"reason":       reason,
	})

	data, err := a.createParquet(batch)
	if err != nil {
		entryLog.WithError(err).Error("failed to create audit parquet")
		return
	}

	key := a.generateS3Key(batch[len(batch)-1].TimestampUTC)
	if err := a.upload(ctx, key, data); err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload audit parquet")
		return
	}

	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("audit batch uploaded")
}

func (a *Archiver) createParquet(batch []audit.Record) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(auditParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range batch {
		row := auditParquetRecord{
			Timestamp:     rec.TimestampUTC.UnixMilli(),
			EventType:     rec.EventType,
			OrderID:       rec.OrderID,
			ClientOrderID: rec.ClientOrderID,
			Symbol:        rec.Symbol,
			Side:          rec.Side,
			OrderType:     rec.OrderType,
			Status:        rec.Status,
			OrigQty:       rec.OrigQty,
			ExecutedQty:   rec.ExecutedQty,
			AvgPrice:      rec.AvgPrice,
			CumQuote:      rec.CumQuote,
			Source:        rec.Source,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write audit record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize audit parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (a *Archiver) generateS3Key(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	filename := fmt.Sprintf("orders_%s_%s.parquet",
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString(),
	)
	return path.Join(
		a.cfg.Prefix,
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		filename,
	)
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
