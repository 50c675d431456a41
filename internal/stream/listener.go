package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/config"
	"tradeflow/internal/audit"
	"tradeflow/internal/binance"
	"tradeflow/internal/snapshot"
	"tradeflow/logger"
)

const component = "order_stream"

// orderUpdateEvent is the USD-M user data stream ORDER_TRADE_UPDATE payload,
// reduced to the fields the audit trail records.
type orderUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		OrigQty       string `json:"q"`
		AvgPrice      string `json:"ap"`
		FilledQty     string `json:"z"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
	} `json:"o"`
}

// AuditLog is the slice of the audit trail the listener appends to.
type AuditLog interface {
	Append(audit.Record) error
}

// Listener keeps a user data stream open, turns every order update into an
// audit record and renews the session token on a fixed period. Connection
// loss restarts the lifecycle from token acquisition after a short delay.
type Listener struct {
	client    *binance.Client
	cfg       config.StreamConfig
	base      string
	audit     AuditLog
	positions *snapshot.Positions
	dialer    *websocket.Dialer
	log       *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastRefresh time.Time
}

// NewListener wires a Listener. positions may be nil when no local snapshot
// refresh is wanted.
func NewListener(client *binance.Client, streamBase string, cfg config.StreamConfig, auditWriter AuditLog, positions *snapshot.Positions, log *logger.Log) *Listener {
	return &Listener{
		client:    client,
		cfg:       cfg,
		base:      streamBase,
		audit:     auditWriter,
		positions: positions,
		dialer:    websocket.DefaultDialer,
		log:       log,
	}
}

// Start launches the stream lifecycle.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("order stream listener is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go l.run(runCtx)

	l.log.WithComponent(component).Info("order stream listener started")
	return nil
}

// Stop shuts the listener down and waits for its goroutines.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.log.WithComponent(component).Info("order stream listener stopped")
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.session(ctx); err != nil && ctx.Err() == nil {
			l.log.WithComponent(component).WithError(err).Warn("stream session ended")
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection lifecycle: acquire a listen key, hold the
// socket open with a keepalive goroutine, and pump events until the
// connection drops or the context is cancelled.
func (l *Listener) session(ctx context.Context) error {
	key, err := l.client.AcquireListenKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen key: %w", err)
	}

	conn, _, err := l.dialer.DialContext(ctx, l.base+"/ws/"+key, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	defer conn.Close()

	l.log.WithComponent(component).Info("stream connected")

	sessionCtx, stopSession := context.WithCancel(ctx)

	var aux sync.WaitGroup
	aux.Add(2)
	go func() {
		defer aux.Done()
		l.keepalive(sessionCtx)
	}()
	go func() {
		defer aux.Done()
		<-sessionCtx.Done()
		conn.Close()
	}()
	// Cancel before waiting: the keepalive and the conn watcher only exit
	// on sessionCtx, so a read error must tear them down first.
	defer func() {
		stopSession()
		aux.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		l.handleMessage(ctx, message)
	}
}

// keepalive renews the listen key well inside its expiry for as long as the
// session is open.
func (l *Listener) keepalive(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.client.KeepaliveListenKey(ctx); err != nil {
				l.log.WithComponent(component).WithError(err).Warn("listen key keepalive failed")
			} else {
				l.log.WithComponent(component).Debug("listen key renewed")
			}
		}
	}
}

func (l *Listener) handleMessage(ctx context.Context, message []byte) {
	var event orderUpdateEvent
	if err := json.Unmarshal(message, &event); err != nil {
		l.log.WithComponent(component).WithError(err).Debug("failed to decode stream message")
		return
	}
	if event.EventType != "ORDER_TRADE_UPDATE" {
		return
	}

	record := audit.Record{
		TimestampUTC:  time.UnixMilli(event.EventTime).UTC(),
		EventType:     audit.EventWSUpdate,
		OrderID:       event.Order.OrderID,
		ClientOrderID: event.Order.ClientOrderID,
		Symbol:        event.Order.Symbol,
		Side:          event.Order.Side,
		OrderType:     event.Order.OrderType,
		Status:        event.Order.Status,
		OrigQty:       event.Order.OrigQty,
		ExecutedQty:   event.Order.FilledQty,
		AvgPrice:      event.Order.AvgPrice,
		Source:        "ws",
	}
	if err := l.audit.Append(record); err != nil {
		l.log.WithComponent(component).WithError(err).Warn("failed to append stream audit record")
	}
	logger.IncrementStreamEvent()

	l.maybeRefreshPositions(ctx)
}

// maybeRefreshPositions refreshes the local position snapshot at most once
// per configured window so bursts of fills do not hammer the exchange.
func (l *Listener) maybeRefreshPositions(ctx context.Context) {
	if l.positions == nil {
		return
	}
	now := time.Now()
	if now.Sub(l.lastRefresh) < l.cfg.PositionsRefresh {
		return
	}
	l.lastRefresh = now

	if err := l.positions.RefreshPositions(ctx); err != nil {
		l.log.WithComponent(component).WithError(err).Warn("position refresh after fill failed")
	}
}
