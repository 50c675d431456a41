package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tradeflow/config"
	"tradeflow/internal/binance"
	"tradeflow/logger"
)

const positionsComponent = "positions_snapshot"

var positionsHeader = []string{
	"symbol",
	"position_amt",
	"entry_price",
	"mark_price",
	"unrealized_profit",
	"liquidation_price",
	"leverage",
	"max_leverage",
	"margin_type",
	"funding_fee",
	"updated_at",
}

var summaryHeader = []string{
	"timestamp_utc",
	"total_wallet_balance",
	"total_unrealized_profit",
	"total_margin_balance",
	"available_balance",
	"open_positions",
	"funding_fee_total",
}

// Positions periodically snapshots the account's open positions, balances
// and recent funding fees to disk. The latest pass is also kept in memory so
// close-position callers and the stream listener can read it without touching
// the filesystem.
type Positions struct {
	client   *binance.Client
	data     config.DataConfig
	lookback time.Duration
	log      *logger.Log

	mu     sync.RWMutex
	latest []binance.Position

	bracketMu sync.Mutex
	brackets  map[string]int

	feeMu sync.Mutex
	fees  map[string]float64
}

// NewPositions builds the positions snapshotter. The lookback bounds the
// funding-fee aggregation window.
func NewPositions(client *binance.Client, data config.DataConfig, lookback time.Duration, log *logger.Log) *Positions {
	return &Positions{
		client:   client,
		data:     data,
		lookback: lookback,
		log:      log,
		brackets: make(map[string]int),
	}
}

// Latest returns the in-memory copy of the most recent positions pass.
func (p *Positions) Latest() []binance.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]binance.Position, len(p.latest))
	copy(out, p.latest)
	return out
}

// maxLeverage returns the top initial-leverage tier for a symbol, cached for
// the process lifetime. Bracket schedules change rarely enough that a stale
// value is harmless.
func (p *Positions) maxLeverage(ctx context.Context, symbol string) int {
	p.bracketMu.Lock()
	defer p.bracketMu.Unlock()
	if v, ok := p.brackets[symbol]; ok {
		return v
	}

	brackets, err := p.client.LeverageBrackets(ctx, symbol)
	if err != nil {
		p.log.WithComponent(positionsComponent).WithFields(logger.Fields{
			"symbol": symbol,
		}).WithError(err).Debug("failed to fetch leverage brackets")
		return 0
	}

	max := 0
	for _, b := range brackets {
		if b.InitialLeverage > max {
			max = b.InitialLeverage
		}
	}
	p.brackets[symbol] = max
	return max
}

// Pass performs one full synchronization: positions, account balances and
// funding fees, each written atomically to its snapshot file.
func (p *Positions) Pass(ctx context.Context) error {
	positions, err := p.client.PositionRisk(ctx, "")
	if err != nil {
		return fmt.Errorf("position fetch failed: %w", err)
	}

	open := make([]binance.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.PositionAmt != 0 {
			open = append(open, pos)
		}
	}

	p.mu.Lock()
	p.latest = open
	p.mu.Unlock()

	now := time.Now().UTC()
	fundingBySymbol, fundingTotal := p.fundingFees(ctx)
	p.feeMu.Lock()
	p.fees = fundingBySymbol
	p.feeMu.Unlock()

	rows := p.positionRows(ctx, open, fundingBySymbol, now)
	if err := writeCSVAtomic(p.positionsPath(), positionsHeader, rows); err != nil {
		return err
	}

	summary, raw, err := p.client.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account fetch failed: %w", err)
	}

	var pretty json.RawMessage = raw
	if data, err := json.MarshalIndent(pretty, "", "  "); err == nil {
		raw = data
	}
	if err := writeFileAtomic(p.accountPath(), raw); err != nil {
		return err
	}

	// The summary is a history, one row per pass, unlike the snapshot files
	// that get replaced wholesale.
	summaryRow := []string{
		now.Format(time.RFC3339),
		strconv.FormatFloat(summary.TotalWalletBalance, 'f', -1, 64),
		strconv.FormatFloat(summary.TotalUnrealizedProfit, 'f', -1, 64),
		strconv.FormatFloat(summary.TotalMarginBalance, 'f', -1, 64),
		strconv.FormatFloat(summary.AvailableBalance, 'f', -1, 64),
		strconv.Itoa(len(open)),
		strconv.FormatFloat(fundingTotal, 'f', -1, 64),
	}
	return appendCSVRow(p.summaryPath(), summaryHeader, summaryRow)
}

// RefreshPositions refetches only the position list, updating the in-memory
// copy and the positions file. The stream listener calls this on fills.
func (p *Positions) RefreshPositions(ctx context.Context) error {
	positions, err := p.client.PositionRisk(ctx, "")
	if err != nil {
		return fmt.Errorf("position refresh failed: %w", err)
	}

	open := make([]binance.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.PositionAmt != 0 {
			open = append(open, pos)
		}
	}

	p.mu.Lock()
	p.latest = open
	p.mu.Unlock()

	// Reuse the bracket cache and the last full pass's funding aggregates so
	// a quick refresh does not blank columns the pass already filled.
	p.feeMu.Lock()
	fees := p.fees
	p.feeMu.Unlock()

	rows := p.positionRows(ctx, open, fees, time.Now().UTC())
	return writeCSVAtomic(p.positionsPath(), positionsHeader, rows)
}

func (p *Positions) positionRows(ctx context.Context, open []binance.Position, fees map[string]float64, now time.Time) [][]string {
	rows := make([][]string, 0, len(open))
	for _, pos := range open {
		rows = append(rows, []string{
			pos.Symbol,
			strconv.FormatFloat(pos.PositionAmt, 'f', -1, 64),
			strconv.FormatFloat(pos.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(pos.MarkPrice, 'f', -1, 64),
			strconv.FormatFloat(pos.UnrealizedProfit, 'f', -1, 64),
			strconv.FormatFloat(pos.LiquidationPrice, 'f', -1, 64),
			strconv.Itoa(pos.Leverage),
			strconv.Itoa(p.maxLeverage(ctx, pos.Symbol)),
			pos.MarginType,
			strconv.FormatFloat(fees[pos.Symbol], 'f', -1, 64),
			now.Format(time.RFC3339),
		})
	}
	return rows
}

// fundingFees aggregates FUNDING_FEE income over the lookback window. A
// failed fetch degrades to empty aggregates rather than failing the pass.
func (p *Positions) fundingFees(ctx context.Context) (map[string]float64, float64) {
	bySymbol := make(map[string]float64)
	end := time.Now()
	records, err := p.client.FundingIncome(ctx, end.Add(-p.lookback), end)
	if err != nil {
		p.log.WithComponent(positionsComponent).WithError(err).Warn("funding fee fetch failed")
		return bySymbol, 0
	}

	total := 0.0
	for _, rec := range records {
		bySymbol[rec.Symbol] += rec.Income
		total += rec.Income
	}
	return bySymbol, total
}

func (p *Positions) positionsPath() string {
	return filepath.Join(p.data.Dir, p.data.PositionsFile)
}

func (p *Positions) summaryPath() string {
	return filepath.Join(p.data.Dir, p.data.SummaryFile)
}

func (p *Positions) accountPath() string {
	return filepath.Join(p.data.Dir, p.data.AccountFile)
}
