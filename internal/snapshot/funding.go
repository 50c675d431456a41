package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"tradeflow/internal/binance"
	"tradeflow/logger"
)

const fundingComponent = "funding_snapshot"

// settlementsPerDay is how many funding settlements the exchange runs in 24h.
const settlementsPerDay = 3

// avgWindowSettlements is the number of recent settlements averaged for the
// 72h daily-rate estimate.
const avgWindowSettlements = 9

var fundingHeader = []string{
	"symbol",
	"funding_time_utc",
	"funding_rate",
}

// Estimate is the derived daily funding view for one symbol.
type Estimate struct {
	Symbol        string    `json:"symbol"`
	LatestDayRate float64   `json:"latest_day_rate"`
	Avg72hDayRate float64   `json:"avg_72h_day_rate"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Estimates is the in-memory funding estimate map. It is rebuilt wholesale
// on each aggregation pass and read concurrently by order-flow callers, so
// both sides go through the mutex.
type Estimates struct {
	mu sync.RWMutex
	m  map[string]Estimate
}

// NewEstimates returns an empty estimate map.
func NewEstimates() *Estimates {
	return &Estimates{m: make(map[string]Estimate)}
}

// Replace swaps the whole map in one step.
func (e *Estimates) Replace(next map[string]Estimate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m = next
}

// Get returns the estimate for a symbol.
func (e *Estimates) Get(symbol string) (Estimate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	est, ok := e.m[symbol]
	return est, ok
}

// All returns every estimate, sorted by symbol.
func (e *Estimates) All() []Estimate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Estimate, 0, len(e.m))
	for _, est := range e.m {
		out = append(out, est)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Funding periodically syncs funding-rate settlement history for the tracked
// symbols and rebuilds the daily-rate estimates from it.
type Funding struct {
	client       *binance.Client
	symbols      []string
	lookback     time.Duration
	limiter      limiterWaiter
	historyPath  string
	estimatePath string
	estimates    *Estimates
	log          *logger.Log
}

type limiterWaiter interface {
	Wait(ctx context.Context) error
}

// NewFunding builds the funding sync loop. The limiter is shared with the
// market-data loop so both respect the same public-API pacing.
func NewFunding(client *binance.Client, symbols []string, lookback time.Duration, limiter limiterWaiter, historyPath, estimatePath string, estimates *Estimates, log *logger.Log) *Funding {
	return &Funding{
		client:       client,
		symbols:      symbols,
		lookback:     lookback,
		limiter:      limiter,
		historyPath:  historyPath,
		estimatePath: estimatePath,
		estimates:    estimates,
		log:          log,
	}
}

// Pass fetches the settlement window for every symbol, rewrites the history
// file and replaces the estimate map wholesale.
func (f *Funding) Pass(ctx context.Context) error {
	now := time.Now().UTC()
	start := now.Add(-f.lookback)

	var historyRows [][]string
	next := make(map[string]Estimate, len(f.symbols))

	for _, symbol := range f.symbols {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		rates, err := f.client.FundingRateHistory(ctx, symbol, start, now, 1000)
		if err != nil {
			f.log.WithComponent(fundingComponent).WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Warn("funding history fetch failed")
			continue
		}
		if len(rates) == 0 {
			continue
		}

		values := make([]float64, 0, len(rates))
		for _, r := range rates {
			rate, err := strconv.ParseFloat(r.FundingRate, 64)
			if err != nil {
				continue
			}
			values = append(values, rate)
			historyRows = append(historyRows, []string{
				symbol,
				time.UnixMilli(r.FundingTime).UTC().Format(time.RFC3339),
				r.FundingRate,
			})
		}
		if len(values) == 0 {
			continue
		}

		next[symbol] = deriveEstimate(symbol, values, now)
	}

	if err := writeCSVAtomic(f.historyPath, fundingHeader, historyRows); err != nil {
		return err
	}

	f.estimates.Replace(next)

	encoded, err := json.MarshalIndent(f.estimates.All(), "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.estimatePath, encoded)
}

// deriveEstimate turns a settlement series, oldest first, into daily rates:
// the latest settlement extrapolated over a day, and the mean of the last
// avgWindowSettlements settlements extrapolated the same way.
func deriveEstimate(symbol string, values []float64, now time.Time) Estimate {
	latest := values[len(values)-1]

	window := values
	if len(window) > avgWindowSettlements {
		window = window[len(window)-avgWindowSettlements:]
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))

	return Estimate{
		Symbol:        symbol,
		LatestDayRate: latest * settlementsPerDay,
		Avg72hDayRate: mean * settlementsPerDay,
		UpdatedAt:     now,
	}
}
