package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// MarkPrice returns the current mark price for a symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	premium, err := c.PremiumIndex(ctx, symbol)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(premium.MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse mark price %q for %s: %w", premium.MarkPrice, symbol, err)
	}
	return price, nil
}

// LastPrice returns the latest traded price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.public.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch last price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse last price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return price, nil
}

// PremiumIndex returns the premium index row for a symbol, which carries the
// mark price, the live funding rate and the next funding time.
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (*futures.PremiumIndex, error) {
	rows, err := c.public.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch premium index for %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no premium index returned for %s", symbol)
	}
	return rows[0], nil
}

// Ticker24h returns the rolling 24h price statistics for a symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*futures.PriceChangeStats, error) {
	stats, err := c.public.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch 24h ticker for %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("no 24h ticker returned for %s", symbol)
	}
	return stats[0], nil
}

// OpenInterest returns the current open interest, in contracts, for a symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	oi, err := c.public.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch open interest for %s: %w", symbol, err)
	}
	value, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse open interest %q for %s: %w", oi.OpenInterest, symbol, err)
	}
	return value, nil
}

// FundingRateHistory returns historical funding rate settlements for a symbol
// in the given window, newest last.
func (c *Client) FundingRateHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*futures.FundingRate, error) {
	svc := c.public.NewFundingRateService().Symbol(symbol)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	rates, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch funding history for %s: %w", symbol, err)
	}
	return rates, nil
}
