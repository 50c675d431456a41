package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Position is a read-only view of one open position, fetched live before any
// close operation. It is never cached across calls.
type Position struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	LiquidationPrice float64
	Leverage         int
	MarginType       string
	UpdateTime       int64
}

type positionRiskRow struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	UpdateTime       int64  `json:"updateTime"`
}

func parseFloatField(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// PositionRisk returns the account's positions. An empty symbol returns every
// position the exchange reports, including flat ones.
func (c *Client) PositionRisk(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	_, body, err := c.SignedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}

	var rows []positionRiskRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode position risk response: %w", err)
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		leverage, _ := strconv.Atoi(row.Leverage)
		positions = append(positions, Position{
			Symbol:           row.Symbol,
			PositionAmt:      parseFloatField(row.PositionAmt),
			EntryPrice:       parseFloatField(row.EntryPrice),
			MarkPrice:        parseFloatField(row.MarkPrice),
			UnrealizedProfit: parseFloatField(row.UnRealizedProfit),
			LiquidationPrice: parseFloatField(row.LiquidationPrice),
			Leverage:         leverage,
			MarginType:       row.MarginType,
			UpdateTime:       row.UpdateTime,
		})
	}
	return positions, nil
}

// PositionFor returns the position for a single symbol, or nil when the
// exchange reports no row for it.
func (c *Client) PositionFor(ctx context.Context, symbol string) (*Position, error) {
	positions, err := c.PositionRisk(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// SetLeverage changes the initial leverage for a symbol. Changing leverage
// does not require closing an existing position.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, _, err := c.SignedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// AccountSummary carries the account-level balance figures kept in the
// account snapshot.
type AccountSummary struct {
	TotalWalletBalance    float64
	TotalUnrealizedProfit float64
	TotalMarginBalance    float64
	AvailableBalance      float64
}

type accountResponse struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	AvailableBalance      string `json:"availableBalance"`
}

// AccountInfo returns the parsed account summary along with the raw response
// body, which snapshot writers persist verbatim.
func (c *Client) AccountInfo(ctx context.Context) (*AccountSummary, []byte, error) {
	_, body, err := c.SignedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, nil, err
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode account response: %w", err)
	}

	return &AccountSummary{
		TotalWalletBalance:    parseFloatField(resp.TotalWalletBalance),
		TotalUnrealizedProfit: parseFloatField(resp.TotalUnrealizedProfit),
		TotalMarginBalance:    parseFloatField(resp.TotalMarginBalance),
		AvailableBalance:      parseFloatField(resp.AvailableBalance),
	}, body, nil
}

// IncomeRecord is one income ledger entry, such as a funding fee settlement.
type IncomeRecord struct {
	Symbol     string
	IncomeType string
	Income     float64
	Asset      string
	Time       int64
	TranID     int64
}

type incomeRow struct {
	Symbol     string `json:"symbol"`
	IncomeType string `json:"incomeType"`
	Income     string `json:"income"`
	Asset      string `json:"asset"`
	Time       int64  `json:"time"`
	TranID     int64  `json:"tranId"`
}

const incomePageLimit = 1000

// FundingIncome returns every FUNDING_FEE income entry in the window,
// paginating with a time cursor until a short page signals the end.
func (c *Client) FundingIncome(ctx context.Context, start, end time.Time) ([]IncomeRecord, error) {
	var records []IncomeRecord
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		params := url.Values{}
		params.Set("incomeType", "FUNDING_FEE")
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(incomePageLimit))

		_, body, err := c.SignedRequest(ctx, http.MethodGet, "/fapi/v1/income", params)
		if err != nil {
			return nil, err
		}

		var rows []incomeRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode income response: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			records = append(records, IncomeRecord{
				Symbol:     row.Symbol,
				IncomeType: row.IncomeType,
				Income:     parseFloatField(row.Income),
				Asset:      row.Asset,
				Time:       row.Time,
				TranID:     row.TranID,
			})
		}

		if len(rows) < incomePageLimit {
			break
		}
		cursor = rows[len(rows)-1].Time + 1
	}

	return records, nil
}

// LeverageBracket is one notional tier of a symbol's leverage schedule.
type LeverageBracket struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  int     `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
}

type leverageBracketRow struct {
	Symbol   string            `json:"symbol"`
	Brackets []LeverageBracket `json:"brackets"`
}

// LeverageBrackets returns the leverage tier schedule for a symbol.
func (c *Client) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, body, err := c.SignedRequest(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params)
	if err != nil {
		return nil, err
	}

	var rows []leverageBracketRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode leverage bracket response: %w", err)
	}
	for _, row := range rows {
		if row.Symbol == symbol {
			return row.Brackets, nil
		}
	}
	return nil, nil
}
