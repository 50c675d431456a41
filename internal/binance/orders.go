package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tradeflow/logger"
)

// Order sides and types accepted by the exchange.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	TimeInForceGTC = "GTC"
)

// ComposedOrder is a fully resolved order ready for submission. Quantity and
// price are precision-exact strings. A ComposedOrder is submitted exactly
// once.
type ComposedOrder struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
	ReduceOnly    bool
	TimeInForce   string
	ClientOrderID string
}

// OrderResponse is the exchange's view of an order, returned from both
// placement and status queries.
type OrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	CumQuote      string `json:"cumQuote"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o ComposedOrder) params() url.Values {
	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", o.Side)
	params.Set("type", o.Type)
	params.Set("quantity", o.Quantity)
	if o.Type == OrderTypeLimit {
		params.Set("price", o.Price)
		tif := o.TimeInForce
		if tif == "" {
			tif = TimeInForceGTC
		}
		params.Set("timeInForce", tif)
	}
	if o.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if o.ClientOrderID != "" {
		params.Set("newClientOrderId", o.ClientOrderID)
	}
	return params
}

// PlaceOrder submits a single order.
func (c *Client) PlaceOrder(ctx context.Context, order ComposedOrder) (*OrderResponse, error) {
	_, body, err := c.SignedRequest(ctx, http.MethodPost, "/fapi/v1/order", order.params())
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	logger.IncrementOrderPlaced()
	c.log.WithComponent(clientComponent).WithFields(logger.Fields{
		"symbol":   resp.Symbol,
		"side":     resp.Side,
		"type":     resp.Type,
		"quantity": resp.OrigQty,
		"order_id": resp.OrderID,
	}).Info("order placed")

	return &resp, nil
}

// GetOrder queries the current state of an order by exchange order id or by
// client order id. Exactly one of the two must be supplied.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	switch {
	case orderID > 0:
		params.Set("orderId", strconv.FormatInt(orderID, 10))
	case clientOrderID != "":
		params.Set("origClientOrderId", clientOrderID)
	default:
		return nil, fmt.Errorf("order lookup requires an order id or a client order id")
	}

	_, body, err := c.SignedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order status response: %w", err)
	}
	return &resp, nil
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// AcquireListenKey starts a user data stream session and returns its token.
func (c *Client) AcquireListenKey(ctx context.Context) (string, error) {
	_, body, err := c.KeyedRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}

	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode listen key response: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("exchange returned an empty listen key")
	}
	return resp.ListenKey, nil
}

// KeepaliveListenKey extends the user data stream session.
func (c *Client) KeepaliveListenKey(ctx context.Context) error {
	_, _, err := c.KeyedRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", nil)
	return err
}

// CloseListenKey ends the user data stream session.
func (c *Client) CloseListenKey(ctx context.Context) error {
	_, _, err := c.KeyedRequest(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil)
	return err
}
