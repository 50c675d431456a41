package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// MaxBatchSize is the exchange's hard limit on orders per batch submission.
const MaxBatchSize = 5

type batchOrderPayload struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	ReduceOnly       string `json:"reduceOnly,omitempty"`
	NewClientOrderID string `json:"newClientOrderId,omitempty"`
}

// BatchItemResult is the per-order outcome of a batch submission. The
// exchange answers each slot with either an order object or an error object;
// exactly one of Order and Msg is populated.
type BatchItemResult struct {
	Order *OrderResponse
	Code  int
	Msg   string
}

type batchItemError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PlaceBatchOrders submits up to MaxBatchSize orders in a single signed
// request. The order list is serialized as one compact JSON parameter.
// Chunking across the batch limit belongs to the caller.
func (c *Client) PlaceBatchOrders(ctx context.Context, orders []ComposedOrder) ([]BatchItemResult, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d orders exceeds the exchange limit of %d", len(orders), MaxBatchSize)
	}

	payloads := make([]batchOrderPayload, 0, len(orders))
	for _, o := range orders {
		p := batchOrderPayload{
			Symbol:           o.Symbol,
			Side:             o.Side,
			Type:             o.Type,
			Quantity:         o.Quantity,
			NewClientOrderID: o.ClientOrderID,
		}
		if o.Type == OrderTypeLimit {
			p.Price = o.Price
			p.TimeInForce = o.TimeInForce
			if p.TimeInForce == "" {
				p.TimeInForce = TimeInForceGTC
			}
		}
		if o.ReduceOnly {
			p.ReduceOnly = "true"
		}
		payloads = append(payloads, p)
	}

	encoded, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch orders: %w", err)
	}

	params := url.Values{}
	params.Set("batchOrders", string(encoded))

	_, body, err := c.SignedRequest(ctx, http.MethodPost, "/fapi/v1/batchOrders", params)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}

	results := make([]BatchItemResult, 0, len(raw))
	for _, item := range raw {
		var order OrderResponse
		if err := json.Unmarshal(item, &order); err == nil && order.OrderID > 0 {
			results = append(results, BatchItemResult{Order: &order})
			continue
		}
		var itemErr batchItemError
		if err := json.Unmarshal(item, &itemErr); err != nil {
			return nil, fmt.Errorf("failed to decode batch response item: %w", err)
		}
		results = append(results, BatchItemResult{Code: itemErr.Code, Msg: itemErr.Msg})
	}
	return results, nil
}
