package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"tradeflow/config"
	binancemetrics "tradeflow/internal/metrics/binance"
	"tradeflow/logger"
)

const clientComponent = "binance_client"

// Client talks to the Binance USD-M futures API. Private endpoints go through
// SignedRequest; public market data goes through the go-binance futures
// client, which needs no credentials.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64

	httpClient *http.Client
	public     *futures.Client
	log        *logger.Log

	now func() time.Time
}

// NewClient builds a Client from configuration and resolved credentials.
func NewClient(cfg config.BinanceConfig, creds config.Credentials, log *logger.Log) *Client {
	return &Client{
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		baseURL:    cfg.FuturesBase,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		public:     gobinance.NewFuturesClient("", ""),
		log:        log,
	}
}

func (c *Client) timestamp() int64 {
	if c.now != nil {
		return c.now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedRequest performs an authenticated request against a private endpoint.
// All parameters travel in the query string with stable (sorted) ordering; a
// millisecond timestamp is added and the whole query is HMAC-SHA256 signed.
// A response status of 400 or above is returned as an ExchangeError carrying
// the raw body. No retry happens at this layer.
func (c *Client) SignedRequest(ctx context.Context, method, path string, params url.Values) (int, []byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}

	query := params.Encode()
	full := c.baseURL + path + "?" + query + "&signature=" + c.sign(query)

	return c.do(ctx, method, path, full)
}

// KeyedRequest performs a request that needs the API key header but no
// signature, such as listen-key management.
func (c *Client) KeyedRequest(ctx context.Context, method, path string, params url.Values) (int, []byte, error) {
	full := c.baseURL + path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return c.do(ctx, method, path, full)
}

func (c *Client) do(ctx context.Context, method, path, fullURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	binancemetrics.ReportUsedWeight(c.log, resp, clientComponent, path)

	if resp.StatusCode >= 400 {
		c.log.WithComponent(clientComponent).WithFields(logger.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("exchange request rejected")
		return resp.StatusCode, body, &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}

	return resp.StatusCode, body, nil
}

// Public returns the unauthenticated futures client used for market data.
func (c *Client) Public() *futures.Client {
	return c.public
}
