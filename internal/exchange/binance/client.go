// Package binance provides Binance Spot and USD-M Futures adapters and the
// user data stream that reports order updates.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/exchange"
)

const (
	// SpotBaseURL is the production Binance Spot API endpoint.
	SpotBaseURL = "https://api.binance.com"
	// SpotTestnetBaseURL is the Binance Spot testnet endpoint.
	SpotTestnetBaseURL = "https://testnet.binance.vision"
	// FuturesBaseURL is the production Binance USD-M Futures API endpoint.
	FuturesBaseURL = "https://fapi.binance.com"
	// FuturesTestnetBaseURL is the Binance USD-M Futures testnet endpoint.
	FuturesTestnetBaseURL = "https://testnet.binancefuture.com"

	// defaultRecvWindow is the default receive window for signed requests (milliseconds).
	defaultRecvWindow = 5000
	// defaultWeightLimit is the request weight allowed per minute.
	defaultWeightLimit = 1200
)

// Client is an HTTP client for the Binance REST APIs.
// It handles request signing, rate limiting, and error handling.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	recvWindow int64
	logger     *zap.Logger

	// Rate limiting
	usedWeight  atomic.Int64
	weightLimit int64
	rateLimitMu sync.Mutex
	lastResetAt time.Time
}

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// APIKey is the Binance API key.
	APIKey string
	// APISecret is the Binance API secret for signing requests.
	APISecret string
	// Futures selects the USD-M Futures API instead of Spot.
	Futures bool
	// Testnet enables testnet mode.
	Testnet bool
	// BaseURL overrides the endpoint chosen by Futures and Testnet.
	BaseURL string
	// RateLimit is the maximum request weight per minute.
	RateLimit int
	// RecvWindow is the validity window of signed requests in milliseconds.
	RecvWindow int64
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// NewClient creates a new Binance API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch {
		case cfg.Futures && cfg.Testnet:
			baseURL = FuturesTestnetBaseURL
		case cfg.Futures:
			baseURL = FuturesBaseURL
		case cfg.Testnet:
			baseURL = SpotTestnetBaseURL
		default:
			baseURL = SpotBaseURL
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	weightLimit := int64(defaultWeightLimit)
	if cfg.RateLimit > 0 {
		weightLimit = int64(cfg.RateLimit)
	}

	recvWindow := int64(defaultRecvWindow)
	if cfg.RecvWindow > 0 {
		recvWindow = cfg.RecvWindow
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		recvWindow:  recvWindow,
		logger:      logger,
		weightLimit: weightLimit,
		lastResetAt: time.Now(),
	}
}

// sign creates an HMAC-SHA256 signature for the given query string.
func (c *Client) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// Request sends an HTTP request to the Binance API.
// If signed is true, the request will include timestamp and signature.
// Parameters are always sent in the query string.
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		params.Set("signature", c.sign(params.Encode()))
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("sending request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Bool("signed", signed))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp.Header)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// do sends a request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, signed bool, out any) error {
	body, err := c.Request(ctx, method, endpoint, params, signed)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	return nil
}

// checkRateLimit verifies we haven't exceeded the rate limit.
func (c *Client) checkRateLimit() error {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	// Reset counter every minute
	if time.Since(c.lastResetAt) > time.Minute {
		c.usedWeight.Store(0)
		c.lastResetAt = time.Now()
	}

	if used := c.usedWeight.Load(); used >= c.weightLimit {
		return fmt.Errorf("%w: %d/%d", exchange.ErrRateLimitExceeded, used, c.weightLimit)
	}

	return nil
}

// updateRateLimit updates the rate limit counter from response headers.
func (c *Client) updateRateLimit(headers http.Header) {
	if weight := headers.Get("X-MBX-USED-WEIGHT-1M"); weight != "" {
		if w, err := strconv.ParseInt(weight, 10, 64); err == nil {
			c.usedWeight.Store(w)
			c.logger.Debug("rate limit updated", zap.Int64("used_weight", w))
		}
	}
}

// APIError represents a Binance API error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Message)
}

// parseError parses an error response from Binance.
func (c *Client) parseError(statusCode int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == 0 {
		return fmt.Errorf("http %d: %s", statusCode, string(body))
	}

	c.logger.Warn("api error",
		zap.Int("code", apiErr.Code),
		zap.String("message", apiErr.Message))

	return &apiErr
}

// GetServerTime fetches the current server time from endpoint.
// This can be used to check connectivity and clock synchronization.
func (c *Client) GetServerTime(ctx context.Context, endpoint string) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, false, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// UsedWeight returns the current used request weight.
func (c *Client) UsedWeight() int64 {
	return c.usedWeight.Load()
}

// WeightLimit returns the maximum request weight per minute.
func (c *Client) WeightLimit() int64 {
	return c.weightLimit
}

// Binance error codes mapped to sentinel errors.
const (
	codeTooManyRequests   = -1003
	codeTooManyOrders     = -1015
	codeInvalidSymbol     = -1121
	codeInsufficient      = -2010
	codeUnknownOrder      = -2011
	codeNoSuchOrder       = -2013
	codeMarginUnchanged   = -4046
	codeLeverageUnchanged = -4059
)

// mapError maps Binance API errors to sentinel errors.
func mapError(err error, symbol string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case codeInsufficient:
		return fmt.Errorf("%s: %w: %s", symbol, exchange.ErrInsufficientFunds, apiErr.Message)
	case codeUnknownOrder, codeNoSuchOrder:
		return fmt.Errorf("%s: %w: %s", symbol, exchange.ErrOrderNotFound, apiErr.Message)
	case codeInvalidSymbol:
		return fmt.Errorf("%s: %w", symbol, exchange.ErrPairNotSupported)
	case codeTooManyOrders, codeTooManyRequests:
		return fmt.Errorf("%s: %w", symbol, exchange.ErrRateLimitExceeded)
	default:
		return fmt.Errorf("binance error for %s: %w", symbol, apiErr)
	}
}

// isCode reports whether err is a Binance API error with code.
func isCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
