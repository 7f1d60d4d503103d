package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/utils"
)

// Client is the contract the trading services hold against the exchange.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	PlaceOrdersBatch(ctx context.Context, reqs []OrderRequest) (*BatchResponse, error)
	CancelOrder(ctx context.Context, correlationID, orderID string) error
	CancelOrdersBatch(ctx context.Context, reqs []CancelRequest) ([]CancelResult, error)
	GetBalance(ctx context.Context) (*BalanceResponse, error)
	GetRecentOrders(ctx context.Context, window time.Duration) ([]Order, error)
	GetLargeBets(ctx context.Context, minSize decimal.Decimal) ([]LargeBet, error)
}

// HTTPClient talks to the exchange's JSON API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logrus.Logger
}

// NewHTTPClient creates an exchange client from configuration.
func NewHTTPClient(cfg *config.ExchangeConfig, logger *logrus.Logger) *HTTPClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

// PlaceOrder submits a single order.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var response OrderResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/orders", req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// PlaceOrdersBatch submits up to MaxBatchSize orders in one call. Oversized
// slices are rejected here; chunking is the caller's concern.
func (c *HTTPClient) PlaceOrdersBatch(ctx context.Context, reqs []OrderRequest) (*BatchResponse, error) {
	if len(reqs) > MaxBatchSize {
		return nil, utils.NewValidationErrorf("batch of %d exceeds exchange maximum of %d", len(reqs), MaxBatchSize)
	}

	payload := struct {
		Orders []OrderRequest `json:"orders"`
	}{Orders: reqs}

	var response BatchResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/orders/batch", payload, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CancelOrder cancels one order by its identifiers.
func (c *HTTPClient) CancelOrder(ctx context.Context, correlationID, orderID string) error {
	payload := CancelRequest{CorrelationID: correlationID, OrderID: orderID}

	var response CancelResult
	if err := c.makeRequest(ctx, http.MethodPost, "/api/orders/cancel", payload, &response); err != nil {
		return err
	}
	if !response.Success {
		return &utils.ExchangeRejectionError{CorrelationID: correlationID, Reason: response.Reason}
	}
	return nil
}

// CancelOrdersBatch cancels several orders, returning per-order results.
func (c *HTTPClient) CancelOrdersBatch(ctx context.Context, reqs []CancelRequest) ([]CancelResult, error) {
	payload := struct {
		Cancels []CancelRequest `json:"cancels"`
	}{Cancels: reqs}

	var response struct {
		Results []CancelResult `json:"results"`
	}
	if err := c.makeRequest(ctx, http.MethodPost, "/api/orders/cancel/batch", payload, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// GetBalance returns available and reserved funds.
func (c *HTTPClient) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	var response BalanceResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/api/balance", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetRecentOrders returns the account's order history inside the window.
func (c *HTTPClient) GetRecentOrders(ctx context.Context, window time.Duration) ([]Order, error) {
	path := fmt.Sprintf("/api/orders/recent?window_hours=%d", int(window.Hours()))

	var response struct {
		Orders []Order `json:"orders"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Orders, nil
}

// GetLargeBets returns outstanding wagers on the book at or above minSize.
func (c *HTTPClient) GetLargeBets(ctx context.Context, minSize decimal.Decimal) ([]LargeBet, error) {
	path := fmt.Sprintf("/api/bets/large?min_size=%s", minSize.String())

	var response struct {
		Bets []LargeBet `json:"bets"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Bets, nil
}

func (c *HTTPClient) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &utils.NetworkError{Op: method + " " + path, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &utils.NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return &utils.ExchangeRejectionError{Reason: fmt.Sprintf("(%d) %s", resp.StatusCode, errorResp.Error)}
		}
		return &utils.ExchangeRejectionError{Reason: fmt.Sprintf("(%d) %s", resp.StatusCode, string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
