package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultPageSize    = 1000
)

// Client queries the indexing service over GraphQL-on-HTTP.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	pageSize    int
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithPageSize sets the page size used for paginated fetches.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new indexing service client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		pageSize:    DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gqlRequest is the GraphQL HTTP request envelope.
type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// gqlResponse is the GraphQL HTTP response envelope.
type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors,omitempty"`
}

// gqlError is a GraphQL error entry.
type gqlError struct {
	Message string `json:"message"`
}

func (e *gqlError) Error() string {
	return fmt.Sprintf("graphql error: %s", e.Message)
}

// query performs a GraphQL call with retries and exponential backoff,
// returning the raw payload under the named field of "data".
func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, field string) (json.RawMessage, error) {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var gqlResp gqlResponse
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if len(gqlResp.Errors) > 0 {
			// GraphQL errors are not retried
			return nil, &gqlResp.Errors[0]
		}

		payload, ok := gqlResp.Data[field]
		if !ok {
			return nil, fmt.Errorf("response missing field %q", field)
		}

		return payload, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeList decodes a list payload. The service returns either a bare
// array or a connection object with the rows under "items", depending
// on deployment version.
func decodeList[T any](payload json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rows []T
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal list: %w", err)
		}
		return rows, nil
	}

	var wrapper struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal items wrapper: %w", err)
	}
	return wrapper.Items, nil
}

const poolsQuery = `
	query Pools($chainId: Int!) {
		pools(chainId: $chainId) {
			poolId chainId baseSymbol baseDecimals
			quoteSymbol quoteDecimals tickSize lotSize bookAddress
		}
	}
`

// FetchPools retrieves all pool metadata for a chain.
func (c *Client) FetchPools(ctx context.Context, chainID int64) ([]PoolRow, error) {
	payload, err := c.query(ctx, poolsQuery, map[string]interface{}{
		"chainId": chainID,
	}, "pools")
	if err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}
	return decodeList[PoolRow](payload)
}

const ticksQuery = `
	query Ticks($poolId: String!, $fromBlock: Int!, $limit: Int!, $offset: Int!) {
		ticks(poolId: $poolId, fromBlock: $fromBlock, limit: $limit, offset: $offset) {
			poolId chainId block blockIndex tick side volume
		}
	}
`

// FetchTicks retrieves tick updates for a pool starting at fromBlock,
// paginating until a short page.
func (c *Client) FetchTicks(ctx context.Context, poolID string, fromBlock uint64) ([]TickRow, error) {
	var all []TickRow
	for offset := 0; ; offset += c.pageSize {
		payload, err := c.query(ctx, ticksQuery, map[string]interface{}{
			"poolId":    poolID,
			"fromBlock": fromBlock,
			"limit":     c.pageSize,
			"offset":    offset,
		}, "ticks")
		if err != nil {
			return nil, fmt.Errorf("fetch ticks: %w", err)
		}

		rows, err := decodeList[TickRow](payload)
		if err != nil {
			return nil, fmt.Errorf("fetch ticks: %w", err)
		}
		all = append(all, rows...)

		if len(rows) < c.pageSize {
			return all, nil
		}
	}
}

const tradesQuery = `
	query Trades($poolId: String!, $fromBlock: Int!, $limit: Int!, $offset: Int!) {
		trades(poolId: $poolId, fromBlock: $fromBlock, limit: $limit, offset: $offset) {
			poolId chainId block blockIndex price volume side timestamp
		}
	}
`

// FetchTrades retrieves trade executions for a pool starting at
// fromBlock, paginating until a short page.
func (c *Client) FetchTrades(ctx context.Context, poolID string, fromBlock uint64) ([]TradeRow, error) {
	var all []TradeRow
	for offset := 0; ; offset += c.pageSize {
		payload, err := c.query(ctx, tradesQuery, map[string]interface{}{
			"poolId":    poolID,
			"fromBlock": fromBlock,
			"limit":     c.pageSize,
			"offset":    offset,
		}, "trades")
		if err != nil {
			return nil, fmt.Errorf("fetch trades: %w", err)
		}

		rows, err := decodeList[TradeRow](payload)
		if err != nil {
			return nil, fmt.Errorf("fetch trades: %w", err)
		}
		all = append(all, rows...)

		if len(rows) < c.pageSize {
			return all, nil
		}
	}
}

const ordersQuery = `
	query Orders($poolId: String!, $fromBlock: Int!, $limit: Int!, $offset: Int!) {
		orders(poolId: $poolId, fromBlock: $fromBlock, limit: $limit, offset: $offset) {
			poolId chainId block blockIndex orderId kind tick side volume timestamp
		}
	}
`

// FetchOrders retrieves order placement/match events for a pool
// starting at fromBlock, paginating until a short page.
func (c *Client) FetchOrders(ctx context.Context, poolID string, fromBlock uint64) ([]OrderRow, error) {
	var all []OrderRow
	for offset := 0; ; offset += c.pageSize {
		payload, err := c.query(ctx, ordersQuery, map[string]interface{}{
			"poolId":    poolID,
			"fromBlock": fromBlock,
			"limit":     c.pageSize,
			"offset":    offset,
		}, "orders")
		if err != nil {
			return nil, fmt.Errorf("fetch orders: %w", err)
		}

		rows, err := decodeList[OrderRow](payload)
		if err != nil {
			return nil, fmt.Errorf("fetch orders: %w", err)
		}
		all = append(all, rows...)

		if len(rows) < c.pageSize {
			return all, nil
		}
	}
}

const balancesQuery = `
	query Balances($owner: String!) {
		balances(owner: $owner) {
			owner token chainId available locked block
		}
	}
`

// FetchBalances retrieves settlement balances for an owner address.
func (c *Client) FetchBalances(ctx context.Context, owner string) ([]BalanceRow, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("fetch balances: empty owner")
	}

	payload, err := c.query(ctx, balancesQuery, map[string]interface{}{
		"owner": owner,
	}, "balances")
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	return decodeList[BalanceRow](payload)
}
