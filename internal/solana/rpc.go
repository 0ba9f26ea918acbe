package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is a JSON-RPC client for the HTTP endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// NewClient creates a client for endpoint. A nil httpClient gets a default
// with a 30s timeout.
func NewClient(endpoint string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "solana-rpc"),
	}
}

// Call invokes method and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s request failed: http %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// GetAccountInfo returns the account at address with base64 data. A nil
// account means it does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string, commitment Commitment) (Context, *AccountInfo, error) {
	var result struct {
		Context Context      `json:"context"`
		Value   *AccountInfo `json:"value"`
	}
	err := c.Call(ctx, "getAccountInfo", []any{
		address,
		map[string]any{"encoding": "base64", "commitment": commitment},
	}, &result)
	if err != nil {
		return Context{}, nil, err
	}
	return result.Context, result.Value, nil
}

// SignaturesOptions narrows getSignaturesForAddress.
type SignaturesOptions struct {
	Limit      int
	Until      string
	Before     string
	Commitment Commitment
}

// GetSignaturesForAddress returns signatures involving address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	cfg := map[string]any{}
	if opts.Limit > 0 {
		cfg["limit"] = opts.Limit
	}
	if opts.Until != "" {
		cfg["until"] = opts.Until
	}
	if opts.Before != "" {
		cfg["before"] = opts.Before
	}
	if opts.Commitment != "" {
		cfg["commitment"] = opts.Commitment
	}

	var result []SignatureInfo
	if err := c.Call(ctx, "getSignaturesForAddress", []any{address, cfg}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetTransaction returns the confirmed transaction for signature, or nil if
// it is not known yet.
func (c *Client) GetTransaction(ctx context.Context, signature string, commitment Commitment) (*Transaction, error) {
	var result *Transaction
	err := c.Call(ctx, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "json",
			"commitment":                     commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}
