package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/0gfoundation/cipo/internal/payment"
)

var ErrRPC = errors.New("wallet rpc failed")

// Client talks JSON-RPC 2.0 to monero-wallet-rpc.
type Client struct {
	url         string
	startHeight uint64
	http        *http.Client
}

func NewClient(host string, port int, startHeight uint64) *Client {
	return &Client{
		url:         fmt.Sprintf("http://%s:%d/json_rpc", host, port),
		startHeight: startHeight,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, id, method string, params, result any) error {
	b, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRPC, method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrRPC, method, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %s: decode: %w", ErrRPC, method, err)
	}
	if out.Error != nil {
		return fmt.Errorf("%w: %s: %d %s", ErrRPC, method, out.Error.Code, out.Error.Message)
	}
	if result == nil || len(out.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("%w: %s: decode result: %w", ErrRPC, method, err)
	}
	return nil
}

// Refresh asks the wallet to scan the chain from the configured start height.
func (c *Client) Refresh(ctx context.Context) error {
	return c.call(ctx, "0", "refresh", map[string]any{"start_height": c.startHeight}, nil)
}

type transfersResult struct {
	In      []payment.Transfer `json:"in"`
	Pending []payment.Transfer `json:"pending"`
	Pool    []payment.Transfer `json:"pool"`
}

// Transfers returns incoming transfers: confirmed first, then pending and
// pool. A transaction moving between these lists shows up more than once
// across polls.
func (c *Client) Transfers(ctx context.Context) ([]payment.Transfer, error) {
	var res transfersResult
	params := map[string]any{"in": true, "pending": true, "pool": true}
	if err := c.call(ctx, "1", "get_transfers", params, &res); err != nil {
		return nil, err
	}
	out := make([]payment.Transfer, 0, len(res.In)+len(res.Pending)+len(res.Pool))
	out = append(out, res.In...)
	out = append(out, res.Pending...)
	out = append(out, res.Pool...)
	return out, nil
}

// URL returns the wallet RPC endpoint.
func (c *Client) URL() string { return c.url }
