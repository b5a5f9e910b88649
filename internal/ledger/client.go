package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TransferResult reports a confirmed custodial transfer.
type TransferResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber int64  `json:"blockNumber"`
	ExplorerURL string `json:"explorerUrl"`
}

// GasEstimate is the executor's cost projection for one transfer call.
type GasEstimate struct {
	GasUnits decimal.Decimal
	GasPrice decimal.Decimal
}

// Cost is the projected native-gas spend for the call.
func (e GasEstimate) Cost() decimal.Decimal {
	return e.GasUnits.Mul(e.GasPrice)
}

// Client talks to the blockchain executor service over HTTP. Multiple
// endpoints may be configured; on repeated failure the client rotates to
// the next one.
type Client struct {
	endpoints     []*rpcClient
	failThreshold int

	mu        sync.Mutex
	index     int
	failCount int
}

func NewClient(endpoints []string, failThreshold int) (*Client, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("ledger endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*rpcClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, newRPCClient(ep))
	}
	return &Client{endpoints: clients, failThreshold: failThreshold}, nil
}

func (c *Client) Transfer(ctx context.Context, amount decimal.Decimal, destination string) (TransferResult, error) {
	var out TransferResult
	err := c.do(func(rc *rpcClient) error {
		return rc.postJSON(ctx, "/transfer", map[string]string{
			"amount":      amount.String(),
			"destination": destination,
		}, &out)
	})
	return out, err
}

func (c *Client) Balance(ctx context.Context, address, asset string) (decimal.Decimal, error) {
	var resp struct {
		Balance json.Number `json:"balance"`
	}
	err := c.do(func(rc *rpcClient) error {
		return rc.getJSON(ctx, "/balance?address="+address+"&asset="+asset, &resp)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(resp.Balance.String())
}

func (c *Client) EstimateGas(ctx context.Context, amount decimal.Decimal, destination string) (GasEstimate, error) {
	var resp struct {
		GasUnits json.Number `json:"gasUnits"`
		GasPrice json.Number `json:"gasPrice"`
	}
	err := c.do(func(rc *rpcClient) error {
		return rc.postJSON(ctx, "/estimate-gas", map[string]string{
			"amount":      amount.String(),
			"destination": destination,
		}, &resp)
	})
	if err != nil {
		return GasEstimate{}, err
	}
	units, err := decimal.NewFromString(resp.GasUnits.String())
	if err != nil {
		return GasEstimate{}, err
	}
	price, err := decimal.NewFromString(resp.GasPrice.String())
	if err != nil {
		return GasEstimate{}, err
	}
	return GasEstimate{GasUnits: units, GasPrice: price}, nil
}

// do runs fn against the current endpoint and fails over once every
// endpoint has been attempted.
func (c *Client) do(fn func(*rpcClient) error) error {
	var lastErr error
	for attempts := 0; attempts < len(c.endpoints); attempts++ {
		client, idx := c.current()
		if err := fn(client); err != nil {
			lastErr = err
			c.noteFailure(idx)
			continue
		}
		c.noteSuccess(idx)
		return nil
	}
	return lastErr
}

func (c *Client) current() (*rpcClient, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.index], c.index
}

func (c *Client) noteSuccess(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == idx {
		c.failCount = 0
	}
}

func (c *Client) noteFailure(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != idx {
		return
	}
	c.failCount++
	if c.failCount >= c.failThreshold || len(c.endpoints) > 1 {
		c.index = (c.index + 1) % len(c.endpoints)
		c.failCount = 0
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}

type rpcClient struct {
	baseURL string
	client  *http.Client
}

func newRPCClient(baseURL string) *rpcClient {
	return &rpcClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *rpcClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *rpcClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *rpcClient) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("ledger http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("ledger http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
