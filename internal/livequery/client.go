// Package livequery fetches current, non-historical chain data over JSON-RPC
// for the few figures a snapshot cannot supply: inflation rewards and live
// pool state. It is the engine's only network dependency and the only place
// a run can be slow, so every call is rate limited, retried a bounded number
// of times with backoff, and cut off by a breaker once the endpoint is
// clearly down.
package livequery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/poolbench/internal/model"
)

// ErrUnavailable is returned when the endpoint cannot be reached within the
// retry budget, or the breaker is open. Callers degrade to reward-unknown
// rather than aborting.
var ErrUnavailable = errors.New("livequery: unavailable")

// Options configures the client.
type Options struct {
	Endpoint string

	// Timeout bounds each individual RPC call.
	Timeout time.Duration

	// MaxRetries is the per-call retry budget.
	MaxRetries int

	// RequestsPerSecond throttles outbound calls; 0 disables throttling.
	RequestsPerSecond float64

	// Cache, when set, memoizes inflation-reward lookups. Rewards for a
	// finalized epoch never change, so cached entries are safe forever.
	Cache Cache
}

// AccountInfo is the live view of one account.
type AccountInfo struct {
	Owner    string
	Lamports uint64
	Data     []byte
}

// Client is the live-query RPC client.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	breaker  *Breaker
	cache    Cache
}

func New(opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint: opts.Endpoint,
		http:     rc.StandardClient(),
		limiter:  limiter,
		timeout:  timeout,
		breaker:  NewBreaker(DefaultBreakerOptions()),
		cache:    opts.Cache,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%w: breaker open", ErrUnavailable)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s: unexpected status %d", ErrUnavailable, method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s: read response: %v", ErrUnavailable, method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%s: parse response: %w", method, err)
	}
	if rpcResp.Error != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, rpcResp.Error)
	}

	c.breaker.RecordSuccess()
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: parse result: %w", method, err)
	}
	return nil
}

type inflationRewardEntry struct {
	Amount uint64 `json:"amount"`
	Epoch  uint64 `json:"epoch"`
}

// GetInflationReward returns the inflation rewards credited to the given
// stake accounts for an epoch. Accounts with no reward map to 0, matching
// how the chain reports them.
func (c *Client) GetInflationReward(ctx context.Context, epoch model.Epoch, stakeAccounts []string) (map[string]uint64, error) {
	rewards := make(map[string]uint64, len(stakeAccounts))

	missing := stakeAccounts
	if c.cache != nil {
		missing = make([]string, 0, len(stakeAccounts))
		for _, account := range stakeAccounts {
			if amount, ok := c.cache.GetReward(ctx, epoch, account); ok {
				rewards[account] = amount
			} else {
				missing = append(missing, account)
			}
		}
		if len(missing) == 0 {
			return rewards, nil
		}
	}

	var entries []*inflationRewardEntry
	params := []interface{}{missing, map[string]interface{}{"epoch": uint64(epoch)}}
	if err := c.call(ctx, "getInflationReward", params, &entries); err != nil {
		return nil, err
	}
	if len(entries) != len(missing) {
		return nil, fmt.Errorf("getInflationReward: expected %d entries, got %d", len(missing), len(entries))
	}

	for i, entry := range entries {
		var amount uint64
		if entry != nil {
			amount = entry.Amount
		}
		rewards[missing[i]] = amount
		if c.cache != nil {
			c.cache.SetReward(ctx, epoch, missing[i], amount)
		}
	}

	logrus.WithFields(logrus.Fields{
		"epoch":    epoch,
		"accounts": len(stakeAccounts),
		"fetched":  len(missing),
	}).Debug("Inflation rewards resolved")

	return rewards, nil
}

type epochInfoResult struct {
	Epoch uint64 `json:"epoch"`
}

// GetEpochInfo returns the chain's current, in-progress epoch.
func (c *Client) GetEpochInfo(ctx context.Context) (model.Epoch, error) {
	var result epochInfoResult
	if err := c.call(ctx, "getEpochInfo", nil, &result); err != nil {
		return 0, err
	}
	return model.Epoch(result.Epoch), nil
}

type accountInfoResult struct {
	Value *struct {
		Owner    string    `json:"owner"`
		Lamports uint64    `json:"lamports"`
		Data     [2]string `json:"data"`
	} `json:"value"`
}

// GetAccountInfo fetches the current state of one account, used for the
// provisional live pool-state APY basis.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (AccountInfo, error) {
	var result accountInfoResult
	params := []interface{}{address, map[string]interface{}{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return AccountInfo{}, err
	}
	if result.Value == nil {
		return AccountInfo{}, fmt.Errorf("%w: account %s not found", ErrUnavailable, address)
	}

	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return AccountInfo{}, fmt.Errorf("getAccountInfo %s: decode data: %w", address, err)
	}

	return AccountInfo{
		Owner:    result.Value.Owner,
		Lamports: result.Value.Lamports,
		Data:     data,
	}, nil
}
