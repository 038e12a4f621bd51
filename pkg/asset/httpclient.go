package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/retry"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

// Token service paths.
const (
	TransferFromPath = "/v1/transfer-from"
	TransferPath     = "/v1/transfer"
	BalancesPath     = "/v1/balances/"
	AllowancesPath   = "/v1/allowances/"
)

// IdempotencyHeader carries a key that is stable across every attempt of one transfer,
// so a token service can apply a retried transfer once. The key comes from the
// context (see WithIdempotencyKey) or is generated per call.
const IdempotencyHeader = "Idempotency-Key"

// HTTPClient talks to an external token service. It rate limits outbound calls,
// keeps a circuit breaker per endpoint and fails over between endpoints.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	limiter   *rate.Limiter
	retry     retry.Config
	logger    *zap.Logger

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Retry           *retry.Config
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// NewHTTPClient creates a new HTTPClient with the given options.
func NewHTTPClient(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	retryCfg := retry.RequestConfig()
	if o.Retry != nil {
		retryCfg = *o.Retry
	}
	// a rejection from the token service is an answer, not an outage
	retryCfg.Retryable = func(err error) bool {
		var re *RemoteError
		return !errors.As(err, &re) && types.KindOf(err) == types.KindUnknown
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	return &HTTPClient{
		endpoints:        utils.NormalizeURLs(o.Endpoints),
		client:           client,
		limiter:          rate.NewLimiter(rate.Limit(o.RPS), o.Burst),
		retry:            retryCfg,
		logger:           o.Logger.Named("asset"),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
}

// RemoteError is a 4xx answer from the token service whose text did not match a known asset error.
type RemoteError struct {
	Status int
	Text   string
}

func (e *RemoteError) Error() string { return e.Text }

// ErrorBody is the token service's answer to a rejected request.
type ErrorBody struct {
	Error string `json:"error"`
}

// TransferRequest is the body of both transfer paths. Spender is empty for Transfer.
type TransferRequest struct {
	Spender types.Identity `json:"spender,omitempty"`
	From    types.Identity `json:"from"`
	To      types.Identity `json:"to"`
	Amount  types.Amount   `json:"amount"`
}

type BalanceResponse struct {
	Balance types.Amount `json:"balance"`
}

type AllowanceResponse struct {
	Allowance types.Amount `json:"allowance"`
}

func (c *HTTPClient) TransferFrom(ctx context.Context, spender, from, to types.Identity, amount types.Amount) error {
	req := TransferRequest{Spender: spender, From: from, To: to, Amount: amount}
	return c.call(ctx, "transfer_from", http.MethodPost, TransferFromPath, transferKey(ctx), req, nil)
}

func (c *HTTPClient) Transfer(ctx context.Context, from, to types.Identity, amount types.Amount) error {
	req := TransferRequest{From: from, To: to, Amount: amount}
	return c.call(ctx, "transfer", http.MethodPost, TransferPath, transferKey(ctx), req, nil)
}

func transferKey(ctx context.Context) string {
	if key, ok := IdempotencyKeyFrom(ctx); ok {
		return key
	}
	return uuid.NewString()
}

func (c *HTTPClient) BalanceOf(ctx context.Context, owner types.Identity) (types.Amount, error) {
	var out BalanceResponse
	path := BalancesPath + url.PathEscape(owner.String())
	if err := c.call(ctx, "balance_of", http.MethodGet, path, "", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *HTTPClient) Allowance(ctx context.Context, owner, spender types.Identity) (types.Amount, error) {
	var out AllowanceResponse
	path := AllowancesPath + url.PathEscape(owner.String()) + "/" + url.PathEscape(spender.String())
	if err := c.call(ctx, "allowance", http.MethodGet, path, "", nil, &out); err != nil {
		return 0, err
	}
	return out.Allowance, nil
}

// call retries a full pass over the endpoints with backoff. The idempotency key is reused by every attempt.
func (c *HTTPClient) call(ctx context.Context, op, method, path, key string, payload, out any) error {
	return retry.WithBackoff(ctx, c.retry, c.logger, op, func() error {
		return c.doJSON(ctx, method, path, key, payload, out)
	})
}

// isOpen returns true if the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure opens the breaker once an endpoint reaches the failure threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// doJSON sends one request per healthy endpoint until one answers.
// Transport failures and 5xx move on to the next endpoint; a 4xx is final.
func (c *HTTPClient) doJSON(ctx context.Context, method, path, key string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return retry.Permanent(fmt.Errorf("no token endpoints configured"))
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return retry.Permanent(err)
		}
		body = b
	}

	lastErr := fmt.Errorf("all token endpoints unavailable")
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, ep+path, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("token service %s: server %d", ep, resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		c.noteSuccess(ep)

		if resp.StatusCode >= 300 {
			err := decodeRemoteError(resp)
			_ = utils.DrainAndClose(resp.Body)
			return err
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				return retry.Permanent(fmt.Errorf("decode token service response: %w", err))
			}
		}
		return utils.DrainAndClose(resp.Body)
	}

	return lastErr
}

// decodeRemoteError maps the service's error text back onto the registered asset errors.
func decodeRemoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb ErrorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = fmt.Sprintf("token service: http %d", resp.StatusCode)
	}
	for _, known := range []*types.Error{types.ErrInsufficientBalance, types.ErrInsufficientAllowance} {
		if eb.Error == known.Desc {
			return known
		}
	}
	return &RemoteError{Status: resp.StatusCode, Text: eb.Error}
}
