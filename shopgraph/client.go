package shopgraph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// throttledCode is the extensions.code the API attaches to throttling errors.
const throttledCode = "THROTTLED"

// accessTokenHeader carries the API credential on every GraphQL request.
const accessTokenHeader = "X-Shopify-Access-Token"

// Client executes GraphQL operations against one configured endpoint,
// respecting the shared cost budget. It holds exactly the limiter state and
// the transport handle; construct one per endpoint and share it freely across
// goroutines.
type Client struct {
	endpoint  string
	token     string
	transport Transport
	limiter   *Limiter
	catalog   Catalog
	logger    *slog.Logger
	userAgent string

	estimatedCost      float64
	maxThrottleRetries int
	pollMin            time.Duration
	pollMax            time.Duration

	requestSeq atomic.Uint64
}

// New creates a Client for the given endpoint URL and access token.
func New(endpoint, token string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("shopgraph: endpoint is required")
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	lim := cfg.limiter
	if lim == nil {
		var err error
		lim, err = NewLimiter(cfg.maxBudget, cfg.restoreRate)
		if err != nil {
			return nil, err
		}
	}
	if cfg.estimatedCost > cfg.maxBudget {
		return nil, ErrCostExceedsBudget
	}
	if cfg.maxThrottleRetries < 1 {
		return nil, errors.New("shopgraph: throttle retry limit must be at least 1")
	}
	if cfg.pollMin <= 0 || cfg.pollMax < cfg.pollMin {
		return nil, errors.New("shopgraph: poll interval bounds are invalid")
	}

	tr := cfg.transport
	if tr == nil {
		tr = NewHTTPTransport(nil)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:           endpoint,
		token:              token,
		transport:          tr,
		limiter:            lim,
		catalog:            cfg.catalog,
		logger:             logger,
		userAgent:          cfg.userAgent,
		estimatedCost:      cfg.estimatedCost,
		maxThrottleRetries: cfg.maxThrottleRetries,
		pollMin:            cfg.pollMin,
		pollMax:            cfg.pollMax,
	}, nil
}

// Limiter returns the client's shared budget limiter.
func (c *Client) Limiter() *Limiter { return c.limiter }

// Result is the successful outcome of a synchronous operation.
type Result struct {
	// Data is the raw data object of the response envelope.
	Data jsoniter.RawMessage

	// Cost is the cost extension, when the server reported one.
	Cost *QueryCost
}

// Decode unmarshals the result data into a generated response type.
func (r *Result) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// envelope is the GraphQL response wire format.
type envelope struct {
	Data       jsoniter.RawMessage `json:"data"`
	Errors     []ErrorDetail       `json:"errors"`
	Extensions *struct {
		Cost *QueryCost `json:"cost"`
	} `json:"extensions"`
}

func (e *envelope) cost() *QueryCost {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions.Cost
}

// Query executes a cataloged operation by name.
func (c *Client) Query(ctx context.Context, name string, variables map[string]any) (*Result, error) {
	op, err := c.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, op.Document, variables)
}

// Execute runs one GraphQL document with the given variables.
//
// The call is admitted through the shared cost limiter first; insufficient
// budget sleeps for the computed wait and retries admission. Server THROTTLED
// responses re-enter the same loop with the freshly observed budget. Both are
// bounded by the configured throttle retry limit. All remaining failures map
// to exactly one of the typed errors in this package and are never retried
// here.
func (c *Client) Execute(ctx context.Context, document string, variables map[string]any) (*Result, error) {
	id := c.requestSeq.Add(1)
	cost := c.estimatedCost
	throttled := 0

	for {
		wait, err := c.limiter.Admit(cost)
		if err != nil {
			return nil, err
		}
		if wait > 0 {
			throttled++
			if throttled > c.maxThrottleRetries {
				return nil, &ThrottleExhaustedError{Attempts: throttled, Status: c.limiter.Status()}
			}
			c.logger.Debug("waiting for budget",
				"request", id, "cost", cost, "wait", wait, "attempt", throttled)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		env, terr := c.send(ctx, id, document, variables)
		if terr != nil {
			// No server truth arrived; release the reservation.
			c.limiter.Refund(cost)
			return nil, terr
		}

		// The server snapshot is authoritative and settles the optimistic
		// reservation, whatever the outcome below.
		if qc := env.cost(); qc != nil {
			c.limiter.Observe(qc.ThrottleStatus)
			if qc.RequestedQueryCost > 0 {
				cost = qc.RequestedQueryCost
			}
		} else {
			c.limiter.Refund(cost)
		}

		if len(env.Errors) > 0 {
			if isThrottled(env.Errors) {
				throttled++
				if throttled > c.maxThrottleRetries {
					return nil, &ThrottleExhaustedError{Attempts: throttled, Status: c.limiter.Status()}
				}
				// Early retries are routine; escalate once past half the
				// limit, since exhaustion is now likely.
				level := slog.LevelInfo
				if throttled > c.maxThrottleRetries/2 {
					level = slog.LevelWarn
				}
				c.logger.Log(ctx, level, "throttled by server",
					"request", id, "cost", cost, "attempt", throttled, "limit", c.maxThrottleRetries)
				continue
			}
			// Fail closed: partial data is discarded.
			return nil, &GraphQLError{Errors: env.Errors}
		}

		if uerr := scanUserErrors(env.Data); uerr != nil {
			return nil, uerr
		}

		return &Result{Data: env.Data, Cost: env.cost()}, nil
	}
}

// send performs one POST of the GraphQL request and parses the envelope.
// All failures here are transport-level and not retried.
func (c *Client) send(ctx context.Context, id uint64, document string, variables map[string]any) (*envelope, error) {
	body, err := json.Marshal(map[string]any{
		"query":     document,
		"variables": variables,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		header.Set(accessTokenHeader, c.token)
	}

	resp, err := c.transport.RoundTrip(ctx, &Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("request failed", "request", id, "status", resp.StatusCode)
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: truncate(raw, 512)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err, Body: truncate(raw, 512)}
	}
	return &env, nil
}

// isThrottled reports whether every envelope error is a throttling error.
// A mixed errors array is treated as fatal rather than retried.
func isThrottled(details []ErrorDetail) bool {
	for _, d := range details {
		if d.Extensions.Code != throttledCode {
			return false
		}
	}
	return len(details) > 0
}

// scanUserErrors walks the top-level data fields looking for a non-empty
// mutation userErrors list.
func scanUserErrors(data jsoniter.RawMessage) *UserError {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	for _, raw := range fields {
		var probe struct {
			UserErrors []UserErrorDetail `json:"userErrors"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if len(probe.UserErrors) > 0 {
			return &UserError{Errors: probe.UserErrors}
		}
	}
	return nil
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate renders at most n bytes of a response body for diagnostics.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
