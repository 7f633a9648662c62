package shopgraph

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	transport          Transport
	limiter            *Limiter
	catalog            Catalog
	logger             *slog.Logger
	userAgent          string
	estimatedCost      float64
	maxThrottleRetries int
	pollMin            time.Duration
	pollMax            time.Duration
	maxBudget          float64
	restoreRate        float64
}

func defaultConfig() *config {
	return &config{
		userAgent:          "shopgraph/1.0",
		estimatedCost:      DefaultEstimatedCost,
		maxThrottleRetries: 5,
		pollMin:            2 * time.Second,
		pollMax:            30 * time.Second,
		maxBudget:          DefaultMaxAvailable,
		restoreRate:        DefaultRestoreRate,
	}
}

// WithTransport sets a custom Transport. The default wraps net/http with a
// 60 second timeout.
func WithTransport(t Transport) Option {
	return func(c *config) { c.transport = t }
}

// WithLimiter shares an existing Limiter across clients. The default creates
// a fresh limiter from the budget options.
func WithLimiter(l *Limiter) Option {
	return func(c *config) { c.limiter = l }
}

// WithBudget sets the assumed budget ceiling and restore rate (points per
// second) used until the first server observation corrects them.
func WithBudget(maxAvailable, restoreRate float64) Option {
	return func(c *config) {
		c.maxBudget = maxAvailable
		c.restoreRate = restoreRate
	}
}

// WithEstimatedCost sets the conservative cost assumed for a request before
// the server reports its requestedQueryCost.
func WithEstimatedCost(cost float64) Option {
	return func(c *config) { c.estimatedCost = cost }
}

// WithThrottleRetries bounds the number of throttled attempts (admission
// waits and server THROTTLED responses) per operation before a
// ThrottleExhaustedError is surfaced.
func WithThrottleRetries(n int) Option {
	return func(c *config) { c.maxThrottleRetries = n }
}

// WithPollInterval sets the bulk-operation poll backoff bounds. Polling
// starts at min and grows toward max for long-running exports.
func WithPollInterval(min, max time.Duration) Option {
	return func(c *config) {
		c.pollMin = min
		c.pollMax = max
	}
}

// WithCatalog registers the generated operation catalog used by Query.
func WithCatalog(cat Catalog) Option {
	return func(c *config) { c.catalog = cat }
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}
