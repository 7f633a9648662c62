// Package shopgraph is a client for Shopify's cost-metered Admin GraphQL API.
//
// The client keeps synchronous queries inside the server-reported query-cost
// budget via an adaptive leaky-bucket limiter, and orchestrates asynchronous
// bulk-export operations end to end: submit, poll, download, and streaming
// reconstruction of the flattened JSONL result into nested records.
package shopgraph

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// -----------------------------------------------------------------------------
// Throttle and cost types
// -----------------------------------------------------------------------------

// ThrottleStatus is the server-reported budget snapshot attached to every
// GraphQL response's cost extension. Each snapshot supersedes the prior one.
type ThrottleStatus struct {
	// MaximumAvailable is the budget ceiling in cost points.
	MaximumAvailable float64 `json:"maximumAvailable"`

	// CurrentlyAvailable is the budget remaining at response time.
	CurrentlyAvailable float64 `json:"currentlyAvailable"`

	// RestoreRate is the refill rate in cost points per second.
	RestoreRate float64 `json:"restoreRate"`
}

// QueryCost is the cost extension reported alongside a GraphQL response.
type QueryCost struct {
	// RequestedQueryCost is the conservative upper bound computed by the
	// server before execution.
	RequestedQueryCost float64 `json:"requestedQueryCost"`

	// ActualQueryCost is the cost actually incurred. Nil when the request
	// was throttled and never executed.
	ActualQueryCost *float64 `json:"actualQueryCost"`

	// ThrottleStatus is the budget snapshot taken after this request.
	ThrottleStatus ThrottleStatus `json:"throttleStatus"`
}

// -----------------------------------------------------------------------------
// Bulk operation types
// -----------------------------------------------------------------------------

// BulkStatus is the lifecycle state of a server-managed bulk operation.
type BulkStatus string

// Bulk operation states. CREATED, RUNNING, and CANCELING are transient and
// must be re-polled; the remainder end the orchestration loop.
const (
	BulkCreated   BulkStatus = "CREATED"
	BulkRunning   BulkStatus = "RUNNING"
	BulkCanceling BulkStatus = "CANCELING"
	BulkCompleted BulkStatus = "COMPLETED"
	BulkFailed    BulkStatus = "FAILED"
	BulkCanceled  BulkStatus = "CANCELED"
	BulkExpired   BulkStatus = "EXPIRED"
)

// Terminal reports whether the status ends a bulk operation's lifecycle.
func (s BulkStatus) Terminal() bool {
	switch s {
	case BulkCreated, BulkRunning, BulkCanceling:
		return false
	}
	return true
}

// BulkOperation is the server's record of an asynchronous export job.
// It is created by a submit mutation and mutated only by polling reads.
type BulkOperation struct {
	ID          string     `json:"id"`
	Status      BulkStatus `json:"status"`
	ErrorCode   string     `json:"errorCode"`
	ObjectCount int64      `json:"objectCount,string"`
	FileSize    int64      `json:"fileSize,string"`

	// URL points at the downloadable JSONL result once COMPLETED.
	// Empty on an empty result set.
	URL            string     `json:"url"`
	PartialDataURL string     `json:"partialDataUrl"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// Request is a single HTTP exchange handed to a Transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw result of a Transport exchange. Body is never nil on a
// nil-error return and must be closed by the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport performs a single HTTP exchange. The core never builds TLS or
// connection-pooling logic itself; implementations own those concerns.
//
// Transport must be safe for concurrent use.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// httpTransport adapts net/http to the Transport contract.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps an *http.Client as a Transport. A nil client uses a
// dedicated client with a 60 second timeout.
func NewHTTPTransport(client *http.Client) Transport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &httpTransport{client: client}
}

func (t *httpTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		hr.Header[k] = vs
	}
	resp, err := t.client.Do(hr)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// -----------------------------------------------------------------------------
// Query catalog
// -----------------------------------------------------------------------------

// Operation is one entry of the generated query catalog: an opaque document
// produced ahead of time by schema-driven generation.
type Operation struct {
	// Name is the operation name used for lookup and log correlation.
	Name string

	// Document is the full GraphQL document text.
	Document string
}

// Catalog maps operation names to their generated documents. The core treats
// entries as opaque typed templates.
type Catalog map[string]Operation

// Lookup returns the named operation or ErrNotFound.
func (c Catalog) Lookup(name string) (Operation, error) {
	op, ok := c[name]
	if !ok {
		return Operation{}, ErrNotFound
	}
	return op, nil
}
