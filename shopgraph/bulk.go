package shopgraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Built-in documents for the bulk-operation lifecycle. These ship with the
// package rather than the generated catalog because the orchestrator depends
// on their exact payload shapes.
const (
	bulkFields = `
      id
      status
      errorCode
      objectCount
      fileSize
      url
      partialDataUrl
      createdAt
      completedAt`

	bulkSubmitDocument = `mutation BulkOperationRunMutation($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation {` + bulkFields + `
    }
    userErrors {
      field
      message
    }
  }
}`

	bulkPollDocument = `query BulkOperationStatus($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {` + bulkFields + `
    }
  }
}`

	currentBulkOperationDocument = `query CurrentBulkOperation {
  currentBulkOperation {` + bulkFields + `
  }
}`
)

// pollBackoffFactor grows the poll interval toward the configured ceiling so
// long-running exports are not hammered with status queries.
const pollBackoffFactor = 1.5

// BulkOption configures one bulk orchestration.
type BulkOption func(*bulkConfig)

type bulkConfig struct {
	archive *Archive
}

// WithArchiveTo persists the downloaded result file to the given archive
// while the caller consumes the record stream. The archive reference becomes
// available from RecordStream.ArchiveRef after the stream is exhausted and
// closed. Abandoning the stream early aborts the archive write uncommitted.
func WithArchiveTo(a *Archive) BulkOption {
	return func(c *bulkConfig) { c.archive = a }
}

// RunBulk executes a bulk query end to end: submit, poll to a terminal
// status, download, and stream reconstruction. The returned stream is lazy;
// records surface as the result file is read. The caller must Close it.
//
// Submission rejections (for example another bulk operation already running —
// the API serializes bulk operations per store) surface immediately as
// *UserError; whether to wait and resubmit is the caller's decision.
func (c *Client) RunBulk(ctx context.Context, query string, variables map[string]any, shape Shape, opts ...BulkOption) (*RecordStream, error) {
	var cfg bulkConfig
	for _, o := range opts {
		o(&cfg)
	}

	name := queryName(query)

	op, err := c.submitBulk(ctx, name, query, variables)
	if err != nil {
		return nil, err
	}

	op, polls, err := c.pollBulk(ctx, name, op)
	if err != nil {
		return nil, err
	}

	if op.Status != BulkCompleted {
		return nil, &BulkJobError{ID: op.ID, Status: op.Status, ErrorCode: op.ErrorCode, Polls: polls}
	}
	if op.URL == "" {
		if op.ObjectCount == 0 {
			// An export that matched nothing: success with an empty stream.
			return emptyRecordStream(), nil
		}
		return nil, &BulkJobError{ID: op.ID, Status: op.Status, ErrorCode: "MISSING_RESULT_URL", Polls: polls}
	}

	c.logger.Info("retrieving bulk result",
		"query", name, "id", op.ID, "objects", op.ObjectCount, "bytes", op.FileSize)

	return c.openBulkResult(ctx, op, shape, cfg)
}

// submitBulk wraps the caller's query in the bulk submission mutation.
// Variables are injected textually since bulk operations take none.
func (c *Client) submitBulk(ctx context.Context, name, query string, variables map[string]any) (*BulkOperation, error) {
	inlined, err := InjectVariables(query, variables)
	if err != nil {
		return nil, err
	}

	res, err := c.Execute(ctx, bulkSubmitDocument, map[string]any{"query": inlined})
	if err != nil {
		return nil, err
	}

	var payload struct {
		BulkOperationRunQuery struct {
			BulkOperation *BulkOperation `json:"bulkOperation"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := res.Decode(&payload); err != nil {
		return nil, fmt.Errorf("shopgraph: decode bulk submission: %w", err)
	}
	op := payload.BulkOperationRunQuery.BulkOperation
	if op == nil {
		return nil, fmt.Errorf("shopgraph: bulk submission for %s returned no operation", name)
	}

	c.logger.Info("bulk operation submitted", "query", name, "id", op.ID, "status", op.Status)
	return op, nil
}

// pollBulk re-reads the operation's status until it becomes terminal,
// backing off between polls. Every poll goes through the limiter like any
// other query.
func (c *Client) pollBulk(ctx context.Context, name string, op *BulkOperation) (*BulkOperation, int, error) {
	interval := c.pollMin
	polls := 0

	for !op.Status.Terminal() {
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, polls, err
		}
		polls++

		res, err := c.Execute(ctx, bulkPollDocument, map[string]any{"id": op.ID})
		if err != nil {
			return nil, polls, err
		}
		var payload struct {
			Node *BulkOperation `json:"node"`
		}
		if err := res.Decode(&payload); err != nil {
			return nil, polls, fmt.Errorf("shopgraph: decode bulk status: %w", err)
		}
		if payload.Node == nil {
			return nil, polls, fmt.Errorf("shopgraph: bulk operation %s not found while polling", op.ID)
		}
		op = payload.Node

		runtime := time.Since(op.CreatedAt).Round(time.Second)
		rate := 0.0
		if secs := runtime.Seconds(); secs > 0 {
			rate = float64(op.ObjectCount) / secs
		}
		c.logger.Info("bulk operation progress",
			"query", name, "id", op.ID, "status", op.Status,
			"runtime", runtime, "objects", op.ObjectCount, "rate", fmt.Sprintf("%.2f/s", rate))

		if next := time.Duration(float64(interval) * pollBackoffFactor); next < c.pollMax {
			interval = next
		} else {
			interval = c.pollMax
		}
	}

	return op, polls, nil
}

// openBulkResult downloads the result file and wires it into a RecordStream,
// optionally teeing the decompressed bytes into an archive.
func (c *Client) openBulkResult(ctx context.Context, op *BulkOperation, shape Shape, cfg bulkConfig) (*RecordStream, error) {
	body, encoding, err := c.download(ctx, op.URL)
	if err != nil {
		return nil, err
	}

	decompressed, err := downloadCompressor(op.URL, encoding).Decompress(body)
	if err != nil {
		_ = body.Close()
		return nil, &TransportError{Err: err}
	}

	if cfg.archive == nil {
		stream := NewRecordStream(decompressed, shape)
		stream.closers = append(stream.closers, body.Close)
		return stream, nil
	}

	pr, pw := io.Pipe()
	g := new(errgroup.Group)
	var ref *ArchiveRef
	g.Go(func() error {
		r, err := cfg.archive.Save(ctx, op, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
			return err
		}
		ref = r
		return nil
	})

	stream := NewRecordStream(io.TeeReader(decompressed, pw), shape)
	stream.closers = append(stream.closers,
		func() error {
			if stream.eof && stream.err == nil {
				_ = pw.Close()
			} else {
				// Abandoned or failed mid-stream: abort the archive write
				// so no truncated export is committed.
				_ = pw.CloseWithError(context.Canceled)
			}
			if err := g.Wait(); err != nil {
				return err
			}
			stream.archive = ref
			return nil
		},
		decompressed.Close,
		body.Close,
	)
	return stream, nil
}

// download fetches the result file with a plain GET. The URL is pre-signed,
// so no credential is attached, and the request is exempt from the GraphQL
// cost limiter.
func (c *Client) download(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	resp, err := c.transport.RoundTrip(ctx, &Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Header: header,
	})
	if err != nil {
		return nil, "", &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, "", &TransportError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp.Body, resp.Header.Get("Content-Encoding"), nil
}

// CurrentBulkOperation returns the store's in-flight or most recent bulk
// operation, or nil when there has never been one. Callers can use it to
// decide whether a submission would conflict.
func (c *Client) CurrentBulkOperation(ctx context.Context) (*BulkOperation, error) {
	res, err := c.Execute(ctx, currentBulkOperationDocument, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		CurrentBulkOperation *BulkOperation `json:"currentBulkOperation"`
	}
	if err := res.Decode(&payload); err != nil {
		return nil, fmt.Errorf("shopgraph: decode current bulk operation: %w", err)
	}
	return payload.CurrentBulkOperation, nil
}
