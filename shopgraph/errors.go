package shopgraph

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Sentinels
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrInvalidPath indicates a path that would escape the storage root.
	ErrInvalidPath = errInvalidPath{}

	// ErrZeroRestoreRate indicates a limiter configured with a non-positive
	// restore rate, which would make every insufficient-budget wait infinite.
	ErrZeroRestoreRate = errZeroRestoreRate{}

	// ErrCostExceedsBudget indicates a request whose estimated cost exceeds
	// the budget ceiling. No amount of waiting can admit it.
	ErrCostExceedsBudget = errCostExceedsBudget{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

type errInvalidPath struct{}

func (errInvalidPath) Error() string { return "invalid path: escapes storage root" }

type errZeroRestoreRate struct{}

func (errZeroRestoreRate) Error() string { return "restore rate must be positive" }

type errCostExceedsBudget struct{}

func (errCostExceedsBudget) Error() string { return "estimated cost exceeds maximum budget" }

// -----------------------------------------------------------------------------
// Transport and envelope failures
// -----------------------------------------------------------------------------

// TransportError reports an HTTP-level failure: a network error, a non-2xx
// status, or a response body that is not a GraphQL envelope. The core does
// not retry these.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 when the request never completed.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error

	// Body holds a truncated copy of the response body for diagnostics.
	Body string
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shopgraph: transport: %v", e.Err)
	}
	return fmt.Sprintf("shopgraph: transport: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorDetail is one entry of a GraphQL envelope's top-level errors array.
type ErrorDetail struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// GraphQLError reports a rejected or malformed query: the envelope carried a
// non-throttling errors array. Any partial data is discarded.
type GraphQLError struct {
	Errors []ErrorDetail
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		msgs[i] = d.Message
	}
	return "shopgraph: graphql: " + strings.Join(msgs, "; ")
}

// UserErrorDetail is one field/message pair of a mutation's userErrors.
type UserErrorDetail struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// UserError reports a well-formed business-rule rejection: the mutation
// payload carried a non-empty userErrors list. Distinct from GraphQLError so
// callers can present field-level detail.
type UserError struct {
	Errors []UserErrorDetail
}

func (e *UserError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		field := "unknown field"
		if len(d.Field) > 0 {
			field = strings.Join(d.Field, ".")
		}
		msgs[i] = field + ": " + d.Message
	}
	return "shopgraph: user error: " + strings.Join(msgs, ", ")
}

// -----------------------------------------------------------------------------
// Throttling, bulk, and reconstruction failures
// -----------------------------------------------------------------------------

// ThrottleExhaustedError reports that an operation kept being throttled past
// the configured retry limit. The caller may retry the whole operation later.
type ThrottleExhaustedError struct {
	// Attempts is the number of throttled attempts made.
	Attempts int

	// Status is the last observed server budget snapshot.
	Status ThrottleStatus
}

func (e *ThrottleExhaustedError) Error() string {
	return fmt.Sprintf("shopgraph: throttled after %d attempts (available %.0f of %.0f)",
		e.Attempts, e.Status.CurrentlyAvailable, e.Status.MaximumAvailable)
}

// BulkJobError reports a bulk operation that reached a terminal non-success
// state, or completed without a result URL despite a nonzero object count.
type BulkJobError struct {
	ID        string
	Status    BulkStatus
	ErrorCode string

	// Polls is the number of status polls performed before failure.
	Polls int
}

func (e *BulkJobError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("shopgraph: bulk operation %s %s (%s) after %d polls",
			e.ID, strings.ToLower(string(e.Status)), e.ErrorCode, e.Polls)
	}
	return fmt.Sprintf("shopgraph: bulk operation %s %s after %d polls",
		e.ID, strings.ToLower(string(e.Status)), e.Polls)
}

// ReconstructionError reports a malformed or out-of-order JSONL stream: a
// contract violation by the server or a truncated download. The affected
// subtree is never silently dropped.
type ReconstructionError struct {
	// Line is the 1-based line number of the offending row.
	Line int

	// ParentID is set when a row referenced an unknown or evicted parent.
	ParentID string

	// Err is the underlying cause (decode failure, read error), if any.
	Err error

	// Reason describes contract violations that have no underlying error.
	Reason string
}

func (e *ReconstructionError) Error() string {
	switch {
	case e.ParentID != "":
		return fmt.Sprintf("shopgraph: jsonl line %d: unresolvable __parentId %q", e.Line, e.ParentID)
	case e.Err != nil:
		return fmt.Sprintf("shopgraph: jsonl line %d: %v", e.Line, e.Err)
	default:
		return fmt.Sprintf("shopgraph: jsonl line %d: %s", e.Line, e.Reason)
	}
}

func (e *ReconstructionError) Unwrap() error { return e.Err }
