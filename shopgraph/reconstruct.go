package shopgraph

import (
	"bufio"
	"fmt"
	"io"
)

// maxLineBytes bounds a single JSONL row. Bulk rows are individual API
// objects, far below this in practice.
const maxLineBytes = 16 << 20

// parentIDField links a child row to the object owning its connection.
const parentIDField = "__parentId"

// Shape describes the nested selection of a bulk query well enough to stitch
// flattened child rows back into their parents. Generated code supplies it.
type Shape struct {
	// Connections maps a child row's __typename to the name of the
	// connection field on its parent that owns rows of that type. This
	// disambiguates parents with multiple connection fields.
	Connections map[string]string
}

// Record is one reconstructed object graph in GraphQL wire shape: nested
// connections appear as {"field": {"edges": [{"node": ...}]}} so generated
// response types decode from it directly.
type Record map[string]any

// ID returns the record's id field, if present.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Typename returns the record's __typename discriminator, if present.
func (r Record) Typename() string {
	tn, _ := r["__typename"].(string)
	return tn
}

// Decode unmarshals the record into a generated response type.
func (r Record) Decode(v any) error {
	raw, err := json.Marshal(map[string]any(r))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// RecordStream reassembles a flat JSONL export into nested Records, lazily
// and in input order. The stream is single-pass and not restartable;
// consumers needing random access must materialize records themselves.
//
// The input contract is depth-first grouping: all descendants of one root
// appear before the next root's row. Only the current root's subtree is held
// resident, so memory stays bounded by the largest single object graph.
//
// Usage follows bufio.Scanner:
//
//	stream := shopgraph.NewRecordStream(r, shape)
//	defer stream.Close()
//	for stream.Next() {
//	    rec := stream.Record()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
type RecordStream struct {
	scanner *bufio.Scanner
	shape   Shape

	// arena holds the current root's partially built subtree keyed by row
	// id. It is evicted wholesale when the next root arrives.
	arena  map[string]Record
	rootID string

	record Record
	err    error
	line   int
	done   bool
	eof    bool // input fully consumed without error

	closers []func() error
	archive *ArchiveRef
}

// NewRecordStream creates a RecordStream over raw JSONL. If r implements
// io.Closer it is closed by Close.
func NewRecordStream(r io.Reader, shape Shape) *RecordStream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	s := &RecordStream{
		scanner: sc,
		shape:   shape,
		arena:   make(map[string]Record),
	}
	if rc, ok := r.(io.Closer); ok {
		s.closers = append(s.closers, rc.Close)
	}
	return s
}

// emptyRecordStream yields no records. Used for completed bulk operations
// with an empty result set.
func emptyRecordStream() *RecordStream {
	return &RecordStream{done: true}
}

// Next advances to the next fully reconstructed root record. It returns false
// when the stream is exhausted or after an error; Err distinguishes the two.
func (s *RecordStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row Record
		if err := json.Unmarshal(line, &row); err != nil {
			s.fail(&ReconstructionError{Line: s.line, Err: err})
			return false
		}

		if pid, ok := row[parentIDField]; ok {
			if err := s.stitch(row, pid); err != nil {
				s.fail(err)
				return false
			}
			continue
		}

		// A row without __parentId starts a new root. The previous root's
		// subtree is complete by the input contract, so yield it.
		finished := s.beginRoot(row)
		if s.err != nil {
			return false
		}
		if finished != nil {
			s.record = finished
			return true
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.fail(&ReconstructionError{Line: s.line, Err: err})
		return false
	}

	s.done = true
	s.eof = true
	if s.rootID != "" {
		s.record = s.arena[s.rootID]
		s.arena = nil
		s.rootID = ""
		return true
	}
	return false
}

// Record returns the record produced by the last successful Next.
func (s *RecordStream) Record() Record { return s.record }

// Decode unmarshals the current record into a generated response type.
func (s *RecordStream) Decode(v any) error { return s.record.Decode(v) }

// Err returns the first error encountered, if any.
func (s *RecordStream) Err() error { return s.err }

// ArchiveRef returns the archive reference for the export, when the stream
// was opened with an archive option and has been fully consumed or closed.
func (s *RecordStream) ArchiveRef() (*ArchiveRef, bool) {
	return s.archive, s.archive != nil
}

// Close releases the underlying response body and any archive writer. It is
// safe to call Close before exhausting the stream; in-flight work stops
// promptly.
func (s *RecordStream) Close() error {
	s.done = true
	var first error
	for _, fn := range s.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// stitch appends a child row into the connection field of its ancestor.
func (s *RecordStream) stitch(row Record, pid any) error {
	parentID, ok := pid.(string)
	if !ok {
		return &ReconstructionError{Line: s.line, Reason: fmt.Sprintf("non-string __parentId %v", pid)}
	}
	delete(row, parentIDField)

	parent, ok := s.arena[parentID]
	if !ok {
		// Parent already flushed or never seen: the stream violated its
		// ordering contract, or the download was truncated.
		return &ReconstructionError{Line: s.line, ParentID: parentID}
	}

	field, ok := s.shape.Connections[row.Typename()]
	if !ok {
		return &ReconstructionError{
			Line:   s.line,
			Reason: fmt.Sprintf("no connection field for __typename %q", row.Typename()),
		}
	}

	conn, ok := parent[field].(map[string]any)
	if !ok {
		conn = map[string]any{"edges": []any{}}
		parent[field] = conn
	}
	edges, _ := conn["edges"].([]any)
	conn["edges"] = append(edges, map[string]any{"node": map[string]any(row)})

	// A child can own connections of its own; keep it addressable.
	if id := row.ID(); id != "" {
		s.arena[id] = row
	}
	return nil
}

// beginRoot installs a new root row and returns the previous root's finished
// record, if one was being built.
func (s *RecordStream) beginRoot(row Record) Record {
	id := row.ID()
	if id == "" {
		s.fail(&ReconstructionError{Line: s.line, Reason: "root row missing id"})
		return nil
	}

	var finished Record
	if s.rootID != "" {
		finished = s.arena[s.rootID]
	}

	s.arena = map[string]Record{id: row}
	s.rootID = id
	return finished
}

func (s *RecordStream) fail(err error) {
	s.err = err
	s.done = true
}
