package shopgraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Archive layout constants.
const (
	archiveDir           = "exports"
	archiveSchemaName    = "shopgraph-export"
	archiveFormatVersion = "1"
	manifestSuffix       = ".manifest.json"
)

// ArchiveRef identifies one saved export within an archive store.
type ArchiveRef struct {
	// OperationID is the bulk operation the export came from.
	OperationID string `json:"operation_id"`

	// Key is the storage path of the data object.
	Key string `json:"key"`
}

func (r ArchiveRef) manifestKey() string { return r.Key + manifestSuffix }

// ArchiveManifest describes one saved export. A manifest's presence is the
// commit signal: the data object is always written before it.
type ArchiveManifest struct {
	SchemaName    string `json:"schema_name"`
	FormatVersion string `json:"format_version"`

	// OperationID and the fields below snapshot the bulk operation at
	// save time.
	OperationID string     `json:"operation_id"`
	Status      BulkStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ObjectCount int64      `json:"object_count"`
	FileSize    int64      `json:"file_size"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DataKey is the storage path of the data object.
	DataKey string `json:"data_key"`

	// ByteCount is the uncompressed size of the saved JSONL.
	ByteCount int64 `json:"byte_count"`

	// Compressor records the compression format of the data object.
	Compressor string `json:"compressor"`

	// SavedAt records when the export was committed to the archive.
	SavedAt time.Time `json:"saved_at"`
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithArchiveCompressor sets the storage compression. The default is gzip.
func WithArchiveCompressor(c Compressor) ArchiveOption {
	return func(a *Archive) { a.compressor = c }
}

// Archive persists bulk-export result files to an object store so expensive,
// globally serialized exports can be replayed without re-running them.
//
// Saved objects live at exports/<operation>/<uuid>.jsonl<ext> with a manifest
// alongside. Archive is safe for concurrent use when its Store is.
type Archive struct {
	store      Store
	compressor Compressor
	now        func() time.Time
}

// NewArchive creates an Archive over the given store.
func NewArchive(store Store, opts ...ArchiveOption) *Archive {
	a := &Archive{
		store:      store,
		compressor: NewGzipCompressor(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Save streams one export into the archive and commits it. The reader must
// produce the decompressed JSONL; op supplies the manifest metadata.
func (a *Archive) Save(ctx context.Context, op *BulkOperation, r io.Reader) (*ArchiveRef, error) {
	ref := &ArchiveRef{
		OperationID: op.ID,
		Key: path.Join(archiveDir, sanitizeID(op.ID),
			uuid.NewString()+".jsonl"+a.compressor.Extension()),
	}

	// Compress through a pipe so the data object streams to the store
	// without spooling the whole export in memory.
	pr, pw := io.Pipe()
	var byteCount int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cw, err := a.compressor.Compress(pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return err
		}
		n, err := io.Copy(cw, r)
		byteCount = n
		if err == nil {
			err = cw.Close()
		}
		_ = pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := a.store.Put(gctx, ref.Key, pr)
		_ = pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		// Best effort: do not leave an uncommitted object behind.
		_ = a.store.Delete(ctx, ref.Key)
		return nil, fmt.Errorf("shopgraph: archive save: %w", err)
	}

	manifest := &ArchiveManifest{
		SchemaName:    archiveSchemaName,
		FormatVersion: archiveFormatVersion,
		OperationID:   op.ID,
		Status:        op.Status,
		ErrorCode:     op.ErrorCode,
		ObjectCount:   op.ObjectCount,
		FileSize:      op.FileSize,
		CompletedAt:   op.CompletedAt,
		DataKey:       ref.Key,
		ByteCount:     byteCount,
		Compressor:    a.compressor.Name(),
		SavedAt:       a.now().UTC(),
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("shopgraph: encode archive manifest: %w", err)
	}
	if err := a.store.Put(ctx, ref.manifestKey(), bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("shopgraph: commit archive manifest: %w", err)
	}
	return ref, nil
}

// Open replays a committed export as a decompressed JSONL stream, suitable
// for NewRecordStream.
func (a *Archive) Open(ctx context.Context, ref *ArchiveRef) (io.ReadCloser, error) {
	manifest, err := a.Manifest(ctx, ref)
	if err != nil {
		return nil, err
	}
	comp, ok := compressorByName(manifest.Compressor)
	if !ok {
		return nil, fmt.Errorf("shopgraph: unknown archive compressor %q", manifest.Compressor)
	}

	rc, err := a.store.Get(ctx, ref.Key)
	if err != nil {
		return nil, err
	}
	decompressed, err := comp.Decompress(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &archiveReader{ReadCloser: decompressed, underlying: rc}, nil
}

// Manifest loads the committed manifest for a reference. An export whose
// manifest is missing was never committed and reads as ErrNotFound.
func (a *Archive) Manifest(ctx context.Context, ref *ArchiveRef) (*ArchiveManifest, error) {
	rc, err := a.store.Get(ctx, ref.manifestKey())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var manifest ArchiveManifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("shopgraph: decode archive manifest: %w", err)
	}
	if manifest.SchemaName != archiveSchemaName {
		return nil, fmt.Errorf("shopgraph: unexpected manifest schema %q", manifest.SchemaName)
	}
	return &manifest, nil
}

// List returns committed exports for a bulk operation ID, or all committed
// exports when id is empty.
func (a *Archive) List(ctx context.Context, id string) ([]*ArchiveRef, error) {
	prefix := archiveDir + "/"
	if id != "" {
		prefix = path.Join(archiveDir, sanitizeID(id)) + "/"
	}
	paths, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var refs []*ArchiveRef
	for _, p := range paths {
		if !strings.HasSuffix(p, manifestSuffix) {
			continue
		}
		ref := &ArchiveRef{Key: strings.TrimSuffix(p, manifestSuffix)}
		manifest, err := a.Manifest(ctx, ref)
		if err != nil {
			// Deleted between listing and load: never committed. Anything
			// else is a corrupted committed export and must surface.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("shopgraph: archive entry %s: %w", ref.Key, err)
		}
		ref.OperationID = manifest.OperationID
		refs = append(refs, ref)
	}
	return refs, nil
}

// archiveReader closes both the decompressor and the store object.
type archiveReader struct {
	io.ReadCloser
	underlying io.Closer
}

func (r *archiveReader) Close() error {
	err := r.ReadCloser.Close()
	if uerr := r.underlying.Close(); err == nil {
		err = uerr
	}
	return err
}

// sanitizeID flattens a gid (for example gid://shopify/BulkOperation/123)
// into a single path component.
func sanitizeID(id string) string {
	id = strings.TrimPrefix(id, "gid://")
	return strings.NewReplacer("/", "-", ":", "-").Replace(id)
}
