package shopgraph

import (
	"compress/gzip"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compressor handles compression and decompression of result streams. It is
// used both for transparently decompressing downloaded bulk results and for
// the export archive's storage format.
type Compressor interface {
	// Name returns the compressor identifier (for example, "gzip", "zstd", "none").
	Name() string

	// Extension returns the file extension (for example, ".gz", ".zst", "").
	Extension() string

	// Compress wraps a writer with compression.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Gzip
// -----------------------------------------------------------------------------

type gzipCompressor struct{}

// NewGzipCompressor creates a gzip compressor.
func NewGzipCompressor() Compressor { return &gzipCompressor{} }

func (g *gzipCompressor) Name() string { return "gzip" }

func (g *gzipCompressor) Extension() string { return ".gz" }

func (g *gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (g *gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Zstd
// -----------------------------------------------------------------------------

type zstdCompressor struct{}

// NewZstdCompressor creates a Zstandard compressor. Zstd gives higher ratios
// and faster decompression than gzip for archived exports.
func NewZstdCompressor() Compressor { return &zstdCompressor{} }

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Extension() string { return ".zst" }

func (z *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (z *zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

type noopCompressor struct{}

// NewNoOpCompressor creates a compressor that passes data through unchanged.
func NewNoOpCompressor() Compressor { return &noopCompressor{} }

func (n *noopCompressor) Name() string { return "none" }

func (n *noopCompressor) Extension() string { return "" }

func (n *noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return &noopWriteCloser{w}, nil
}

func (n *noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type noopWriteCloser struct {
	io.Writer
}

func (n *noopWriteCloser) Close() error { return nil }

// compressorByName resolves an archive manifest's recorded compressor.
func compressorByName(name string) (Compressor, bool) {
	switch name {
	case "gzip":
		return NewGzipCompressor(), true
	case "zstd":
		return NewZstdCompressor(), true
	case "none", "":
		return NewNoOpCompressor(), true
	}
	return nil, false
}

// downloadCompressor picks the decompressor for a bulk result download from
// the Content-Encoding header or the URL path extension.
func downloadCompressor(rawURL, contentEncoding string) Compressor {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return NewGzipCompressor()
	case "zstd":
		return NewZstdCompressor()
	}

	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		return NewGzipCompressor()
	case strings.HasSuffix(path, ".zst"):
		return NewZstdCompressor()
	}
	return NewNoOpCompressor()
}
