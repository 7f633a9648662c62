// Package s3 provides an S3-compatible archive store for shopgraph.
//
// The adapter works against AWS S3, MinIO, LocalStack, Cloudflare R2, and
// other S3-compatible object stores. It implements the shopgraph.Store
// contract:
//
//   - Put spools to a temp file, then uploads atomically with If-None-Match
//     so an existing key surfaces shopgraph.ErrPathExists. Objects above the
//     5GB PutObject limit are rejected; archived exports compress well below it.
//   - Get, Exists, Delete map missing keys to shopgraph.ErrNotFound semantics.
//   - List paginates ListObjectsV2 and returns all matching keys.
//
// AWS S3 has strong read-after-write consistency; other backends may differ.
// Archive commit semantics rely on the data object being written before its
// manifest.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/yummyshop/shopgraph/shopgraph"
)

// maxObjectSize is the S3 PutObject limit.
const maxObjectSize = 5 * 1024 * 1024 * 1024

// API is the subset of the S3 client used by the store. It enables testing
// with mock implementations.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations. A trailing
	// slash is added if missing.
	Prefix string
}

// Store implements shopgraph.Store over an S3-compatible backend.
type Store struct {
	client API
	bucket string
	prefix string

	createTemp func() (*os.File, error) // temp file factory for Put spooling
}

// New creates an S3 store. The client must be pre-configured with
// credentials, region, and endpoint; use github.com/aws/aws-sdk-go-v2/config
// to load configuration.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		createTemp: func() (*os.File, error) {
			return os.CreateTemp("", "shopgraph-s3-*")
		},
	}, nil
}

// Put uploads the reader's contents to the given key. The payload is spooled
// to a temp file first so the upload has a known length and O(1) memory use.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	tmp, err := s.createTemp()
	if err != nil {
		return fmt.Errorf("s3: create spool file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("s3: spool payload: %w", err)
	}
	if size > maxObjectSize {
		return fmt.Errorf("s3: payload of %d bytes exceeds PutObject limit", size)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          tmp,
		ContentLength: aws.Int64(size),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return shopgraph.ErrPathExists
		}
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, shopgraph.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	return out.Body, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head object: %w", err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix, err := s.validatePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete object: %w", err)
	}
	return nil
}

func (s *Store) validateKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || containsDotDot(key) {
		return "", shopgraph.ErrInvalidPath
	}
	return s.prefix + key, nil
}

func (s *Store) validatePrefix(prefix string) (string, error) {
	if strings.HasPrefix(prefix, "/") || containsDotDot(prefix) {
		return "", shopgraph.ErrInvalidPath
	}
	return s.prefix + prefix, nil
}

func containsDotDot(key string) bool {
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

// Ensure Store implements shopgraph.Store.
var _ shopgraph.Store = (*Store)(nil)
