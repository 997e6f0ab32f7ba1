// Package blobstore defines the adapter contract the lifecycle
// coordinator and multipart state machine use to move bytes, and a
// database/sql-style driver registry so a concrete backend is selected by
// DSN scheme rather than compiled-in directly.
//
// Backends register themselves from a blank-imported init(), so the
// binary that links a driver gets it and nothing else pays for the
// dependency.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"
)

var ErrNotExist = errors.New("blobstore: object does not exist")

// ReadOptions configures GetObject.
type ReadOptions struct {
	Offset int64
	Length int64 // 0 means "to end"
}

// ObjectInfo is the metadata a backend reports for a stored blob.
type ObjectInfo struct {
	Size         int64
	ETag         string
	ContentType  string
	CacheControl string
	LastModified time.Time
}

// Part describes one completed part of a multipart upload, as reported
// back by the backend after UploadPart.
type Part struct {
	PartNumber int
	ETag       string
	Size       int64
}

// CopyCondition expresses an optional precondition for CopyObject
// (If-Match style checks some backends can evaluate server-side).
type CopyCondition struct {
	IfMatchETag string
}

// Backend is the contract every blob storage adapter implements. Keys
// are already fully qualified ("tenant/bucket/name/version") by the
// caller; the backend itself is not responsible for building that
// namespace.
type Backend interface {
	UploadObject(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) (*ObjectInfo, error)
	GetObject(ctx context.Context, key string, opts ReadOptions) (io.ReadCloser, *ObjectInfo, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string, cond CopyCondition) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
	DeleteObjects(ctx context.Context, keys []string) error

	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (*Part, error)
	UploadPartCopy(ctx context.Context, dstKey, uploadID string, partNumber int, srcKey string, byteRange [2]int64) (*Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (*ObjectInfo, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	Close() error
}

// Opener constructs a Backend from a parsed DSN. Drivers register one per
// scheme via Register.
type Opener func(ctx context.Context, dsn *url.URL) (Backend, error)

var (
	mu      sync.Mutex
	drivers = map[string]Opener{}
)

// Register associates a DSN scheme (e.g. "s3", "disk") with an Opener.
// Drivers call this from an init() in a blank-imported package, the same
// shape as database/sql drivers.
func Register(scheme string, opener Opener) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := drivers[scheme]; exists {
		panic(fmt.Sprintf("blobstore: driver already registered for scheme %q", scheme))
	}
	drivers[scheme] = opener
}

// Open parses dsn and dispatches to the registered driver for its scheme.
func Open(ctx context.Context, dsn string) (Backend, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: parse dsn: %w", err)
	}
	mu.Lock()
	opener, ok := drivers[u.Scheme]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("blobstore: no driver registered for scheme %q", u.Scheme)
	}
	return opener(ctx, u)
}

// RegisteredSchemes returns the currently registered driver schemes,
// sorted, mainly for diagnostics/startup logging.
func RegisteredSchemes() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(drivers))
	for s := range drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
