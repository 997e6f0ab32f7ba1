package dbgateway

import "time"

// Bucket mirrors the storage.buckets row.
type Bucket struct {
	ID               string
	Name             string
	Public           bool
	FileSizeLimit    *int64
	AllowedMimeTypes []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Object mirrors the storage.objects row. Version identifies the current
// blob generation; at most one row exists per (TenantID, BucketID, Name).
type Object struct {
	ID           string
	TenantID     string
	BucketID     string
	Name         string
	Owner        string
	Version      string
	Size         int64
	ContentType  string
	CacheControl string
	ETag         string
	Metadata     map[string]any
	UserMetadata map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MultipartUpload mirrors the storage.s3_multipart_uploads row.
type MultipartUpload struct {
	UploadID        string
	TenantID        string
	BucketID        string
	Key             string
	Version         string
	InProgressSize  int64
	UploadSignature string
	Owner           string
	UserMetadata    map[string]any
	CreatedAt       time.Time
}

// UploadPart mirrors the storage.s3_multipart_parts row.
type UploadPart struct {
	UploadID   string
	PartNumber int
	ETag       string
	Version    string
	Size       int64
	CreatedAt  time.Time
}

// ObjectColumns is an explicit projection bitmask, replacing runtime
// reflection over arbitrary column-name lists with a fixed, typed set of
// fields the caller actually wants scanned.
type ObjectColumns uint32

const (
	ColID ObjectColumns = 1 << iota
	ColOwner
	ColVersion
	ColSize
	ColContentType
	ColCacheControl
	ColETag
	ColMetadata
	ColUserMetadata
	ColTimestamps

	ColAll = ColID | ColOwner | ColVersion | ColSize | ColContentType |
		ColCacheControl | ColETag | ColMetadata | ColUserMetadata | ColTimestamps
)

// FindOptions configures FindObject / FindMultipartUpload reads.
// Columns narrows FindObject's projection; zero selects everything.
type FindOptions struct {
	ForUpdate        bool
	DontErrorOnEmpty bool
	Columns          ObjectColumns
}

// ListOptions configures ListObjectsV2-style listings.
type ListOptions struct {
	Prefix        string
	Delimiter     string
	MaxKeys       int
	Continuation  string
	StartAfter    string
}

// Page is a single page of a continuation-token-paginated listing.
type Page struct {
	Objects           []*Object
	Prefixes          []string
	NextContinuation  string
	IsTruncated       bool
}
