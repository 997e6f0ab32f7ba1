// Object CRUD and signed-URL handlers. GET streams through a pooled 8MB
// buffer and honors single-range requests; signed-URL issuance goes
// through internal/signedurl's Payload.
package restapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/ducklake"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/signedurl"

	mizu "github.com/go-mizu/mizu"
)

const objectResponseBufferSize = 8 * 1024 * 1024

var objectBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, objectResponseBufferSize)
		return &buf
	},
}

func getObjectBuffer() []byte { return *objectBufferPool.Get().(*[]byte) }

func putObjectBuffer(buf []byte) {
	if cap(buf) >= objectResponseBufferSize {
		objectBufferPool.Put(&buf)
	}
}

// ObjectResponse is the shape returned for a single object row.
type ObjectResponse struct {
	Name         string         `json:"name"`
	ID           string         `json:"id"`
	Owner        string         `json:"owner,omitempty"`
	Size         int64          `json:"size"`
	ContentType  string         `json:"content_type,omitempty"`
	ETag         string         `json:"etag,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func toObjectResponse(o *dbgateway.Object) ObjectResponse {
	return ObjectResponse{
		Name: o.Name, ID: o.ID, Owner: o.Owner, Size: o.Size,
		ContentType: o.ContentType, ETag: o.ETag, UserMetadata: o.UserMetadata,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

// ListObjectsRequest is the query shape for GET /object/list/:bucket.
type ListObjectsResponse struct {
	Objects  []ObjectResponse `json:"objects"`
	Prefixes []string         `json:"prefixes,omitempty"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func requestID(c *mizu.Ctx) string {
	if id := c.Request().Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return ulid.Make().String()
}

func owner(c *mizu.Ctx) string {
	claims, ok := claimsFrom(c)
	if !ok {
		return ""
	}
	return claims.Subject
}

func (s *Server) bucketByID(c *mizu.Ctx, tenantID, id string) (*dbgateway.Bucket, error) {
	return s.DB.GetBucketByName(c.Context(), tenantID, id)
}

// handleListObjects implements GET /object/list/:bucket.
func (s *Server) handleListObjects(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	b, err := s.bucketByID(c, t.ID, c.Param("bucket"))
	if err != nil {
		return writeError(c, err)
	}

	if search := c.Query("search"); search != "" {
		objects, err := s.DB.SearchObjects(c.Context(), t.ID, b.ID,
			c.Query("prefix"), search, parseIntQuery(c, "limit", 100))
		if err != nil {
			return writeError(c, err)
		}
		resp := ListObjectsResponse{}
		for _, o := range objects {
			resp.Objects = append(resp.Objects, toObjectResponse(o))
		}
		return writeJSON(c, 200, resp)
	}

	page, err := s.Lifecycle.ListObjectsV2(c.Context(), t.ID, b.ID, dbgateway.ListOptions{
		Prefix:       c.Query("prefix"),
		Delimiter:    c.Query("delimiter"),
		MaxKeys:      parseIntQuery(c, "limit", 100),
		Continuation: c.Query("cursor"),
	})
	if err != nil {
		return writeError(c, err)
	}

	resp := ListObjectsResponse{Prefixes: page.Prefixes, NextCursor: page.NextContinuation}
	for _, o := range page.Objects {
		resp.Objects = append(resp.Objects, toObjectResponse(o))
	}
	return writeJSON(c, 200, resp)
}

func (s *Server) upload(c *mizu.Ctx, upsert bool) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	b, err := s.bucketByID(c, t.ID, c.Param("bucket"))
	if err != nil {
		return writeError(c, err)
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		return writeError(c, apierr.New(apierr.InvalidKey, "object key is required"))
	}

	req := c.Request()
	size := req.ContentLength
	if size <= 0 {
		return writeError(c, apierr.New(apierr.MissingContentLength, "content-length is required"))
	}
	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var userMetadata map[string]any
	if raw := req.Header.Get("X-Metadata"); raw != "" {
		userMetadata = map[string]any{"raw": raw}
	}

	obj, err := s.Lifecycle.Upload(c.Context(), &lifecycle.UploadRequest{
		TenantID: t.ID, Tenant: t, Bucket: b, Name: key, Owner: owner(c),
		Body: req.Body, Size: size, ContentType: contentType,
		CacheControl: req.Header.Get("Cache-Control"), UserMetadata: userMetadata,
		Upsert: upsert, ReqID: requestID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, toObjectResponse(obj))
}

// handleUploadObject implements POST /object/:bucket/*key (create-only).
func (s *Server) handleUploadObject(c *mizu.Ctx) error {
	return s.upload(c, false)
}

// handleUpsertObject implements PUT /object/:bucket/*key.
func (s *Server) handleUpsertObject(c *mizu.Ctx) error {
	return s.upload(c, true)
}

// handleGetObject implements GET /object/:bucket/*key, with single-range
// support via the Range header.
func (s *Server) handleGetObject(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	b, err := s.bucketByID(c, t.ID, c.Param("bucket"))
	if err != nil {
		return writeError(c, err)
	}
	key := strings.TrimPrefix(c.Param("key"), "/")

	ctx := c.Context()

	// DuckLake metadata is virtual: generated on demand, never stored as
	// an object row.
	if s.DuckLake != nil && ducklake.IsVirtualPath(key) {
		data, err := s.DuckLake.Serve(ctx, key)
		if err != nil {
			return writeError(c, err)
		}
		return c.Bytes(http.StatusOK, data, "application/octet-stream")
	}

	return s.serveObject(c, t.ID, b, key)
}

// serveObject streams an object's bytes with conditional Range support;
// shared by the authenticated GET path and signed-URL redemption.
func (s *Server) serveObject(c *mizu.Ctx, tenantID string, b *dbgateway.Bucket, key string) error {
	ctx := c.Context()
	obj, err := s.DB.FindObject(ctx, tenantID, b.ID, key, dbgateway.FindOptions{})
	if err != nil {
		return writeError(c, err)
	}
	blobKey := lifecycle.BlobKey(tenantID, b.ID, key, obj.Version)

	readOpts := blobstore.ReadOptions{}
	status := http.StatusOK
	rangeHeader := c.Request().Header.Get("Range")
	if rangeHeader != "" && strings.HasPrefix(rangeHeader, "bytes=") && obj.Size > 0 {
		if start, length, ok := parseByteRange(rangeHeader, obj.Size); ok {
			readOpts.Offset, readOpts.Length = start, length
			status = http.StatusPartialContent
		}
	}

	body, info, err := s.Lifecycle.Blob.GetObject(ctx, blobKey, readOpts)
	if err != nil {
		return writeError(c, apierr.Wrap(apierr.InternalError, "get object bytes", err))
	}
	defer body.Close()

	w := c.Writer()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Accept-Ranges", "bytes")
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", contentRangeHeader(readOpts.Offset, readOpts.Offset+info.Size-1, obj.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Status(status)

	buf := getObjectBuffer()
	defer putObjectBuffer(buf)
	_, _ = io.CopyBuffer(w, body, buf)
	return nil
}

// handleDeleteObject implements DELETE /object/:bucket/*key.
func (s *Server) handleDeleteObject(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	b, err := s.bucketByID(c, t.ID, c.Param("bucket"))
	if err != nil {
		return writeError(c, err)
	}
	key := strings.TrimPrefix(c.Param("key"), "/")

	if err := s.Lifecycle.Delete(c.Context(), t, t.ID, b, key, requestID(c)); err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, MessageResponse{Message: "Successfully deleted"})
}

// CopyObjectRequest is the request body for POST /object/copy.
type CopyObjectRequest struct {
	BucketID          string `json:"bucketId"`
	SourceKey         string `json:"sourceKey"`
	DestinationKey    string `json:"destinationKey"`
	DestinationBucket string `json:"destinationBucket,omitempty"`
}

// handleCopyObject implements POST /object/copy.
func (s *Server) handleCopyObject(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	var req CopyObjectRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}

	srcBucket, err := s.bucketByID(c, t.ID, req.BucketID)
	if err != nil {
		return writeError(c, err)
	}
	dstBucketID := req.DestinationBucket
	if dstBucketID == "" {
		dstBucketID = req.BucketID
	}
	dstBucket, err := s.bucketByID(c, t.ID, dstBucketID)
	if err != nil {
		return writeError(c, err)
	}

	obj, err := s.Lifecycle.Copy(c.Context(), &lifecycle.CopyRequest{
		TenantID: t.ID, Tenant: t, SrcBucket: srcBucket, SrcName: req.SourceKey,
		DstBucket: dstBucket, DstName: req.DestinationKey, Upsert: true, ReqID: requestID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, toObjectResponse(obj))
}

// MoveObjectRequest is the request body for POST /object/move.
type MoveObjectRequest struct {
	BucketID          string `json:"bucketId"`
	SourceKey         string `json:"sourceKey"`
	DestinationKey    string `json:"destinationKey"`
	DestinationBucket string `json:"destinationBucket,omitempty"`
}

// handleMoveObject implements POST /object/move.
func (s *Server) handleMoveObject(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	var req MoveObjectRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}

	srcBucket, err := s.bucketByID(c, t.ID, req.BucketID)
	if err != nil {
		return writeError(c, err)
	}
	dstBucketID := req.DestinationBucket
	if dstBucketID == "" {
		dstBucketID = req.BucketID
	}
	dstBucket, err := s.bucketByID(c, t.ID, dstBucketID)
	if err != nil {
		return writeError(c, err)
	}

	if _, err := s.Lifecycle.Move(c.Context(), &lifecycle.MoveRequest{
		TenantID: t.ID, Tenant: t, SrcBucket: srcBucket, SrcName: req.SourceKey,
		DstBucket: dstBucket, DstName: req.DestinationKey, ReqID: requestID(c),
	}); err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, MessageResponse{Message: "Successfully moved"})
}

// SignedURLResponse is the response for both sign endpoints.
type SignedURLResponse struct {
	SignedURL string `json:"signedURL"`
	Token     string `json:"token"`
}

func (s *Server) defaultTTL() time.Duration {
	if s.SignedURLTTL > 0 {
		return time.Duration(s.SignedURLTTL) * time.Second
	}
	return time.Hour
}

// handleSignObject implements GET /object/sign/:bucket/*key. Without a
// token query it mints one (JWT-authenticated); with a token it redeems
// it and serves the object bytes.
func (s *Server) handleSignObject(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil || len(t.URLSigningKeys) == 0 {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant has no url signing key configured"))
	}
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")

	if token := c.Query("token"); token != "" {
		p, err := signedurl.Verify(t.URLSigningKeys, token)
		if err != nil {
			return writeError(c, apierr.Wrap(apierr.InvalidSignature, "invalid signed url token", err))
		}
		if p.URL != "/object/"+bucket+"/"+key {
			return writeError(c, apierr.New(apierr.InvalidSignature, "token does not match this object"))
		}
		b, err := s.bucketByID(c, t.ID, bucket)
		if err != nil {
			return writeError(c, err)
		}
		return s.serveObject(c, t.ID, b, key)
	}

	if _, err := s.bucketByID(c, t.ID, bucket); err != nil {
		return writeError(c, err)
	}

	ttl := s.defaultTTL()
	if raw := c.Query("expiresIn"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}

	token, err := signedurl.Sign(t.URLSigningKeys[0], signedurl.Payload{
		URL: "/object/" + bucket + "/" + key,
	}, ttl)
	if err != nil {
		return writeError(c, apierr.Wrap(apierr.InternalError, "sign url", err))
	}

	return writeJSON(c, 200, SignedURLResponse{
		SignedURL: "/object/sign/" + bucket + "/" + key + "?token=" + token,
		Token:     token,
	})
}

// SignUploadRequest is the request body for POST /object/upload/sign/:bucket/*key.
type SignUploadRequest struct {
	ExpiresIn int  `json:"expiresIn,omitempty"`
	Upsert    bool `json:"upsert,omitempty"`
}

// handleSignUpload implements POST /object/upload/sign/:bucket/*key.
func (s *Server) handleSignUpload(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil || len(t.URLSigningKeys) == 0 {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant has no url signing key configured"))
	}
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")
	if _, err := s.bucketByID(c, t.ID, bucket); err != nil {
		return writeError(c, err)
	}

	var req SignUploadRequest
	_ = decodeBody(c, &req)

	ttl := s.defaultTTL()
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}

	token, err := signedurl.Sign(t.URLSigningKeys[0], signedurl.Payload{
		URL: "/object/" + bucket + "/" + key, Owner: owner(c), Upsert: req.Upsert,
	}, ttl)
	if err != nil {
		return writeError(c, apierr.Wrap(apierr.InternalError, "sign upload url", err))
	}

	return writeJSON(c, 200, SignedURLResponse{
		SignedURL: "/object/upload/sign/" + bucket + "/" + key + "?token=" + token,
		Token:     token,
	})
}

// handleUploadWithToken implements PUT /object/upload/sign/:bucket/*key:
// redeems an upload token minted by handleSignUpload and streams the
// body in as that token's owner.
func (s *Server) handleUploadWithToken(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil || len(t.URLSigningKeys) == 0 {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant has no url signing key configured"))
	}
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")

	p, err := signedurl.Verify(t.URLSigningKeys, c.Query("token"))
	if err != nil {
		return writeError(c, apierr.Wrap(apierr.InvalidSignature, "invalid signed upload token", err))
	}
	if p.URL != "/object/"+bucket+"/"+key {
		return writeError(c, apierr.New(apierr.InvalidSignature, "token does not match this object"))
	}

	b, err := s.bucketByID(c, t.ID, bucket)
	if err != nil {
		return writeError(c, err)
	}

	req := c.Request()
	size := req.ContentLength
	if size <= 0 {
		return writeError(c, apierr.New(apierr.MissingContentLength, "content-length is required"))
	}
	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	obj, err := s.Lifecycle.Upload(c.Context(), &lifecycle.UploadRequest{
		TenantID: t.ID, Tenant: t, Bucket: b, Name: key, Owner: p.Owner,
		Body: req.Body, Size: size, ContentType: contentType,
		CacheControl: req.Header.Get("Cache-Control"),
		Upsert:       p.Upsert, ReqID: requestID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, toObjectResponse(obj))
}

// parseByteRange parses a single "bytes=start-end" range header against
// size, returning (offset, length, ok).
func parseByteRange(header string, size int64) (int64, int64, bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if parts[0] == "" {
		suffix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, false
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, suffix, true
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if parts[1] != "" {
		if e, err := strconv.ParseInt(parts[1], 10, 64); err == nil && e < end {
			end = e
		}
	}
	return start, end - start + 1, true
}

func contentRangeHeader(start, end, size int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(size, 10)
}
