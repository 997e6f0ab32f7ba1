package s3router

import (
	"encoding/xml"
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
)

// handleListBuckets implements GET / -> ListBuckets.
func (s *Server) handleListBuckets(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	buckets, err := s.DB.ListBuckets(c.Context(), t.ID, 1000, 0)
	if err != nil {
		return writeXMLError(c, err)
	}
	out := listAllMyBucketsResult{Owner: bucketOwner{ID: t.ID, DisplayName: t.Ref}}
	for _, b := range buckets {
		out.Buckets = append(out.Buckets, bucketSummary{Name: b.Name, CreationDate: b.CreatedAt})
	}
	return writeXML(c, 200, out)
}

// handleBucketPut implements PUT /{Bucket} -> CreateBucket.
func (s *Server) handleBucketPut(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	name := c.Param("bucket")
	b := &dbgateway.Bucket{
		ID:     uuid.NewString(),
		Name:   name,
		Public: c.Request().Header.Get("x-amz-acl") == "public-read",
	}
	if err := s.DB.CreateBucket(c.Context(), t.ID, b); err != nil {
		return writeXMLError(c, err)
	}
	c.Writer().Header().Set("Location", "/"+name)
	c.Status(200)
	return nil
}

// handleDeleteBucket implements DELETE /{Bucket} -> DeleteBucket.
func (s *Server) handleDeleteBucket(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}
	n, err := s.DB.BucketObjectCount(c.Context(), t.ID, b.ID)
	if err != nil {
		return writeXMLError(c, err)
	}
	if n > 0 {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "bucket is not empty"))
	}
	if err := s.DB.DeleteBucket(c.Context(), t.ID, b.ID); err != nil {
		return writeXMLError(c, err)
	}
	c.Status(204)
	return nil
}

// handleHeadBucket implements HEAD /{Bucket} -> HeadBucket.
func (s *Server) handleHeadBucket(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	if _, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket")); err != nil {
		c.Status(apierr.As(err).Status())
		return nil
	}
	c.Writer().Header().Set("x-amz-bucket-region", s.Region)
	c.Status(200)
	return nil
}

// handleBucketGet implements GET /{Bucket}? -> ListObjectsV2.
func (s *Server) handleBucketGet(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}

	q := c.Request().URL.Query()
	maxKeys := 1000
	if raw := q.Get("max-keys"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			maxKeys = n
		}
	}
	opts := dbgateway.ListOptions{
		Prefix:       q.Get("prefix"),
		Delimiter:    q.Get("delimiter"),
		MaxKeys:      maxKeys,
		Continuation: q.Get("continuation-token"),
		StartAfter:   q.Get("start-after"),
	}

	page, err := s.Lifecycle.ListObjectsV2(c.Context(), t.ID, b.ID, opts)
	if err != nil {
		return writeXMLError(c, err)
	}

	out := listBucketResult{
		Name:                  b.Name,
		Prefix:                opts.Prefix,
		Delimiter:             opts.Delimiter,
		MaxKeys:               maxKeys,
		KeyCount:              len(page.Objects) + len(page.Prefixes),
		IsTruncated:           page.IsTruncated,
		StartAfter:            opts.StartAfter,
		ContinuationToken:     opts.Continuation,
		NextContinuationToken: page.NextContinuation,
	}
	for _, o := range page.Objects {
		out.Contents = append(out.Contents, objectInfo{
			Key: o.Name, LastModified: o.UpdatedAt, ETag: o.ETag, Size: o.Size,
		})
	}
	for _, p := range page.Prefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, commonPrefix{Prefix: p})
	}
	return writeXML(c, 200, out)
}

// handleBucketPost implements POST /{Bucket}?delete -> DeleteObjects.
func (s *Server) handleBucketPost(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	q := c.Request().URL.Query()
	if !q.Has("delete") {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "unsupported bucket POST operation"))
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}

	defer func() { _ = c.Request().Body.Close() }()
	var req deleteRequest
	if err := xml.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeXMLError(c, apierr.Wrap(apierr.InvalidRequest, "invalid delete request body", err))
	}

	names := make([]string, 0, len(req.Objects))
	for _, o := range req.Objects {
		names = append(names, o.Key)
	}

	n, err := s.Lifecycle.DeleteMany(c.Context(), t, t.ID, b, names, 2000, requestID(c))
	if err != nil {
		return writeXMLError(c, err)
	}

	out := deleteResult{}
	if !req.Quiet {
		for i := 0; i < n && i < len(names); i++ {
			out.Deleted = append(out.Deleted, deletedEntry{Key: names[i]})
		}
	}
	return writeXML(c, 200, out)
}

// requestID honors a client-supplied request id and otherwise mints a
// ULID, so event consumers deduping on reqId get ids that also sort by
// arrival time in logs.
func requestID(c *mizu.Ctx) string {
	if id := c.Request().Header.Get("X-Amz-Request-Id"); id != "" {
		return id
	}
	return ulid.Make().String()
}
