package s3router

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/multipart"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// objectBufferSize sizes the pooled streaming buffer.
const objectBufferSize = 8 << 20

var objectBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, objectBufferSize)
		return &buf
	},
}

func getObjectBuffer() []byte {
	return *objectBufferPool.Get().(*[]byte)
}

func putObjectBuffer(buf []byte) {
	if cap(buf) >= objectBufferSize {
		objectBufferPool.Put(&buf)
	}
}

func objectKey(c *mizu.Ctx) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// handleObjectGet implements GET /{Bucket}/{Key} -> GetObject, with
// single-range support (Range: bytes=start-end -> 206).
func (s *Server) handleObjectGet(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}
	key := objectKey(c)
	ctx := c.Context()

	obj, err := s.DB.FindObject(ctx, t.ID, b.ID, key, dbgateway.FindOptions{})
	if err != nil {
		return writeXMLError(c, err)
	}

	blobKey := lifecycle.BlobKey(t.ID, b.ID, key, obj.Version)
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
		return writeXMLError(c, apierr.Wrap(apierr.InternalError, "get object bytes", err))
	}
	defer body.Close()

	w := c.Writer()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
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

// handleHeadObject implements HEAD /{Bucket}/{Key} -> HeadObject.
func (s *Server) handleHeadObject(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		c.Status(apierr.As(err).Status())
		return nil
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		c.Status(apierr.As(err).Status())
		return nil
	}
	obj, err := s.DB.FindObject(c.Context(), t.ID, b.ID, objectKey(c), dbgateway.FindOptions{})
	if err != nil {
		c.Status(apierr.As(err).Status())
		return nil
	}
	w := c.Writer()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
	c.Status(200)
	return nil
}

// handleObjectPut implements PUT /{Bucket}/{Key}: PutObject, UploadPart,
// CopyObject, and UploadPartCopy, disambiguated by
// query.Has("partNumber") && query.Has("uploadId"), then the
// x-amz-copy-source header.
func (s *Server) handleObjectPut(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}
	key := objectKey(c)
	q := c.Request().URL.Query()
	copySource := c.Request().Header.Get("x-amz-copy-source")

	switch {
	case q.Has("partNumber") && q.Has("uploadId") && copySource != "":
		return s.uploadPartCopy(c, t, b, key, q)
	case q.Has("partNumber") && q.Has("uploadId"):
		return s.uploadPart(c, t, b, q)
	case copySource != "":
		return s.copyObject(c, t, b, key, copySource)
	default:
		return s.putObject(c, t, b, key)
	}
}

func (s *Server) putObject(c *mizu.Ctx, t *tenant.Tenant, b *dbgateway.Bucket, key string) error {
	req := c.Request()
	size := req.ContentLength
	if size < 0 {
		return writeXMLError(c, apierr.New(apierr.MissingContentLength, "content-length is required"))
	}
	obj, err := s.Lifecycle.Upload(c.Context(), &lifecycle.UploadRequest{
		TenantID:    t.ID,
		Tenant:      t,
		Bucket:      b,
		Name:        key,
		Owner:       t.ID,
		Body:        req.Body,
		Size:        size,
		ContentType: req.Header.Get("Content-Type"),
		Upsert:      true,
		ReqID:       requestID(c),
	})
	if err != nil {
		return writeXMLError(c, err)
	}
	c.Writer().Header().Set("ETag", obj.ETag)
	c.Status(200)
	return nil
}

func (s *Server) copyObject(c *mizu.Ctx, t *tenant.Tenant, dstBucket *dbgateway.Bucket, dstKey, copySource string) error {
	srcBucketName, srcKey, ok := parseCopySource(copySource)
	if !ok {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "invalid x-amz-copy-source"))
	}
	srcBucket, err := s.bucketByName(c.Context(), t.ID, srcBucketName)
	if err != nil {
		return writeXMLError(c, err)
	}
	obj, err := s.Lifecycle.Copy(c.Context(), &lifecycle.CopyRequest{
		TenantID:  t.ID,
		Tenant:    t,
		SrcBucket: srcBucket,
		SrcName:   srcKey,
		DstBucket: dstBucket,
		DstName:   dstKey,
		Upsert:    true,
		ReqID:     requestID(c),
	})
	if err != nil {
		return writeXMLError(c, err)
	}
	return writeXML(c, 200, copyObjectResult{ETag: obj.ETag, LastModified: obj.UpdatedAt})
}

func (s *Server) uploadPart(c *mizu.Ctx, t *tenant.Tenant, b *dbgateway.Bucket, q url.Values) error {
	req := c.Request()
	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "invalid partNumber"))
	}
	part, err := s.Multipart.UploadPart(c.Context(), &multipart.UploadPartRequest{
		UploadID:      q.Get("uploadId"),
		PartNumber:    partNumber,
		ContentLength: req.ContentLength,
		Body:          req.Body,
		Tenant:        t,
		Bucket:        b,
	})
	if err != nil {
		return writeXMLError(c, err)
	}
	c.Writer().Header().Set("ETag", part.ETag)
	c.Status(200)
	return nil
}

// uploadPartCopy implements PUT …?partNumber=&uploadId= with
// x-amz-copy-source: server-side copies a byte range of an existing
// object directly into an in-progress multipart upload, bypassing the
// single-shot HMAC progress accounting since the source bytes are
// already durable and the destination size is known up front from the
// source object's own metadata.
func (s *Server) uploadPartCopy(c *mizu.Ctx, t *tenant.Tenant, b *dbgateway.Bucket, dstKey string, q url.Values) error {
	ctx := c.Context()
	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "invalid partNumber"))
	}
	uploadID := q.Get("uploadId")

	srcBucketName, srcKey, ok := parseCopySource(c.Request().Header.Get("x-amz-copy-source"))
	if !ok {
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "invalid x-amz-copy-source"))
	}
	srcBucket, err := s.bucketByName(ctx, t.ID, srcBucketName)
	if err != nil {
		return writeXMLError(c, err)
	}
	srcObj, err := s.DB.FindObject(ctx, t.ID, srcBucket.ID, srcKey, dbgateway.FindOptions{})
	if err != nil {
		return writeXMLError(c, err)
	}
	upload, err := s.DB.FindMultipartUpload(ctx, uploadID, dbgateway.FindOptions{})
	if err != nil {
		return writeXMLError(c, err)
	}

	byteRange := [2]int64{0, srcObj.Size - 1}
	if rng := c.Request().Header.Get("x-amz-copy-source-range"); rng != "" {
		if start, length, ok := parseByteRange(rng, srcObj.Size); ok {
			byteRange = [2]int64{start, start + length - 1}
		}
	}

	srcBlobKey := lifecycle.BlobKey(t.ID, srcBucket.ID, srcKey, srcObj.Version)
	dstBlobKey := lifecycle.BlobKey(t.ID, b.ID, dstKey, upload.Version)
	part, err := s.Multipart.Blob.UploadPartCopy(ctx, dstBlobKey, uploadID, partNumber, srcBlobKey, byteRange)
	if err != nil {
		return writeXMLError(c, apierr.Wrap(apierr.InternalError, "upload part copy", err))
	}
	if err := s.DB.InsertUploadPart(ctx, &dbgateway.UploadPart{
		UploadID: uploadID, PartNumber: partNumber, ETag: part.ETag,
		Version: upload.Version, Size: part.Size,
	}); err != nil {
		return writeXMLError(c, err)
	}
	return writeXML(c, 200, copyPartResult{ETag: part.ETag, LastModified: time.Now()})
}

// handleObjectPost implements POST /{Bucket}/{Key}: CreateMultipartUpload
// (?uploads) and CompleteMultipartUpload (?uploadId=).
func (s *Server) handleObjectPost(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}
	key := objectKey(c)
	q := c.Request().URL.Query()

	switch {
	case q.Has("uploads"):
		return s.createMultipartUpload(c, t, b, key)
	case q.Has("uploadId"):
		return s.completeMultipartUpload(c, t, b, key, q.Get("uploadId"))
	default:
		return writeXMLError(c, apierr.New(apierr.InvalidRequest, "unsupported object POST operation"))
	}
}

func (s *Server) createMultipartUpload(c *mizu.Ctx, t *tenant.Tenant, b *dbgateway.Bucket, key string) error {
	upload, err := s.Multipart.Initiate(c.Context(), &multipart.InitiateRequest{
		TenantID:    t.ID,
		Bucket:      b,
		Key:         key,
		ContentType: c.Request().Header.Get("Content-Type"),
		Owner:       t.ID,
	})
	if err != nil {
		return writeXMLError(c, err)
	}
	return writeXML(c, 200, initiateMultipartUploadResult{Bucket: b.Name, Key: key, UploadId: upload.UploadID})
}

func (s *Server) completeMultipartUpload(c *mizu.Ctx, t *tenant.Tenant, b *dbgateway.Bucket, key, uploadID string) error {
	defer func() { _ = c.Request().Body.Close() }()
	var body completeMultipartUpload
	_ = decodeXML(c, &body) // absent/empty body falls back to persisted parts

	parts := make([]blobstore.Part, 0, len(body.Parts))
	for _, p := range body.Parts {
		parts = append(parts, blobstore.Part{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	obj, err := s.Multipart.Complete(c.Context(), &multipart.CompleteRequest{
		UploadID: uploadID,
		Parts:    parts,
		Tenant:   t,
		Bucket:   b,
		ReqID:    requestID(c),
	})
	if err != nil {
		return writeXMLError(c, err)
	}
	return writeXML(c, 200, completeMultipartUploadResult{
		Location: "/" + b.Name + "/" + key,
		Bucket:   b.Name,
		Key:      key,
		ETag:     obj.ETag,
	})
}

// handleObjectDelete implements DELETE /{Bucket}/{Key}: DeleteObject and
// AbortMultipartUpload (?uploadId=).
func (s *Server) handleObjectDelete(c *mizu.Ctx) error {
	t, err := s.authenticate(c)
	if err != nil {
		return writeXMLError(c, err)
	}
	b, err := s.bucketByName(c.Context(), t.ID, c.Param("bucket"))
	if err != nil {
		return writeXMLError(c, err)
	}
	q := c.Request().URL.Query()
	if uploadID := q.Get("uploadId"); uploadID != "" {
		if err := s.Multipart.Abort(c.Context(), uploadID); err != nil {
			return writeXMLError(c, err)
		}
		c.Status(204)
		return nil
	}
	if err := s.Lifecycle.Delete(c.Context(), t, t.ID, b, objectKey(c), requestID(c)); err != nil {
		return writeXMLError(c, err)
	}
	c.Status(204)
	return nil
}
