// Package multipart implements the S3 multipart upload state machine:
// initiate, upload-part, complete, and abort, with server-side in-flight
// size accounting tamper-checked by an HMAC signature on every part
// upload. State lives in DB rows, not process memory, because an upload
// must survive across gateway nodes and restarts.
package multipart

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/bytelimit"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// MaxPartSize mirrors the underlying S3 contract's per-part ceiling
// contract.
const MaxPartSize = 5 << 30 // 5 GiB

// Machine drives the multipart upload state machine. It
// shares the lifecycle Coordinator's DB/blob handles so Complete can
// delegate the final upsert+webhook+cleanup to H without duplicating
// that choreography.
type Machine struct {
	DB          *dbgateway.Gateway
	Blob        blobstore.Backend
	Lifecycle   *lifecycle.Coordinator
	SignSecret  []byte
	StandardMax int64
}

func (m *Machine) sign(progress int64) string {
	h := hmac.New(sha256.New, m.SignSecret)
	h.Write([]byte("progress:" + strconv.FormatInt(progress, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Machine) verify(progress int64, signature string) bool {
	expected := m.sign(progress)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// InitiateRequest describes a CreateMultipartUpload call.
type InitiateRequest struct {
	TenantID     string
	Bucket       *dbgateway.Bucket
	Key          string
	ContentType  string
	Owner        string
	UserMetadata map[string]any
}

// Initiate allocates a version, opens the
// upload with the blob backend, and persist the zero-progress row with
// its first signature.
func (m *Machine) Initiate(ctx context.Context, req *InitiateRequest) (*dbgateway.MultipartUpload, error) {
	version := uuid.NewString()
	key := lifecycle.BlobKey(req.TenantID, req.Bucket.ID, req.Key, version)

	uploadID, err := m.Blob.CreateMultipartUpload(ctx, key, req.ContentType)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "create multipart upload", err)
	}

	row := &dbgateway.MultipartUpload{
		UploadID:        uploadID,
		TenantID:        req.TenantID,
		BucketID:        req.Bucket.ID,
		Key:             req.Key,
		Version:         version,
		InProgressSize:  0,
		UploadSignature: m.sign(0),
		Owner:           req.Owner,
		UserMetadata:    req.UserMetadata,
	}
	if err := m.DB.CreateMultipartUpload(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// maxFileSize mirrors lifecycle.Coordinator's effectiveMaxSize rule,
// duplicated here in terms of *dbgateway.Bucket/*tenant.Tenant so the
// multipart state machine doesn't need to import lifecycle's unexported
// helper.
func (m *Machine) maxFileSize(t *tenant.Tenant, b *dbgateway.Bucket) int64 {
	max := m.StandardMax
	clamp := func(v int64) {
		if v > 0 && (max <= 0 || v < max) {
			max = v
		}
	}
	if t != nil {
		clamp(t.GlobalFileSizeLimit)
	}
	if b != nil && b.FileSizeLimit != nil {
		clamp(*b.FileSizeLimit)
	}
	return max
}

// UploadPartRequest describes one UploadPart call.
type UploadPartRequest struct {
	UploadID      string
	PartNumber    int
	ContentLength int64
	Body          interface {
		Read([]byte) (int, error)
	}
	Tenant *tenant.Tenant
	Bucket *dbgateway.Bucket
}

// UploadPart performs tamper-checked progress
// accounting inside a transaction, then the byte-limited blob write
// outside it, with a compensating transaction if the blob write fails.
func (m *Machine) UploadPart(ctx context.Context, req *UploadPartRequest) (*dbgateway.UploadPart, error) {
	if req.ContentLength <= 0 {
		return nil, apierr.New(apierr.MissingContentLength, "content-length is required")
	}
	if req.ContentLength > MaxPartSize {
		return nil, apierr.New(apierr.EntityTooLarge, "part exceeds maximum part size")
	}

	var upload *dbgateway.MultipartUpload
	var newProgress int64

	err := m.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		var err error
		upload, err = tx.FindMultipartUpload(ctx, req.UploadID, dbgateway.FindOptions{ForUpdate: true})
		if err != nil {
			return err
		}
		if !m.verify(upload.InProgressSize, upload.UploadSignature) {
			return apierr.New(apierr.InvalidUploadSignature, "upload progress signature mismatch")
		}
		newProgress = upload.InProgressSize + req.ContentLength
		maxSize := m.maxFileSize(req.Tenant, req.Bucket)
		if maxSize > 0 && newProgress > maxSize {
			return apierr.New(apierr.EntityTooLarge, "multipart upload exceeds size limit")
		}
		return tx.UpdateMultipartProgress(ctx, req.UploadID, newProgress, m.sign(newProgress))
	})
	if err != nil {
		return nil, err
	}

	key := lifecycle.BlobKey(upload.TenantID, upload.BucketID, upload.Key, upload.Version)
	limited := bytelimit.NewReader(req.Body, req.ContentLength)
	part, err := m.Blob.UploadPart(ctx, key, req.UploadID, req.PartNumber, limited, req.ContentLength)
	if err != nil {
		// Compensate: the reservation was optimistic, so give it back in
		// a second transaction.
		_ = m.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
			cur, err := tx.FindMultipartUpload(ctx, req.UploadID, dbgateway.FindOptions{ForUpdate: true})
			if err != nil {
				return err
			}
			restored := cur.InProgressSize - req.ContentLength
			if restored < 0 {
				restored = 0
			}
			return tx.UpdateMultipartProgress(ctx, req.UploadID, restored, m.sign(restored))
		})
		return nil, apierr.Wrap(apierr.InternalError, "upload part bytes", err)
	}

	row := &dbgateway.UploadPart{
		UploadID: req.UploadID, PartNumber: req.PartNumber, ETag: part.ETag,
		Version: upload.Version, Size: part.Size,
	}
	if err := m.DB.InsertUploadPart(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// CompleteRequest describes a CompleteMultipartUpload call.
type CompleteRequest struct {
	UploadID string
	Parts    []blobstore.Part // from the request body; if nil, persisted parts are used
	Tenant   *tenant.Tenant
	Bucket   *dbgateway.Bucket
	ReqID    string
}

// Complete assembles the parts, finishes the blob
// side, then delegate the metadata upsert + webhook + orphan scheduling
// to the lifecycle coordinator exactly as an ordinary single-shot upload
// would, before deleting the upload row.
func (m *Machine) Complete(ctx context.Context, req *CompleteRequest) (*dbgateway.Object, error) {
	upload, err := m.DB.FindMultipartUpload(ctx, req.UploadID, dbgateway.FindOptions{})
	if err != nil {
		return nil, err
	}

	parts := req.Parts
	if len(parts) == 0 {
		persisted, err := m.DB.ListParts(ctx, req.UploadID)
		if err != nil {
			return nil, err
		}
		for _, p := range persisted {
			parts = append(parts, blobstore.Part{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size})
		}
	}
	if len(parts) == 0 {
		return nil, apierr.New(apierr.InvalidRequest, "no parts to complete")
	}

	key := lifecycle.BlobKey(upload.TenantID, upload.BucketID, upload.Key, upload.Version)
	info, err := m.Blob.CompleteMultipartUpload(ctx, key, req.UploadID, parts)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "complete multipart upload", err)
	}
	if head, err := m.Blob.HeadObject(ctx, key); err == nil {
		info = head
	}

	var totalSize int64
	for _, p := range parts {
		totalSize += p.Size
	}
	if info.Size > 0 {
		totalSize = info.Size
	}

	obj, err := m.Lifecycle.FinalizeExternalWrite(ctx, upload.TenantID, req.Tenant, req.Bucket,
		upload.Key, upload.Owner, upload.Version, totalSize, info.ContentType, info.CacheControl,
		info.ETag, upload.UserMetadata, req.ReqID)
	if err != nil {
		return nil, err
	}

	if err := m.DB.DeleteMultipartUpload(ctx, req.UploadID); err != nil {
		return nil, err
	}
	return obj, nil
}

// Abort cancels the upload with the blob backend and drops the row.
func (m *Machine) Abort(ctx context.Context, uploadID string) error {
	upload, err := m.DB.FindMultipartUpload(ctx, uploadID, dbgateway.FindOptions{})
	if err != nil {
		return err
	}
	key := lifecycle.BlobKey(upload.TenantID, upload.BucketID, upload.Key, upload.Version)
	if err := m.Blob.AbortMultipartUpload(ctx, key, uploadID); err != nil {
		return apierr.Wrap(apierr.InternalError, "abort multipart upload", err)
	}
	return m.DB.DeleteMultipartUpload(ctx, uploadID)
}
