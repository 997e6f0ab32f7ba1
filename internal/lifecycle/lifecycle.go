// Package lifecycle implements the object lifecycle coordinator:
// the transactional choreography that keeps the metadata database and
// the backing blob store from ever diverging across create, overwrite,
// copy, move, and delete, and that schedules orphaned blob versions for
// cleanup when either side of that pair fails.
package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/bytelimit"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/objectkey"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/webhook"
)

// waitLockTimeout bounds how long the write transaction waits for the
// blocking advisory lock on (bucket, name) ahead of its FOR UPDATE read,
// bounded at five seconds (upload uses
// the same primitive and budget).
const waitLockTimeout = 5 * time.Second

// Coordinator owns the DB+blob consistency invariant. It is safe
// for concurrent use; all mutable state lives in the database.
type Coordinator struct {
	DB       *dbgateway.Gateway
	Blob     blobstore.Backend
	Webhooks *webhook.Dispatcher
	Logger   *slog.Logger

	// StandardMaxFileSize is the configured global ceiling applied in
	// addition to any bucket or tenant limit.
	StandardMaxFileSize int64
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// BlobKey builds the fully-qualified key the blob backend stores under:
// tenant/bucket/name/version.
func BlobKey(tenantID, bucketID, name, version string) string {
	return tenantID + "/" + bucketID + "/" + name + "/" + version
}

// UploadRequest describes a single-shot (non-multipart) object write.
type UploadRequest struct {
	TenantID     string
	Tenant       *tenant.Tenant
	Bucket       *dbgateway.Bucket
	Name         string
	Owner        string
	Body         io.Reader
	Size         int64
	ContentType  string
	CacheControl string
	UserMetadata map[string]any
	Upsert       bool // false means "create only", fails KeyAlreadyExists if present
	ReqID        string
}

// effectiveMaxSize returns the tightest of the standard, tenant, and
// bucket limits; zero/negative entries are treated as "no limit".
func (c *Coordinator) effectiveMaxSize(t *tenant.Tenant, b *dbgateway.Bucket) int64 {
	max := c.StandardMaxFileSize
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

// checkMimeType enforces the bucket's allowed_mime_types allow-list, if
// any is configured. Entries may be exact ("image/png") or a wildcard
// subtype ("image/*").
func checkMimeType(b *dbgateway.Bucket, contentType string) error {
	if b == nil || len(b.AllowedMimeTypes) == 0 {
		return nil
	}
	typ := contentType
	if idx := indexByte(typ, ';'); idx >= 0 {
		typ = typ[:idx]
	}
	slash := indexByte(typ, '/')
	for _, allowed := range b.AllowedMimeTypes {
		if allowed == typ {
			return nil
		}
		if slash >= 0 {
			if aslash := indexByte(allowed, '/'); aslash >= 0 && allowed[aslash+1:] == "*" && allowed[:aslash] == typ[:slash] {
				return nil
			}
		}
	}
	return apierr.New(apierr.InvalidRequest, "content type "+contentType+" not allowed for this bucket")
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Upload runs the write choreography: permission check, fresh version,
// byte-limited blob write, then a single transaction that upserts the
// row and schedules the prior version (if any) for deletion.
func (c *Coordinator) Upload(ctx context.Context, req *UploadRequest) (*dbgateway.Object, error) {
	if !objectkey.ValidKey(req.Name) {
		return nil, apierr.New(apierr.InvalidKey, "invalid object key")
	}
	if err := checkMimeType(req.Bucket, req.ContentType); err != nil {
		return nil, err
	}

	if !req.Upsert {
		existing, err := c.DB.FindObject(ctx, req.TenantID, req.Bucket.ID, req.Name,
			dbgateway.FindOptions{DontErrorOnEmpty: true, Columns: dbgateway.ColID})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apierr.New(apierr.KeyAlreadyExists, "object already exists")
		}
	}

	version := uuid.NewString()
	maxSize := c.effectiveMaxSize(req.Tenant, req.Bucket)
	limited := bytelimit.NewReader(req.Body, maxSize)

	key := BlobKey(req.TenantID, req.Bucket.ID, req.Name, version)
	info, err := c.Blob.UploadObject(ctx, key, limited, req.Size, req.ContentType, req.CacheControl)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "upload object bytes", err)
	}

	evType := webhook.ObjectCreatedPut
	if !req.Upsert {
		evType = webhook.ObjectCreatedPost
	}
	return c.finalize(ctx, finalizeWrite{
		tenantID: req.TenantID, tenant: req.Tenant, bucket: req.Bucket, name: req.Name,
		owner: req.Owner, version: version, size: info.Size, contentType: req.ContentType,
		cacheControl: req.CacheControl, etag: info.ETag, userMetadata: req.UserMetadata,
		reqID: req.ReqID, event: evType,
	})
}

// finalizeWrite carries everything finalize needs to upsert the DB row,
// schedule orphan cleanup, and emit the lifecycle webhook, once the blob
// bytes for a new version already exist under their final key — whether
// because Upload just wrote them directly, or because the multipart
// state machine's Complete already assembled them server-side.
type finalizeWrite struct {
	tenantID     string
	tenant       *tenant.Tenant
	bucket       *dbgateway.Bucket
	name         string
	owner        string
	version      string
	size         int64
	contentType  string
	cacheControl string
	etag         string
	userMetadata map[string]any
	reqID        string
	event        webhook.EventType
}

// finalize runs the transactional upsert+prior-version-cleanup+webhook
// choreography shared by Upload and the multipart Complete path: on
// return the DB row points at fw.version, the previous version (if any)
// is scheduled for deletion, and the corresponding lifecycle event has
// been queued.
func (c *Coordinator) finalize(ctx context.Context, fw finalizeWrite) (*dbgateway.Object, error) {
	var priorVersion string
	obj := &dbgateway.Object{
		ID:           uuid.NewString(),
		TenantID:     fw.tenantID,
		BucketID:     fw.bucket.ID,
		Name:         fw.name,
		Owner:        fw.owner,
		Version:      fw.version,
		Size:         fw.size,
		ContentType:  fw.contentType,
		CacheControl: fw.cacheControl,
		ETag:         fw.etag,
		UserMetadata: fw.userMetadata,
	}

	err := c.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := tx.WaitObjectLock(ctx, fw.bucket.ID, fw.name, waitLockTimeout); err != nil {
			return err
		}
		existing, err := tx.FindObject(ctx, fw.tenantID, fw.bucket.ID, fw.name,
			dbgateway.FindOptions{ForUpdate: true, DontErrorOnEmpty: true, Columns: dbgateway.ColID | dbgateway.ColVersion})
		if err != nil {
			return err
		}
		if existing != nil {
			priorVersion = existing.Version
			obj.ID = existing.ID
		}
		return tx.UpsertObject(ctx, obj)
	})
	if err != nil {
		// Blob bytes landed but the DB side failed: schedule them for
		// cleanup so no orphan blob survives indefinitely.
		c.scheduleAdminDelete(fw.tenantID, fw.bucket.ID, fw.name, fw.version)
		return nil, err
	}

	if priorVersion != "" && priorVersion != fw.version {
		c.scheduleAdminDelete(fw.tenantID, fw.bucket.ID, fw.name, priorVersion)
	}

	c.emit(fw.tenant, fw.event, fw.bucket.ID, fw.name, fw.version, fw.reqID, map[string]any{
		"size":         obj.Size,
		"mimetype":     obj.ContentType,
		"cacheControl": obj.CacheControl,
		"eTag":         obj.ETag,
	})

	return obj, nil
}

// FinalizeExternalWrite is finalize's exported form, used by the
// multipart state machine's Complete once blob.CompleteMultipartUpload
// has already assembled the final bytes under the multipart upload's own
// version — there is no second blob write to perform, only the DB+webhook
// half of the invariant.
func (c *Coordinator) FinalizeExternalWrite(ctx context.Context, tenantID string, t *tenant.Tenant, bucket *dbgateway.Bucket, name, owner, version string, size int64, contentType, cacheControl, etag string, userMetadata map[string]any, reqID string) (*dbgateway.Object, error) {
	return c.finalize(ctx, finalizeWrite{
		tenantID: tenantID, tenant: t, bucket: bucket, name: name, owner: owner,
		version: version, size: size, contentType: contentType, cacheControl: cacheControl,
		etag: etag, userMetadata: userMetadata, reqID: reqID, event: webhook.ObjectCreatedPost,
	})
}

// scheduleAdminDelete records the orphan both as a best-effort inline
// blob delete and as a durable pending_deletes row, so a process crash
// between the two never loses the cleanup obligation: the sweeper
// retries anything left in pending_deletes.
func (c *Coordinator) scheduleAdminDelete(tenantID, bucketID, name, version string) {
	key := BlobKey(tenantID, bucketID, name, version)
	if err := c.DB.AsSuperUser().ScheduleOrphanDelete(context.Background(), tenantID, bucketID, name, version); err != nil {
		c.logger().Error("lifecycle: schedule orphan delete", "key", key, "error", err)
	}
	go c.AdminDelete(context.Background(), tenantID, bucketID, name, version)
}

// AdminDelete is the idempotent ObjectAdminDelete job: it
// deletes the specified blob version and clears its pending_deletes row.
// Deleting an already-absent blob is not an error.
func (c *Coordinator) AdminDelete(ctx context.Context, tenantID, bucketID, name, version string) {
	key := BlobKey(tenantID, bucketID, name, version)
	if err := c.Blob.DeleteObject(ctx, key); err != nil && err != blobstore.ErrNotExist {
		c.logger().Error("lifecycle: admin delete blob", "key", key, "error", err)
		return
	}
	if err := c.DB.AsSuperUser().ClearOrphanDelete(ctx, tenantID, bucketID, name, version); err != nil {
		c.logger().Error("lifecycle: clear orphan record", "key", key, "error", err)
	}
}

func (c *Coordinator) emit(t *tenant.Tenant, evType webhook.EventType, bucketID, name, version, reqID string, metadata map[string]any) {
	if c.Webhooks == nil || t == nil {
		return
	}
	c.Webhooks.Emit(t.Ref, webhook.Event{
		Version: "1",
		Type:    evType,
		Payload: webhook.Payload{
			Tenant:   webhook.TenantRef{Ref: t.Ref, Host: t.Host},
			BucketID: bucketID,
			Name:     name,
			Version:  version,
			Metadata: metadata,
			ReqID:    reqID,
		},
		ApplyTime: time.Now().UnixMilli(),
	})
}
