package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/webhook"
)

// CopyRequest describes a server-side copy within the same bucket
// namespace.
type CopyRequest struct {
	TenantID    string
	Tenant      *tenant.Tenant
	SrcBucket   *dbgateway.Bucket
	SrcName     string
	DstBucket   *dbgateway.Bucket
	DstName     string
	Upsert      bool
	IfMatchETag string
	ReqID       string
}

// Copy allocates a new destination version,
// server-side copy the blob, then transactionally upsert the
// destination row and schedule its prior version for deletion.
func (c *Coordinator) Copy(ctx context.Context, req *CopyRequest) (*dbgateway.Object, error) {
	src, err := c.DB.FindObject(ctx, req.TenantID, req.SrcBucket.ID, req.SrcName, dbgateway.FindOptions{})
	if err != nil {
		return nil, err
	}

	if !req.Upsert {
		existing, err := c.DB.FindObject(ctx, req.TenantID, req.DstBucket.ID, req.DstName,
			dbgateway.FindOptions{DontErrorOnEmpty: true, Columns: dbgateway.ColID})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apierr.New(apierr.KeyAlreadyExists, "destination object already exists")
		}
	}

	dstVersion := uuid.NewString()
	srcKey := BlobKey(req.TenantID, req.SrcBucket.ID, req.SrcName, src.Version)
	dstKey := BlobKey(req.TenantID, req.DstBucket.ID, req.DstName, dstVersion)

	info, err := c.Blob.CopyObject(ctx, srcKey, dstKey, nil, blobstore.CopyCondition{IfMatchETag: req.IfMatchETag})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "copy object bytes", err)
	}
	if info.Size == 0 {
		if head, err := c.Blob.HeadObject(ctx, dstKey); err == nil {
			info = head
		}
	}

	dst := &dbgateway.Object{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		BucketID:     req.DstBucket.ID,
		Name:         req.DstName,
		Owner:        src.Owner,
		Version:      dstVersion,
		Size:         info.Size,
		ContentType:  src.ContentType,
		CacheControl: src.CacheControl,
		ETag:         info.ETag,
		UserMetadata: src.UserMetadata,
	}

	var priorVersion string
	err = c.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := tx.WaitObjectLock(ctx, req.DstBucket.ID, req.DstName, waitLockTimeout); err != nil {
			return err
		}
		existing, err := tx.FindObject(ctx, req.TenantID, req.DstBucket.ID, req.DstName,
			dbgateway.FindOptions{ForUpdate: true, DontErrorOnEmpty: true, Columns: dbgateway.ColID | dbgateway.ColVersion})
		if err != nil {
			return err
		}
		if existing != nil {
			priorVersion = existing.Version
			dst.ID = existing.ID
		}
		return tx.UpsertObject(ctx, dst)
	})
	if err != nil {
		c.scheduleAdminDelete(req.TenantID, req.DstBucket.ID, req.DstName, dstVersion)
		return nil, err
	}
	if priorVersion != "" {
		c.scheduleAdminDelete(req.TenantID, req.DstBucket.ID, req.DstName, priorVersion)
	}

	c.emit(req.Tenant, webhook.ObjectCreatedCopy, req.DstBucket.ID, req.DstName, dstVersion, req.ReqID, map[string]any{
		"size": dst.Size, "mimetype": dst.ContentType, "eTag": dst.ETag,
	})
	return dst, nil
}

// MoveRequest describes renaming an object, possibly across buckets
// within the same tenant.
type MoveRequest struct {
	TenantID  string
	Tenant    *tenant.Tenant
	SrcBucket *dbgateway.Bucket
	SrcName   string
	DstBucket *dbgateway.Bucket
	DstName   string
	ReqID     string
}

// Move renames an object. If source and destination blob keys
// coincide (same bucket and name), it is a no-op that returns the
// existing object unchanged.
func (c *Coordinator) Move(ctx context.Context, req *MoveRequest) (*dbgateway.Object, error) {
	if req.SrcBucket.ID == req.DstBucket.ID && req.SrcName == req.DstName {
		return c.DB.FindObject(ctx, req.TenantID, req.SrcBucket.ID, req.SrcName, dbgateway.FindOptions{})
	}

	src, err := c.DB.FindObject(ctx, req.TenantID, req.SrcBucket.ID, req.SrcName, dbgateway.FindOptions{})
	if err != nil {
		return nil, err
	}

	newVersion := uuid.NewString()
	srcKey := BlobKey(req.TenantID, req.SrcBucket.ID, req.SrcName, src.Version)
	dstKey := BlobKey(req.TenantID, req.DstBucket.ID, req.DstName, newVersion)

	info, err := c.Blob.CopyObject(ctx, srcKey, dstKey, nil, blobstore.CopyCondition{})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "move object bytes", err)
	}
	if info.Size == 0 {
		if head, err := c.Blob.HeadObject(ctx, dstKey); err == nil {
			info = head
		}
	}

	var dstPrior string
	err = c.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := tx.WaitObjectLock(ctx, req.SrcBucket.ID, req.SrcName, waitLockTimeout); err != nil {
			return err
		}
		if req.DstBucket.ID != req.SrcBucket.ID || req.DstName != req.SrcName {
			if existing, err := tx.FindObject(ctx, req.TenantID, req.DstBucket.ID, req.DstName,
				dbgateway.FindOptions{ForUpdate: true, DontErrorOnEmpty: true, Columns: dbgateway.ColVersion}); err != nil {
				return err
			} else if existing != nil {
				dstPrior = existing.Version
			}
		}
		if req.SrcBucket.ID == req.DstBucket.ID {
			return tx.UpdateObjectName(ctx, req.TenantID, req.SrcBucket.ID, req.SrcName, req.DstName, newVersion)
		}
		// Cross-bucket move: delete the source row and upsert a fresh one
		// under the destination bucket, since the uniqueness constraint is
		// scoped per bucket.
		if err := tx.DeleteObject(ctx, req.TenantID, req.SrcBucket.ID, req.SrcName); err != nil {
			return err
		}
		dst := &dbgateway.Object{
			ID: uuid.NewString(), TenantID: req.TenantID, BucketID: req.DstBucket.ID, Name: req.DstName,
			Owner: src.Owner, Version: newVersion, Size: info.Size, ContentType: src.ContentType,
			CacheControl: src.CacheControl, ETag: info.ETag, UserMetadata: src.UserMetadata,
		}
		return tx.UpsertObject(ctx, dst)
	})
	if err != nil {
		c.scheduleAdminDelete(req.TenantID, req.DstBucket.ID, req.DstName, newVersion)
		return nil, err
	}

	c.scheduleAdminDelete(req.TenantID, req.SrcBucket.ID, req.SrcName, src.Version)
	if dstPrior != "" {
		c.scheduleAdminDelete(req.TenantID, req.DstBucket.ID, req.DstName, dstPrior)
	}

	c.emit(req.Tenant, webhook.ObjectRemovedMove, req.SrcBucket.ID, req.SrcName, src.Version, req.ReqID, nil)
	c.emit(req.Tenant, webhook.ObjectCreatedMove, req.DstBucket.ID, req.DstName, newVersion, req.ReqID, nil)

	return c.DB.FindObject(ctx, req.TenantID, req.DstBucket.ID, req.DstName, dbgateway.FindOptions{})
}
