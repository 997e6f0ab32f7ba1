package lifecycle

import (
	"context"
	"net/url"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/webhook"
)

// Delete removes one object: a single transaction reads the row
// FOR UPDATE, removes it, then the blob is deleted outside the
// transaction (the row disappearing is the durable half of the
// invariant; a failed blob delete here just leaves an orphan the sweep
// will eventually clear).
func (c *Coordinator) Delete(ctx context.Context, t *tenant.Tenant, tenantID string, bucket *dbgateway.Bucket, name, reqID string) error {
	var version string
	err := c.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		obj, err := tx.FindObject(ctx, tenantID, bucket.ID, name,
			dbgateway.FindOptions{ForUpdate: true, Columns: dbgateway.ColVersion})
		if err != nil {
			return err
		}
		version = obj.Version
		return tx.DeleteObject(ctx, tenantID, bucket.ID, name)
	})
	if err != nil {
		return err
	}

	key := BlobKey(tenantID, bucket.ID, name, version)
	if err := c.Blob.DeleteObject(ctx, key); err != nil {
		c.logger().Error("lifecycle: delete blob", "key", key, "error", err)
		_ = c.DB.AsSuperUser().ScheduleOrphanDelete(ctx, tenantID, bucket.ID, name, version)
	}

	c.emit(t, webhook.ObjectRemoved, bucket.ID, name, version, reqID, nil)
	return nil
}

// urlLengthOverhead is the constant DeleteMany's batching rule adds
// per prefix ("+9") to account for the surrounding JSON/XML envelope
// syntax around each encoded key in the delete-many request body.
const urlLengthOverhead = 9

// BatchPrefixes partitions names into groups whose cumulative
// encodeURIComponent length (plus the per-entry overhead) stays at or
// under urlLengthLimit.
func BatchPrefixes(names []string, urlLengthLimit int) [][]string {
	var batches [][]string
	var current []string
	var currentLen int
	for _, name := range names {
		encodedLen := len(url.QueryEscape(name)) + urlLengthOverhead
		if len(current) > 0 && currentLen+encodedLen > urlLengthLimit {
			batches = append(batches, current)
			current = nil
			currentLen = 0
		}
		current = append(current, name)
		currentLen += encodedLen
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// DeleteMany removes a set of objects: partition names into
// URL-sized batches, and for each batch delete DB rows transactionally,
// then the underlying blobs (plus ".info" sidecars when the blob backend
// reports one), then fire one ObjectRemoved event per row, fire-and-forget.
func (c *Coordinator) DeleteMany(ctx context.Context, t *tenant.Tenant, tenantID string, bucket *dbgateway.Bucket, names []string, urlLengthLimit int, reqID string) (int, error) {
	var deleted int
	for _, batch := range BatchPrefixes(names, urlLengthLimit) {
		rows, err := c.findObjectsForDelete(ctx, tenantID, bucket.ID, batch)
		if err != nil {
			return deleted, err
		}
		if len(rows) == 0 {
			continue
		}

		var batchNames []string
		for _, o := range rows {
			batchNames = append(batchNames, o.Name)
		}
		n, err := c.DB.DeleteObjects(ctx, tenantID, bucket.ID, batchNames)
		if err != nil {
			return deleted, err
		}
		deleted += int(n)

		var keys []string
		for _, o := range rows {
			keys = append(keys, BlobKey(tenantID, bucket.ID, o.Name, o.Version))
		}
		if err := c.Blob.DeleteObjects(ctx, keys); err != nil {
			c.logger().Error("lifecycle: delete-many blobs", "bucket", bucket.ID, "count", len(keys), "error", err)
			for _, o := range rows {
				_ = c.DB.AsSuperUser().ScheduleOrphanDelete(ctx, tenantID, bucket.ID, o.Name, o.Version)
			}
		}

		for _, o := range rows {
			c.emit(t, webhook.ObjectRemoved, bucket.ID, o.Name, o.Version, reqID, nil)
		}
	}
	return deleted, nil
}

// findObjectsForDelete looks up the current row for each name in batch
// so DeleteMany knows each one's version before the row disappears
// (needed to compute the blob key to delete and the webhook payload).
func (c *Coordinator) findObjectsForDelete(ctx context.Context, tenantID, bucketID string, batch []string) ([]*dbgateway.Object, error) {
	var out []*dbgateway.Object
	for _, name := range batch {
		obj, err := c.DB.FindObject(ctx, tenantID, bucketID, name,
			dbgateway.FindOptions{DontErrorOnEmpty: true, Columns: dbgateway.ColVersion})
		if err != nil {
			return nil, err
		}
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}
