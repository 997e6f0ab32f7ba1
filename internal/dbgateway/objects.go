package dbgateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// FindObject selects the current row for (tenantID, bucketID, name),
// projecting only the columns named by opts.Columns (zero means all).
// With opts.ForUpdate it takes a row-level SELECT ... FOR UPDATE lock,
// which must be called inside a transaction obtained via WithTransaction.
func (g *Gateway) FindObject(ctx context.Context, tenantID, bucketID, name string, opts FindOptions) (*Object, error) {
	cols := opts.Columns
	if cols == 0 {
		cols = ColAll
	}

	obj := &Object{TenantID: tenantID, BucketID: bucketID, Name: name}
	var sel []string
	var dest []any
	add := func(expr string, d any) {
		sel = append(sel, expr)
		dest = append(dest, d)
	}
	if cols&ColID != 0 {
		add("id", &obj.ID)
	}
	if cols&ColOwner != 0 {
		add("owner", &obj.Owner)
	}
	if cols&ColVersion != 0 {
		add("version", &obj.Version)
	}
	if cols&ColSize != 0 {
		add("size", &obj.Size)
	}
	if cols&ColContentType != 0 {
		add("content_type", &obj.ContentType)
	}
	if cols&ColCacheControl != 0 {
		add("cache_control", &obj.CacheControl)
	}
	if cols&ColETag != 0 {
		add("etag", &obj.ETag)
	}
	var metaRaw, userMetaRaw []byte
	if cols&ColMetadata != 0 {
		add("metadata", &metaRaw)
	}
	if cols&ColUserMetadata != 0 {
		add("user_metadata", &userMetaRaw)
	}
	if cols&ColTimestamps != 0 {
		add("created_at", &obj.CreatedAt)
		add("updated_at", &obj.UpdatedAt)
	}

	sql := "SELECT " + strings.Join(sel, ", ") +
		" FROM storage.objects WHERE tenant_id=$1 AND bucket_id=$2 AND name=$3"
	if opts.ForUpdate {
		sql += " FOR UPDATE"
	}

	err := g.queryRow(ctx, sql, tenantID, bucketID, name).Scan(dest...)
	if err == pgx.ErrNoRows {
		if opts.DontErrorOnEmpty {
			return nil, nil
		}
		return nil, apierr.New(apierr.NoSuchKey, "object not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "find object", err)
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &obj.Metadata)
	}
	if len(userMetaRaw) > 0 {
		_ = json.Unmarshal(userMetaRaw, &obj.UserMetadata)
	}
	return obj, nil
}

func scanObject(row pgx.Row) (*Object, error) {
	var o Object
	var metaRaw, userMetaRaw []byte
	err := row.Scan(&o.ID, &o.TenantID, &o.BucketID, &o.Name, &o.Owner, &o.Version,
		&o.Size, &o.ContentType, &o.CacheControl, &o.ETag, &metaRaw, &userMetaRaw,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &o.Metadata)
	}
	if len(userMetaRaw) > 0 {
		_ = json.Unmarshal(userMetaRaw, &o.UserMetadata)
	}
	return &o, nil
}

// UpsertObject inserts the row if absent or replaces the current
// version/metadata if present, preserving the (tenant, bucket, name)
// uniqueness invariant.
func (g *Gateway) UpsertObject(ctx context.Context, o *Object) error {
	meta, _ := json.Marshal(o.Metadata)
	userMeta, _ := json.Marshal(o.UserMetadata)

	sql := `INSERT INTO storage.objects
		(id, tenant_id, bucket_id, name, owner, version, size, content_type, cache_control, etag, metadata, user_metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
		ON CONFLICT (tenant_id, bucket_id, name) DO UPDATE SET
			owner=EXCLUDED.owner, version=EXCLUDED.version, size=EXCLUDED.size,
			content_type=EXCLUDED.content_type, cache_control=EXCLUDED.cache_control,
			etag=EXCLUDED.etag, metadata=EXCLUDED.metadata, user_metadata=EXCLUDED.user_metadata,
			updated_at=now()`

	err := g.exec(ctx, sql, o.ID, o.TenantID, o.BucketID, o.Name, o.Owner, o.Version,
		o.Size, o.ContentType, o.CacheControl, o.ETag, meta, userMeta)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "upsert object", err)
	}
	return nil
}

// UpdateObjectName renames an existing row in place (used by Move).
func (g *Gateway) UpdateObjectName(ctx context.Context, tenantID, bucketID, oldName, newName, newVersion string) error {
	err := g.exec(ctx,
		`UPDATE storage.objects SET name=$4, version=$5, updated_at=now()
		 WHERE tenant_id=$1 AND bucket_id=$2 AND name=$3`,
		tenantID, bucketID, oldName, newName, newVersion)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "rename object", err)
	}
	return nil
}

// DeleteObject removes the current row for (tenantID, bucketID, name).
func (g *Gateway) DeleteObject(ctx context.Context, tenantID, bucketID, name string) error {
	err := g.exec(ctx, `DELETE FROM storage.objects WHERE tenant_id=$1 AND bucket_id=$2 AND name=$3`,
		tenantID, bucketID, name)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "delete object", err)
	}
	return nil
}

// DeleteObjects removes many rows by name in one statement; used by
// DeleteMany after partitioning into URL-sized batches.
func (g *Gateway) DeleteObjects(ctx context.Context, tenantID, bucketID string, names []string) (int64, error) {
	rows, err := g.query(ctx,
		`DELETE FROM storage.objects WHERE tenant_id=$1 AND bucket_id=$2 AND name = ANY($3) RETURNING name`,
		tenantID, bucketID, names)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "delete objects", err)
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// ScheduleOrphanDelete records a blob version as pending deletion so an
// orphan sweep will pick it up even if the inline best-effort cleanup
// never runs (e.g. the process crashed between scheduling and execution).
func (g *Gateway) ScheduleOrphanDelete(ctx context.Context, tenantID, bucketID, name, version string) error {
	err := g.exec(ctx,
		`INSERT INTO storage.pending_deletes (tenant_id, bucket_id, name, version, scheduled_at)
		 VALUES ($1,$2,$3,$4,now())`,
		tenantID, bucketID, name, version)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "schedule orphan delete", err)
	}
	return nil
}

// ClearOrphanDelete removes a pending-delete record once the sweeper has
// successfully deleted the underlying blob.
func (g *Gateway) ClearOrphanDelete(ctx context.Context, tenantID, bucketID, name, version string) error {
	return g.exec(ctx,
		`DELETE FROM storage.pending_deletes WHERE tenant_id=$1 AND bucket_id=$2 AND name=$3 AND version=$4`,
		tenantID, bucketID, name, version)
}

// PendingDelete is one row awaiting orphan cleanup.
type PendingDelete struct {
	TenantID, BucketID, Name, Version string
}

// ListStaleOrphans returns pending_deletes rows older than the grace
// period, for the periodic sweep.
func (g *Gateway) ListStaleOrphans(ctx context.Context, limit int) ([]PendingDelete, error) {
	rows, err := g.query(ctx,
		`SELECT tenant_id, bucket_id, name, version FROM storage.pending_deletes
		 WHERE scheduled_at < now() - interval '5 minutes' LIMIT $1`, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list stale orphans", err)
	}
	defer rows.Close()
	var out []PendingDelete
	for rows.Next() {
		var p PendingDelete
		if err := rows.Scan(&p.TenantID, &p.BucketID, &p.Name, &p.Version); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// escapeLike backslash-escapes the LIKE metacharacters so a prefix or
// search term containing a literal %, _, or \ matches itself instead of
// acting as a wildcard — object keys may legally contain all three.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchObjects lists rows under prefix whose name contains search
// (case-insensitive), capped at limit. Used by the REST listing
// endpoint's search parameter; listing without search goes through
// ListObjectsV2's cursor pagination instead.
func (g *Gateway) SearchObjects(ctx context.Context, tenantID, bucketID, prefix, search string, limit int) ([]*Object, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.query(ctx,
		`SELECT id, tenant_id, bucket_id, name, owner, version, size, content_type,
			cache_control, etag, metadata, user_metadata, created_at, updated_at
		 FROM storage.objects
		 WHERE tenant_id=$1 AND bucket_id=$2 AND name LIKE $3 || '%' ESCAPE '\'
		   AND name ILIKE '%' || $4 || '%' ESCAPE '\'
		 ORDER BY name LIMIT $5`,
		tenantID, bucketID, escapeLike(prefix), escapeLike(search), limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "search objects", err)
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan object", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
