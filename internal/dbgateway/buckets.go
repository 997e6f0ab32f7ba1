// Buckets CRUD. Every statement is tenant-scoped, and failures are
// classified into apierr codes rather than ad-hoc sentinels.
package dbgateway

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

func (g *Gateway) CreateBucket(ctx context.Context, tenantID string, b *Bucket) error {
	err := g.exec(ctx,
		`INSERT INTO storage.buckets (id, tenant_id, name, public, file_size_limit, allowed_mime_types, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6, now(), now())`,
		b.ID, tenantID, b.Name, b.Public, b.FileSizeLimit, b.AllowedMimeTypes)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.BucketAlreadyExists, "bucket already exists")
		}
		return apierr.Wrap(apierr.InternalError, "create bucket", err)
	}
	return nil
}

func (g *Gateway) GetBucketByName(ctx context.Context, tenantID, name string) (*Bucket, error) {
	row := g.queryRow(ctx,
		`SELECT id, name, public, file_size_limit, allowed_mime_types, created_at, updated_at
		 FROM storage.buckets WHERE tenant_id=$1 AND name=$2`, tenantID, name)
	b, err := scanBucket(row)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.NoSuchBucket, "bucket not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "get bucket", err)
	}
	return b, nil
}

func (g *Gateway) GetBucketByID(ctx context.Context, tenantID, id string) (*Bucket, error) {
	row := g.queryRow(ctx,
		`SELECT id, name, public, file_size_limit, allowed_mime_types, created_at, updated_at
		 FROM storage.buckets WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	b, err := scanBucket(row)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.NoSuchBucket, "bucket not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "get bucket", err)
	}
	return b, nil
}

func scanBucket(row pgx.Row) (*Bucket, error) {
	var b Bucket
	err := row.Scan(&b.ID, &b.Name, &b.Public, &b.FileSizeLimit, &b.AllowedMimeTypes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (g *Gateway) ListBuckets(ctx context.Context, tenantID string, limit, offset int) ([]*Bucket, error) {
	rows, err := g.query(ctx,
		`SELECT id, name, public, file_size_limit, allowed_mime_types, created_at, updated_at
		 FROM storage.buckets WHERE tenant_id=$1 ORDER BY name LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list buckets", err)
	}
	defer rows.Close()
	var out []*Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (g *Gateway) UpdateBucket(ctx context.Context, tenantID string, b *Bucket) error {
	err := g.exec(ctx,
		`UPDATE storage.buckets SET public=$3, file_size_limit=$4, allowed_mime_types=$5, updated_at=now()
		 WHERE tenant_id=$1 AND id=$2`,
		tenantID, b.ID, b.Public, b.FileSizeLimit, b.AllowedMimeTypes)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "update bucket", err)
	}
	return nil
}

func (g *Gateway) DeleteBucket(ctx context.Context, tenantID, id string) error {
	err := g.exec(ctx, `DELETE FROM storage.buckets WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "delete bucket", err)
	}
	return nil
}

// BucketObjectCount reports how many objects remain in a bucket so the
// lifecycle coordinator can enforce "empty buckets only may be deleted".
func (g *Gateway) BucketObjectCount(ctx context.Context, tenantID, bucketID string) (int64, error) {
	var n int64
	err := g.queryRow(ctx, `SELECT count(*) FROM storage.objects WHERE tenant_id=$1 AND bucket_id=$2`,
		tenantID, bucketID).Scan(&n)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "count bucket objects", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	type pgErrCode interface{ SQLState() string }
	if pe, ok := err.(pgErrCode); ok {
		return pe.SQLState() == "23505"
	}
	return false
}
