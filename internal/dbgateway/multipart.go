package dbgateway

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// CreateMultipartUpload inserts the initial row for a new upload, with
// in-flight size zero and its matching HMAC signature already computed
// by the caller (internal/multipart owns the signature scheme; this
// package just persists whatever it is given).
func (g *Gateway) CreateMultipartUpload(ctx context.Context, m *MultipartUpload) error {
	userMeta, _ := json.Marshal(m.UserMetadata)
	err := g.exec(ctx,
		`INSERT INTO storage.s3_multipart_uploads
			(upload_id, tenant_id, bucket_id, key, version, in_progress_size, upload_signature, owner, user_metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`,
		m.UploadID, m.TenantID, m.BucketID, m.Key, m.Version, m.InProgressSize, m.UploadSignature, m.Owner, userMeta)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "create multipart upload", err)
	}
	return nil
}

// FindMultipartUpload selects the row for uploadID. ForUpdate must be
// used before mutating in_progress_size/upload_signature.
func (g *Gateway) FindMultipartUpload(ctx context.Context, uploadID string, opts FindOptions) (*MultipartUpload, error) {
	sql := `SELECT upload_id, tenant_id, bucket_id, key, version, in_progress_size,
		upload_signature, owner, user_metadata, created_at
		FROM storage.s3_multipart_uploads WHERE upload_id=$1`
	if opts.ForUpdate {
		sql += " FOR UPDATE"
	}
	var m MultipartUpload
	var userMetaRaw []byte
	err := g.queryRow(ctx, sql, uploadID).Scan(&m.UploadID, &m.TenantID, &m.BucketID, &m.Key,
		&m.Version, &m.InProgressSize, &m.UploadSignature, &m.Owner, &userMetaRaw, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		if opts.DontErrorOnEmpty {
			return nil, nil
		}
		return nil, apierr.New(apierr.NoSuchUpload, "multipart upload not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "find multipart upload", err)
	}
	if len(userMetaRaw) > 0 {
		_ = json.Unmarshal(userMetaRaw, &m.UserMetadata)
	}
	return &m, nil
}

// UpdateMultipartProgress writes the new in-flight size and its matching
// signature. Must run inside the same transaction that took the
// FOR UPDATE read, so the read-check-write is atomic with respect to
// concurrent part uploads.
func (g *Gateway) UpdateMultipartProgress(ctx context.Context, uploadID string, size int64, signature string) error {
	err := g.exec(ctx,
		`UPDATE storage.s3_multipart_uploads SET in_progress_size=$2, upload_signature=$3 WHERE upload_id=$1`,
		uploadID, size, signature)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "update multipart progress", err)
	}
	return nil
}

// InsertUploadPart records a completed part. ON CONFLICT lets a client
// retry a PUT for the same part number (S3 semantics: last write wins).
func (g *Gateway) InsertUploadPart(ctx context.Context, p *UploadPart) error {
	err := g.exec(ctx,
		`INSERT INTO storage.s3_multipart_parts (upload_id, part_number, etag, version, size, created_at)
		 VALUES ($1,$2,$3,$4,$5, now())
		 ON CONFLICT (upload_id, part_number) DO UPDATE SET etag=EXCLUDED.etag, version=EXCLUDED.version, size=EXCLUDED.size`,
		p.UploadID, p.PartNumber, p.ETag, p.Version, p.Size)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "insert upload part", err)
	}
	return nil
}

// ListParts returns all persisted parts for an upload, ordered by part
// number, up to the 10,000-part S3 ceiling.
func (g *Gateway) ListParts(ctx context.Context, uploadID string) ([]*UploadPart, error) {
	rows, err := g.query(ctx,
		`SELECT upload_id, part_number, etag, version, size, created_at
		 FROM storage.s3_multipart_parts WHERE upload_id=$1 ORDER BY part_number LIMIT 10000`,
		uploadID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list parts", err)
	}
	defer rows.Close()
	var out []*UploadPart
	for rows.Next() {
		var p UploadPart
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.ETag, &p.Version, &p.Size, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteMultipartUpload removes the upload row and its parts (complete or
// abort both end the upload's lifetime this way).
func (g *Gateway) DeleteMultipartUpload(ctx context.Context, uploadID string) error {
	if err := g.exec(ctx, `DELETE FROM storage.s3_multipart_parts WHERE upload_id=$1`, uploadID); err != nil {
		return apierr.Wrap(apierr.InternalError, "delete upload parts", err)
	}
	if err := g.exec(ctx, `DELETE FROM storage.s3_multipart_uploads WHERE upload_id=$1`, uploadID); err != nil {
		return apierr.Wrap(apierr.InternalError, "delete multipart upload", err)
	}
	return nil
}

// ListMultipartUploads lists in-progress uploads for a bucket (the S3
// ListMultipartUploads operation).
func (g *Gateway) ListMultipartUploads(ctx context.Context, tenantID, bucketID string) ([]*MultipartUpload, error) {
	rows, err := g.query(ctx,
		`SELECT upload_id, tenant_id, bucket_id, key, version, in_progress_size, upload_signature, owner, user_metadata, created_at
		 FROM storage.s3_multipart_uploads WHERE tenant_id=$1 AND bucket_id=$2 ORDER BY created_at`,
		tenantID, bucketID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list multipart uploads", err)
	}
	defer rows.Close()
	var out []*MultipartUpload
	for rows.Next() {
		var m MultipartUpload
		var userMetaRaw []byte
		if err := rows.Scan(&m.UploadID, &m.TenantID, &m.BucketID, &m.Key, &m.Version,
			&m.InProgressSize, &m.UploadSignature, &m.Owner, &userMetaRaw, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(userMetaRaw) > 0 {
			_ = json.Unmarshal(userMetaRaw, &m.UserMetadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
