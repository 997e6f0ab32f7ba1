package dbgateway

import "context"

// Migrate applies the gateway's schema: idempotent
// CREATE-TABLE-IF-NOT-EXISTS DDL applied once at startup, no migration
// engine.
func (g *Gateway) Migrate(ctx context.Context) error {
	sql := `
	CREATE SCHEMA IF NOT EXISTS storage;
	CREATE SCHEMA IF NOT EXISTS iceberg;

	CREATE TABLE IF NOT EXISTS storage.buckets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		public BOOLEAN DEFAULT FALSE,
		file_size_limit BIGINT,
		allowed_mime_types TEXT[],
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(tenant_id, name)
	);

	CREATE TABLE IF NOT EXISTS storage.objects (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		bucket_id TEXT NOT NULL,
		name TEXT NOT NULL,
		owner TEXT,
		version TEXT NOT NULL,
		size BIGINT DEFAULT 0,
		content_type TEXT,
		cache_control TEXT,
		etag TEXT,
		metadata JSONB DEFAULT '{}',
		user_metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(tenant_id, bucket_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_objects_tenant_bucket ON storage.objects(tenant_id, bucket_id);

	CREATE TABLE IF NOT EXISTS storage.pending_deletes (
		tenant_id TEXT NOT NULL,
		bucket_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		scheduled_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (tenant_id, bucket_id, name, version)
	);

	CREATE TABLE IF NOT EXISTS storage.s3_multipart_uploads (
		upload_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		bucket_id TEXT NOT NULL,
		key TEXT NOT NULL,
		version TEXT NOT NULL,
		in_progress_size BIGINT NOT NULL DEFAULT 0,
		upload_signature TEXT NOT NULL,
		owner TEXT,
		user_metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_multipart_tenant_bucket ON storage.s3_multipart_uploads(tenant_id, bucket_id);

	CREATE TABLE IF NOT EXISTS storage.s3_multipart_parts (
		upload_id TEXT NOT NULL REFERENCES storage.s3_multipart_uploads(upload_id) ON DELETE CASCADE,
		part_number INT NOT NULL,
		etag TEXT NOT NULL,
		version TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (upload_id, part_number)
	);

	CREATE TABLE IF NOT EXISTS iceberg.catalogs (
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		internal_name TEXT NOT NULL UNIQUE,
		shard_id INT NOT NULL,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (tenant_id, name)
	);

	CREATE TABLE IF NOT EXISTS iceberg.namespaces (
		tenant_id TEXT NOT NULL,
		catalog_name TEXT NOT NULL,
		name TEXT NOT NULL,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (tenant_id, catalog_name, name)
	);

	CREATE TABLE IF NOT EXISTS iceberg.tables (
		tenant_id TEXT NOT NULL,
		catalog_name TEXT NOT NULL,
		namespace TEXT NOT NULL,
		table_name TEXT NOT NULL,
		shard_id INT NOT NULL,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (tenant_id, catalog_name, namespace, table_name)
	);

	CREATE TABLE IF NOT EXISTS iceberg.shards (
		shard_id INT PRIMARY KEY,
		table_count INT NOT NULL DEFAULT 0,
		max_tables INT NOT NULL DEFAULT 1000
	);
	`
	_, err := g.pool.Exec(ctx, sql)
	return err
}
