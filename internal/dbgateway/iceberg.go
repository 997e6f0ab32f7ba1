// Iceberg metastore operations: catalogs, namespaces, tables, and the
// shard-slot pool that distributes tables across upstream warehouses.
// Same plain-SQL idiom as objects.go/buckets.go; every mutation here is
// expected to run inside WithTransaction alongside the advisory lock the
// tenant catalog takes, so counts and reservations cannot race.
package dbgateway

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// IcebergCatalog is one tenant-facing warehouse. InternalName is the
// upstream-visible identifier; ShardID pins every call for this catalog
// to one upstream shard.
type IcebergCatalog struct {
	TenantID     string
	Name         string
	InternalName string
	ShardID      int
	CreatedAt    time.Time
}

// IcebergNamespace is a namespace within a catalog.
type IcebergNamespace struct {
	TenantID    string
	CatalogName string
	Name        string
	CreatedAt   time.Time
}

// IcebergTable is a table row; ShardID records the slot reserved for it.
type IcebergTable struct {
	TenantID    string
	CatalogName string
	Namespace   string
	TableName   string
	ShardID     int
	CreatedAt   time.Time
}

func (g *Gateway) CreateIcebergCatalog(ctx context.Context, c *IcebergCatalog) error {
	err := g.exec(ctx, `
		INSERT INTO iceberg.catalogs (tenant_id, name, internal_name, shard_id)
		VALUES ($1, $2, $3, $4)`,
		c.TenantID, c.Name, c.InternalName, c.ShardID)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.ResourceAlreadyExists, "catalog already exists")
		}
		return apierr.Wrap(apierr.InternalError, "create catalog", err)
	}
	return nil
}

func (g *Gateway) FindIcebergCatalog(ctx context.Context, tenantID, name string) (*IcebergCatalog, error) {
	c := &IcebergCatalog{}
	err := g.queryRow(ctx, `
		SELECT tenant_id, name, internal_name, shard_id, created_at
		FROM iceberg.catalogs
		WHERE tenant_id = $1 AND name = $2 AND deleted_at IS NULL`,
		tenantID, name).Scan(&c.TenantID, &c.Name, &c.InternalName, &c.ShardID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "find catalog", err)
	}
	return c, nil
}

func (g *Gateway) ListIcebergCatalogs(ctx context.Context, tenantID string) ([]*IcebergCatalog, error) {
	rows, err := g.query(ctx, `
		SELECT tenant_id, name, internal_name, shard_id, created_at
		FROM iceberg.catalogs
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY name`, tenantID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list catalogs", err)
	}
	defer rows.Close()

	var out []*IcebergCatalog
	for rows.Next() {
		c := &IcebergCatalog{}
		if err := rows.Scan(&c.TenantID, &c.Name, &c.InternalName, &c.ShardID, &c.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan catalog", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SoftDeleteIcebergCatalog marks the catalog deleted. The internal name
// stays reserved so the upstream warehouse is never reused by a new
// catalog with the same tenant-facing name.
func (g *Gateway) SoftDeleteIcebergCatalog(ctx context.Context, tenantID, name string) error {
	tag, err := g.Exec(ctx, `
		UPDATE iceberg.catalogs SET deleted_at = NOW()
		WHERE tenant_id = $1 AND name = $2 AND deleted_at IS NULL`,
		tenantID, name)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "delete catalog", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gateway) CountIcebergCatalogs(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := g.queryRow(ctx, `
		SELECT COUNT(*) FROM iceberg.catalogs
		WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&n)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "count catalogs", err)
	}
	return n, nil
}

func (g *Gateway) CreateIcebergNamespace(ctx context.Context, ns *IcebergNamespace) error {
	err := g.exec(ctx, `
		INSERT INTO iceberg.namespaces (tenant_id, catalog_name, name)
		VALUES ($1, $2, $3)`,
		ns.TenantID, ns.CatalogName, ns.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.ResourceAlreadyExists, "namespace already exists")
		}
		return apierr.Wrap(apierr.InternalError, "create namespace", err)
	}
	return nil
}

func (g *Gateway) FindIcebergNamespace(ctx context.Context, tenantID, catalog, name string) (*IcebergNamespace, error) {
	ns := &IcebergNamespace{}
	err := g.queryRow(ctx, `
		SELECT tenant_id, catalog_name, name, created_at
		FROM iceberg.namespaces
		WHERE tenant_id = $1 AND catalog_name = $2 AND name = $3 AND deleted_at IS NULL`,
		tenantID, catalog, name).Scan(&ns.TenantID, &ns.CatalogName, &ns.Name, &ns.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "find namespace", err)
	}
	return ns, nil
}

func (g *Gateway) ListIcebergNamespaces(ctx context.Context, tenantID, catalog string) ([]*IcebergNamespace, error) {
	rows, err := g.query(ctx, `
		SELECT tenant_id, catalog_name, name, created_at
		FROM iceberg.namespaces
		WHERE tenant_id = $1 AND catalog_name = $2 AND deleted_at IS NULL
		ORDER BY name`, tenantID, catalog)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list namespaces", err)
	}
	defer rows.Close()

	var out []*IcebergNamespace
	for rows.Next() {
		ns := &IcebergNamespace{}
		if err := rows.Scan(&ns.TenantID, &ns.CatalogName, &ns.Name, &ns.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan namespace", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (g *Gateway) SoftDeleteIcebergNamespace(ctx context.Context, tenantID, catalog, name string) error {
	tag, err := g.Exec(ctx, `
		UPDATE iceberg.namespaces SET deleted_at = NOW()
		WHERE tenant_id = $1 AND catalog_name = $2 AND name = $3 AND deleted_at IS NULL`,
		tenantID, catalog, name)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "delete namespace", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gateway) CountIcebergNamespaces(ctx context.Context, tenantID, catalog string) (int, error) {
	var n int
	err := g.queryRow(ctx, `
		SELECT COUNT(*) FROM iceberg.namespaces
		WHERE tenant_id = $1 AND catalog_name = $2 AND deleted_at IS NULL`,
		tenantID, catalog).Scan(&n)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "count namespaces", err)
	}
	return n, nil
}

func (g *Gateway) InsertIcebergTable(ctx context.Context, t *IcebergTable) error {
	err := g.exec(ctx, `
		INSERT INTO iceberg.tables (tenant_id, catalog_name, namespace, table_name, shard_id)
		VALUES ($1, $2, $3, $4, $5)`,
		t.TenantID, t.CatalogName, t.Namespace, t.TableName, t.ShardID)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.ResourceAlreadyExists, "table already exists")
		}
		return apierr.Wrap(apierr.InternalError, "insert table", err)
	}
	return nil
}

func (g *Gateway) FindIcebergTable(ctx context.Context, tenantID, catalog, namespace, name string) (*IcebergTable, error) {
	t := &IcebergTable{}
	err := g.queryRow(ctx, `
		SELECT tenant_id, catalog_name, namespace, table_name, shard_id, created_at
		FROM iceberg.tables
		WHERE tenant_id = $1 AND catalog_name = $2 AND namespace = $3 AND table_name = $4
		  AND deleted_at IS NULL`,
		tenantID, catalog, namespace, name).
		Scan(&t.TenantID, &t.CatalogName, &t.Namespace, &t.TableName, &t.ShardID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "find table", err)
	}
	return t, nil
}

func (g *Gateway) ListIcebergTables(ctx context.Context, tenantID, catalog, namespace string) ([]*IcebergTable, error) {
	rows, err := g.query(ctx, `
		SELECT tenant_id, catalog_name, namespace, table_name, shard_id, created_at
		FROM iceberg.tables
		WHERE tenant_id = $1 AND catalog_name = $2 AND namespace = $3 AND deleted_at IS NULL
		ORDER BY table_name`, tenantID, catalog, namespace)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "list tables", err)
	}
	defer rows.Close()

	var out []*IcebergTable
	for rows.Next() {
		t := &IcebergTable{}
		if err := rows.Scan(&t.TenantID, &t.CatalogName, &t.Namespace, &t.TableName, &t.ShardID, &t.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan table", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (g *Gateway) SoftDeleteIcebergTable(ctx context.Context, tenantID, catalog, namespace, name string) error {
	tag, err := g.Exec(ctx, `
		UPDATE iceberg.tables SET deleted_at = NOW()
		WHERE tenant_id = $1 AND catalog_name = $2 AND namespace = $3 AND table_name = $4
		  AND deleted_at IS NULL`,
		tenantID, catalog, namespace, name)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "delete table", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gateway) CountIcebergTables(ctx context.Context, tenantID, catalog, namespace string) (int, error) {
	var n int
	err := g.queryRow(ctx, `
		SELECT COUNT(*) FROM iceberg.tables
		WHERE tenant_id = $1 AND catalog_name = $2 AND namespace = $3 AND deleted_at IS NULL`,
		tenantID, catalog, namespace).Scan(&n)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "count tables", err)
	}
	return n, nil
}

// EnsureShards seeds the shard pool so slot reservation has capacity to
// hand out. Idempotent; existing rows keep their counters.
func (g *Gateway) EnsureShards(ctx context.Context, shards, maxTablesPerShard int) error {
	for id := 0; id < shards; id++ {
		err := g.exec(ctx, `
			INSERT INTO iceberg.shards (shard_id, table_count, max_tables)
			VALUES ($1, 0, $2)
			ON CONFLICT (shard_id) DO NOTHING`, id, maxTablesPerShard)
		if err != nil {
			return apierr.Wrap(apierr.InternalError, "seed shards", err)
		}
	}
	return nil
}

// PickShard returns the least-loaded shard id, used when a new catalog
// chooses the shard all of its tables will live on.
func (g *Gateway) PickShard(ctx context.Context) (int, error) {
	var shardID int
	err := g.queryRow(ctx, `
		SELECT shard_id FROM iceberg.shards
		WHERE table_count < max_tables
		ORDER BY table_count ASC
		LIMIT 1`).Scan(&shardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apierr.New(apierr.SlowDown, "no shard capacity available")
	}
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "pick shard", err)
	}
	return shardID, nil
}

// ReserveShardSlot increments shardID's slot counter if it still has
// capacity. Must run inside a transaction: the row lock holds the slot
// until commit, so a rolled-back table create frees it automatically.
func (g *Gateway) ReserveShardSlot(ctx context.Context, shardID int) error {
	if g.tx == nil {
		return errors.New("dbgateway: ReserveShardSlot requires an active transaction")
	}
	tag, err := g.Exec(ctx, `
		UPDATE iceberg.shards SET table_count = table_count + 1
		WHERE shard_id = $1 AND table_count < max_tables`, shardID)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "reserve shard slot", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.SlowDown, "no shard capacity available")
	}
	return nil
}

// FreeShardSlot returns a slot to the pool.
func (g *Gateway) FreeShardSlot(ctx context.Context, shardID int) error {
	err := g.exec(ctx, `
		UPDATE iceberg.shards SET table_count = GREATEST(table_count - 1, 0)
		WHERE shard_id = $1`, shardID)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "free shard slot", err)
	}
	return nil
}
