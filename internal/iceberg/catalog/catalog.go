// Package catalog is the tenant-facing Iceberg table catalog: it maps
// tenant resource names onto internal warehouse names, reserves shard
// slots transactionally, and delegates the actual catalog protocol to an
// upstream REST backend it holds by composition.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
)

// Limits bound per-tenant catalog growth. Zero means unlimited.
type Limits struct {
	MaxCatalogs   int
	MaxNamespaces int
	MaxTables     int
}

// TenantCatalog fronts the upstream REST catalog for one gateway
// process. Safe for concurrent use.
type TenantCatalog struct {
	DB      *dbgateway.Gateway
	Backend Backend
	Limits  Limits
	Logger  *slog.Logger
}

func (tc *TenantCatalog) logger() *slog.Logger {
	if tc.Logger != nil {
		return tc.Logger
	}
	return slog.Default()
}

// lockNamespace serializes every mutation under a given namespace so
// count checks and upstream calls cannot interleave across requests.
func lockNamespace(ctx context.Context, tx *dbgateway.Gateway, tenantID, ns string) error {
	return tx.LockResource(ctx, "namespace", tenantID+":"+ns)
}

// CreateCatalog registers a tenant warehouse: mints the internal name,
// reserves a shard for all of the catalog's future traffic, and records
// the mapping. The shard chosen here pins every later call for this
// catalog.
func (tc *TenantCatalog) CreateCatalog(ctx context.Context, tenantID, name, reservedSuffix string) (*dbgateway.IcebergCatalog, error) {
	if err := ValidateResourceName(name, reservedSuffix); err != nil {
		return nil, err
	}

	cat := &dbgateway.IcebergCatalog{
		TenantID:     tenantID,
		Name:         name,
		InternalName: InternalName(tenantID),
	}
	err := tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, name); err != nil {
			return err
		}
		if tc.Limits.MaxCatalogs > 0 {
			n, err := tx.CountIcebergCatalogs(ctx, tenantID)
			if err != nil {
				return err
			}
			if n >= tc.Limits.MaxCatalogs {
				return apierr.New(apierr.InvalidRequest, "catalog limit reached")
			}
		}
		shard, err := tx.PickShard(ctx)
		if err != nil {
			return err
		}
		cat.ShardID = shard
		return tx.CreateIcebergCatalog(ctx, cat)
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// DropCatalog soft-deletes an empty catalog and frees its shard slot.
func (tc *TenantCatalog) DropCatalog(ctx context.Context, tenantID, name string) error {
	return tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, name); err != nil {
			return err
		}
		if _, err := tx.FindIcebergCatalog(ctx, tenantID, name); err != nil {
			if errors.Is(err, dbgateway.ErrNotFound) {
				return apierr.New(apierr.NoSuchBucket, "catalog not found")
			}
			return err
		}
		n, err := tx.CountIcebergNamespaces(ctx, tenantID, name)
		if err != nil {
			return err
		}
		if n > 0 {
			return apierr.New(apierr.InvalidRequest, "catalog is not empty")
		}
		return tx.SoftDeleteIcebergCatalog(ctx, tenantID, name)
	})
}

// ListCatalogs returns the tenant's live catalogs.
func (tc *TenantCatalog) ListCatalogs(ctx context.Context, tenantID string) ([]*dbgateway.IcebergCatalog, error) {
	return tc.DB.ListIcebergCatalogs(ctx, tenantID)
}

// Config proxies the upstream /config for the catalog's warehouse.
func (tc *TenantCatalog) Config(ctx context.Context, tenantID, catalog string) (map[string]any, error) {
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return nil, err
	}
	return tc.Backend.Config(ctx, cat.ShardID, cat.InternalName)
}

// CreateNamespace records a namespace in the metastore and ensures it
// exists upstream. An upstream 409 is tolerated: a namespace left behind
// by a half-finished earlier create is indistinguishable from a fresh
// one, and either satisfies the caller.
func (tc *TenantCatalog) CreateNamespace(ctx context.Context, tenantID, catalog, namespace, reservedSuffix string) error {
	if err := ValidateResourceName(namespace, reservedSuffix); err != nil {
		return err
	}
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return err
	}
	return tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, namespace); err != nil {
			return err
		}
		if tc.Limits.MaxNamespaces > 0 {
			n, err := tx.CountIcebergNamespaces(ctx, tenantID, catalog)
			if err != nil {
				return err
			}
			if n >= tc.Limits.MaxNamespaces {
				return apierr.New(apierr.InvalidRequest, "namespace limit reached")
			}
		}
		if err := tx.CreateIcebergNamespace(ctx, &dbgateway.IcebergNamespace{
			TenantID:    tenantID,
			CatalogName: catalog,
			Name:        namespace,
		}); err != nil {
			return err
		}
		if err := tc.Backend.CreateNamespace(ctx, cat.ShardID, cat.InternalName, namespace); err != nil && !IsConflict(err) {
			return apierr.Wrap(apierr.InternalError, "upstream create namespace", err)
		}
		return nil
	})
}

// ListNamespaces returns the catalog's live namespaces from the
// metastore; the metastore, not the upstream, is the listing source of
// truth since soft-deleted namespaces may still exist upstream briefly.
func (tc *TenantCatalog) ListNamespaces(ctx context.Context, tenantID, catalog string) ([]*dbgateway.IcebergNamespace, error) {
	if _, err := tc.findCatalog(ctx, tenantID, catalog); err != nil {
		return nil, err
	}
	return tc.DB.ListIcebergNamespaces(ctx, tenantID, catalog)
}

// DropNamespace soft-deletes an empty namespace and drops it upstream.
func (tc *TenantCatalog) DropNamespace(ctx context.Context, tenantID, catalog, namespace string) error {
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return err
	}
	return tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, namespace); err != nil {
			return err
		}
		n, err := tx.CountIcebergTables(ctx, tenantID, catalog, namespace)
		if err != nil {
			return err
		}
		if n > 0 {
			return apierr.New(apierr.InvalidRequest, "namespace is not empty")
		}
		if err := tx.SoftDeleteIcebergNamespace(ctx, tenantID, catalog, namespace); err != nil {
			if errors.Is(err, dbgateway.ErrNotFound) {
				return apierr.New(apierr.NoSuchKey, "namespace not found")
			}
			return err
		}
		if err := tc.Backend.DropNamespace(ctx, cat.ShardID, cat.InternalName, namespace); err != nil && !IsNotFound(err) {
			return apierr.Wrap(apierr.InternalError, "upstream drop namespace", err)
		}
		return nil
	})
}

// CreateTable runs the create workflow in order: advisory lock, count
// check, upstream namespace ensure (409 tolerated), upstream table
// create, metastore insert, shard reservation confirm. The whole
// sequence sits in one transaction so a failed upstream create rolls the
// reservation and the insert back together.
func (tc *TenantCatalog) CreateTable(ctx context.Context, tenantID, catalog, namespace, table, reservedSuffix string, body json.RawMessage) (json.RawMessage, error) {
	if err := ValidateResourceName(table, reservedSuffix); err != nil {
		return nil, err
	}
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return nil, err
	}
	if _, err := tc.DB.FindIcebergNamespace(ctx, tenantID, catalog, namespace); err != nil {
		if errors.Is(err, dbgateway.ErrNotFound) {
			return nil, apierr.New(apierr.NoSuchKey, "namespace not found")
		}
		return nil, err
	}

	var loaded json.RawMessage
	err = tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, namespace); err != nil {
			return err
		}
		if tc.Limits.MaxTables > 0 {
			n, err := tx.CountIcebergTables(ctx, tenantID, catalog, namespace)
			if err != nil {
				return err
			}
			if n >= tc.Limits.MaxTables {
				return apierr.New(apierr.InvalidRequest, "table limit reached")
			}
		}
		if err := tc.Backend.CreateNamespace(ctx, cat.ShardID, cat.InternalName, namespace); err != nil && !IsConflict(err) {
			return apierr.Wrap(apierr.InternalError, "upstream create namespace", err)
		}
		created, err := tc.Backend.CreateTable(ctx, cat.ShardID, cat.InternalName, namespace, table, body)
		if err != nil {
			if IsConflict(err) {
				return apierr.New(apierr.ResourceAlreadyExists, "table already exists")
			}
			return apierr.Wrap(apierr.InternalError, "upstream create table", err)
		}
		loaded = created

		if err := tx.InsertIcebergTable(ctx, &dbgateway.IcebergTable{
			TenantID:    tenantID,
			CatalogName: catalog,
			Namespace:   namespace,
			TableName:   table,
			ShardID:     cat.ShardID,
		}); err != nil {
			return err
		}
		return tx.ReserveShardSlot(ctx, cat.ShardID)
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

// LoadTable proxies the upstream table metadata after checking the
// metastore row exists (a soft-deleted table must 404 even while the
// upstream copy lingers).
func (tc *TenantCatalog) LoadTable(ctx context.Context, tenantID, catalog, namespace, table string) (json.RawMessage, error) {
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return nil, err
	}
	if _, err := tc.DB.FindIcebergTable(ctx, tenantID, catalog, namespace, table); err != nil {
		if errors.Is(err, dbgateway.ErrNotFound) {
			return nil, apierr.New(apierr.NoSuchKey, "table not found")
		}
		return nil, err
	}
	out, err := tc.Backend.LoadTable(ctx, cat.ShardID, cat.InternalName, namespace, table)
	if err != nil {
		if IsNotFound(err) {
			return nil, apierr.New(apierr.NoSuchKey, "table not found")
		}
		return nil, apierr.Wrap(apierr.InternalError, "upstream load table", err)
	}
	return out, nil
}

// ListTables lists the namespace's live tables from the metastore.
func (tc *TenantCatalog) ListTables(ctx context.Context, tenantID, catalog, namespace string) ([]*dbgateway.IcebergTable, error) {
	if _, err := tc.findCatalog(ctx, tenantID, catalog); err != nil {
		return nil, err
	}
	if _, err := tc.DB.FindIcebergNamespace(ctx, tenantID, catalog, namespace); err != nil {
		if errors.Is(err, dbgateway.ErrNotFound) {
			return nil, apierr.New(apierr.NoSuchKey, "namespace not found")
		}
		return nil, err
	}
	return tc.DB.ListIcebergTables(ctx, tenantID, catalog, namespace)
}

// DropTable runs the drop workflow in order: advisory lock, metastore
// delete, shard free, upstream drop; then, outside the failure path, if
// the namespace is now empty upstream its upstream copy is dropped too.
func (tc *TenantCatalog) DropTable(ctx context.Context, tenantID, catalog, namespace, table string) error {
	cat, err := tc.findCatalog(ctx, tenantID, catalog)
	if err != nil {
		return err
	}
	err = tc.DB.WithTransaction(ctx, func(tx *dbgateway.Gateway) error {
		if err := lockNamespace(ctx, tx, tenantID, namespace); err != nil {
			return err
		}
		t, err := tx.FindIcebergTable(ctx, tenantID, catalog, namespace, table)
		if errors.Is(err, dbgateway.ErrNotFound) {
			return apierr.New(apierr.NoSuchKey, "table not found")
		}
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteIcebergTable(ctx, tenantID, catalog, namespace, table); err != nil {
			return err
		}
		if err := tx.FreeShardSlot(ctx, t.ShardID); err != nil {
			return err
		}
		if err := tc.Backend.DropTable(ctx, cat.ShardID, cat.InternalName, namespace, table); err != nil && !IsNotFound(err) {
			return apierr.Wrap(apierr.InternalError, "upstream drop table", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Best-effort: reap the upstream namespace once its last table is
	// gone. A failure here leaves an empty upstream namespace that the
	// next drop retries; it never fails the caller's drop.
	remaining, err := tc.Backend.ListTables(ctx, cat.ShardID, cat.InternalName, namespace)
	if err == nil && len(remaining) == 0 {
		if err := tc.Backend.DropNamespace(ctx, cat.ShardID, cat.InternalName, namespace); err != nil && !IsNotFound(err) {
			tc.logger().Error("iceberg: drop empty upstream namespace",
				"tenant", tenantID, "catalog", catalog, "namespace", namespace, "error", err)
		}
	}
	return nil
}

func (tc *TenantCatalog) findCatalog(ctx context.Context, tenantID, name string) (*dbgateway.IcebergCatalog, error) {
	cat, err := tc.DB.FindIcebergCatalog(ctx, tenantID, name)
	if errors.Is(err, dbgateway.ErrNotFound) {
		return nil, apierr.New(apierr.NoSuchBucket, "catalog not found")
	}
	if err != nil {
		return nil, err
	}
	return cat, nil
}
