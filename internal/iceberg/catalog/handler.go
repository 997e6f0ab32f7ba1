// HTTP passthrough for the Iceberg REST surface: /config, /namespaces,
// /namespaces/{ns}/tables, /namespaces/{ns}/tables/{t}, mounted per
// catalog. Failures render the Iceberg error model ({message, type,
// code} under an "error" key) rather than the gateway's own JSON shape,
// since the callers here are Iceberg REST clients, not storage SDKs.
package catalog

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// Handler serves the tenant-facing Iceberg REST routes. TenantFrom is
// supplied by the transport that mounts it (the REST transport's auth
// middleware already resolves and stashes the tenant).
type Handler struct {
	Catalog    *TenantCatalog
	TenantFrom func(c *mizu.Ctx) *tenant.Tenant
	Logger     *slog.Logger
}

// Mount registers the Iceberg REST routes on app under prefix
// (typically "/iceberg/v1").
func (h *Handler) Mount(app *mizu.App, prefix string) {
	app.Get(prefix+"/config", h.handleConfig)

	app.Get(prefix+"/:catalog/namespaces", h.handleListNamespaces)
	app.Post(prefix+"/:catalog/namespaces", h.handleCreateNamespace)
	app.Get(prefix+"/:catalog/namespaces/:ns", h.handleGetNamespace)
	app.Delete(prefix+"/:catalog/namespaces/:ns", h.handleDropNamespace)

	app.Get(prefix+"/:catalog/namespaces/:ns/tables", h.handleListTables)
	app.Post(prefix+"/:catalog/namespaces/:ns/tables", h.handleCreateTable)
	app.Get(prefix+"/:catalog/namespaces/:ns/tables/:table", h.handleLoadTable)
	app.Delete(prefix+"/:catalog/namespaces/:ns/tables/:table", h.handleDropTable)
}

func (h *Handler) tenantOf(c *mizu.Ctx) (*tenant.Tenant, error) {
	t := h.TenantFrom(c)
	if t == nil {
		return nil, apierr.New(apierr.TenantNotFound, "tenant not resolved")
	}
	return t, nil
}

// writeIcebergError renders err in the Iceberg REST error envelope.
func writeIcebergError(c *mizu.Ctx, err error) error {
	if re, ok := err.(*RESTError); ok {
		return c.JSON(re.Code, map[string]any{"error": re})
	}
	ae := apierr.As(err)
	status, _ := ae.Render()
	return c.JSON(status, map[string]any{"error": RESTError{
		Message: ae.Message,
		Type:    string(ae.Code),
		Code:    status,
	}})
}

func (h *Handler) handleConfig(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	warehouse := c.Query("warehouse")
	if warehouse == "" {
		return writeIcebergError(c, apierr.New(apierr.InvalidRequest, "missing warehouse parameter"))
	}
	cfg, err := h.Catalog.Config(c.Context(), t.ID, warehouse)
	if err != nil {
		return writeIcebergError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) handleListNamespaces(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	namespaces, err := h.Catalog.ListNamespaces(c.Context(), t.ID, c.Param("catalog"))
	if err != nil {
		return writeIcebergError(c, err)
	}
	out := make([][]string, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, []string{ns.Name})
	}
	return c.JSON(http.StatusOK, map[string]any{"namespaces": out})
}

func (h *Handler) handleCreateNamespace(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	var body struct {
		Namespace []string `json:"namespace"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil || len(body.Namespace) != 1 {
		return writeIcebergError(c, apierr.New(apierr.InvalidRequest, "namespace must be a single-level name"))
	}
	ns := body.Namespace[0]
	if err := h.Catalog.CreateNamespace(c.Context(), t.ID, c.Param("catalog"), ns, t.IcebergSuffix); err != nil {
		return writeIcebergError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"namespace":  []string{ns},
		"properties": map[string]string{},
	})
}

func (h *Handler) handleGetNamespace(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	namespaces, err := h.Catalog.ListNamespaces(c.Context(), t.ID, c.Param("catalog"))
	if err != nil {
		return writeIcebergError(c, err)
	}
	name := c.Param("ns")
	for _, ns := range namespaces {
		if ns.Name == name {
			return c.JSON(http.StatusOK, map[string]any{
				"namespace":  []string{name},
				"properties": map[string]string{},
			})
		}
	}
	return writeIcebergError(c, apierr.New(apierr.NoSuchKey, "namespace not found"))
}

func (h *Handler) handleDropNamespace(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	if err := h.Catalog.DropNamespace(c.Context(), t.ID, c.Param("catalog"), c.Param("ns")); err != nil {
		return writeIcebergError(c, err)
	}
	return c.NoContent()
}

func (h *Handler) handleListTables(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	tables, err := h.Catalog.ListTables(c.Context(), t.ID, c.Param("catalog"), c.Param("ns"))
	if err != nil {
		return writeIcebergError(c, err)
	}
	identifiers := make([]map[string]any, 0, len(tables))
	for _, tb := range tables {
		identifiers = append(identifiers, map[string]any{
			"namespace": []string{tb.Namespace},
			"name":      tb.TableName,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"identifiers": identifiers})
}

func (h *Handler) handleCreateTable(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return writeIcebergError(c, apierr.Wrap(apierr.InvalidRequest, "read request body", err))
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Name == "" {
		return writeIcebergError(c, apierr.New(apierr.InvalidRequest, "missing table name"))
	}
	created, err := h.Catalog.CreateTable(c.Context(), t.ID, c.Param("catalog"), c.Param("ns"), body.Name, t.IcebergSuffix, raw)
	if err != nil {
		return writeIcebergError(c, err)
	}
	return c.Bytes(http.StatusOK, created, "application/json")
}

func (h *Handler) handleLoadTable(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	loaded, err := h.Catalog.LoadTable(c.Context(), t.ID, c.Param("catalog"), c.Param("ns"), c.Param("table"))
	if err != nil {
		return writeIcebergError(c, err)
	}
	return c.Bytes(http.StatusOK, loaded, "application/json")
}

func (h *Handler) handleDropTable(c *mizu.Ctx) error {
	t, err := h.tenantOf(c)
	if err != nil {
		return writeIcebergError(c, err)
	}
	if err := h.Catalog.DropTable(c.Context(), t.ID, c.Param("catalog"), c.Param("ns"), c.Param("table")); err != nil {
		return writeIcebergError(c, err)
	}
	return c.NoContent()
}
