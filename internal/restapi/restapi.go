// Package restapi implements the JSON REST storage API: bucket and
// object CRUD plus signed-URL issuance, mounted over mizu and backed by
// the tenant-scoped dbgateway/lifecycle/signedurl stack.
package restapi

import (
	"encoding/json"
	"log/slog"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/ducklake"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/multipart"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// Server wires the REST handlers to the gateway's core components.
type Server struct {
	DB        *dbgateway.Gateway
	Lifecycle *lifecycle.Coordinator
	Multipart *multipart.Machine
	Tenants   tenant.Resolver
	DuckLake  *ducklake.Generator // nil disables virtual metadata paths
	JWTSecret []byte // fallback HS256 secret when a tenant has no key configured
	Logger    *slog.Logger

	// SignedURLTTL is the default lifetime minted by /object/sign and
	// /object/upload/sign when the caller doesn't specify one.
	SignedURLTTL int64 // seconds
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Mount registers every REST route on app under prefix (empty for root).
func (s *Server) Mount(app *mizu.App, prefix string) {
	app.Use(s.authMiddleware)

	app.Post(prefix+"/bucket", s.handleCreateBucket)
	app.Get(prefix+"/bucket", s.handleListBuckets)
	app.Get(prefix+"/bucket/:id", s.handleGetBucket)
	app.Put(prefix+"/bucket/:id", s.handleUpdateBucket)
	app.Delete(prefix+"/bucket/:id", s.handleDeleteBucket)
	app.Post(prefix+"/bucket/:id/empty", s.handleEmptyBucket)

	app.Get(prefix+"/object/list/:bucket", s.handleListObjects)
	app.Post(prefix+"/object/:bucket/*key", s.handleUploadObject)
	app.Get(prefix+"/object/:bucket/*key", s.handleGetObject)
	app.Put(prefix+"/object/:bucket/*key", s.handleUpsertObject)
	app.Delete(prefix+"/object/:bucket/*key", s.handleDeleteObject)
	app.Post(prefix+"/object/copy", s.handleCopyObject)
	app.Post(prefix+"/object/move", s.handleMoveObject)
	app.Get(prefix+"/object/sign/:bucket/*key", s.handleSignObject)
	app.Post(prefix+"/object/upload/sign/:bucket/*key", s.handleSignUpload)
	app.Put(prefix+"/object/upload/sign/:bucket/*key", s.handleUploadWithToken)
}

// MessageResponse is a generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeError(c *mizu.Ctx, err error) error {
	apiErr := apierr.As(err)
	status, body := apiErr.Render()
	return c.JSON(status, body)
}

func writeJSON(c *mizu.Ctx, status int, v any) error {
	return c.JSON(status, v)
}

func decodeBody(c *mizu.Ctx, v any) error {
	defer func() { _ = c.Request().Body.Close() }()
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.InvalidRequest, "invalid request body", err)
	}
	return nil
}

