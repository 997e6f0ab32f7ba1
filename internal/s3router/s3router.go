// Package s3router maps the S3-compatible HTTP surface onto the
// same lifecycle.Coordinator and multipart.Machine the JSON REST API
// drives, so both transports sit on one DB+blob invariant.
//
// Dispatch is by (method, presence-of-query-params) rather than a
// generic path-templating router: S3's addressing (bucket in path or
// virtual-hosted in Host) does not fit a REST path template cleanly, and
// AWS SDKs expect exactly this disambiguation.
package s3router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/lifecycle"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/multipart"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/sigv4"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

var errNoSuchAccessKey = errors.New("s3router: no tenant for access key")

// Server wires the S3 handlers to the gateway's core components.
type Server struct {
	DB        *dbgateway.Gateway
	Lifecycle *lifecycle.Coordinator
	Multipart *multipart.Machine
	Tenants   tenant.Resolver
	Verifier  *sigv4.Verifier
	Logger    *slog.Logger

	// Region is reported on HeadBucket's x-amz-bucket-region and is the
	// region the SigV4 Verifier enforces when EnforceRegion is set.
	Region string
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// credentialProvider adapts tenant.Resolver to sigv4.CredentialProvider,
// resolving the access key against the tenant record that carries it
// (the per-credential cache sits inside Tenants when it is a
// *tenant.Cache).
type credentialProvider struct {
	tenants tenant.Resolver
}

func (p *credentialProvider) Lookup(ctx context.Context, accessKeyID string) (*sigv4.Credential, error) {
	t, ok, err := p.tenants.ByAccessKeyID(ctx, accessKeyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoSuchAccessKey
	}
	return &sigv4.Credential{
		AccessKeyID:     t.S3AccessKeyID,
		SecretAccessKey: t.S3SecretAccessKey,
		TenantID:        t.ID,
	}, nil
}

// Mount registers the bucket-level and object-level routes at prefix
// (typically "" so the S3 surface is served at the gateway's root, the
// way a real S3-compatible host listens).
func (s *Server) Mount(app *mizu.App, prefix string) {
	app.Get(prefix+"/", s.handleListBuckets)

	app.Get(prefix+"/:bucket", s.handleBucketGet)
	app.Put(prefix+"/:bucket", s.handleBucketPut)
	app.Delete(prefix+"/:bucket", s.handleDeleteBucket)
	app.Head(prefix+"/:bucket", s.handleHeadBucket)
	app.Post(prefix+"/:bucket", s.handleBucketPost)

	app.Get(prefix+"/:bucket/*key", s.handleObjectGet)
	app.Head(prefix+"/:bucket/*key", s.handleHeadObject)
	app.Put(prefix+"/:bucket/*key", s.handleObjectPut)
	app.Post(prefix+"/:bucket/*key", s.handleObjectPost)
	app.Delete(prefix+"/:bucket/*key", s.handleObjectDelete)
}
