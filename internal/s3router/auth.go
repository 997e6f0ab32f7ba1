package s3router

import (
	"context"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// authenticate verifies the inbound SigV4 signature (header or
// presigned-query form) and resolves the tenant that owns the signing
// credential. Every bucket/object handler calls this first.
func (s *Server) authenticate(c *mizu.Ctx) (*tenant.Tenant, error) {
	cred, err := s.Verifier.Verify(c.Context(), c.Request(), &credentialProvider{tenants: s.Tenants})
	if err != nil {
		return nil, apierr.Wrap(apierr.AccessDenied, "signature verification failed", err)
	}
	t, ok, err := s.Tenants.ByID(c.Context(), cred.TenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.TenantNotFound, "tenant could not be resolved")
	}
	return t, nil
}

func (s *Server) bucketByName(ctx context.Context, tenantID, name string) (*dbgateway.Bucket, error) {
	return s.DB.GetBucketByName(ctx, tenantID, name)
}
