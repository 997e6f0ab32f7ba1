package lifecycle

import (
	"context"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
)

// ListObjectsV2 is a thin pass-through to the DB gateway's paginated
// listing; the coordinator's own job here is just
// to be the single place transports call through, matching the pattern
// that every other mutation in this package goes through the
// coordinator rather than the DB gateway directly.
func (c *Coordinator) ListObjectsV2(ctx context.Context, tenantID, bucketID string, opts dbgateway.ListOptions) (*dbgateway.Page, error) {
	return c.DB.ListObjectsV2(ctx, tenantID, bucketID, opts)
}
