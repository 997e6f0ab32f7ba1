// Bucket CRUD handlers for the REST storage API.
package restapi

import (
	"strings"

	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"

	mizu "github.com/go-mizu/mizu"
)

// CreateBucketRequest is the request body for POST /bucket.
type CreateBucketRequest struct {
	Name             string   `json:"name"`
	ID               string   `json:"id,omitempty"`
	Public           bool     `json:"public,omitempty"`
	FileSizeLimit    *int64   `json:"file_size_limit,omitempty"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty"`
}

// CreateBucketResponse is the response for POST /bucket.
type CreateBucketResponse struct {
	Name string `json:"name"`
}

// BucketResponse is the response for GET /bucket/:id and list items.
type BucketResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    *int64   `json:"file_size_limit,omitempty"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty"`
}

// UpdateBucketRequest is the request body for PUT /bucket/:id.
type UpdateBucketRequest struct {
	Public           *bool    `json:"public,omitempty"`
	FileSizeLimit    *int64   `json:"file_size_limit,omitempty"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty"`
}

func toBucketResponse(b *dbgateway.Bucket) BucketResponse {
	return BucketResponse{
		ID:               b.ID,
		Name:             b.Name,
		Public:           b.Public,
		FileSizeLimit:    b.FileSizeLimit,
		AllowedMimeTypes: b.AllowedMimeTypes,
	}
}

// handleCreateBucket implements POST /bucket.
func (s *Server) handleCreateBucket(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}

	var req CreateBucketRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(req.ID)
	}
	if name == "" {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket name is required"))
	}

	b := &dbgateway.Bucket{
		ID:               uuid.NewString(),
		Name:             name,
		Public:           req.Public,
		FileSizeLimit:    req.FileSizeLimit,
		AllowedMimeTypes: req.AllowedMimeTypes,
	}
	if err := s.DB.CreateBucket(c.Context(), t.ID, b); err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, 200, CreateBucketResponse{Name: b.Name})
}

// handleListBuckets implements GET /bucket.
func (s *Server) handleListBuckets(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}

	limit := parseIntQuery(c, "limit", 100)
	offset := parseIntQuery(c, "offset", 0)

	buckets, err := s.DB.ListBuckets(c.Context(), t.ID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]BucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucketResponse(b))
	}
	return writeJSON(c, 200, out)
}

// handleGetBucket implements GET /bucket/:id.
func (s *Server) handleGetBucket(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket id is required"))
	}

	b, err := s.DB.GetBucketByName(c.Context(), t.ID, id)
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, 200, toBucketResponse(b))
}

// handleUpdateBucket implements PUT /bucket/:id.
func (s *Server) handleUpdateBucket(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket id is required"))
	}

	var req UpdateBucketRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}

	b, err := s.DB.GetBucketByName(c.Context(), t.ID, id)
	if err != nil {
		return writeError(c, err)
	}
	if req.Public != nil {
		b.Public = *req.Public
	}
	if req.FileSizeLimit != nil {
		b.FileSizeLimit = req.FileSizeLimit
	}
	if req.AllowedMimeTypes != nil {
		b.AllowedMimeTypes = req.AllowedMimeTypes
	}
	if err := s.DB.UpdateBucket(c.Context(), t.ID, b); err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, 200, MessageResponse{Message: "Successfully updated"})
}

// handleDeleteBucket implements DELETE /bucket/:id.
func (s *Server) handleDeleteBucket(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket id is required"))
	}

	b, err := s.DB.GetBucketByName(c.Context(), t.ID, id)
	if err != nil {
		return writeError(c, err)
	}
	count, err := s.DB.BucketObjectCount(c.Context(), t.ID, b.ID)
	if err != nil {
		return writeError(c, err)
	}
	if count > 0 {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket must be empty before it can be deleted"))
	}
	if err := s.DB.DeleteBucket(c.Context(), t.ID, b.ID); err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, 200, MessageResponse{Message: "Successfully deleted"})
}

// handleEmptyBucket implements POST /bucket/:id/empty.
func (s *Server) handleEmptyBucket(c *mizu.Ctx) error {
	t := tenantFrom(c)
	if t == nil {
		return writeError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return writeError(c, apierr.New(apierr.InvalidRequest, "bucket id is required"))
	}

	b, err := s.DB.GetBucketByName(c.Context(), t.ID, id)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Context()
	continuation := ""
	var names []string
	for {
		page, err := s.Lifecycle.ListObjectsV2(ctx, t.ID, b.ID, dbgateway.ListOptions{
			MaxKeys: 1000, Continuation: continuation,
		})
		if err != nil {
			return writeError(c, err)
		}
		for _, o := range page.Objects {
			names = append(names, o.Name)
		}
		if !page.IsTruncated || page.NextContinuation == "" {
			break
		}
		continuation = page.NextContinuation
	}

	if len(names) > 0 {
		if _, err := s.Lifecycle.DeleteMany(ctx, t, t.ID, b, names, 2000, requestID(c)); err != nil {
			return writeError(c, err)
		}
	}

	return writeJSON(c, 200, MessageResponse{Message: "Successfully emptied"})
}

func parseIntQuery(c *mizu.Ctx, name string, defaultVal int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultVal
	}
	var val int
	for _, r := range raw {
		if r < '0' || r > '9' {
			return defaultVal
		}
		val = val*10 + int(r-'0')
	}
	return val
}
