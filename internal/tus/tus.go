// Package tus implements the resumable-upload HTTP surface over the S3
// multipart machinery: POST creates an upload (Creation extension),
// PATCH appends each request body as the next multipart part, HEAD
// reports progress, DELETE aborts. Every PATCH holds the cross-node
// lease for the upload id for its duration, so concurrent PATCHes from
// different nodes serialize instead of corrupting the part sequence.
package tus

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-mizu/mizu"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/multipart"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/objectkey"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tuslock"
)

const (
	tusVersion   = "1.0.0"
	tusExtension = "creation"

	// metaUploadLength is the user-metadata key carrying the declared
	// total size across requests.
	metaUploadLength = "tusUploadLength"
)

// Handler serves the TUS routes. TenantFrom is supplied by the transport
// that mounts it, the same injection the Iceberg passthrough uses.
type Handler struct {
	DB         *dbgateway.Gateway
	Multipart  *multipart.Machine
	Locker     *tuslock.Locker
	Hub        *Hub
	TenantFrom func(c *mizu.Ctx) *tenant.Tenant
	Logger     *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Mount registers the TUS routes on app under prefix (typically "/tus").
func (h *Handler) Mount(app *mizu.App, prefix string) {
	app.Handle(http.MethodOptions, prefix, h.handleOptions)
	app.Post(prefix, h.handleCreate)
	app.Head(prefix+"/:id", h.handleHead)
	app.Patch(prefix+"/:id", h.handlePatch)
	app.Delete(prefix+"/:id", h.handleDelete)
	app.Get(prefix+"/:id/watch", h.handleWatch)
}

func setTusHeaders(c *mizu.Ctx) {
	header := c.Writer().Header()
	header.Set("Tus-Resumable", tusVersion)
	header.Set("Cache-Control", "no-store")
}

func writeTusError(c *mizu.Ctx, err error) error {
	setTusHeaders(c)
	ae := apierr.As(err)
	status, body := ae.Render()
	return c.JSON(status, body)
}

func (h *Handler) handleOptions(c *mizu.Ctx) error {
	header := c.Writer().Header()
	header.Set("Tus-Resumable", tusVersion)
	header.Set("Tus-Version", tusVersion)
	header.Set("Tus-Extension", tusExtension)
	return c.NoContent()
}

// parseUploadMetadata decodes the Upload-Metadata header: comma-separated
// "key base64value" pairs (value optional per the TUS spec).
func parseUploadMetadata(header string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(header, ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) == 0 {
			continue
		}
		value := ""
		if len(fields) > 1 {
			if decoded, err := base64.StdEncoding.DecodeString(fields[1]); err == nil {
				value = string(decoded)
			}
		}
		out[fields[0]] = value
	}
	return out
}

func (h *Handler) handleCreate(c *mizu.Ctx) error {
	t := h.TenantFrom(c)
	if t == nil {
		return writeTusError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}

	lengthHeader := c.Request().Header.Get("Upload-Length")
	uploadLength, err := strconv.ParseInt(lengthHeader, 10, 64)
	if err != nil || uploadLength < 0 {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "missing or invalid Upload-Length"))
	}

	meta := parseUploadMetadata(c.Request().Header.Get("Upload-Metadata"))
	bucketName := meta["bucketName"]
	objectName := meta["objectName"]
	if bucketName == "" || objectName == "" {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "Upload-Metadata must carry bucketName and objectName"))
	}
	if !objectkey.ValidKey(objectName) {
		return writeTusError(c, apierr.New(apierr.InvalidKey, "invalid object name"))
	}

	ctx := c.Context()
	bucket, err := h.DB.GetBucketByName(ctx, t.ID, bucketName)
	if err != nil {
		return writeTusError(c, err)
	}

	userMetadata := map[string]any{metaUploadLength: uploadLength}
	if ct := meta["contentType"]; ct != "" {
		userMetadata["contentType"] = ct
	}

	upload, err := h.Multipart.Initiate(ctx, &multipart.InitiateRequest{
		TenantID:     t.ID,
		Bucket:       bucket,
		Key:          objectName,
		ContentType:  meta["contentType"],
		UserMetadata: userMetadata,
	})
	if err != nil {
		return writeTusError(c, err)
	}

	setTusHeaders(c)
	c.Writer().Header().Set("Location", strings.TrimSuffix(c.Request().URL.Path, "/")+"/"+upload.UploadID)
	c.Status(http.StatusCreated)
	return nil
}

func (h *Handler) uploadLength(upload *dbgateway.MultipartUpload) int64 {
	if v, ok := upload.UserMetadata[metaUploadLength]; ok {
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	return -1
}

func (h *Handler) handleHead(c *mizu.Ctx) error {
	upload, err := h.DB.FindMultipartUpload(c.Context(), c.Param("id"), dbgateway.FindOptions{})
	if err != nil {
		return writeTusError(c, err)
	}

	setTusHeaders(c)
	header := c.Writer().Header()
	header.Set("Upload-Offset", strconv.FormatInt(upload.InProgressSize, 10))
	if length := h.uploadLength(upload); length >= 0 {
		header.Set("Upload-Length", strconv.FormatInt(length, 10))
	}
	c.Status(http.StatusOK)
	return nil
}

func (h *Handler) handlePatch(c *mizu.Ctx) error {
	t := h.TenantFrom(c)
	if t == nil {
		return writeTusError(c, apierr.New(apierr.TenantNotFound, "tenant could not be resolved"))
	}
	req := c.Request()
	if req.Header.Get("Content-Type") != "application/offset+octet-stream" {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "unsupported media type"))
	}
	if req.ContentLength < 0 {
		return writeTusError(c, apierr.New(apierr.MissingContentLength, "missing content length"))
	}
	clientOffset, err := strconv.ParseInt(req.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || clientOffset < 0 {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "missing or invalid Upload-Offset"))
	}

	id := c.Param("id")

	// A release request from another node cancels this PATCH at its next
	// stream boundary; the client resumes against whichever node won.
	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()

	lease, err := h.Locker.Lock(ctx, id, cancel)
	if err != nil {
		return writeTusError(c, err)
	}
	defer lease.Unlock()

	upload, err := h.DB.FindMultipartUpload(ctx, id, dbgateway.FindOptions{})
	if err != nil {
		return writeTusError(c, err)
	}
	if upload.InProgressSize != clientOffset {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "Upload-Offset does not match current offset"))
	}

	bucket, err := h.DB.GetBucketByID(ctx, t.ID, upload.BucketID)
	if err != nil {
		return writeTusError(c, err)
	}

	parts, err := h.DB.ListParts(ctx, id)
	if err != nil {
		return writeTusError(c, err)
	}

	part, err := h.Multipart.UploadPart(ctx, &multipart.UploadPartRequest{
		UploadID:      id,
		PartNumber:    len(parts) + 1,
		ContentLength: req.ContentLength,
		Body:          req.Body,
		Tenant:        t,
		Bucket:        bucket,
	})
	if err != nil {
		return writeTusError(c, err)
	}

	newOffset := clientOffset + part.Size
	length := h.uploadLength(upload)
	done := length >= 0 && newOffset >= length

	if done {
		if _, err := h.Multipart.Complete(ctx, &multipart.CompleteRequest{
			UploadID: id,
			Tenant:   t,
			Bucket:   bucket,
		}); err != nil {
			return writeTusError(c, err)
		}
	}

	if h.Hub != nil {
		h.Hub.Broadcast(ProgressEvent{ID: id, Offset: newOffset, Length: length, Done: done})
	}

	setTusHeaders(c)
	c.Writer().Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	return c.NoContent()
}

func (h *Handler) handleDelete(c *mizu.Ctx) error {
	id := c.Param("id")

	lease, err := h.Locker.Lock(c.Context(), id, nil)
	if err != nil {
		return writeTusError(c, err)
	}
	defer lease.Unlock()

	if err := h.Multipart.Abort(c.Context(), id); err != nil {
		return writeTusError(c, err)
	}
	setTusHeaders(c)
	return c.NoContent()
}

// handleWatch attaches a websocket watcher to the upload's progress
// feed.
func (h *Handler) handleWatch(c *mizu.Ctx) error {
	if h.Hub == nil {
		return writeTusError(c, apierr.New(apierr.InvalidRequest, "progress feed disabled"))
	}
	id := c.Param("id")
	if _, err := h.DB.FindMultipartUpload(c.Context(), id, dbgateway.FindOptions{}); err != nil {
		return writeTusError(c, err)
	}
	return h.Hub.Watch(c.Writer(), c.Request(), id)
}
