package diskblob

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
)

func newBackend(t *testing.T) blobstore.Backend {
	t.Helper()
	dsn, err := url.Parse("disk://" + t.TempDir())
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	b, err := open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestUploadGetHead(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	info, err := b.UploadObject(ctx, "t1/b1/k1/v1", strings.NewReader("hello"), 5, "text/plain", "max-age=60")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if info.Size != 5 || info.ETag == "" {
		t.Fatalf("info = %+v", info)
	}

	head, err := b.HeadObject(ctx, "t1/b1/k1/v1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != 5 || head.ContentType != "text/plain" || head.CacheControl != "max-age=60" {
		t.Fatalf("head = %+v", head)
	}

	body, _, err := b.GetObject(ctx, "t1/b1/k1/v1", blobstore.ReadOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
}

func TestGetObjectRange(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	if _, err := b.UploadObject(ctx, "k", strings.NewReader("0123456789"), 10, "application/octet-stream", ""); err != nil {
		t.Fatalf("upload: %v", err)
	}

	body, info, err := b.GetObject(ctx, "k", blobstore.ReadOptions{Offset: 3, Length: 4})
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	defer body.Close()
	if info.Size != 4 {
		t.Fatalf("info.Size = %d", info.Size)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "3456" {
		t.Fatalf("range data = %q", data)
	}
}

func TestGetObjectLargeUsesMmap(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("m"), mmapThreshold)
	if _, err := b.UploadObject(ctx, "big", bytes.NewReader(payload), int64(len(payload)), "application/octet-stream", ""); err != nil {
		t.Fatalf("upload: %v", err)
	}

	body, _, err := b.GetObject(ctx, "big", blobstore.ReadOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := body.(*mmapReader); !ok {
		t.Fatalf("large read served by %T, want *mmapReader", body)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read mapped: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("mapped read differs: %d bytes", len(data))
	}
	if err := body.Close(); err != nil {
		t.Fatalf("close unmaps: %v", err)
	}
}

func TestNotExist(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	if _, err := b.HeadObject(ctx, "missing"); err != blobstore.ErrNotExist {
		t.Fatalf("head err = %v", err)
	}
	if _, _, err := b.GetObject(ctx, "missing", blobstore.ReadOptions{}); err != blobstore.ErrNotExist {
		t.Fatalf("get err = %v", err)
	}
	// Deleting a missing key is not an error (delete is idempotent).
	if err := b.DeleteObject(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestCopyObject(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	src, err := b.UploadObject(ctx, "src", strings.NewReader("payload"), 7, "text/plain", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := b.CopyObject(ctx, "src", "dst", nil, blobstore.CopyCondition{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	head, err := b.HeadObject(ctx, "dst")
	if err != nil {
		t.Fatalf("head dst: %v", err)
	}
	if head.Size != 7 || head.ContentType != "text/plain" {
		t.Fatalf("dst head = %+v", head)
	}

	if _, err := b.CopyObject(ctx, "src", "dst2", nil, blobstore.CopyCondition{IfMatchETag: "wrong"}); err == nil {
		t.Fatal("etag precondition did not fail")
	}
	if _, err := b.CopyObject(ctx, "src", "dst3", nil, blobstore.CopyCondition{IfMatchETag: src.ETag}); err != nil {
		t.Fatalf("matching etag precondition failed: %v", err)
	}
}

func TestMultipartLifecycle(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "t/b/k/v", "application/octet-stream")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p1, err := b.UploadPart(ctx, "t/b/k/v", uploadID, 1, strings.NewReader("part-one-"), 9)
	if err != nil {
		t.Fatalf("part 1: %v", err)
	}
	p2, err := b.UploadPart(ctx, "t/b/k/v", uploadID, 2, strings.NewReader("part-two"), 8)
	if err != nil {
		t.Fatalf("part 2: %v", err)
	}

	info, err := b.CompleteMultipartUpload(ctx, "t/b/k/v", uploadID, []blobstore.Part{*p2, *p1})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if info.Size != 17 {
		t.Fatalf("assembled size = %d", info.Size)
	}

	body, _, err := b.GetObject(ctx, "t/b/k/v", blobstore.ReadOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "part-one-part-two" {
		t.Fatalf("assembled = %q (parts must be ordered by number, not input order)", data)
	}

	// Completing again fails: the upload is gone.
	if _, err := b.CompleteMultipartUpload(ctx, "t/b/k/v", uploadID, []blobstore.Part{*p1}); err == nil {
		t.Fatal("second complete unexpectedly succeeded")
	}
}

func TestMultipartAbort(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "k", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.UploadPart(ctx, "k", uploadID, 1, strings.NewReader("x"), 1); err != nil {
		t.Fatalf("part: %v", err)
	}
	if err := b.AbortMultipartUpload(ctx, "k", uploadID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := b.UploadPart(ctx, "k", uploadID, 2, strings.NewReader("y"), 1); err != blobstore.ErrNotExist {
		t.Fatalf("part after abort err = %v", err)
	}
}

func TestDeleteObjects(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if _, err := b.UploadObject(ctx, k, strings.NewReader(k), 1, "", ""); err != nil {
			t.Fatalf("upload %s: %v", k, err)
		}
	}
	if err := b.DeleteObjects(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if _, err := b.HeadObject(ctx, "a"); err != blobstore.ErrNotExist {
		t.Fatalf("a survived: %v", err)
	}
	if _, err := b.HeadObject(ctx, "c"); err != nil {
		t.Fatalf("c was deleted: %v", err)
	}
}
