// Package diskblob backs blobstore.Backend with a local directory, for
// development and integration tests. Object keys map to files under the
// root; content metadata rides in a small JSON sidecar so GetObject and
// HeadObject report the same fields the S3 backend would. Large reads
// are served from a memory-mapped view instead of buffered file I/O;
// concurrent writers to one key are collapsed under a per-key mutex so a
// torn write can never surface to a reader.
package diskblob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/keymutex"
)

func init() {
	blobstore.Register("disk", open)
}

// mmapThreshold is the smallest object served via mmap; below it a
// plain buffered read is cheaper than the map/unmap syscall pair.
const mmapThreshold = 4 << 20

type backend struct {
	root  string
	locks *keymutex.KeyMutex
}

// open builds a Backend from a DSN of the form disk:///var/data/blobs
// (or disk://relative/path).
func open(_ context.Context, dsn *url.URL) (blobstore.Backend, error) {
	root := dsn.Path
	if dsn.Host != "" {
		root = filepath.Join(dsn.Host, root)
	}
	if root == "" {
		return nil, fmt.Errorf("diskblob: dsn missing root path, got %q", dsn.String())
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("diskblob: create root: %w", err)
	}
	return &backend{root: root, locks: keymutex.New()}, nil
}

type sidecar struct {
	ContentType  string    `json:"contentType"`
	CacheControl string    `json:"cacheControl,omitempty"`
	ETag         string    `json:"eTag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

func (b *backend) dataPath(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *backend) metaPath(key string) string {
	return b.dataPath(key) + ".meta.json"
}

func (b *backend) writeSidecar(key string, sc *sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(b.metaPath(key), data, 0o644)
}

func (b *backend) readSidecar(key string) (*sidecar, error) {
	data, err := os.ReadFile(b.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.ErrNotExist
		}
		return nil, err
	}
	sc := &sidecar{}
	if err := json.Unmarshal(data, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (b *backend) UploadObject(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) (*blobstore.ObjectInfo, error) {
	unlock := b.locks.Lock(key)
	defer unlock()

	path := b.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}

	sc := &sidecar{
		ContentType:  contentType,
		CacheControl: cacheControl,
		ETag:         hex.EncodeToString(hash.Sum(nil)),
		Size:         written,
		LastModified: time.Now().UTC(),
	}
	if err := b.writeSidecar(key, sc); err != nil {
		return nil, err
	}
	return infoFrom(sc), nil
}

// mmapReader serves a byte window of a mapped file and unmaps on Close.
type mmapReader struct {
	m    mmap.MMap
	f    *os.File
	view io.Reader
}

func (r *mmapReader) Read(p []byte) (int, error) { return r.view.Read(p) }

func (r *mmapReader) Close() error {
	err := r.m.Unmap()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *backend) GetObject(ctx context.Context, key string, opts blobstore.ReadOptions) (io.ReadCloser, *blobstore.ObjectInfo, error) {
	sc, err := b.readSidecar(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(b.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, blobstore.ErrNotExist
		}
		return nil, nil, err
	}

	length := opts.Length
	if length == 0 {
		length = sc.Size - opts.Offset
	}
	info := infoFrom(sc)
	info.Size = length

	if sc.Size >= mmapThreshold {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err == nil {
			end := opts.Offset + length
			if end > int64(len(m)) {
				end = int64(len(m))
			}
			return &mmapReader{m: m, f: f, view: bytes.NewReader(m[opts.Offset:end])}, info, nil
		}
		// Mapping can fail on exotic filesystems; fall through to
		// buffered reads.
	}

	if opts.Offset > 0 {
		if _, err := f.Seek(opts.Offset, io.SeekStart); err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	return &limitedFile{f: f, r: io.LimitReader(f, length)}, info, nil
}

type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error               { return l.f.Close() }

func (b *backend) HeadObject(ctx context.Context, key string) (*blobstore.ObjectInfo, error) {
	sc, err := b.readSidecar(key)
	if err != nil {
		return nil, err
	}
	return infoFrom(sc), nil
}

func (b *backend) CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string, cond blobstore.CopyCondition) (*blobstore.ObjectInfo, error) {
	sc, err := b.readSidecar(srcKey)
	if err != nil {
		return nil, err
	}
	if cond.IfMatchETag != "" && cond.IfMatchETag != sc.ETag {
		return nil, fmt.Errorf("diskblob: precondition failed for %q", srcKey)
	}

	src, err := os.Open(b.dataPath(srcKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.ErrNotExist
		}
		return nil, err
	}
	defer src.Close()

	info, err := b.UploadObject(ctx, dstKey, src, sc.Size, sc.ContentType, sc.CacheControl)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (b *backend) DeleteObject(ctx context.Context, key string) error {
	unlock := b.locks.Lock(key)
	defer unlock()

	err := os.Remove(b.dataPath(key))
	_ = os.Remove(b.metaPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *backend) DeleteObjects(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := b.DeleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) multipartDir(uploadID string) string {
	return filepath.Join(b.root, ".multipart", uploadID)
}

func (b *backend) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	uploadID := uuid.NewString()
	dir := b.multipartDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	meta := map[string]string{"key": key, "contentType": contentType}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, "upload.json"), data, 0o644); err != nil {
		return "", err
	}
	return uploadID, nil
}

func (b *backend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (*blobstore.Part, error) {
	dir := b.multipartDir(uploadID)
	if _, err := os.Stat(dir); err != nil {
		return nil, blobstore.ErrNotExist
	}

	path := filepath.Join(dir, strconv.Itoa(partNumber))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(f, hash), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return &blobstore.Part{
		PartNumber: partNumber,
		ETag:       hex.EncodeToString(hash.Sum(nil)),
		Size:       written,
	}, nil
}

func (b *backend) UploadPartCopy(ctx context.Context, dstKey, uploadID string, partNumber int, srcKey string, byteRange [2]int64) (*blobstore.Part, error) {
	opts := blobstore.ReadOptions{}
	if byteRange[1] > 0 {
		opts.Offset = byteRange[0]
		opts.Length = byteRange[1] - byteRange[0] + 1
	}
	body, info, err := b.GetObject(ctx, srcKey, opts)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return b.UploadPart(ctx, dstKey, uploadID, partNumber, body, info.Size)
}

func (b *backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []blobstore.Part) (*blobstore.ObjectInfo, error) {
	dir := b.multipartDir(uploadID)

	metaRaw, err := os.ReadFile(filepath.Join(dir, "upload.json"))
	if err != nil {
		return nil, blobstore.ErrNotExist
	}
	var meta map[string]string
	_ = json.Unmarshal(metaRaw, &meta)

	ordered := append([]blobstore.Part(nil), parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })

	readers := make([]io.Reader, 0, len(ordered))
	files := make([]*os.File, 0, len(ordered))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	var total int64
	for _, p := range ordered {
		f, err := os.Open(filepath.Join(dir, strconv.Itoa(p.PartNumber)))
		if err != nil {
			return nil, fmt.Errorf("diskblob: missing part %d: %w", p.PartNumber, err)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		total += st.Size()
		files = append(files, f)
		readers = append(readers, f)
	}

	info, err := b.UploadObject(ctx, key, io.MultiReader(readers...), total, meta["contentType"], "")
	if err != nil {
		return nil, err
	}
	_ = os.RemoveAll(dir)
	return info, nil
}

func (b *backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return os.RemoveAll(b.multipartDir(uploadID))
}

func (b *backend) Close() error { return nil }

func infoFrom(sc *sidecar) *blobstore.ObjectInfo {
	return &blobstore.ObjectInfo{
		Size:         sc.Size,
		ETag:         sc.ETag,
		ContentType:  sc.ContentType,
		CacheControl: sc.CacheControl,
		LastModified: sc.LastModified,
	}
}
