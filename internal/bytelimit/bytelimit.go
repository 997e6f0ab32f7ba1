// Package bytelimit wraps an io.Reader so the pipeline fails the moment
// cumulative bytes read exceed a cap, rather than at end of stream. Every
// upload path wraps the request body with this before it reaches a
// blob adapter, so an oversized upload is rejected before its last byte is
// even buffered.
package bytelimit

import (
	"errors"
	"io"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// ErrTooLarge is returned (wrapped in an *apierr.Error) the first time a
// read would push the cumulative count past the configured limit.
var ErrTooLarge = errors.New("bytelimit: entity too large")

// Reader enforces Limit bytes across the lifetime of the wrapped reader.
type Reader struct {
	r     io.Reader
	limit int64
	read  int64
}

// NewReader returns a Reader that fails with apierr.EntityTooLarge once
// more than limit bytes have been read. A non-positive limit disables
// enforcement.
func NewReader(r io.Reader, limit int64) *Reader {
	return &Reader{r: r, limit: limit}
}

func (b *Reader) Read(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.r.Read(p)
	}
	// Never request more bytes than would still fit under the limit plus
	// one, so the overflow is detected on the read that crosses the cap
	// instead of silently buffering extra bytes first.
	remaining := b.limit - b.read + 1
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		return n, apierr.Wrap(apierr.EntityTooLarge, "object exceeds size limit", ErrTooLarge)
	}
	return n, err
}

// BytesRead returns the number of bytes successfully read so far.
func (b *Reader) BytesRead() int64 { return b.read }
