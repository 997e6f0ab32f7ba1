package bytelimit

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

func TestReadUnderLimit(t *testing.T) {
	r := NewReader(strings.NewReader("hello"), 5)
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if r.BytesRead() != 5 {
		t.Fatalf("BytesRead = %d", r.BytesRead())
	}
}

// The limit must trip on the first byte past the cap, not at end of
// stream: a 10GB upload against a 5MB cap has to die at ~5MB.
func TestFailsOnFirstBytePastCap(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20))
	r := NewReader(src, 100)

	var total int64
	buf := make([]byte, 64)
	var gotErr error
	for {
		n, err := r.Read(buf)
		total += int64(n)
		if err != nil {
			gotErr = err
			break
		}
	}

	var ae *apierr.Error
	if !errors.As(gotErr, &ae) || ae.Code != apierr.EntityTooLarge {
		t.Fatalf("err = %v, want EntityTooLarge", gotErr)
	}
	if !errors.Is(gotErr, ErrTooLarge) {
		t.Fatalf("err does not wrap ErrTooLarge: %v", gotErr)
	}
	// At most one byte past the cap may have been consumed from the
	// source; the rest of the stream stays untouched.
	if total > 101 {
		t.Fatalf("consumed %d bytes past a 100-byte cap", total)
	}
}

func TestExactLimitPasses(t *testing.T) {
	r := NewReader(strings.NewReader("12345"), 5)
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read at exact limit: %v", err)
	}
	if len(data) != 5 {
		t.Fatalf("len = %d", len(data))
	}
}

func TestZeroLimitDisablesEnforcement(t *testing.T) {
	r := NewReader(strings.NewReader("anything goes"), 0)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("read: %v", err)
	}
}
