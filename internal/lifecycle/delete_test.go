package lifecycle

import (
	"net/url"
	"testing"
)

func TestBatchPrefixesRespectsLimit(t *testing.T) {
	names := []string{
		"a/short",
		"b/somewhat-longer-name.txt",
		"c/path with spaces and ünïcode.bin",
		"d/x",
		"e/another/deeply/nested/key",
	}
	limit := 60

	batches := BatchPrefixes(names, limit)

	var total int
	for _, b := range batches {
		total += len(b)
		var sum int
		for _, name := range b {
			sum += len(url.QueryEscape(name)) + urlLengthOverhead
		}
		// A batch may only exceed the limit when it holds a single name
		// that alone is over it; otherwise the accumulation rule caps it.
		if sum > limit && len(b) > 1 {
			t.Fatalf("batch %v sums to %d > %d", b, sum, limit)
		}
	}
	if total != len(names) {
		t.Fatalf("batches dropped names: %d != %d", total, len(names))
	}
}

func TestBatchPrefixesPreservesOrder(t *testing.T) {
	names := []string{"1", "2", "3", "4", "5"}
	var flattened []string
	for _, b := range BatchPrefixes(names, 25) {
		flattened = append(flattened, b...)
	}
	for i, name := range names {
		if flattened[i] != name {
			t.Fatalf("order changed: %v", flattened)
		}
	}
}

func TestBatchPrefixesEmpty(t *testing.T) {
	if got := BatchPrefixes(nil, 100); got != nil {
		t.Fatalf("BatchPrefixes(nil) = %v", got)
	}
}

func TestBlobKey(t *testing.T) {
	if got := BlobKey("t1", "b1", "a/b.txt", "v9"); got != "t1/b1/a/b.txt/v9" {
		t.Fatalf("BlobKey = %q", got)
	}
}
