package s3router

import "testing"

func TestParseByteRange(t *testing.T) {
	const size = 100

	t.Run("first byte only", func(t *testing.T) {
		off, length, ok := parseByteRange("bytes=0-0", size)
		if !ok || off != 0 || length != 1 {
			t.Fatalf("got off=%d len=%d ok=%v", off, length, ok)
		}
	})

	t.Run("open-ended", func(t *testing.T) {
		off, length, ok := parseByteRange("bytes=10-", size)
		if !ok || off != 10 || length != 90 {
			t.Fatalf("got off=%d len=%d ok=%v", off, length, ok)
		}
	})

	t.Run("suffix", func(t *testing.T) {
		off, length, ok := parseByteRange("bytes=-25", size)
		if !ok || off != 75 || length != 25 {
			t.Fatalf("got off=%d len=%d ok=%v", off, length, ok)
		}
	})

	t.Run("end clamped to size", func(t *testing.T) {
		off, length, ok := parseByteRange("bytes=90-500", size)
		if !ok || off != 90 || length != 10 {
			t.Fatalf("got off=%d len=%d ok=%v", off, length, ok)
		}
	})

	t.Run("unsatisfiable", func(t *testing.T) {
		for _, header := range []string{"bytes=100-", "bytes=5-2", "bytes=", "bytes=a-b", "bytes=-0"} {
			if _, _, ok := parseByteRange(header, size); ok {
				t.Errorf("header %q unexpectedly satisfiable", header)
			}
		}
	})
}

func TestContentRangeHeader(t *testing.T) {
	if got := contentRangeHeader(0, 0, 100); got != "bytes 0-0/100" {
		t.Fatalf("got %q", got)
	}
}

func TestParseCopySource(t *testing.T) {
	cases := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"/src-bucket/path/to/key", "src-bucket", "path/to/key", true},
		{"src-bucket/key", "src-bucket", "key", true},
		{"/bucket/with%20space", "bucket", "with space", true},
		{"justbucket", "", "", false},
		{"/bucket/", "", "", false},
	}
	for _, c := range cases {
		bucket, key, ok := parseCopySource(c.in)
		if ok != c.ok || bucket != c.bucket || key != c.key {
			t.Errorf("parseCopySource(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.in, bucket, key, ok, c.bucket, c.key, c.ok)
		}
	}
}
