package objectkey

import (
	"strings"
	"testing"
)

func TestValidBucketName(t *testing.T) {
	valid := []string{
		"avatars",
		"My Bucket",
		"bucket-1",
		"a!('.)&$@=;:+,?",
		strings.Repeat("b", 100),
	}
	for _, name := range valid {
		if !ValidBucketName(name) {
			t.Errorf("ValidBucketName(%q) = false, want true", name)
		}
	}

	invalid := []string{
		"",
		strings.Repeat("b", 101),
		"bucket/with/slash",
		"bucket\nnewline",
		"日本語",
		"aws-reserved",
		"analytics--iceberg",
		"tables--s3-table",
	}
	for _, name := range invalid {
		if ValidBucketName(name) {
			t.Errorf("ValidBucketName(%q) = true, want false", name)
		}
	}
}

func TestValidKey(t *testing.T) {
	valid := []string{
		"file.txt",
		"folder/nested/file.txt",
		"tabs\tand\nnewlines\rallowed",
		"ünïcode-日本語-✓",
		"spaces are fine",
	}
	for _, key := range valid {
		if !ValidKey(key) {
			t.Errorf("ValidKey(%q) = false, want true", key)
		}
	}

	invalid := []string{
		"",
		"null\x00byte",
		"bell\x07char",
		"escape\x1b",
		"del\x7f",
		"fffe￾",
		"ffff￿",
		string([]byte{0xED, 0xA0, 0x80}), // unpaired surrogate encoded as raw bytes
	}
	for _, key := range invalid {
		if ValidKey(key) {
			t.Errorf("ValidKey(%q) = true, want false", key)
		}
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"0B":     0,
		"5B":     5,
		"1KB":    1 << 10,
		"20MB":   20 << 20,
		"1GB":    1 << 30,
		"1.5GB":  3 << 29,
		"512 kb": 512 << 10,
		" 2 MB ": 2 << 20,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Errorf("ParseSize(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}

	for _, in := range []string{"", "MB", "20", "20TB", "20PB", "-5MB", "x20MB"} {
		if _, err := ParseSize(in); err == nil {
			t.Errorf("ParseSize(%q) unexpectedly succeeded", in)
		}
	}
}

// Parse-then-format-then-parse must be stable within precision 3.
func TestParseFormatIdempotent(t *testing.T) {
	for _, in := range []string{"5B", "1KB", "20MB", "1.5GB", "768KB"} {
		n1, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		formatted := FormatSize(n1)
		n2, err := ParseSize(formatted)
		if err != nil {
			t.Fatalf("ParseSize(FormatSize(%q)=%q): %v", in, formatted, err)
		}
		if n1 != n2 {
			t.Errorf("%q: %d -> %q -> %d not idempotent", in, n1, formatted, n2)
		}
	}
}
