// Package objectkey validates bucket names and object keys, and parses
// human-readable size strings ("20MB") into byte counts. Validation runs
// before anything reaches the store, so a malformed name can never
// become a blob key.
package objectkey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var bucketNameRe = regexp.MustCompile(`^[A-Za-z0-9!\-_.*'()&$@=;:+,? ]{1,100}$`)

// reservedSuffixes may never terminate a bucket name used for table
// catalogs; they are reserved for the Iceberg/S3-Tables namespace split.
var reservedSuffixes = []string{"--iceberg", "--s3-table"}

// ValidBucketName reports whether name is an acceptable bucket identifier.
func ValidBucketName(name string) bool {
	if !bucketNameRe.MatchString(name) {
		return false
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "aws") {
		return false
	}
	for _, suf := range reservedSuffixes {
		if strings.HasSuffix(lower, suf) {
			return false
		}
	}
	return true
}

// ValidKey reports whether key is an acceptable object key: non-empty,
// free of ASCII control characters other than tab/LF/CR, and free of
// U+FFFE, U+FFFF, and unpaired surrogates. Surrogates have no valid
// UTF-8 encoding, so they (and any other malformed byte sequence)
// surface here as a decode error.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			continue
		case r < 0x20:
			return false
		case r == 0x7F:
			return false
		case r == 0xFFFE || r == 0xFFFF:
			return false
		case utf16.IsSurrogate(r):
			return false
		case r == utf8.RuneError:
			if _, size := utf8.DecodeRuneInString(key[i:]); size <= 1 {
				return false
			}
		}
	}
	return true
}

var sizeRe = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(B|KB|MB|GB)\s*$`)

var sizeMultiplier = map[string]float64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
}

// ParseSize parses strings like "20MB", "512 KB", "1.5GB" into a byte
// count. The unit is case-insensitive; no other units are accepted.
func ParseSize(s string) (int64, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("objectkey: invalid size %q", s)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("objectkey: invalid size %q: %w", s, err)
	}
	mult := sizeMultiplier[strings.ToUpper(m[2])]
	return int64(val * mult), nil
}

// FormatSize renders a byte count using the same units ParseSize accepts,
// at precision 3.
func FormatSize(bytes int64) string {
	f := float64(bytes)
	switch {
	case f >= sizeMultiplier["GB"]:
		return trimFloat(f/sizeMultiplier["GB"]) + "GB"
	case f >= sizeMultiplier["MB"]:
		return trimFloat(f/sizeMultiplier["MB"]) + "MB"
	case f >= sizeMultiplier["KB"]:
		return trimFloat(f/sizeMultiplier["KB"]) + "KB"
	default:
		return trimFloat(f) + "B"
	}
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
