// Binary single-value encoding for column bounds, per the Iceberg spec's
// appendix: numerics are little-endian fixed width, strings are raw
// UTF-8, dates are days since epoch as an int, timestamps are
// microseconds since epoch as a long.
package ducklake

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"
)

// encodeBound converts DuckLake's textual statistic value into Iceberg's
// binary form for the given DuckLake column type. Unknown types fall
// back to UTF-8 bytes, which is also the correct encoding for strings.
func encodeBound(colType, value string) []byte {
	switch normalizeType(colType) {
	case "boolean":
		if strings.EqualFold(value, "true") || value == "1" {
			return []byte{1}
		}
		return []byte{0}
	case "int32":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return []byte(value)
		}
		return le32(int32(n))
	case "int64":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return []byte(value)
		}
		return le64(n)
	case "float32":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return []byte(value)
		}
		return le32(int32(math.Float32bits(float32(f))))
	case "float64":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return []byte(value)
		}
		return le64(int64(math.Float64bits(f)))
	case "date":
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return []byte(value)
		}
		days := int32(t.Unix() / 86400)
		return le32(days)
	case "timestamp":
		for _, layout := range []string{
			"2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999",
			time.RFC3339Nano, "2006-01-02 15:04:05",
		} {
			if t, err := time.Parse(layout, value); err == nil {
				return le64(t.UnixMicro())
			}
		}
		return []byte(value)
	default:
		return []byte(value)
	}
}

// normalizeType collapses DuckLake's type spellings into the encoding
// classes above.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "boolean", "bool":
		return "boolean"
	case "int8", "tinyint", "int16", "smallint", "int32", "int", "integer":
		return "int32"
	case "int64", "bigint", "hugeint", "uint32":
		return "int64"
	case "float", "float32", "real":
		return "float32"
	case "double", "float64":
		return "float64"
	case "date":
		return "date"
	case "timestamp", "timestamptz", "timestamp with time zone", "datetime", "timestamp_us":
		return "timestamp"
	case "varchar", "text", "string":
		return "string"
	default:
		return t
	}
}

func le32(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func le64(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
