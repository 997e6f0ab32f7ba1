package ducklake

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestEncodeBoundNumerics(t *testing.T) {
	t.Run("int32 little-endian", func(t *testing.T) {
		got := encodeBound("integer", "7")
		want := []byte{7, 0, 0, 0}
		if !bytes.Equal(got, want) {
			t.Fatalf("got % X", got)
		}
	})

	t.Run("int64 little-endian", func(t *testing.T) {
		got := encodeBound("bigint", "-2")
		if len(got) != 8 || int64(binary.LittleEndian.Uint64(got)) != -2 {
			t.Fatalf("got % X", got)
		}
	})

	t.Run("double bit pattern", func(t *testing.T) {
		got := encodeBound("double", "1.5")
		if len(got) != 8 {
			t.Fatalf("len = %d", len(got))
		}
		if f := math.Float64frombits(binary.LittleEndian.Uint64(got)); f != 1.5 {
			t.Fatalf("decoded %v", f)
		}
	})

	t.Run("float bit pattern", func(t *testing.T) {
		got := encodeBound("real", "0.25")
		if len(got) != 4 {
			t.Fatalf("len = %d", len(got))
		}
		if f := math.Float32frombits(binary.LittleEndian.Uint32(got)); f != 0.25 {
			t.Fatalf("decoded %v", f)
		}
	})
}

func TestEncodeBoundStrings(t *testing.T) {
	if got := encodeBound("varchar", "héllo"); string(got) != "héllo" {
		t.Fatalf("got %q", got)
	}
	// Unknown types fall back to UTF-8 too.
	if got := encodeBound("struct(a int)", "x"); string(got) != "x" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeBoundTemporals(t *testing.T) {
	t.Run("date as days since epoch", func(t *testing.T) {
		got := encodeBound("date", "1970-01-11")
		if len(got) != 4 || int32(binary.LittleEndian.Uint32(got)) != 10 {
			t.Fatalf("got % X", got)
		}
	})

	t.Run("timestamp as micros since epoch", func(t *testing.T) {
		got := encodeBound("timestamp", "1970-01-01 00:00:01")
		if len(got) != 8 || int64(binary.LittleEndian.Uint64(got)) != time.Second.Microseconds() {
			t.Fatalf("got % X", got)
		}
	})
}

func TestEncodeBoundBoolean(t *testing.T) {
	if got := encodeBound("boolean", "true"); !bytes.Equal(got, []byte{1}) {
		t.Fatalf("true -> % X", got)
	}
	if got := encodeBound("bool", "false"); !bytes.Equal(got, []byte{0}) {
		t.Fatalf("false -> % X", got)
	}
}

func TestEncodeBoundUnparseableFallsBack(t *testing.T) {
	// A numeric column whose stat isn't numeric degrades to raw bytes
	// instead of panicking or fabricating a value.
	if got := encodeBound("bigint", "not-a-number"); string(got) != "not-a-number" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"BIGINT":       "int64",
		"int":          "int32",
		"smallint":     "int32",
		"VARCHAR(255)": "string",
		"timestamptz":  "timestamp",
		"decimal(9,2)": "decimal",
	}
	for in, want := range cases {
		if got := normalizeType(in); got != want {
			t.Errorf("normalizeType(%q) = %q, want %q", in, got, want)
		}
	}
}
