package ducklake

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// avroReader decodes the primitive encodings the writer emits, so the
// tests can verify the documents are self-describing rather than just
// byte-golden.
type avroReader struct {
	r *bytes.Reader
}

func newAvroReader(data []byte) *avroReader {
	return &avroReader{r: bytes.NewReader(data)}
}

func (a *avroReader) long(t *testing.T) int64 {
	t.Helper()
	v, err := binary.ReadVarint(a.r)
	if err != nil {
		t.Fatalf("read long: %v", err)
	}
	return v
}

func (a *avroReader) bytes(t *testing.T) []byte {
	t.Helper()
	n := a.long(t)
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.r, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func (a *avroReader) str(t *testing.T) string {
	return string(a.bytes(t))
}

func (a *avroReader) bool(t *testing.T) bool {
	t.Helper()
	b, err := a.r.ReadByte()
	if err != nil {
		t.Fatalf("read bool: %v", err)
	}
	return b == 1
}

func (a *avroReader) raw(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.r, buf); err != nil {
		t.Fatalf("read raw %d: %v", n, err)
	}
	return buf
}

// ocf holds a decoded Object Container File.
type ocf struct {
	meta   map[string]string
	count  int64
	reader *avroReader
}

// decodeOCF consumes the header and positions the reader at the first
// record of the first (and only) data block.
func decodeOCF(t *testing.T, data []byte) *ocf {
	t.Helper()
	a := newAvroReader(data)

	if magic := a.raw(t, 4); !bytes.Equal(magic, []byte{0x4F, 0x62, 0x6A, 0x01}) {
		t.Fatalf("bad magic: % X", magic)
	}

	meta := map[string]string{}
	for {
		n := a.long(t)
		if n == 0 {
			break
		}
		for i := int64(0); i < n; i++ {
			k := a.str(t)
			v := a.bytes(t)
			meta[k] = string(v)
		}
	}
	a.raw(t, 16) // sync marker

	count := a.long(t)
	a.long(t) // block byte length
	return &ocf{meta: meta, count: count, reader: a}
}

func TestWriteLongZigZag(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -64, 300, -300, 1 << 40, -(1 << 40)} {
		var b avroBuf
		b.writeLong(v)
		got, err := binary.ReadVarint(bytes.NewReader(b.Bytes()))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip %d -> %d", v, got)
		}
	}
}

func TestWriteOCFFraming(t *testing.T) {
	var rec avroBuf
	rec.writeString("hello")

	data := writeOCF(`{"type":"record","name":"x","fields":[{"name":"s","type":"string"}]}`, 1, rec.Bytes())

	f := decodeOCF(t, data)
	if f.meta["avro.codec"] != "null" {
		t.Fatalf("codec = %q", f.meta["avro.codec"])
	}
	if f.meta["avro.schema"] == "" {
		t.Fatal("missing avro.schema in header")
	}
	if f.count != 1 {
		t.Fatalf("record count = %d", f.count)
	}
	if got := f.reader.str(t); got != "hello" {
		t.Fatalf("record = %q", got)
	}
}

func TestEmptyOCFHasNoBlock(t *testing.T) {
	data := writeOCF(`{"type":"record","name":"x","fields":[]}`, 0, nil)
	a := newAvroReader(data)
	a.raw(t, 4)
	for {
		n := a.long(t)
		if n == 0 {
			break
		}
		for i := int64(0); i < n; i++ {
			a.str(t)
			a.bytes(t)
		}
	}
	a.raw(t, 16)
	if a.r.Len() != 0 {
		t.Fatalf("%d trailing bytes after header of empty file", a.r.Len())
	}
}

func TestIntKeyedMapEncodings(t *testing.T) {
	t.Run("nil map takes the null branch", func(t *testing.T) {
		var b avroBuf
		b.intLongEntries(nil)
		a := newAvroReader(b.Bytes())
		if branch := a.long(t); branch != 0 {
			t.Fatalf("union branch = %d", branch)
		}
	})

	t.Run("entries roundtrip", func(t *testing.T) {
		var b avroBuf
		b.intLongEntries([]kvLong{{1, 100}, {2, 200}})
		a := newAvroReader(b.Bytes())
		if branch := a.long(t); branch != 1 {
			t.Fatalf("union branch = %d", branch)
		}
		if n := a.long(t); n != 2 {
			t.Fatalf("block count = %d", n)
		}
		for _, want := range []kvLong{{1, 100}, {2, 200}} {
			if k := a.long(t); int32(k) != want.Key {
				t.Fatalf("key = %d", k)
			}
			if v := a.long(t); v != want.Value {
				t.Fatalf("value = %d", v)
			}
		}
		if end := a.long(t); end != 0 {
			t.Fatalf("array terminator = %d", end)
		}
	})
}
