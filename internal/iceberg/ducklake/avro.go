// Avro Object Container File encoding primitives. The generator emits
// Iceberg v2 manifest documents, whose schemas annotate every field with
// a "field-id" in the header JSON; Avro readers ignore the annotation,
// Iceberg readers require it. No Avro library is used: the OCF framing
// and the handful of primitive encodings below are the whole format
// surface these documents need.
package ducklake

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
)

// ocfMagic opens every Avro Object Container File.
var ocfMagic = []byte{'O', 'b', 'j', 1}

// avroBuf accumulates Avro-encoded values.
type avroBuf struct {
	bytes.Buffer
}

// writeLong encodes v as a zig-zag varint, the encoding for both Avro
// long and int.
func (b *avroBuf) writeLong(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	b.Write(tmp[:n])
}

func (b *avroBuf) writeInt(v int32) {
	b.writeLong(int64(v))
}

func (b *avroBuf) writeBool(v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

// writeBytes encodes an Avro bytes value: length then raw bytes.
func (b *avroBuf) writeBytes(v []byte) {
	b.writeLong(int64(len(v)))
	b.Write(v)
}

func (b *avroBuf) writeString(v string) {
	b.writeBytes([]byte(v))
}

// writeUnionNull selects the null branch of a ["null", T] union.
func (b *avroBuf) writeUnionNull() {
	b.writeLong(0)
}

// writeUnionSome selects the non-null branch of a ["null", T] union; the
// caller writes the value next.
func (b *avroBuf) writeUnionSome() {
	b.writeLong(1)
}

// beginArray opens an Avro array/map block of n items; endArray closes
// the block sequence. A single block is always used since manifests are
// encoded in one piece.
func (b *avroBuf) beginArray(n int) {
	if n > 0 {
		b.writeLong(int64(n))
	}
}

func (b *avroBuf) endArray() {
	b.writeLong(0)
}

// intLongEntries writes an int-keyed long-valued map in Iceberg's
// array-of-{key,value}-records form, skipping the union when entries is
// nil.
func (b *avroBuf) intLongEntries(entries []kvLong) {
	if entries == nil {
		b.writeUnionNull()
		return
	}
	b.writeUnionSome()
	b.beginArray(len(entries))
	for _, e := range entries {
		b.writeInt(e.Key)
		b.writeLong(e.Value)
	}
	b.endArray()
}

// intBytesEntries writes an int-keyed bytes-valued map the same way.
func (b *avroBuf) intBytesEntries(entries []kvBytes) {
	if entries == nil {
		b.writeUnionNull()
		return
	}
	b.writeUnionSome()
	b.beginArray(len(entries))
	for _, e := range entries {
		b.writeInt(e.Key)
		b.writeBytes(e.Value)
	}
	b.endArray()
}

type kvLong struct {
	Key   int32
	Value int64
}

type kvBytes struct {
	Key   int32
	Value []byte
}

// writeOCF frames the already-encoded records into an Object Container
// File: magic, file metadata (schema JSON, null codec), sync marker,
// then a single data block.
func writeOCF(schemaJSON string, recordCount int, recordData []byte) []byte {
	var sync [16]byte
	_, _ = rand.Read(sync[:])

	var out avroBuf
	out.Write(ocfMagic)

	// File metadata map: one block of two entries.
	out.writeLong(2)
	out.writeString("avro.schema")
	out.writeBytes([]byte(schemaJSON))
	out.writeString("avro.codec")
	out.writeBytes([]byte("null"))
	out.writeLong(0)

	out.Write(sync[:])

	if recordCount > 0 {
		out.writeLong(int64(recordCount))
		out.writeLong(int64(len(recordData)))
		out.Write(recordData)
		out.Write(sync[:])
	}
	return out.Bytes()
}
