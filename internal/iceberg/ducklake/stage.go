// Arrow staging for manifest entries. Rows are gathered into a typed
// arrow.Record first, then walked into the Avro encoding: the builder
// enforces column types and non-null constraints once, so the byte
// encoder can read every scalar without re-validating it per row.
package ducklake

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// entrySchema types the scalar fields of a manifest entry; map-shaped
// fields (column sizes, counts, bounds) ride alongside in entryAux,
// indexed by row.
var entrySchema = arrow.NewSchema([]arrow.Field{
	{Name: "status", Type: arrow.PrimitiveTypes.Int32},
	{Name: "snapshot_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "sequence_number", Type: arrow.PrimitiveTypes.Int64},
	{Name: "content", Type: arrow.PrimitiveTypes.Int32},
	{Name: "file_path", Type: arrow.BinaryTypes.String},
	{Name: "file_format", Type: arrow.BinaryTypes.String},
	{Name: "record_count", Type: arrow.PrimitiveTypes.Int64},
	{Name: "file_size_in_bytes", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// entryAux carries the per-row map fields the Arrow staging record does
// not model.
type entryAux struct {
	ColumnSizes     []kvLong
	ValueCounts     []kvLong
	NullValueCounts []kvLong
	LowerBounds     []kvBytes
	UpperBounds     []kvBytes
}

type stagedEntries struct {
	rec arrow.Record
	aux []entryAux
}

func (s *stagedEntries) Release() {
	if s.rec != nil {
		s.rec.Release()
	}
}

type stagedRow struct {
	Status         int32
	SnapshotID     int64
	SequenceNumber int64
	Content        int32
	FilePath       string
	FileFormat     string
	RecordCount    int64
	FileSize       int64
}

// stageEntries builds the Arrow record from the assembled rows.
func stageEntries(rows []stagedRow, aux []entryAux) *stagedEntries {
	b := array.NewRecordBuilder(memory.DefaultAllocator, entrySchema)
	defer b.Release()

	for _, r := range rows {
		b.Field(0).(*array.Int32Builder).Append(r.Status)
		b.Field(1).(*array.Int64Builder).Append(r.SnapshotID)
		b.Field(2).(*array.Int64Builder).Append(r.SequenceNumber)
		b.Field(3).(*array.Int32Builder).Append(r.Content)
		b.Field(4).(*array.StringBuilder).Append(r.FilePath)
		b.Field(5).(*array.StringBuilder).Append(r.FileFormat)
		b.Field(6).(*array.Int64Builder).Append(r.RecordCount)
		b.Field(7).(*array.Int64Builder).Append(r.FileSize)
	}
	return &stagedEntries{rec: b.NewRecord(), aux: aux}
}

// encode walks the staged record row by row into manifest_entry Avro
// bytes, in the field order manifestEntrySchema declares.
func (s *stagedEntries) encode() []byte {
	var buf avroBuf

	status := s.rec.Column(0).(*array.Int32)
	snapshotID := s.rec.Column(1).(*array.Int64)
	seqNum := s.rec.Column(2).(*array.Int64)
	content := s.rec.Column(3).(*array.Int32)
	filePath := s.rec.Column(4).(*array.String)
	fileFormat := s.rec.Column(5).(*array.String)
	recordCount := s.rec.Column(6).(*array.Int64)
	fileSize := s.rec.Column(7).(*array.Int64)

	for row := 0; row < int(s.rec.NumRows()); row++ {
		buf.writeInt(status.Value(row))
		buf.writeUnionSome()
		buf.writeLong(snapshotID.Value(row))
		buf.writeUnionSome()
		buf.writeLong(seqNum.Value(row))
		buf.writeUnionSome()
		buf.writeLong(seqNum.Value(row)) // file_sequence_number tracks the data sequence number

		// data_file record.
		buf.writeInt(content.Value(row))
		buf.writeString(filePath.Value(row))
		buf.writeString(fileFormat.Value(row))
		// partition: empty record for unpartitioned tables, no bytes.
		buf.writeLong(recordCount.Value(row))
		buf.writeLong(fileSize.Value(row))

		aux := s.aux[row]
		buf.intLongEntries(aux.ColumnSizes)
		buf.intLongEntries(aux.ValueCounts)
		buf.intLongEntries(aux.NullValueCounts)
		buf.intLongEntries(nil) // nan_value_counts: DuckLake does not track them
		buf.intBytesEntries(aux.LowerBounds)
		buf.intBytesEntries(aux.UpperBounds)

		buf.writeUnionNull() // key_metadata
		buf.writeUnionNull() // split_offsets
		buf.writeUnionNull() // equality_ids
		buf.writeUnionNull() // sort_order_id
	}
	return buf.Bytes()
}
