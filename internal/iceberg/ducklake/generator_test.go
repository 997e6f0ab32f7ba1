package ducklake

import (
	"context"
	"strings"
	"testing"
)

// fakeSource serves a small fixed catalog: table 17, snapshot 3, two
// data files and one delete file.
type fakeSource struct {
	calls int
}

func ptr[T any](v T) *T { return &v }

func (f *fakeSource) TableInfo(context.Context, int64) (*TableInfo, error) {
	f.calls++
	return &TableInfo{TableID: 17, Name: "events", SchemaPath: "main", TablePath: "events"}, nil
}

func (f *fakeSource) TableColumns(context.Context, int64, int64) ([]Column, error) {
	return []Column{
		{ID: 1, Name: "id", Type: "bigint"},
		{ID: 2, Name: "name", Type: "varchar"},
	}, nil
}

func (f *fakeSource) DataFiles(context.Context, int64, int64) ([]DataFile, error) {
	return []DataFile{
		{ID: 100, Path: "part-0.parquet", PathIsRelative: true, Format: "parquet", RecordCount: 40, FileSizeBytes: 4096},
		{ID: 101, Path: "s3://warehouse/part-1.parquet", PathIsRelative: false, Format: "parquet", RecordCount: 60, FileSizeBytes: 8192},
	}, nil
}

func (f *fakeSource) DeleteFiles(context.Context, int64, int64) ([]DeleteFile, error) {
	return []DeleteFile{
		{ID: 200, DataFileID: 100, Path: "delete-0.parquet", PathIsRelative: true, Format: "parquet", RecordCount: 5, FileSizeBytes: 512},
	}, nil
}

func (f *fakeSource) ColumnStats(context.Context, int64, []int64) ([]ColumnStats, error) {
	return []ColumnStats{
		{DataFileID: 100, ColumnID: 1, SizeBytes: ptr(int64(1024)), ValueCount: ptr(int64(40)), NullCount: ptr(int64(0)), Min: ptr("1"), Max: ptr("40")},
		{DataFileID: 100, ColumnID: 2, SizeBytes: ptr(int64(2048)), ValueCount: ptr(int64(40)), NullCount: ptr(int64(2)), Min: ptr("alice"), Max: ptr("zed")},
	}, nil
}

func newTestGenerator() (*Generator, *fakeSource) {
	src := &fakeSource{}
	return New(src, nil), src
}

func TestManifestListRoundtrip(t *testing.T) {
	g, _ := newTestGenerator()

	data, err := g.Serve(context.Background(), "__ducklake__/t17/s3/snap-3.avro")
	if err != nil {
		t.Fatalf("serve manifest list: %v", err)
	}

	if len(data) < 4 || data[0] != 0x4F || data[1] != 0x62 || data[2] != 0x6A || data[3] != 0x01 {
		t.Fatalf("manifest list does not start with Avro magic: % X", data[:4])
	}

	f := decodeOCF(t, data)

	schema := f.meta["avro.schema"]
	if !strings.Contains(schema, `"field-id": 500`) {
		t.Fatal(`schema missing "field-id": 500 for manifest_path`)
	}
	if !strings.Contains(schema, `"field-id": 517`) {
		t.Fatal(`schema missing "field-id": 517 for content`)
	}

	if f.count != 2 {
		t.Fatalf("manifest list entries = %d, want 2 (data + delete)", f.count)
	}

	// First entry: the data manifest.
	a := f.reader
	path := a.str(t)
	if !strings.HasSuffix(path, "/3-m0.avro") {
		t.Fatalf("manifest_path = %q, want suffix /3-m0.avro", path)
	}
	length := a.long(t)
	if length <= 0 {
		t.Fatalf("manifest_length = %d", length)
	}
	if spec := a.long(t); spec != 0 {
		t.Fatalf("partition_spec_id = %d", spec)
	}
	if content := a.long(t); content != 0 {
		t.Fatalf("content = %d, want 0 (data)", content)
	}
	if seq := a.long(t); seq != 3 {
		t.Fatalf("sequence_number = %d", seq)
	}
	if minSeq := a.long(t); minSeq != 3 {
		t.Fatalf("min_sequence_number = %d", minSeq)
	}
	if snap := a.long(t); snap != 3 {
		t.Fatalf("added_snapshot_id = %d", snap)
	}
	if added := a.long(t); added != 2 {
		t.Fatalf("added_files_count = %d, want 2", added)
	}
	if existing := a.long(t); existing != 0 {
		t.Fatalf("existing_files_count = %d", existing)
	}
	if deleted := a.long(t); deleted != 0 {
		t.Fatalf("deleted_files_count = %d", deleted)
	}
	if rows := a.long(t); rows != 100 {
		t.Fatalf("added_rows_count = %d, want 40+60", rows)
	}
	a.long(t) // existing_rows_count
	a.long(t) // deleted_rows_count
	if branch := a.long(t); branch != 0 {
		t.Fatalf("partitions branch = %d, want null", branch)
	}
	if branch := a.long(t); branch != 0 {
		t.Fatalf("key_metadata branch = %d, want null", branch)
	}

	// Second entry: the delete manifest.
	path = a.str(t)
	if !strings.HasSuffix(path, "/3-m1.avro") {
		t.Fatalf("delete manifest_path = %q", path)
	}
	a.long(t) // length
	a.long(t) // spec
	if content := a.long(t); content != 1 {
		t.Fatalf("delete manifest content = %d, want 1", content)
	}
}

// decodeEntry reads one manifest_entry record in schema declaration
// order and returns the scalar fields.
func decodeEntry(t *testing.T, a *avroReader) (status int64, filePath string, recordCount, fileSize int64, content int64) {
	t.Helper()
	status = a.long(t)
	if branch := a.long(t); branch == 1 {
		a.long(t) // snapshot_id
	}
	if branch := a.long(t); branch == 1 {
		a.long(t) // sequence_number
	}
	if branch := a.long(t); branch == 1 {
		a.long(t) // file_sequence_number
	}

	content = a.long(t)
	filePath = a.str(t)
	a.str(t) // file_format
	// partition: empty record, zero bytes
	recordCount = a.long(t)
	fileSize = a.long(t)

	skipLongMap := func() {
		if branch := a.long(t); branch == 1 {
			for {
				n := a.long(t)
				if n == 0 {
					break
				}
				for i := int64(0); i < n; i++ {
					a.long(t)
					a.long(t)
				}
			}
		}
	}
	skipBytesMap := func() {
		if branch := a.long(t); branch == 1 {
			for {
				n := a.long(t)
				if n == 0 {
					break
				}
				for i := int64(0); i < n; i++ {
					a.long(t)
					a.bytes(t)
				}
			}
		}
	}

	skipLongMap()  // column_sizes
	skipLongMap()  // value_counts
	skipLongMap()  // null_value_counts
	skipLongMap()  // nan_value_counts
	skipBytesMap() // lower_bounds
	skipBytesMap() // upper_bounds

	for i := 0; i < 4; i++ { // key_metadata, split_offsets, equality_ids, sort_order_id
		if branch := a.long(t); branch != 0 {
			t.Fatalf("trailing optional field %d unexpectedly non-null", i)
		}
	}
	return status, filePath, recordCount, fileSize, content
}

func TestDataManifestEntries(t *testing.T) {
	g, _ := newTestGenerator()

	data, err := g.Serve(context.Background(), "__ducklake__/t17/s3/3-m0.avro")
	if err != nil {
		t.Fatalf("serve data manifest: %v", err)
	}
	f := decodeOCF(t, data)
	if f.count != 2 {
		t.Fatalf("entries = %d", f.count)
	}

	status, path, records, size, content := decodeEntry(t, f.reader)
	if status != 1 {
		t.Fatalf("status = %d, want 1 (added)", status)
	}
	if path != "main/events/part-0.parquet" {
		t.Fatalf("relative path not joined: %q", path)
	}
	if records != 40 || size != 4096 {
		t.Fatalf("record_count=%d file_size=%d", records, size)
	}
	if content != 0 {
		t.Fatalf("content = %d", content)
	}

	_, path, _, _, _ = decodeEntry(t, f.reader)
	if path != "s3://warehouse/part-1.parquet" {
		t.Fatalf("absolute path rewritten: %q", path)
	}
}

func TestDeleteManifestEntries(t *testing.T) {
	g, _ := newTestGenerator()

	data, err := g.Serve(context.Background(), "__ducklake__/t17/s3/3-m1.avro")
	if err != nil {
		t.Fatalf("serve delete manifest: %v", err)
	}
	f := decodeOCF(t, data)
	if f.count != 1 {
		t.Fatalf("entries = %d", f.count)
	}
	_, path, records, _, content := decodeEntry(t, f.reader)
	if content != 1 {
		t.Fatalf("content = %d, want 1 (position deletes)", content)
	}
	if path != "main/events/delete-0.parquet" {
		t.Fatalf("path = %q", path)
	}
	if records != 5 {
		t.Fatalf("record_count = %d", records)
	}
}

func TestSnapshotIsCached(t *testing.T) {
	g, src := newTestGenerator()

	first, err := g.Snapshot(context.Background(), 17, 3)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	callsAfterFirst := src.calls

	second, err := g.Snapshot(context.Background(), 17, 3)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if src.calls != callsAfterFirst {
		t.Fatalf("cache miss: source queried again (%d -> %d)", callsAfterFirst, src.calls)
	}
	if first != second {
		t.Fatal("cache returned a different instance")
	}
}

func TestEntrySchemaFieldIDs(t *testing.T) {
	for _, want := range []string{
		`"field-id": 0`, `"field-id": 1`, `"field-id": 2`,
		`"field-id": 100`, `"field-id": 101`, `"field-id": 103`, `"field-id": 104`,
		`"field-id": 108`, `"field-id": 125`, `"field-id": 128`, `"field-id": 134`,
	} {
		if !strings.Contains(manifestEntrySchema, want) {
			t.Errorf("manifest entry schema missing %s", want)
		}
	}
}
