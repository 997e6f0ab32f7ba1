// Package ducklake turns DuckLake catalog rows into Iceberg v2 manifest
// documents, served from virtual paths under "__ducklake__/". DuckLake
// keeps table metadata in relational tables; Iceberg readers want Avro
// manifest files. The generator bridges the two without rewriting any
// data bytes: it only describes the Parquet files DuckLake already
// tracks.
package ducklake

import "context"

// Column is one table column as DuckLake records it.
type Column struct {
	ID   int32
	Name string
	Type string // DuckLake type name, e.g. "int64", "varchar", "timestamp"
}

// DataFile is one data file live at the requested snapshot.
type DataFile struct {
	ID             int64
	Path           string
	PathIsRelative bool
	Format         string
	RecordCount    int64
	FileSizeBytes  int64
}

// DeleteFile is one position-delete file live at the requested snapshot.
type DeleteFile struct {
	ID             int64
	DataFileID     int64
	Path           string
	PathIsRelative bool
	Format         string
	RecordCount    int64
	FileSizeBytes  int64
}

// ColumnStats carries DuckLake's per-file per-column statistics. Min and
// Max hold DuckLake's textual rendering of the bound; the generator
// re-encodes them into Iceberg's binary single-value form using the
// column type.
type ColumnStats struct {
	DataFileID int64
	ColumnID   int32
	SizeBytes  *int64
	ValueCount *int64
	NullCount  *int64
	Min        *string
	Max        *string
}

// TableInfo locates a table's files: relative data-file paths are joined
// under SchemaPath then TablePath.
type TableInfo struct {
	TableID    int64
	Name       string
	SchemaPath string
	TablePath  string
}

// MetaSource reads the DuckLake catalog. Implemented by the database
// gateway against the ducklake_* tables.
type MetaSource interface {
	TableInfo(ctx context.Context, tableID int64) (*TableInfo, error)
	TableColumns(ctx context.Context, tableID, snapshotID int64) ([]Column, error)
	DataFiles(ctx context.Context, tableID, snapshotID int64) ([]DataFile, error)
	DeleteFiles(ctx context.Context, tableID, snapshotID int64) ([]DeleteFile, error)
	ColumnStats(ctx context.Context, tableID int64, dataFileIDs []int64) ([]ColumnStats, error)
}
