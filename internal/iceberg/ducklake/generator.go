package ducklake

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
)

// Manifests is the computed output for one (table, snapshot): the
// manifest list plus every manifest file it references, keyed by
// filename. Entries are immutable once built.
type Manifests struct {
	ManifestList []byte
	Files        map[string][]byte
}

// Generator builds and caches Iceberg manifest documents from a DuckLake
// MetaSource.
type Generator struct {
	Source MetaSource
	Logger *slog.Logger

	cache *manifestCache
}

// New builds a Generator with the default cache bound.
func New(src MetaSource, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Source: src,
		Logger: logger,
		cache:  newManifestCache(defaultCacheEntries),
	}
}

// Serve resolves a virtual path ("__ducklake__/t17/s3/snap-3.avro") to
// the corresponding document bytes.
func (g *Generator) Serve(ctx context.Context, virtualPath string) ([]byte, error) {
	p, err := ParsePath(virtualPath)
	if err != nil {
		return nil, err
	}
	m, err := g.Snapshot(ctx, p.TableID, p.SnapshotID)
	if err != nil {
		return nil, err
	}
	if p.IsManifestList {
		return m.ManifestList, nil
	}
	data, ok := m.Files[p.File]
	if !ok {
		return nil, apierr.New(apierr.NoSuchKey, "no such manifest file")
	}
	return data, nil
}

// Snapshot returns the manifest documents for (tableID, snapshotID),
// building them on first use.
func (g *Generator) Snapshot(ctx context.Context, tableID, snapshotID int64) (*Manifests, error) {
	if m, ok := g.cache.get(tableID, snapshotID); ok {
		return m, nil
	}
	m, err := g.build(ctx, tableID, snapshotID)
	if err != nil {
		return nil, err
	}
	g.cache.put(tableID, snapshotID, m)
	return m, nil
}

func (g *Generator) build(ctx context.Context, tableID, snapshotID int64) (*Manifests, error) {
	info, err := g.Source.TableInfo(ctx, tableID)
	if err != nil {
		return nil, err
	}
	columns, err := g.Source.TableColumns(ctx, tableID, snapshotID)
	if err != nil {
		return nil, err
	}
	dataFiles, err := g.Source.DataFiles(ctx, tableID, snapshotID)
	if err != nil {
		return nil, err
	}
	deleteFiles, err := g.Source.DeleteFiles(ctx, tableID, snapshotID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(dataFiles))
	for _, f := range dataFiles {
		ids = append(ids, f.ID)
	}
	stats, err := g.Source.ColumnStats(ctx, tableID, ids)
	if err != nil {
		return nil, err
	}
	statsByFile := make(map[int64][]ColumnStats)
	for _, s := range stats {
		statsByFile[s.DataFileID] = append(statsByFile[s.DataFileID], s)
	}
	typeByColumn := make(map[int32]string, len(columns))
	for _, c := range columns {
		typeByColumn[c.ID] = c.Type
	}

	out := &Manifests{Files: make(map[string][]byte)}
	prefix := fmt.Sprintf("__ducklake__/t%d/s%d/", tableID, snapshotID)

	var listEntries []manifestListEntry
	var totalDataRows int64

	// Data manifest (m0).
	rows := make([]stagedRow, 0, len(dataFiles))
	aux := make([]entryAux, 0, len(dataFiles))
	for _, f := range dataFiles {
		rows = append(rows, stagedRow{
			Status:         1, // added
			SnapshotID:     snapshotID,
			SequenceNumber: snapshotID,
			Content:        0,
			FilePath:       joinFilePath(info, f.Path, f.PathIsRelative),
			FileFormat:     fileFormat(f.Format),
			RecordCount:    f.RecordCount,
			FileSize:       f.FileSizeBytes,
		})
		aux = append(aux, buildAux(statsByFile[f.ID], typeByColumn))
		totalDataRows += f.RecordCount
	}
	staged := stageEntries(rows, aux)
	dataManifest := writeOCF(manifestEntrySchema, len(rows), staged.encode())
	staged.Release()

	dataName := fmt.Sprintf("%d-m0.avro", snapshotID)
	out.Files[dataName] = dataManifest
	listEntries = append(listEntries, manifestListEntry{
		Path:       prefix + dataName,
		Length:     int64(len(dataManifest)),
		Content:    0,
		AddedFiles: int32(len(dataFiles)),
		AddedRows:  totalDataRows,
	})

	// Delete manifest (m1), only when delete files exist.
	if len(deleteFiles) > 0 {
		rows = rows[:0]
		aux = aux[:0]
		var deleteRows int64
		for _, f := range deleteFiles {
			rows = append(rows, stagedRow{
				Status:         1,
				SnapshotID:     snapshotID,
				SequenceNumber: snapshotID,
				Content:        1, // position deletes
				FilePath:       joinFilePath(info, f.Path, f.PathIsRelative),
				FileFormat:     fileFormat(f.Format),
				RecordCount:    f.RecordCount,
				FileSize:       f.FileSizeBytes,
			})
			aux = append(aux, entryAux{})
			deleteRows += f.RecordCount
		}
		staged := stageEntries(rows, aux)
		deleteManifest := writeOCF(manifestEntrySchema, len(rows), staged.encode())
		staged.Release()

		deleteName := fmt.Sprintf("%d-m1.avro", snapshotID)
		out.Files[deleteName] = deleteManifest
		listEntries = append(listEntries, manifestListEntry{
			Path:       prefix + deleteName,
			Length:     int64(len(deleteManifest)),
			Content:    1,
			AddedFiles: int32(len(deleteFiles)),
			AddedRows:  deleteRows,
		})
	}

	out.ManifestList = writeManifestList(listEntries, snapshotID)
	return out, nil
}

type manifestListEntry struct {
	Path       string
	Length     int64
	Content    int32
	AddedFiles int32
	AddedRows  int64
}

func writeManifestList(entries []manifestListEntry, snapshotID int64) []byte {
	var buf avroBuf
	for _, e := range entries {
		buf.writeString(e.Path)
		buf.writeLong(e.Length)
		buf.writeInt(0) // partition_spec_id
		buf.writeInt(e.Content)
		buf.writeLong(snapshotID) // sequence_number
		buf.writeLong(snapshotID) // min_sequence_number
		buf.writeLong(snapshotID) // added_snapshot_id
		buf.writeInt(e.AddedFiles)
		buf.writeInt(0) // existing_files_count
		buf.writeInt(0) // deleted_files_count
		buf.writeLong(e.AddedRows)
		buf.writeLong(0) // existing_rows_count
		buf.writeLong(0) // deleted_rows_count
		buf.writeUnionNull() // partitions
		buf.writeUnionNull() // key_metadata
	}
	return writeOCF(manifestFileSchema, len(entries), buf.Bytes())
}

// buildAux converts one file's DuckLake stats into the manifest entry's
// map fields, ordered by column id so the output is deterministic.
func buildAux(stats []ColumnStats, typeByColumn map[int32]string) entryAux {
	if len(stats) == 0 {
		return entryAux{}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ColumnID < stats[j].ColumnID })

	var aux entryAux
	for _, s := range stats {
		if s.SizeBytes != nil {
			aux.ColumnSizes = append(aux.ColumnSizes, kvLong{s.ColumnID, *s.SizeBytes})
		}
		if s.ValueCount != nil {
			aux.ValueCounts = append(aux.ValueCounts, kvLong{s.ColumnID, *s.ValueCount})
		}
		if s.NullCount != nil {
			aux.NullValueCounts = append(aux.NullValueCounts, kvLong{s.ColumnID, *s.NullCount})
		}
		colType := typeByColumn[s.ColumnID]
		if s.Min != nil {
			aux.LowerBounds = append(aux.LowerBounds, kvBytes{s.ColumnID, encodeBound(colType, *s.Min)})
		}
		if s.Max != nil {
			aux.UpperBounds = append(aux.UpperBounds, kvBytes{s.ColumnID, encodeBound(colType, *s.Max)})
		}
	}
	return aux
}

// joinFilePath resolves a possibly-relative DuckLake file path under the
// schema and table prefixes.
func joinFilePath(info *TableInfo, path string, relative bool) string {
	if !relative {
		return path
	}
	parts := make([]string, 0, 3)
	if p := strings.Trim(info.SchemaPath, "/"); p != "" {
		parts = append(parts, p)
	}
	if p := strings.Trim(info.TablePath, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, strings.TrimPrefix(path, "/"))
	return strings.Join(parts, "/")
}

func fileFormat(f string) string {
	if f == "" {
		return "PARQUET"
	}
	return strings.ToUpper(f)
}
