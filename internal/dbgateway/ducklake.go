// DuckLake catalog reads. The ducklake_* tables are written by DuckLake
// itself, not by this gateway's migrations; the queries below only ever
// read them. Snapshot visibility follows DuckLake's convention: a row is
// live at snapshot S when begin_snapshot <= S and end_snapshot is null
// or greater than S.
package dbgateway

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/ducklake"
)

// DuckLakeSource adapts the gateway to ducklake.MetaSource.
type DuckLakeSource struct {
	g *Gateway
}

// DuckLake returns the DuckLake catalog reader backed by this gateway.
func (g *Gateway) DuckLake() *DuckLakeSource {
	return &DuckLakeSource{g: g}
}

func (s *DuckLakeSource) TableInfo(ctx context.Context, tableID int64) (*ducklake.TableInfo, error) {
	info := &ducklake.TableInfo{TableID: tableID}
	err := s.g.queryRow(ctx, `
		SELECT t.table_name, COALESCE(sc.path, ''), COALESCE(t.path, '')
		FROM ducklake_table t
		LEFT JOIN ducklake_schema sc ON sc.schema_id = t.schema_id
		WHERE t.table_id = $1`, tableID).
		Scan(&info.Name, &info.SchemaPath, &info.TablePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.New(apierr.NoSuchKey, "no such ducklake table")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "ducklake table info", err)
	}
	return info, nil
}

func (s *DuckLakeSource) TableColumns(ctx context.Context, tableID, snapshotID int64) ([]ducklake.Column, error) {
	rows, err := s.g.query(ctx, `
		SELECT column_id, column_name, column_type
		FROM ducklake_column
		WHERE table_id = $1
		  AND begin_snapshot <= $2
		  AND (end_snapshot IS NULL OR end_snapshot > $2)
		ORDER BY column_order`, tableID, snapshotID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "ducklake columns", err)
	}
	defer rows.Close()

	var out []ducklake.Column
	for rows.Next() {
		var c ducklake.Column
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan ducklake column", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *DuckLakeSource) DataFiles(ctx context.Context, tableID, snapshotID int64) ([]ducklake.DataFile, error) {
	rows, err := s.g.query(ctx, `
		SELECT data_file_id, path, path_is_relative, COALESCE(file_format, ''), record_count, file_size_bytes
		FROM ducklake_data_file
		WHERE table_id = $1
		  AND begin_snapshot <= $2
		  AND (end_snapshot IS NULL OR end_snapshot > $2)
		ORDER BY data_file_id`, tableID, snapshotID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "ducklake data files", err)
	}
	defer rows.Close()

	var out []ducklake.DataFile
	for rows.Next() {
		var f ducklake.DataFile
		if err := rows.Scan(&f.ID, &f.Path, &f.PathIsRelative, &f.Format, &f.RecordCount, &f.FileSizeBytes); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan ducklake data file", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *DuckLakeSource) DeleteFiles(ctx context.Context, tableID, snapshotID int64) ([]ducklake.DeleteFile, error) {
	rows, err := s.g.query(ctx, `
		SELECT delete_file_id, data_file_id, path, path_is_relative, COALESCE(format, ''), delete_count, file_size_bytes
		FROM ducklake_delete_file
		WHERE table_id = $1
		  AND begin_snapshot <= $2
		  AND (end_snapshot IS NULL OR end_snapshot > $2)
		ORDER BY delete_file_id`, tableID, snapshotID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "ducklake delete files", err)
	}
	defer rows.Close()

	var out []ducklake.DeleteFile
	for rows.Next() {
		var f ducklake.DeleteFile
		if err := rows.Scan(&f.ID, &f.DataFileID, &f.Path, &f.PathIsRelative, &f.Format, &f.RecordCount, &f.FileSizeBytes); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan ducklake delete file", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *DuckLakeSource) ColumnStats(ctx context.Context, tableID int64, dataFileIDs []int64) ([]ducklake.ColumnStats, error) {
	if len(dataFileIDs) == 0 {
		return nil, nil
	}
	rows, err := s.g.query(ctx, `
		SELECT data_file_id, column_id, column_size_bytes, value_count, null_count, min_value, max_value
		FROM ducklake_file_column_statistics
		WHERE table_id = $1 AND data_file_id = ANY($2)
		ORDER BY data_file_id, column_id`, tableID, dataFileIDs)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "ducklake column stats", err)
	}
	defer rows.Close()

	var out []ducklake.ColumnStats
	for rows.Next() {
		var st ducklake.ColumnStats
		if err := rows.Scan(&st.DataFileID, &st.ColumnID, &st.SizeBytes, &st.ValueCount, &st.NullCount, &st.Min, &st.Max); err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "scan ducklake stats", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
