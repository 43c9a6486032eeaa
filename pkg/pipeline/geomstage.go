package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/azybler/osm2geoparquet/pkg/engine"
)

// writeGeometryStage materializes sqlQuery — whose last column must be a
// GEOMETRY named "geometry" — as a staging parquet table under dir, with
// the geometry stored as WKB. With fix set, rows are split into valid
// and invalid halves first and the invalid half is repaired bucket by
// bucket with ST_MakeValid before rejoining the table, matching
// _save_parquet_file_with_geometry's fix_geometries mode. Returns a
// read_parquet glob over the written table.
func writeGeometryStage(ctx context.Context, eng *engine.Engine, dir, sqlQuery string, fix bool, rowsPerBucket int) (string, error) {
	if !fix {
		copyStmt := fmt.Sprintf(`
			COPY (
				SELECT * EXCLUDE (geometry), ST_AsWKB(geometry) AS geometry
				FROM (
					%s
				)
			) TO %s (
				FORMAT 'parquet',
				PER_THREAD_OUTPUT true,
				ROW_GROUP_SIZE %d,
				COMPRESSION %s
			)
		`, sqlQuery, engine.QuoteStringLiteral(dir), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
		if _, err := eng.Exec(ctx, copyStmt); err != nil {
			return "", fmt.Errorf("write geometry stage %s: %w", dir, err)
		}
		if err := ensureParquetFile(ctx, eng, dir, sqlQuery); err != nil {
			return "", err
		}
		return engine.ReadParquetGlob(dir), nil
	}

	validDir := filepath.Join(dir, "valid")
	invalidDir := filepath.Join(dir, "invalid")
	fixedDir := filepath.Join(dir, "fixed")
	for _, d := range []string{validDir, invalidDir, fixedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create geometry stage dir %s: %w", d, err)
		}
	}

	copyValid := fmt.Sprintf(`
		COPY (
			SELECT * EXCLUDE (geometry), ST_AsWKB(geometry) AS geometry
			FROM (
				%s
			)
			WHERE ST_IsValid(geometry)
		) TO %s (
			FORMAT 'parquet',
			PER_THREAD_OUTPUT true,
			ROW_GROUP_SIZE %d,
			COMPRESSION %s
		)
	`, sqlQuery, engine.QuoteStringLiteral(validDir), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
	if _, err := eng.Exec(ctx, copyValid); err != nil {
		return "", fmt.Errorf("write valid geometries %s: %w", dir, err)
	}

	copyInvalid := fmt.Sprintf(`
		COPY (
			SELECT * EXCLUDE (geometry), ST_AsWKB(geometry) AS geometry,
			       floor(row_number() OVER () / %d)::INTEGER AS "group"
			FROM (
				%s
			)
			WHERE NOT ST_IsValid(geometry)
		) TO %s (
			FORMAT 'parquet',
			PARTITION_BY ("group"),
			OVERWRITE_OR_IGNORE true,
			ROW_GROUP_SIZE %d,
			COMPRESSION %s
		)
	`, rowsPerBucket, sqlQuery, engine.QuoteStringLiteral(invalidDir), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
	if _, err := eng.Exec(ctx, copyInvalid); err != nil {
		return "", fmt.Errorf("write invalid geometries %s: %w", dir, err)
	}

	// Repair bucket by bucket. Partition directories are numbered
	// contiguously from zero, so probing for the next directory is
	// enough to find them all.
	totalGroups := 0
	for {
		if _, err := os.Stat(filepath.Join(invalidDir, fmt.Sprintf("group=%d", totalGroups))); err != nil {
			break
		}
		totalGroups++
	}
	for group := 0; group < totalGroups; group++ {
		partitionGlob := engine.ReadParquetGlob(filepath.Join(invalidDir, fmt.Sprintf("group=%d", group)))
		outPath := filepath.Join(fixedDir, fmt.Sprintf("data_%d.parquet", group))
		copyFixed := fmt.Sprintf(`
			COPY (
				SELECT * EXCLUDE ("group") REPLACE (
					ST_AsWKB(ST_MakeValid(ST_GeomFromWKB(geometry))) AS geometry
				)
				FROM %s
			) TO %s (
				FORMAT 'parquet',
				ROW_GROUP_SIZE %d,
				COMPRESSION %s
			)
		`, partitionGlob, engine.QuoteStringLiteral(outPath), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
		if _, err := eng.Exec(ctx, copyFixed); err != nil {
			return "", fmt.Errorf("fix invalid geometries %s group %d: %w", dir, group, err)
		}
	}
	sweep(invalidDir)

	if err := ensureParquetFile(ctx, eng, dir, sqlQuery); err != nil {
		return "", err
	}
	return engine.ReadParquetGlob(dir), nil
}

// ensureParquetFile writes a zero-row parquet file carrying sqlQuery's
// schema under dir when no stage writer produced one, so downstream
// read_parquet globs over dir never fail on an empty table.
func ensureParquetFile(ctx context.Context, eng *engine.Engine, dir, sqlQuery string) error {
	if engine.HasParquetFiles(dir) {
		return nil
	}
	copyEmpty := fmt.Sprintf(`
		COPY (
			SELECT * EXCLUDE (geometry), ST_AsWKB(geometry) AS geometry
			FROM (
				%s
			)
			WHERE 1=0
		) TO %s (FORMAT 'parquet')
	`, sqlQuery, engine.QuoteStringLiteral(filepath.Join(dir, "empty.parquet")))
	if _, err := eng.Exec(ctx, copyEmpty); err != nil {
		return fmt.Errorf("write empty stage file %s: %w", dir, err)
	}
	return nil
}
