package engine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ParquetCompression is the codec used for every intermediate staging
// table. Snappy matches the original reader's default.
const ParquetCompression = "snappy"

// StagingRowGroupSize is the row-group size used for intermediate parquet
// tables written between pipeline stages.
const StagingRowGroupSize = 25_000

// EscapeString escapes a value for embedding inside a single-quoted SQL
// string literal.
func EscapeString(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// QuoteStringLiteral wraps value in single quotes after escaping it.
func QuoteStringLiteral(value string) string {
	return "'" + EscapeString(value) + "'"
}

// SQLToParquetFile runs sqlQuery and writes its result set to dirPath as a
// directory of parquet files (one per writer thread), then returns a
// read_parquet glob selecting it back. This mirrors _sql_to_parquet_file /
// _save_parquet_file from the reference implementation.
func (e *Engine) SQLToParquetFile(ctx context.Context, sqlQuery, dirPath string) (string, error) {
	copyStmt := fmt.Sprintf(`
		COPY (
			%s
		) TO %s (
			FORMAT 'parquet',
			PER_THREAD_OUTPUT true,
			ROW_GROUP_SIZE %d,
			COMPRESSION %s
		)
	`, sqlQuery, QuoteStringLiteral(dirPath), StagingRowGroupSize, QuoteStringLiteral(ParquetCompression))

	if _, err := e.Exec(ctx, copyStmt); err != nil {
		return "", fmt.Errorf("write staging parquet %s: %w", dirPath, err)
	}

	// A zero-row result may leave the directory without any file, which
	// would fail every later read_parquet over it; write the schema as
	// an explicit empty file in that case.
	if !HasParquetFiles(dirPath) {
		copyEmpty := fmt.Sprintf(`
			COPY (
				SELECT * FROM (
					%s
				) WHERE 1=0
			) TO %s (FORMAT 'parquet')
		`, sqlQuery, QuoteStringLiteral(filepath.Join(dirPath, "empty.parquet")))
		if _, err := e.Exec(ctx, copyEmpty); err != nil {
			return "", fmt.Errorf("write empty staging parquet %s: %w", dirPath, err)
		}
	}
	return ReadParquetGlob(dirPath), nil
}

// HasParquetFiles reports whether any .parquet file exists anywhere
// under dirPath.
func HasParquetFiles(dirPath string) bool {
	found := false
	filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// ReadParquetGlob returns the read_parquet(...) expression for every file
// under dirPath.
func ReadParquetGlob(dirPath string) string {
	return fmt.Sprintf("read_parquet(%s)", QuoteStringLiteral(dirPath+"/**"))
}

// ReadParquetFile returns the read_parquet(...) expression for a single
// parquet file, as opposed to a directory of per-thread output files.
func ReadParquetFile(filePath string) string {
	return fmt.Sprintf("read_parquet(%s)", QuoteStringLiteral(filePath))
}

// CalculateUniqueIDs writes the distinct `id` column of the parquet files
// under dirPath to resultPath and returns a glob selecting it back,
// mirroring _calculate_unique_ids_to_parquet.
func (e *Engine) CalculateUniqueIDs(ctx context.Context, dirPath, resultPath string) (string, error) {
	query := fmt.Sprintf("SELECT id FROM %s GROUP BY id", ReadParquetGlob(dirPath))
	return e.SQLToParquetFile(ctx, query, resultPath)
}
