package geoparquet

import (
	"context"
	"fmt"
	"os"

	"github.com/azybler/osm2geoparquet/pkg/engine"
)

// FinalRowGroupSize is the row-group size used for the emitted GeoParquet
// file, larger than the staging row-group size since this file is meant to
// be read by downstream tools, not re-joined by the pipeline itself.
const FinalRowGroupSize = 100_000

// Write runs selectQuery against eng and copies its result set to path as
// a single GeoParquet file carrying geo metadata, writing to a temporary
// path first and renaming into place so readers never observe a partial
// file. This mirrors the teacher's WriteBinary: build the whole artifact
// under a `.tmp` name, then os.Rename into place.
func Write(ctx context.Context, eng *engine.Engine, selectQuery, path string, geometryTypes []string, bbox BBox) error {
	geoJSON, err := Metadata(geometryTypes, bbox)
	if err != nil {
		return fmt.Errorf("build geoparquet metadata: %w", err)
	}

	tmpPath := path + ".tmp"
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	copyStmt := fmt.Sprintf(`
		COPY (
			%s
		) TO %s (
			FORMAT 'parquet',
			ROW_GROUP_SIZE %d,
			KV_METADATA %s
		)
	`, selectQuery, engine.QuoteStringLiteral(tmpPath), FinalRowGroupSize, kvMetadataLiteral(geoJSON))

	if _, err := eng.Exec(ctx, copyStmt); err != nil {
		return fmt.Errorf("write geoparquet: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// kvMetadataLiteral renders the DuckDB map literal `{'geo': '<json>'}`
// that attaches the geo metadata key to the parquet file footer.
func kvMetadataLiteral(geoJSON string) string {
	return "{'geo': " + engine.QuoteStringLiteral(geoJSON) + "}"
}
