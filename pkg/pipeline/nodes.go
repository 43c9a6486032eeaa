package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/azybler/osm2geoparquet/pkg/engine"
)

// NodeGeometries emits one row per filtered node: `feature_id`,
// normalized `tags`, and a Point built from its rounded coordinates,
// matching _get_filtered_nodes_with_geometry (spec.md §4.3). NodeValid
// already carries 7-decimal-rounded coordinates, so the point is built
// from them directly.
func NodeGeometries(ctx context.Context, eng *engine.Engine, workDir string, nodeValid, nodeFilteredID string) (string, string, error) {
	dir := filepath.Join(workDir, "nodegeometries")
	sqlQuery := fmt.Sprintf(`
		SELECT 'node/' || n.id AS feature_id,
		       n.tags,
		       ST_Point(n.lon, n.lat) AS geometry
		FROM %s n
		SEMI JOIN %s f ON n.id = f.id
	`, nodeValid, nodeFilteredID)

	glob, err := writeGeometryStage(ctx, eng, dir, sqlQuery, false, 0)
	if err != nil {
		return "", "", fmt.Errorf("%w: node geometries: %v", ErrIntermediateIOError, err)
	}
	return glob, dir, nil
}
