package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/azybler/osm2geoparquet/pkg/engine"
)

// RelationGeometries assembles multipolygon relations from way linestrings
// with inner/outer ring reconciliation, following the 7-step algorithm of
// spec.md §4.6 (_get_filtered_relations_with_geometry). wayLinestrings
// must be the WayRequiredId pass of the linestring builder (§4.4), since
// relations reference ways that may not themselves pass the way tag/
// geometry filter. Inner and outer ring polygons go through the bucketed
// invalid-geometry repair, because malformed rings are common in OSM.
func RelationGeometries(ctx context.Context, eng *engine.Engine, workDir string, relationAllTags, relationFilteredID, relationUnnestedWayRef, wayLinestrings string, rowsPerBucket int) (string, string, map[string]string, error) {
	dirs := map[string]string{}

	stage := func(name, sqlQuery string, fix bool) (string, error) {
		dir := filepath.Join(workDir, name)
		glob, err := writeGeometryStage(ctx, eng, dir, sqlQuery, fix, rowsPerBucket)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrIntermediateIOError, name, err)
		}
		dirs[name] = dir
		return glob, nil
	}

	// Steps 1-3: join member refs to way linestrings, normalize roles,
	// merge each role's members into rings, and keep only relations
	// whose outer rings all close.
	validPartsSQL := fmt.Sprintf(`
		WITH refs AS (
			SELECT u.id, u.ref, u.ref_idx, u.ref_role
			FROM %s u
			SEMI JOIN %s f ON u.id = f.id
		),
		any_outer_refs AS (
			SELECT id, bool_or(ref_role = 'outer') AS any_outer_refs
			FROM refs
			GROUP BY id
		),
		-- Role normalization: only when a relation has no member labeled
		-- outer at all does every non-inner member become an outer.
		unnested_relations AS (
			SELECT r.id,
			       CASE WHEN aor.any_outer_refs THEN r.ref_role
			            WHEN r.ref_role = 'inner' THEN 'inner'
			            ELSE 'outer'
			       END AS ref_role,
			       linestring_to_linestring_wkt(w.linestring)::GEOMETRY AS geometry,
			       r.ref_idx
			FROM refs r
			JOIN any_outer_refs aor ON aor.id = r.id
			JOIN %s w ON w.id = r.ref
		),
		relations_with_geometries AS (
			SELECT x.id, x.ref_role, x.geom AS geometry,
			       row_number() OVER (PARTITION BY x.id) AS geometry_id
			FROM (
				SELECT id, ref_role,
				       UNNEST(
				           ST_Dump(ST_LineMerge(ST_Collect(list(geometry ORDER BY ref_idx ASC)))),
				           recursive := true
				       )
				FROM unnested_relations
				GROUP BY id, ref_role
			) x
			WHERE ST_NPoints(geom) >= 4
		),
		valid_relations AS (
			SELECT id
			FROM relations_with_geometries
			WHERE ref_role = 'outer'
			GROUP BY id
			HAVING bool_and(ST_Equals(ST_StartPoint(geometry), ST_EndPoint(geometry)))
		)
		SELECT rwg.id, rwg.ref_role, rwg.geometry_id, rwg.geometry
		FROM relations_with_geometries rwg
		SEMI JOIN valid_relations v ON rwg.id = v.id
	`, relationUnnestedWayRef, relationFilteredID, wayLinestrings)
	validParts, err := stage("relation_valid_parts", validPartsSQL, false)
	if err != nil {
		return "", "", dirs, err
	}

	// Steps 4-5: close each surviving ring into a polygon, repairing
	// invalid ones in buckets.
	innerParts, err := stage("relation_inner_parts", fmt.Sprintf(`
		SELECT id, geometry_id, ST_MakePolygon(ST_GeomFromWKB(geometry)) AS geometry
		FROM %s
		WHERE ref_role = 'inner'
	`, validParts), true)
	if err != nil {
		return "", "", dirs, err
	}
	outerParts, err := stage("relation_outer_parts", fmt.Sprintf(`
		SELECT id, geometry_id, ST_MakePolygon(ST_GeomFromWKB(geometry)) AS geometry
		FROM %s
		WHERE ref_role = 'outer'
	`, validParts), true)
	if err != nil {
		return "", "", dirs, err
	}

	// Step 6: subtract the union of contained inners from each outer.
	outerWithHoles, err := stage("relation_outer_parts_with_holes", fmt.Sprintf(`
		SELECT og.id, og.geometry_id,
		       ST_Difference(
		           any_value(ST_GeomFromWKB(og.geometry)),
		           ST_Union_Agg(ST_GeomFromWKB(ig.geometry))
		       ) AS geometry
		FROM %s og
		JOIN %s ig
		  ON og.id = ig.id
		 AND ST_Within(ST_GeomFromWKB(ig.geometry), ST_GeomFromWKB(og.geometry))
		GROUP BY og.id, og.geometry_id
	`, outerParts, innerParts), false)
	if err != nil {
		return "", "", dirs, err
	}
	outerWithoutHoles, err := stage("relation_outer_parts_without_holes", fmt.Sprintf(`
		SELECT og.id, og.geometry_id, ST_GeomFromWKB(og.geometry) AS geometry
		FROM %s og
		ANTI JOIN %s ogwh
		  ON og.id = ogwh.id AND og.geometry_id = ogwh.geometry_id
	`, outerParts, outerWithHoles), false)
	if err != nil {
		return "", "", dirs, err
	}

	// Step 7: union everything per relation and attach its tags.
	finalSQL := fmt.Sprintf(`
		WITH unioned_outer_geometries AS (
			SELECT id, geometry FROM %s
			UNION ALL
			SELECT id, geometry FROM %s
		),
		final_geometries AS (
			SELECT id, ST_Union_Agg(ST_GeomFromWKB(geometry)) AS geometry
			FROM unioned_outer_geometries
			GROUP BY id
		)
		SELECT 'relation/' || fg.id AS feature_id, r.tags, fg.geometry
		FROM final_geometries fg
		JOIN %s r ON r.id = fg.id
	`, outerWithHoles, outerWithoutHoles, relationAllTags)
	dir := filepath.Join(workDir, "relationgeometries")
	glob, err := writeGeometryStage(ctx, eng, dir, finalSQL, false, rowsPerBucket)
	if err != nil {
		return "", "", dirs, fmt.Errorf("%w: relation geometries: %v", ErrIntermediateIOError, err)
	}
	return glob, dir, dirs, nil
}
