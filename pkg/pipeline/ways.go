package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/azybler/osm2geoparquet/pkg/engine"
	"github.com/azybler/osm2geoparquet/pkg/polygonrules"
)

// WayRefsWithPoints joins every unnested way ref to its node's rounded
// coordinates once, so both linestring passes read the same materialized
// (id, ref, ref_idx, point) table instead of re-joining NodeValid.
// Matches _get_ways_refs_with_nodes_structs.
func WayRefsWithPoints(ctx context.Context, eng *engine.Engine, workDir, wayUnnestedRef, nodeValid string) (string, string, error) {
	dir := filepath.Join(workDir, "way_refs_with_points")
	sqlQuery := fmt.Sprintf(`
		SELECT w.id, w.ref, w.ref_idx,
		       struct_pack(x := n.lon, y := n.lat)::POINT_2D AS point
		FROM %s n
		JOIN %s w ON w.ref = n.id
	`, nodeValid, wayUnnestedRef)

	glob, err := eng.SQLToParquetFile(ctx, sqlQuery, dir)
	if err != nil {
		return "", "", fmt.Errorf("%w: way refs with points: %v", ErrIntermediateIOError, err)
	}
	return glob, dir, nil
}

// WayLinestrings runs the bucketed external join of spec.md §4.4 over
// wayIDsGlob (either WayFilteredId or WayRequiredId), producing one
// linestring per way. label distinguishes the two call sites' staging
// directories ("filtered" vs "required") so they don't collide on disk
// when both passes run in the same conversion. Matches _group_ways +
// _construct_ways_linestrings.
func WayLinestrings(ctx context.Context, eng *engine.Engine, workDir, label string, wayIDsGlob, wayRefsWithPoints string, rowsPerBucket int) (string, map[string]string, error) {
	dirs := map[string]string{}

	destDir := filepath.Join(workDir, "way_"+label+"_linestrings")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("%w: create linestrings dir (%s): %v", ErrIntermediateIOError, label, err)
	}
	dirs["way_"+label+"_linestrings"] = destDir

	var totalWays int64
	row := eng.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", wayIDsGlob))
	if err := row.Scan(&totalWays); err != nil {
		return "", nil, fmt.Errorf("%w: count ways (%s): %v", ErrIntermediateIOError, label, err)
	}
	if totalWays == 0 {
		copyEmpty := fmt.Sprintf(`
			COPY (
				SELECT CAST(NULL AS BIGINT) AS id, CAST(NULL AS LINESTRING_2D) AS linestring
				WHERE 1=0
			) TO %s (FORMAT 'parquet')
		`, engine.QuoteStringLiteral(filepath.Join(destDir, "empty.parquet")))
		if _, err := eng.Exec(ctx, copyEmpty); err != nil {
			return "", nil, fmt.Errorf("%w: write empty linestrings file (%s): %v", ErrIntermediateIOError, label, err)
		}
		return engine.ReadParquetGlob(destDir), dirs, nil
	}

	// Steps 1-2: assign each way a bucket from its row number.
	groupedIDsDir := filepath.Join(workDir, "way_"+label+"_ids_grouped")
	groupedIDsSQL := fmt.Sprintf(`
		SELECT id,
		       floor(row_number() OVER () / %d)::INTEGER AS "group"
		FROM %s
	`, rowsPerBucket, wayIDsGlob)
	groupedIDsGlob, err := eng.SQLToParquetFile(ctx, groupedIDsSQL, groupedIDsDir)
	if err != nil {
		return "", nil, fmt.Errorf("%w: group way ids (%s): %v", ErrIntermediateIOError, label, err)
	}
	dirs["way_"+label+"_ids_grouped"] = groupedIDsDir

	// Steps 3-4: join the bucketed ids to the ref points and write one
	// partition per bucket.
	groupedDir := filepath.Join(workDir, "way_"+label+"_grouped")
	copyStmt := fmt.Sprintf(`
		COPY (
			SELECT w.id, w.point, w.ref_idx, g."group"
			FROM %s g
			JOIN %s w ON g.id = w.id
		) TO %s (
			FORMAT 'parquet',
			PARTITION_BY ("group"),
			OVERWRITE_OR_IGNORE true,
			ROW_GROUP_SIZE %d,
			COMPRESSION %s
		)
	`, groupedIDsGlob, wayRefsWithPoints, engine.QuoteStringLiteral(groupedDir), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
	if _, err := eng.Exec(ctx, copyStmt); err != nil {
		return "", nil, fmt.Errorf("%w: bucket way refs (%s): %v", ErrIntermediateIOError, label, err)
	}
	dirs["way_"+label+"_grouped"] = groupedDir

	// Step 5: per-bucket group-and-order-by-ref_idx linestring build.
	// Each consumed bucket partition is removed right away so peak disk
	// usage is bounded by one bucket, not the whole table.
	groups := int(totalWays / int64(rowsPerBucket))
	for group := 0; group <= groups; group++ {
		partitionDir := filepath.Join(groupedDir, fmt.Sprintf("group=%d", group))
		outPath := filepath.Join(destDir, fmt.Sprintf("group-%05d.parquet", group))
		groupSQL := fmt.Sprintf(`
			SELECT id, list(point::POINT_2D ORDER BY ref_idx ASC)::LINESTRING_2D AS linestring
			FROM %s
			GROUP BY id
		`, engine.ReadParquetGlob(partitionDir))
		copyOne := fmt.Sprintf(`
			COPY (
				%s
			) TO %s (
				FORMAT 'parquet',
				ROW_GROUP_SIZE %d,
				COMPRESSION %s
			)
		`, groupSQL, engine.QuoteStringLiteral(outPath), engine.StagingRowGroupSize, engine.QuoteStringLiteral(engine.ParquetCompression))
		if _, err := eng.Exec(ctx, copyOne); err != nil {
			return "", nil, fmt.Errorf("%w: build linestrings bucket %d (%s): %v", ErrIntermediateIOError, group, label, err)
		}
		sweep(partitionDir)
	}

	return engine.ReadParquetGlob(destDir), dirs, nil
}

// ClassifyWays joins each filtered way's linestring back to its raw and
// normalized tags and applies the polygon-features ruleset of spec.md
// §4.5: a closed way whose raw_tags satisfy the ruleset (and which isn't
// explicitly area=no) is emitted as a Polygon, otherwise as a LineString.
// Matches _get_filtered_ways_with_proper_geometry, with the filter
// clauses built dynamically from the ruleset the same way.
func ClassifyWays(ctx context.Context, eng *engine.Engine, workDir string, wayAllTagsGlob, wayFilteredIDGlob, wayLinestringsGlob string, ruleset *polygonrules.Config) (string, string, error) {
	if ruleset == nil {
		var err error
		ruleset, err = polygonrules.Default()
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrPolygonFeaturesConfigInvalid, err)
		}
	}

	sqlQuery := fmt.Sprintf(`
		WITH filtered_ways_with_linestrings AS (
			SELECT
				w.id,
				w.tags,
				w_l.linestring,
				(
					ST_Equals(w_l.linestring[1]::POINT_2D, w_l.linestring[-1]::POINT_2D)
					AND cardinality(w.raw_tags) > 0
					AND NOT (
						list_contains(map_keys(w.raw_tags), 'area')
						AND list_extract(map_extract(w.raw_tags, 'area'), 1) = 'no'
					)
					AND (%s)
				) AS is_polygon
			FROM %s w_l
			SEMI JOIN %s fw ON w_l.id = fw.id
			JOIN %s w ON w.id = w_l.id
		),
		proper_geometries AS (
			SELECT
				id,
				tags,
				(CASE
					WHEN is_polygon
					THEN linestring_to_polygon_wkt(linestring)
					ELSE linestring_to_linestring_wkt(linestring)
				END)::GEOMETRY AS geometry
			FROM filtered_ways_with_linestrings
		)
		SELECT 'way/' || id AS feature_id, tags, geometry
		FROM proper_geometries
	`, strings.Join(wrapClauses(polygonFeatureClauses(ruleset)), " OR "), wayLinestringsGlob, wayFilteredIDGlob, wayAllTagsGlob)

	dir := filepath.Join(workDir, "wayfeatures")
	glob, err := writeGeometryStage(ctx, eng, dir, sqlQuery, false, 0)
	if err != nil {
		return "", "", fmt.Errorf("%w: classify ways: %v", ErrIntermediateIOError, err)
	}
	return glob, dir, nil
}

// polygonFeatureClauses renders the ruleset as SQL predicates over the
// raw_tags map, one clause per rule. The disjunction of the returned
// clauses is the "matches the polygon-features ruleset" condition of
// spec.md §4.5; area=yes is always the first clause. Map-backed rules
// are rendered in sorted key order so the generated SQL is stable
// between runs.
func polygonFeatureClauses(ruleset *polygonrules.Config) []string {
	clauses := []string{
		"list_contains(map_keys(raw_tags), 'area') AND " +
			"list_extract(map_extract(raw_tags, 'area'), 1) = 'yes'",
	}

	for _, key := range ruleset.All {
		clauses = append(clauses, fmt.Sprintf("list_contains(map_keys(raw_tags), '%s')", engine.EscapeString(key)))
	}

	for _, key := range sortedRuleKeys(ruleset.Allowlist) {
		// An empty allowed-value list admits no value, so it would only
		// render a clause that can never match.
		if len(ruleset.Allowlist[key]) == 0 {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(
			"list_contains(map_keys(raw_tags), '%s') AND list_has_any(map_extract(raw_tags, '%s'), [%s])",
			engine.EscapeString(key), engine.EscapeString(key), quotedValueList(ruleset.Allowlist[key])))
	}

	for _, key := range sortedRuleKeys(ruleset.Denylist) {
		// An empty exclusion list excludes nothing: the key's presence
		// alone makes the way a polygon.
		if len(ruleset.Denylist[key]) == 0 {
			clauses = append(clauses, fmt.Sprintf("list_contains(map_keys(raw_tags), '%s')", engine.EscapeString(key)))
			continue
		}
		clauses = append(clauses, fmt.Sprintf(
			"list_contains(map_keys(raw_tags), '%s') AND NOT list_has_any(map_extract(raw_tags, '%s'), [%s])",
			engine.EscapeString(key), engine.EscapeString(key), quotedValueList(ruleset.Denylist[key])))
	}

	return clauses
}

func wrapClauses(clauses []string) []string {
	wrapped := make([]string, len(clauses))
	for i, c := range clauses {
		wrapped[i] = "(" + c + ")"
	}
	return wrapped
}

func sortedRuleKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quotedValueList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = engine.QuoteStringLiteral(v)
	}
	return strings.Join(quoted, ",")
}
