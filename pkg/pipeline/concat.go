package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/azybler/osm2geoparquet/pkg/config"
	"github.com/azybler/osm2geoparquet/pkg/engine"
	"github.com/azybler/osm2geoparquet/pkg/geoparquet"
)

// ConcatResult describes the outcome of the result concatenator.
type ConcatResult struct {
	OutputPath   string
	FeatureCount int64
	Empty        bool
}

// Concat implements spec.md §4.7: unions the three geometry streams under
// the requested tag-projection schema, splits valid/invalid geometries,
// repairs invalid geometries in buckets, drops all-null columns, and
// writes the final GeoParquet file. Matches the _generate_osm_tags_sql_
// select / _parse_features_relation_to_groups /
// _concatenate_results_to_geoparquet sequence of the reference reader.
func Concat(
	ctx context.Context,
	eng *engine.Engine,
	workDir string,
	nodeGeoms, wayFeatures, relationGeoms string,
	tagsFilter config.TagsFilter,
	grouped config.GroupedTagsFilter,
	explodeTags bool,
	keepAllTags bool,
	rowsPerBucket int,
	outputPath string,
) (*ConcatResult, map[string]string, error) {
	dirs := map[string]string{}

	unionSQL := fmt.Sprintf(`
		SELECT feature_id, tags, geometry FROM %s
		UNION ALL
		SELECT feature_id, tags, geometry FROM %s
		UNION ALL
		SELECT feature_id, tags, geometry FROM %s
	`, nodeGeoms, wayFeatures, relationGeoms)

	unionDir := filepath.Join(workDir, "allfeatures")
	unionGlob, err := eng.SQLToParquetFile(ctx, unionSQL, unionDir)
	if err != nil {
		return nil, dirs, fmt.Errorf("%w: union feature streams: %v", ErrIntermediateIOError, err)
	}
	dirs["allfeatures"] = unionDir

	tagExprs, err := tagProjectionExprs(ctx, eng, unionGlob, tagsFilter, grouped, explodeTags, keepAllTags)
	if err != nil {
		return nil, dirs, err
	}
	if len(tagExprs) > 100 {
		log.Printf("pipeline: select clause contains more than 100 columns (found %d); query might fail with insufficient memory, consider a more restrictive tags filter", len(tagExprs))
	}

	projectedSQL := fmt.Sprintf(`
		SELECT feature_id, %s, ST_GeomFromWKB(geometry) AS geometry
		FROM %s
	`, strings.Join(tagExprs, ", "), unionGlob)

	// Validity split, bucketed repair, and re-concatenation in one
	// staged write.
	concatenatedDir := filepath.Join(workDir, "concatenated")
	concatenatedGlob, err := writeGeometryStage(ctx, eng, concatenatedDir, projectedSQL, true, rowsPerBucket)
	if err != nil {
		return nil, dirs, fmt.Errorf("%w: concatenate features: %v", ErrIntermediateIOError, err)
	}
	dirs["concatenated"] = concatenatedDir

	keepCols, err := nonNullColumns(ctx, eng, concatenatedGlob)
	if err != nil {
		return nil, dirs, err
	}

	finalCols := append([]string{"feature_id"}, keepCols...)
	finalCols = append(finalCols, "geometry")
	quotedCols := make([]string, len(finalCols))
	for i, c := range finalCols {
		quotedCols[i] = quoteIdent(c)
	}
	finalSelect := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quotedCols, ", "), concatenatedGlob)

	count, err := countRows(ctx, eng, concatenatedGlob)
	if err != nil {
		return nil, dirs, err
	}

	geometryTypes, bbox, err := geometryMetadata(ctx, eng, concatenatedGlob, count)
	if err != nil {
		return nil, dirs, err
	}

	if err := geoparquet.Write(ctx, eng, finalSelect, outputPath, geometryTypes, bbox); err != nil {
		return nil, dirs, fmt.Errorf("%w: %v", ErrIntermediateIOError, err)
	}

	return &ConcatResult{
		OutputPath:   outputPath,
		FeatureCount: count,
		Empty:        count == 0,
	}, dirs, nil
}

// tagProjectionExprs builds the SELECT-list expressions (excluding
// feature_id and geometry) for one of the four tag-projection schemas of
// spec.md §4.7 item 1, plus the keep-all-tags variants: with a flat
// filter and keepAllTags unset, the projection is restricted to the
// filter's own keys and matching values; with keepAllTags set, every
// observed tag survives even though only matching rows do.
func tagProjectionExprs(ctx context.Context, eng *engine.Engine, unionGlob string, tagsFilter config.TagsFilter, grouped config.GroupedTagsFilter, explode, keepAllTags bool) ([]string, error) {
	if len(grouped) > 0 {
		groupNames := make([]string, 0, len(grouped))
		for name := range grouped {
			groupNames = append(groupNames, name)
		}
		sort.Strings(groupNames)

		if explode {
			exprs := make([]string, len(groupNames))
			for i, name := range groupNames {
				exprs[i] = groupCaseExpr(grouped[name]) + " AS " + quoteIdent(name)
			}
			return exprs, nil
		}
		return []string{groupsMapExpr(grouped, groupNames)}, nil
	}

	hasFilter := len(tagsFilter) > 0

	if !explode {
		if hasFilter && !keepAllTags {
			return []string{filteredTagsMapExpr(tagsFilter)}, nil
		}
		return []string{"tags"}, nil
	}

	if hasFilter && !keepAllTags {
		keys := make([]string, 0, len(tagsFilter))
		for k := range tagsFilter {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var exprs []string
		for _, k := range keys {
			if expr, ok := filterKeyColumnExpr(k, tagsFilter[k]); ok {
				exprs = append(exprs, expr)
			}
		}
		return exprs, nil
	}

	keys, err := discoverTagKeys(ctx, eng, unionGlob)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	exprs := make([]string, len(keys))
	for i, k := range keys {
		exprs[i] = fmt.Sprintf("list_extract(map_extract(tags, '%s'), 1) AS %s", engine.EscapeString(k), quoteIdent(k))
	}
	return exprs, nil
}

// filterKeyColumnExpr renders one exploded column for a filter key,
// nulling out values the filter clause would not have matched: a row can
// pass the overall disjunctive filter through one key while carrying a
// non-matching value for another.
func filterKeyColumnExpr(key string, value config.TagValue) (string, bool) {
	escapedKey := engine.EscapeString(key)
	extract := fmt.Sprintf("list_extract(map_extract(tags, '%s'), 1)", escapedKey)
	if value.Bool != nil {
		if !*value.Bool {
			return "", false
		}
		return fmt.Sprintf("%s AS %s", extract, quoteIdent(key)), true
	}

	vals := value.Values()
	switch len(vals) {
	case 0:
		return "", false
	case 1:
		escaped := engine.EscapeString(vals[0])
		return fmt.Sprintf("CASE WHEN %s = '%s' THEN '%s' ELSE NULL END AS %s",
			extract, escaped, escaped, quoteIdent(key)), true
	default:
		quoted := make([]string, len(vals))
		for i, v := range vals {
			quoted[i] = "'" + engine.EscapeString(v) + "'"
		}
		return fmt.Sprintf("CASE WHEN %s IN (%s) THEN %s ELSE NULL END AS %s",
			extract, strings.Join(quoted, ", "), extract, quoteIdent(key)), true
	}
}

// filteredTagsMapExpr renders the compact single-column projection
// restricted to entries the filter names, matching the merged-filter
// non-exploded branch of _generate_osm_tags_sql_select.
func filteredTagsMapExpr(filter config.TagsFilter) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	for _, key := range keys {
		value := filter[key]
		escapedKey := engine.EscapeString(key)
		switch {
		case value.Bool != nil && *value.Bool:
			clauses = append(clauses, fmt.Sprintf("tag_entry.key = '%s'", escapedKey))
		case value.Bool != nil:
			// explicit exclusions contribute nothing to keep
		default:
			vals := value.Values()
			if len(vals) == 1 {
				clauses = append(clauses, fmt.Sprintf(
					"(tag_entry.key = '%s' AND tag_entry.value = '%s')",
					escapedKey, engine.EscapeString(vals[0])))
			} else if len(vals) > 1 {
				quoted := make([]string, len(vals))
				for i, v := range vals {
					quoted[i] = "'" + engine.EscapeString(v) + "'"
				}
				clauses = append(clauses, fmt.Sprintf(
					"(tag_entry.key = '%s' AND tag_entry.value IN (%s))",
					escapedKey, strings.Join(quoted, ", ")))
			}
		}
	}
	if len(clauses) == 0 {
		return "tags"
	}
	return fmt.Sprintf(`map_from_entries(
		list_filter(map_entries(tags), tag_entry -> %s)
	) AS tags`, strings.Join(clauses, " OR "))
}

// groupCaseExpr renders the first-matching "key=value" string for one
// group's clauses, evaluated in sorted-key order for determinism
// ("group tagging", S6).
func groupCaseExpr(filter config.TagsFilter) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var whens []string
	for _, key := range keys {
		value := filter[key]
		escapedKey := engine.EscapeString(key)
		extract := fmt.Sprintf("list_extract(map_extract(tags, '%s'), 1)", escapedKey)
		switch {
		case value.Bool != nil && *value.Bool:
			whens = append(whens, fmt.Sprintf(
				"WHEN %s IS NOT NULL THEN '%s=' || %s", extract, escapedKey, extract))
		case value.Bool != nil:
			// explicit exclusions never produce a group value
		default:
			vals := value.Values()
			if len(vals) == 1 {
				whens = append(whens, fmt.Sprintf(
					"WHEN %s = '%s' THEN '%s=' || %s",
					extract, engine.EscapeString(vals[0]), escapedKey, extract))
			} else if len(vals) > 1 {
				quoted := make([]string, len(vals))
				for i, v := range vals {
					quoted[i] = "'" + engine.EscapeString(v) + "'"
				}
				whens = append(whens, fmt.Sprintf(
					"WHEN %s IN (%s) THEN '%s=' || %s",
					extract, strings.Join(quoted, ", "), escapedKey, extract))
			}
		}
	}
	if len(whens) == 0 {
		return "CAST(NULL AS VARCHAR)"
	}
	return "CASE " + strings.Join(whens, " ") + " END"
}

// groupsMapExpr renders the compact grouped projection: one `tags` map
// column keyed by group name, holding each group's first matching
// "key=value" string and omitting groups with no match.
func groupsMapExpr(grouped config.GroupedTagsFilter, sortedNames []string) string {
	quotedNames := make([]string, len(sortedNames))
	caseExprs := make([]string, len(sortedNames))
	for i, name := range sortedNames {
		quotedNames[i] = "'" + engine.EscapeString(name) + "'"
		caseExprs[i] = groupCaseExpr(grouped[name])
	}
	return fmt.Sprintf(`map_from_entries(
		list_filter(
			map_entries(map([%s], [%s])),
			tag_entry -> tag_entry.value IS NOT NULL
		)
	) AS tags`, strings.Join(quotedNames, ", "), strings.Join(caseExprs, ", "))
}

func discoverTagKeys(ctx context.Context, eng *engine.Engine, unionGlob string) ([]string, error) {
	rows, err := eng.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT k FROM (SELECT UNNEST(map_keys(tags)) AS k FROM %s)
	`, unionGlob))
	if err != nil {
		return nil, fmt.Errorf("%w: discover tag keys: %v", ErrIntermediateIOError, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: scan tag key: %v", ErrIntermediateIOError, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// nonNullColumns returns the names of every column in glob (other than
// feature_id and geometry) that has at least one non-null value,
// matching the "drop columns that are entirely null" step.
func nonNullColumns(ctx context.Context, eng *engine.Engine, glob string) ([]string, error) {
	probe, err := eng.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", glob))
	if err != nil {
		return nil, fmt.Errorf("%w: probe projected columns: %v", ErrIntermediateIOError, err)
	}
	allCols, err := probe.Columns()
	probe.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read projected column names: %v", ErrIntermediateIOError, err)
	}

	var candidates []string
	for _, c := range allCols {
		if c == "feature_id" || c == "geometry" {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	exprs := make([]string, len(candidates))
	for i, c := range candidates {
		exprs[i] = fmt.Sprintf("count(%s)", quoteIdent(c))
	}
	countRow := eng.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), glob))

	counts := make([]int64, len(candidates))
	ptrs := make([]any, len(candidates))
	for i := range counts {
		ptrs[i] = &counts[i]
	}
	if err := countRow.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: scan non-null column counts: %v", ErrIntermediateIOError, err)
	}

	var keep []string
	for i, c := range candidates {
		if counts[i] > 0 {
			keep = append(keep, c)
		}
	}
	return keep, nil
}

func countRows(ctx context.Context, eng *engine.Engine, glob string) (int64, error) {
	var n int64
	row := eng.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", glob))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count final rows: %v", ErrIntermediateIOError, err)
	}
	return n, nil
}

// geometryTypeNames maps the engine's uppercase ST_GeometryType output
// to the mixed-case names the GeoParquet metadata schema uses.
var geometryTypeNames = map[string]string{
	"POINT":              "Point",
	"LINESTRING":         "LineString",
	"POLYGON":            "Polygon",
	"MULTIPOINT":         "MultiPoint",
	"MULTILINESTRING":    "MultiLineString",
	"MULTIPOLYGON":       "MultiPolygon",
	"GEOMETRYCOLLECTION": "GeometryCollection",
}

// geometryMetadata computes the distinct geometry types and the tight
// bounding box over glob's geometry column, for the GeoParquet `geo`
// metadata key. Returns an empty type list and a zero bbox for an empty
// result (spec.md §7 EmptyResult).
func geometryMetadata(ctx context.Context, eng *engine.Engine, glob string, count int64) ([]string, geoparquet.BBox, error) {
	if count == 0 {
		return []string{}, geoparquet.BBox{0, 0, 0, 0}, nil
	}

	rows, err := eng.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT CAST(ST_GeometryType(ST_GeomFromWKB(geometry)) AS VARCHAR) FROM %s
	`, glob))
	if err != nil {
		return nil, geoparquet.BBox{}, fmt.Errorf("%w: query geometry types: %v", ErrIntermediateIOError, err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, geoparquet.BBox{}, fmt.Errorf("%w: scan geometry type: %v", ErrIntermediateIOError, err)
		}
		if name, ok := geometryTypeNames[t]; ok {
			t = name
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, geoparquet.BBox{}, fmt.Errorf("%w: iterate geometry types: %v", ErrIntermediateIOError, err)
	}
	sort.Strings(types)

	var bbox geoparquet.BBox
	bboxRow := eng.QueryRow(ctx, fmt.Sprintf(`
		SELECT min(ST_XMin(g)), min(ST_YMin(g)), max(ST_XMax(g)), max(ST_YMax(g))
		FROM (SELECT ST_GeomFromWKB(geometry) AS g FROM %s) t
	`, glob))
	if err := bboxRow.Scan(&bbox[0], &bbox[1], &bbox[2], &bbox[3]); err != nil {
		return nil, geoparquet.BBox{}, fmt.Errorf("%w: scan bbox: %v", ErrIntermediateIOError, err)
	}

	return types, bbox, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
