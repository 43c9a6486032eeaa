package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	pq "github.com/parquet-go/parquet-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/azybler/osm2geoparquet/pkg/config"
	"github.com/azybler/osm2geoparquet/pkg/engine"
	"github.com/azybler/osm2geoparquet/pkg/spatialindex"
)

// PrefilterResult holds the read_parquet(...) expressions for the tables
// of spec.md §3 that downstream stages consume, plus the directories
// written so Convert can sweep them once they're no longer needed.
type PrefilterResult struct {
	NodeValid              string
	NodeFilteredID         string
	WayAllTags             string
	WayUnnestedRef         string
	WayValidID             string
	WayFilteredID          string
	WayRequiredID          string
	RelationAllTags        string
	RelationUnnestedWayRef string
	RelationFilteredID     string

	dirs map[string]string
}

// Dirs returns the name -> directory mapping of every table this stage
// wrote, for the caller's post-stage sweep.
func (r *PrefilterResult) Dirs() map[string]string { return r.dirs }

type candidateIDRow struct {
	ID int64 `parquet:"id"`
}

// tagsMapExpr parses the JSON-encoded tags column produced by pkg/osmreader
// into a MAP(VARCHAR, VARCHAR), the shape the rest of the pipeline's SQL
// (pkg/config.FilteredTagsClause, TagsSQLFilter) expects.
func tagsMapExpr(jsonColumn string) string {
	return fmt.Sprintf("COALESCE(NULLIF(%s, ''), '{}')::JSON::MAP(VARCHAR, VARCHAR)", jsonColumn)
}

// Prefilter partitions the raw decoded elements into the data-model
// tables of spec.md §3, executing the 15 steps of §4.2 in order. Matches
// _prefilter_elements_ids.
func Prefilter(
	ctx context.Context,
	eng *engine.Engine,
	workDir string,
	nodesFile, waysFile, relationsFile string,
	geometryFilter orb.Geometry,
	tagsFilter config.TagsFilter,
	idFilter []string,
) (*PrefilterResult, error) {
	r := &PrefilterResult{dirs: make(map[string]string)}

	write := func(name, sqlQuery string) (string, error) {
		dir := filepath.Join(workDir, name)
		glob, err := eng.SQLToParquetFile(ctx, sqlQuery, dir)
		if err != nil {
			return "", fmt.Errorf("%w: prefilter %s: %v", ErrIntermediateIOError, name, err)
		}
		r.dirs[name] = dir
		return glob, nil
	}

	// uniqueIDs dedupes a freshly written id table into a new one and
	// drops the non-distinct original, matching
	// _calculate_unique_ids_to_parquet.
	uniqueIDs := func(nonDistinctName, name string) (string, error) {
		dir := filepath.Join(workDir, name)
		glob, err := eng.CalculateUniqueIDs(ctx, r.dirs[nonDistinctName], dir)
		if err != nil {
			return "", fmt.Errorf("%w: prefilter %s: %v", ErrIntermediateIOError, name, err)
		}
		r.dirs[name] = dir
		sweep(r.dirs[nonDistinctName])
		delete(r.dirs, nonDistinctName)
		return glob, nil
	}

	nodesGlob := engine.ReadParquetFile(nodesFile)
	waysGlob := engine.ReadParquetFile(waysFile)
	relationsGlob := engine.ReadParquetFile(relationsFile)

	// Step 1: NodeValid — nodes with coordinates, tags normalized.
	nodeValidSQL := fmt.Sprintf(`
		WITH base AS (
			SELECT id, %s AS tags, lon, lat
			FROM %s
			WHERE lon IS NOT NULL AND lat IS NOT NULL
		)
		SELECT id, %s, round(lon, 7) AS lon, round(lat, 7) AS lat
		FROM base
	`, tagsMapExpr("tags_json"), nodesGlob, config.FilteredTagsClause())
	nodeValid, err := write("nodevalid", nodeValidSQL)
	if err != nil {
		return nil, err
	}
	r.NodeValid = nodeValid

	// Step 2: NodeIntersecting.
	nodeIntersecting, err := prefilterNodeIntersecting(ctx, eng, workDir, nodeValid, geometryFilter, write)
	if err != nil {
		return nil, err
	}

	// Step 3: NodeFilteredId. Tagless nodes never become features on
	// their own; they only ever contribute coordinates to ways.
	nodeFilteredSQL := fmt.Sprintf(`
		SELECT id
		FROM %s
		WHERE cardinality(tags) > 0 AND (%s) AND (%s)
	`, nodeIntersecting, config.TagsSQLFilter(tagsFilter), config.ElementIDsSQLFilter(idFilter, "node"))
	if _, err := write("nodefilterednondistinctids", nodeFilteredSQL); err != nil {
		return nil, err
	}
	r.NodeFilteredID, err = uniqueIDs("nodefilterednondistinctids", "nodefilteredid")
	if err != nil {
		return nil, err
	}

	// Step 4+5: Ways view + WayAllTags (len(refs) >= 2, tags non-empty,
	// raw_tags preserved for the polygon classifier).
	wayAllTagsSQL := fmt.Sprintf(`
		WITH base AS (
			SELECT id, %s AS raw_tags
			FROM %s
			WHERE len(refs) >= 2
		),
		filtered_tags AS (
			SELECT id, %s, raw_tags
			FROM base
			WHERE cardinality(raw_tags) > 0
		)
		SELECT id, tags, raw_tags
		FROM filtered_tags
		WHERE cardinality(tags) > 0
	`, tagsMapExpr("tags_json"), waysGlob, config.FilteredTagsClauseFrom("raw_tags"))
	wayAllTags, err := write("wayalltags", wayAllTagsSQL)
	if err != nil {
		return nil, err
	}
	r.WayAllTags = wayAllTags

	// Step 6: WayUnnestedRef — one row per (id, ref, ref_idx). Unnested
	// from every way with at least two refs, not just the tagged ones:
	// relations routinely reference untagged member ways, and those
	// still need their node refs resolved to linestrings.
	wayUnnestedSQL := fmt.Sprintf(`
		SELECT id,
		       UNNEST(refs) AS ref,
		       UNNEST(range(length(refs))) AS ref_idx
		FROM %s
		WHERE len(refs) >= 2
	`, waysGlob)
	wayUnnested, err := write("wayunnestedref", wayUnnestedSQL)
	if err != nil {
		return nil, err
	}
	r.WayUnnestedRef = wayUnnested

	// Step 7: WayValidId — anti-join via EXCEPT: total way ids minus
	// those with at least one dangling ref.
	wayValidSQL := fmt.Sprintf(`
		SELECT DISTINCT id FROM %s
		EXCEPT
		SELECT DISTINCT w.id FROM %s w
		WHERE w.ref NOT IN (SELECT id FROM %s)
	`, wayUnnested, wayUnnested, nodeValid)
	wayValid, err := write("wayvalidid", wayValidSQL)
	if err != nil {
		return nil, err
	}
	r.WayValidID = wayValid

	// Step 8: WayIntersectingId.
	wayIntersecting, err := prefilterWayIntersecting(ctx, eng, workDir, wayUnnested, wayValid, nodeIntersecting, geometryFilter, write)
	if err != nil {
		return nil, err
	}

	// Step 9: WayFilteredId.
	wayFilteredSQL := fmt.Sprintf(`
		SELECT a.id
		FROM %s a
		JOIN %s i ON i.id = a.id
		WHERE (%s) AND (%s)
	`, wayAllTags, wayIntersecting, config.TagsSQLFilter(tagsFilter), config.ElementIDsSQLFilter(idFilter, "way"))
	if _, err := write("wayfilterednondistinctids", wayFilteredSQL); err != nil {
		return nil, err
	}
	r.WayFilteredID, err = uniqueIDs("wayfilterednondistinctids", "wayfilteredid")
	if err != nil {
		return nil, err
	}

	// Step 10+11: Relations view, RelationAllTags, RelationUnnestedWayRef.
	relationAllTagsSQL := fmt.Sprintf(`
		WITH base AS (
			SELECT id, %s AS raw_tags
			FROM %s
			WHERE len(member_refs) >= 1
		),
		filtered_tags AS (
			SELECT id, %s
			FROM base
			WHERE list_extract(map_extract(raw_tags, 'type'), 1) IN ('boundary', 'multipolygon')
		)
		SELECT id, tags
		FROM filtered_tags
		WHERE cardinality(tags) > 0
	`, tagsMapExpr("tags_json"), relationsGlob, config.FilteredTagsClauseFrom("raw_tags"))
	relationAllTags, err := write("relationalltags", relationAllTagsSQL)
	if err != nil {
		return nil, err
	}
	r.RelationAllTags = relationAllTags

	relationUnnestedSQL := fmt.Sprintf(`
		SELECT id, ref, ref_idx, ref_role
		FROM (
			SELECT id,
			       UNNEST(member_refs) AS ref,
			       UNNEST(member_types) AS ref_type,
			       UNNEST(member_roles) AS ref_role,
			       UNNEST(range(length(member_refs))) AS ref_idx
			FROM %s
			WHERE len(member_refs) >= 1
		) u
		WHERE u.ref_type = 'way' AND u.id IN (SELECT id FROM %s)
	`, relationsGlob, relationAllTags)
	relationUnnested, err := write("relationunnestedwayref", relationUnnestedSQL)
	if err != nil {
		return nil, err
	}
	r.RelationUnnestedWayRef = relationUnnested

	// Step 12: RelationValidId — every way-ref is in WayValidId.
	relationValidSQL := fmt.Sprintf(`
		SELECT DISTINCT id FROM %s
		EXCEPT
		SELECT DISTINCT r.id FROM %s r
		WHERE r.ref NOT IN (SELECT id FROM %s)
	`, relationUnnested, relationUnnested, wayValid)
	relationValid, err := write("relationvalidid", relationValidSQL)
	if err != nil {
		return nil, err
	}

	// Step 13: RelationIntersectingId.
	var relationIntersecting string
	if geometryFilter != nil {
		relationIntersectingSQL := fmt.Sprintf(`
			SELECT DISTINCT u.id
			FROM %s u
			SEMI JOIN %s v ON u.id = v.id
			WHERE u.ref IN (SELECT id FROM %s)
		`, relationUnnested, relationValid, wayIntersecting)
		relationIntersecting, err = write("relationintersectingid", relationIntersectingSQL)
		if err != nil {
			return nil, err
		}
	} else {
		relationIntersecting = relationValid
	}

	// Step 14: RelationFilteredId.
	relationFilteredSQL := fmt.Sprintf(`
		SELECT a.id
		FROM %s a
		JOIN %s i ON i.id = a.id
		WHERE (%s) AND (%s)
	`, relationAllTags, relationIntersecting, config.TagsSQLFilter(tagsFilter), config.ElementIDsSQLFilter(idFilter, "relation"))
	if _, err := write("relationfilterednondistinctids", relationFilteredSQL); err != nil {
		return nil, err
	}
	r.RelationFilteredID, err = uniqueIDs("relationfilterednondistinctids", "relationfilteredid")
	if err != nil {
		return nil, err
	}

	// Step 15: WayRequiredId = WayFilteredId ∪ way-refs-of-RelationFilteredId.
	wayRequiredSQL := fmt.Sprintf(`
		SELECT id FROM %s
		UNION
		SELECT DISTINCT ref AS id
		FROM %s
		WHERE id IN (SELECT id FROM %s)
	`, r.WayFilteredID, relationUnnested, r.RelationFilteredID)
	if _, err := write("wayrequirednondistinctids", wayRequiredSQL); err != nil {
		return nil, err
	}
	r.WayRequiredID, err = uniqueIDs("wayrequirednondistinctids", "wayrequiredid")
	if err != nil {
		return nil, err
	}

	return r, nil
}

// prefilterNodeIntersecting implements step 2: all of NodeValid when no
// geometry filter is given, else those rows whose point intersects the
// filter polygon. A bounding-box R-tree prune (pkg/spatialindex) runs
// first to cut down the candidate set before the exact ST_Intersects
// predicate, mirroring the STRtree pass ahead of the original's
// row-at-a-time spatial join.
func prefilterNodeIntersecting(ctx context.Context, eng *engine.Engine, workDir, nodeValid string, geometryFilter orb.Geometry, write func(string, string) (string, error)) (string, error) {
	if geometryFilter == nil {
		return nodeValid, nil
	}

	candidatesPath := filepath.Join(workDir, "nodecandidates.parquet")
	if err := writeCandidateNodeIDs(ctx, eng, nodeValid, geometryFilter, candidatesPath); err != nil {
		return "", err
	}

	geomLiteral := engine.QuoteStringLiteral(wkt.MarshalString(geometryFilter))
	sqlQuery := fmt.Sprintf(`
		SELECT n.*
		FROM %s n
		JOIN %s c ON c.id = n.id
		WHERE ST_Intersects(ST_Point(n.lon, n.lat), ST_GeomFromText(%s))
	`, nodeValid, engine.ReadParquetFile(candidatesPath), geomLiteral)
	return write("nodeintersecting", sqlQuery)
}

// prefilterWayIntersecting implements step 8.
func prefilterWayIntersecting(ctx context.Context, eng *engine.Engine, workDir, wayUnnested, wayValid, nodeIntersecting string, geometryFilter orb.Geometry, write func(string, string) (string, error)) (string, error) {
	if geometryFilter == nil {
		return wayValid, nil
	}
	sqlQuery := fmt.Sprintf(`
		SELECT DISTINCT u.id
		FROM %s u
		SEMI JOIN %s v ON u.id = v.id
		WHERE u.ref IN (SELECT id FROM %s)
	`, wayUnnested, wayValid, nodeIntersecting)
	return write("wayintersectingid", sqlQuery)
}

// candidateNodeBatch bounds how many node coordinates are indexed at
// once while pruning candidates, the same order of magnitude as one
// staging row group.
const candidateNodeBatch = 100_000

// writeCandidateNodeIDs streams node id/lon/lat rows from nodeValid in
// batches, bulk-loads each batch into an R-tree, and writes the ids
// whose point falls inside geometryFilter's bounding box straight to a
// parquet file — one tree per batch, never the whole node table in
// memory at once. This is a bounding-box prune only; the caller still
// runs the exact ST_Intersects predicate over the written candidates.
// It is also the single place prefilter.go touches parquet-go's writer
// API directly; every bulk staging table is written by the engine's own
// COPY ... TO statements instead.
func writeCandidateNodeIDs(ctx context.Context, eng *engine.Engine, nodeValid string, geometryFilter orb.Geometry, path string) (err error) {
	rows, err := eng.Query(ctx, fmt.Sprintf("SELECT id, lon, lat FROM %s", nodeValid))
	if err != nil {
		return fmt.Errorf("%w: query node coordinates: %v", ErrIntermediateIOError, err)
	}
	defer rows.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create node candidates file: %v", ErrIntermediateIOError, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("%w: close node candidates file: %v", ErrIntermediateIOError, cerr)
		}
	}()
	writer := pq.NewGenericWriter[candidateIDRow](f)

	ids := make([]int64, 0, candidateNodeBatch)
	lons := make([]float64, 0, candidateNodeBatch)
	lats := make([]float64, 0, candidateNodeBatch)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		idx := spatialindex.Build(ids, lons, lats)
		matched := idx.IntersectingIDs(geometryFilter)
		ids, lons, lats = ids[:0], lons[:0], lats[:0]
		if len(matched) == 0 {
			return nil
		}
		batch := make([]candidateIDRow, len(matched))
		for i, id := range matched {
			batch[i] = candidateIDRow{ID: id}
		}
		if _, werr := writer.Write(batch); werr != nil {
			return fmt.Errorf("%w: write node candidate ids: %v", ErrIntermediateIOError, werr)
		}
		return nil
	}

	for rows.Next() {
		var id int64
		var lon, lat float64
		if err := rows.Scan(&id, &lon, &lat); err != nil {
			return fmt.Errorf("%w: scan node coordinates: %v", ErrIntermediateIOError, err)
		}
		ids = append(ids, id)
		lons = append(lons, lon)
		lats = append(lats, lat)
		if len(ids) >= candidateNodeBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate node coordinates: %v", ErrIntermediateIOError, err)
	}
	if err := flush(); err != nil {
		return err
	}

	if cerr := writer.Close(); cerr != nil {
		return fmt.Errorf("%w: close node candidates writer: %v", ErrIntermediateIOError, cerr)
	}
	return nil
}
