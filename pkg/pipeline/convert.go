package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/azybler/osm2geoparquet/pkg/bucket"
	"github.com/azybler/osm2geoparquet/pkg/config"
	"github.com/azybler/osm2geoparquet/pkg/engine"
	"github.com/azybler/osm2geoparquet/pkg/osmreader"
	"github.com/azybler/osm2geoparquet/pkg/polygonrules"
)

// Convert is the single entry point for one PBF-to-GeoParquet conversion,
// driving the seven stages of spec.md §2 strictly in sequence and
// sweeping every intermediate table no later stage still needs. Matches
// the top-level shape of convert_pbf_to_gpq, restructured as a
// straight-line Go function in the style of the teacher's
// cmd/preprocess/main.go numbered steps.
func Convert(ctx context.Context, opts Options) (result *Result, retErr error) {
	if opts.PBFPath == "" {
		return nil, fmt.Errorf("%w: pbf path is required", ErrInputNotReadable)
	}
	pbf, err := os.Open(opts.PBFPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotReadable, err)
	}
	defer pbf.Close()

	flatFilter, err := resolveTagsFilter(opts)
	if err != nil {
		return nil, err
	}

	ruleset := opts.PolygonRuleset
	if ruleset == nil {
		ruleset, err = polygonrules.Default()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPolygonFeaturesConfigInvalid, err)
		}
	}

	explodeTags := opts.explodeTags()

	outputPath := opts.OutputPath
	if outputPath == "" {
		outDir := filepath.Dir(opts.PBFPath)
		tf := config.TagsFilter{}
		if flatFilter != nil {
			tf = *flatFilter
		}
		outputPath, err = ResultFilePath(outDir, opts.PBFPath, tf, opts.GeometryFilter, explodeTags, opts.IDFilter)
		if err != nil {
			return nil, fmt.Errorf("derive output path: %w", err)
		}
	}

	parentDir := opts.WorkDir
	if parentDir == "" {
		parentDir = os.TempDir()
	}
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create work dir parent: %v", ErrIntermediateIOError, err)
	}
	workDir, err := os.MkdirTemp(parentDir, "osm2geoparquet-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", ErrIntermediateIOError, err)
	}
	// The working directory is removed only on success: a mid-stage
	// failure leaves it in place for diagnosis (spec.md §7).
	defer func() {
		if retErr == nil && !opts.KeepWorkDir {
			sweep(workDir)
		}
	}()

	eng, err := engine.Open(ctx, opts.Threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntermediateIOError, err)
	}
	defer eng.Close()

	rowsPerBucket := bucket.AutoRowsPerBucket()

	// Stage 1: PBF reader.
	sink, err := osmreader.NewParquetSink(filepath.Join(workDir, "elements"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntermediateIOError, err)
	}
	if err := osmreader.Read(ctx, pbf, sink); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotReadable, err)
	}
	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntermediateIOError, err)
	}
	nodesFile, waysFile, relationsFile := sink.Paths()

	var flat config.TagsFilter
	if flatFilter != nil {
		flat = *flatFilter
	}

	// Stage 2: prefilter.
	pf, err := Prefilter(ctx, eng, workDir, nodesFile, waysFile, relationsFile, opts.GeometryFilter, flat, opts.IDFilter)
	if err != nil {
		return nil, err
	}
	sweep(nodesFile, waysFile, relationsFile)

	// Stage 3: node geometry emitter.
	nodeGeoms, nodeGeomsDir, err := NodeGeometries(ctx, eng, workDir, pf.NodeValid, pf.NodeFilteredID)
	if err != nil {
		return nil, err
	}
	sweep(pf.Dirs()["nodefilteredid"])

	// Stage 4: way linestring builder, both passes (spec.md §4.4),
	// reading one shared refs-with-points table.
	wayRefs, wayRefsDir, err := WayRefsWithPoints(ctx, eng, workDir, pf.WayUnnestedRef, pf.NodeValid)
	if err != nil {
		return nil, err
	}
	sweep(pf.Dirs()["nodevalid"])

	filteredLines, filteredLinesDirs, err := WayLinestrings(ctx, eng, workDir, "filtered", pf.WayFilteredID, wayRefs, rowsPerBucket)
	if err != nil {
		return nil, err
	}
	requiredLines, requiredLinesDirs, err := WayLinestrings(ctx, eng, workDir, "required", pf.WayRequiredID, wayRefs, rowsPerBucket)
	if err != nil {
		return nil, err
	}
	sweep(wayRefsDir, pf.Dirs()["wayunnestedref"],
		filteredLinesDirs["way_filtered_ids_grouped"], filteredLinesDirs["way_filtered_grouped"],
		requiredLinesDirs["way_required_ids_grouped"], requiredLinesDirs["way_required_grouped"])

	// Stage 5: way polygon classifier.
	wayFeatures, wayFeaturesDir, err := ClassifyWays(ctx, eng, workDir, pf.WayAllTags, pf.WayFilteredID, filteredLines, ruleset)
	if err != nil {
		return nil, err
	}
	sweep(filteredLinesDirs["way_filtered_linestrings"])

	// Stage 6: relation assembler. Uses the WayRequiredId pass since
	// relations may reference ways outside the way tag/geometry filter.
	relationGeoms, relationGeomsDir, relationDirs, err := RelationGeometries(ctx, eng, workDir, pf.RelationAllTags, pf.RelationFilteredID, pf.RelationUnnestedWayRef, requiredLines, rowsPerBucket)
	if err != nil {
		return nil, err
	}
	sweep(requiredLinesDirs["way_required_linestrings"])
	for _, d := range relationDirs {
		sweep(d)
	}
	for _, d := range pf.Dirs() {
		sweep(d)
	}

	// Stage 7: result concatenator.
	concatResult, concatDirs, err := Concat(ctx, eng, workDir, nodeGeoms, wayFeatures, relationGeoms, flat, opts.GroupedTagsFilter, explodeTags, opts.KeepAllTags, rowsPerBucket, outputPath)
	if err != nil {
		return nil, err
	}
	sweep(nodeGeomsDir, wayFeaturesDir, relationGeomsDir)
	for _, d := range concatDirs {
		sweep(d)
	}

	if concatResult.Empty {
		log.Printf("pipeline: %v: no features matched the given filters; wrote empty geoparquet to %s", ErrEmptyResult, outputPath)
	}

	return &Result{
		OutputPath:   concatResult.OutputPath,
		FeatureCount: concatResult.FeatureCount,
		Empty:        concatResult.Empty,
	}, nil
}

// resolveTagsFilter merges a grouped filter into a flat one for matching
// purposes (spec.md §4.2), or returns the flat filter unchanged. Returns
// nil if neither is set. A merge conflict (a key both included and
// excluded) is reported as ErrFilterShapeInvalid.
func resolveTagsFilter(opts Options) (*config.TagsFilter, error) {
	if len(opts.GroupedTagsFilter) > 0 {
		merged, err := config.MergeTagsFilters(opts.GroupedTagsFilter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFilterShapeInvalid, err)
		}
		return &merged, nil
	}
	return opts.TagsFilter, nil
}
