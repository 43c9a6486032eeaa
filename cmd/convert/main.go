package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/azybler/osm2geoparquet/pkg/config"
	"github.com/azybler/osm2geoparquet/pkg/pipeline"
)

func main() {
	pbfPath := flag.String("pbf", "", "Path to the .osm.pbf extract to convert")
	outPath := flag.String("out", "", "Output GeoParquet path (empty = derive deterministically)")
	workDir := flag.String("workdir", "", "Parent directory for the per-conversion temporary directory (empty = OS temp dir)")
	geojsonPath := flag.String("geojson", "", "Path to a GeoJSON file whose geometry clips the result")
	tagsPath := flag.String("tags", "", "Path to a JSON tags filter (flat {key: valueSpec} or grouped {group: {key: valueSpec}})")
	idsCSV := flag.String("ids", "", "Comma-separated feature ids to keep, e.g. way/123,node/456")
	explodeFlag := flag.String("explode-tags", "auto", `"true", "false", or "auto" (default: true when a tag filter is set)`)
	keepAllTags := flag.Bool("keep-all-tags", false, "Keep every tag of matched elements instead of only the filtered ones")
	keepWorkDir := flag.Bool("keep-workdir", false, "Do not delete the temporary working directory on success")
	threads := flag.Int("threads", 0, "DuckDB thread count (0 = engine default)")
	flag.Parse()

	if *pbfPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: convert -pbf <file.osm.pbf> [-out result.geoparquet] [-geojson clip.geojson] [-tags filter.json] [-ids way/1,node/2]")
		os.Exit(1)
	}

	opts := pipeline.Options{
		PBFPath:     *pbfPath,
		OutputPath:  *outPath,
		WorkDir:     *workDir,
		KeepAllTags: *keepAllTags,
		KeepWorkDir: *keepWorkDir,
		Threads:     *threads,
	}

	if *geojsonPath != "" {
		geom, err := loadGeometryFilter(*geojsonPath)
		if err != nil {
			log.Fatalf("Failed to load geometry filter: %v", err)
		}
		opts.GeometryFilter = geom
		log.Printf("Clipping to geometry from %s (%s)", *geojsonPath, wkt.MarshalString(geom))
	}

	if *tagsPath != "" {
		flatFilter, grouped, err := loadTagsFilter(*tagsPath)
		if err != nil {
			log.Fatalf("Failed to load tags filter: %v", err)
		}
		opts.TagsFilter = flatFilter
		opts.GroupedTagsFilter = grouped
	}

	if *idsCSV != "" {
		opts.IDFilter = strings.Split(*idsCSV, ",")
	}

	switch *explodeFlag {
	case "true":
		v := true
		opts.ExplodeTags = &v
	case "false":
		v := false
		opts.ExplodeTags = &v
	case "auto":
		// leave nil; pipeline.Convert applies spec.md §6's default
	default:
		log.Fatalf("invalid -explode-tags value %q", *explodeFlag)
	}

	start := time.Now()
	log.Printf("Converting %s...", *pbfPath)
	result, err := pipeline.Convert(context.Background(), opts)
	if err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}

	elapsed := time.Since(start)
	if result.Empty {
		log.Printf("Done in %s. No features matched; wrote empty file: %s", elapsed.Round(time.Second), result.OutputPath)
		return
	}
	log.Printf("Done in %s. Wrote %d features to %s", elapsed.Round(time.Second), result.FeatureCount, result.OutputPath)
}

// loadGeometryFilter reads a GeoJSON Feature or Geometry file and returns
// its geometry for use as a spatial clip.
func loadGeometryFilter(path string) (orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if feature, err := geojson.UnmarshalFeature(data); err == nil {
		return feature.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	return g.Geometry(), nil
}

// rawTagValue mirrors the bool|string|[]string tri-state shape of
// config.TagValue for JSON decoding from the CLI's filter file.
type rawTagValue struct {
	asBool *bool
	asStr  string
	asList []string
}

func (v *rawTagValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		v.asBool = &b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.asStr = s
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		v.asList = list
		return nil
	}
	return fmt.Errorf("tag filter value must be a bool, string, or array of strings")
}

func (v rawTagValue) toTagValue() config.TagValue {
	switch {
	case v.asBool != nil:
		return config.BoolValue(*v.asBool)
	case v.asList != nil:
		return config.ListValue(v.asList)
	default:
		return config.StringValue(v.asStr)
	}
}

// loadTagsFilter parses a JSON tags filter file, detecting whether it is
// flat ({key: valueSpec}) or grouped ({group: {key: valueSpec}}) by
// attempting both shapes, matching spec.md §4.2's two accepted shapes.
func loadTagsFilter(path string) (*config.TagsFilter, config.GroupedTagsFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var rawGrouped map[string]map[string]rawTagValue
	if err := json.Unmarshal(data, &rawGrouped); err == nil && isGroupedShape(data) {
		grouped := make(config.GroupedTagsFilter, len(rawGrouped))
		for group, fields := range rawGrouped {
			flat := make(config.TagsFilter, len(fields))
			for k, v := range fields {
				flat[k] = v.toTagValue()
			}
			grouped[group] = flat
		}
		return nil, grouped, nil
	}

	var rawFlat map[string]rawTagValue
	if err := json.Unmarshal(data, &rawFlat); err != nil {
		return nil, nil, fmt.Errorf("parse tags filter: %w", err)
	}
	flat := make(config.TagsFilter, len(rawFlat))
	for k, v := range rawFlat {
		flat[k] = v.toTagValue()
	}
	return &flat, nil, nil
}

// isGroupedShape re-decodes data into generic JSON to distinguish
// {"key": true} (flat) from {"group": {"key": true}} (grouped): a flat
// filter's values are never themselves JSON objects.
func isGroupedShape(data []byte) bool {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return false
	}
	for _, v := range generic {
		trimmed := strings.TrimSpace(string(v))
		if !strings.HasPrefix(trimmed, "{") {
			return false
		}
	}
	return len(generic) > 0
}
