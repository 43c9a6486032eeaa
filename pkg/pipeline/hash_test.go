package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/azybler/osm2geoparquet/pkg/config"
)

func TestResultFilePathNoFilters(t *testing.T) {
	got, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf", nil, nil, false, nil)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	want := filepath.Join("/data", "monaco_nofilter_noclip_compact.geoparquet")
	if got != want {
		t.Errorf("ResultFilePath() = %q, want %q", got, want)
	}
}

func TestResultFilePathIsDeterministic(t *testing.T) {
	filter := config.TagsFilter{"building": config.BoolValue(true)}
	geom := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	ids := []string{"way/2", "node/1", "way/2"}

	first, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf", filter, geom, true, ids)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	second, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf", filter, geom, true, []string{"node/1", "way/2"})
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	if first != second {
		t.Errorf("ResultFilePath() not deterministic over duplicate ids: %q vs %q", first, second)
	}
	if !strings.Contains(first, "_exploded_") {
		t.Errorf("ResultFilePath() = %q, want the exploded marker before the ids hash", first)
	}
}

func TestResultFilePathDiffersPerFilter(t *testing.T) {
	noFilter, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf", nil, nil, false, nil)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	withFilter, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf",
		config.TagsFilter{"building": config.BoolValue(true)}, nil, false, nil)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	withGeom, err := ResultFilePath("/data", "/extracts/monaco.osm.pbf", nil,
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, false, nil)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	if noFilter == withFilter || noFilter == withGeom || withFilter == withGeom {
		t.Errorf("ResultFilePath() collisions across distinct filters: %q %q %q", noFilter, withFilter, withGeom)
	}
}

func TestResultFilePathStripsOsmPbfSuffix(t *testing.T) {
	got, err := ResultFilePath("/data", "/extracts/andorra.osm.pbf", nil, nil, false, nil)
	if err != nil {
		t.Fatalf("ResultFilePath() error = %v", err)
	}
	base := filepath.Base(got)
	if !strings.HasPrefix(base, "andorra_") {
		t.Errorf("ResultFilePath() = %q, want the bare extract stem", got)
	}
}
