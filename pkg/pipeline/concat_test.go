package pipeline

import (
	"strings"
	"testing"

	"github.com/azybler/osm2geoparquet/pkg/config"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct{ name, want string }{
		{"highway", `"highway"`},
		{`weird"name`, `"weird""name"`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.name); got != tt.want {
			t.Errorf("quoteIdent(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestGroupCaseExprFirstMatchWins(t *testing.T) {
	filter := config.TagsFilter{
		"building": config.BoolValue(true),
		"amenity":  config.StringValue("bench"),
		"highway":  config.ListValue([]string{"primary", "secondary"}),
	}
	got := groupCaseExpr(filter)

	if !strings.HasPrefix(got, "CASE WHEN") || !strings.HasSuffix(got, "END") {
		t.Fatalf("groupCaseExpr() = %q, want a CASE expression", got)
	}
	// keys render in sorted order so the "first match" is deterministic.
	amenity := strings.Index(got, "'amenity'")
	building := strings.Index(got, "'building'")
	highway := strings.Index(got, "'highway'")
	if !(amenity < building && building < highway) {
		t.Errorf("groupCaseExpr() keys not in sorted order: %q", got)
	}
	if !strings.Contains(got, "'amenity=' ||") {
		t.Errorf("groupCaseExpr() = %q, want key=value concatenation", got)
	}
	if !strings.Contains(got, "IN ('primary', 'secondary')") {
		t.Errorf("groupCaseExpr() = %q, want an IN clause for the list spec", got)
	}
}

func TestGroupsMapExprSingleTagsColumn(t *testing.T) {
	grouped := config.GroupedTagsFilter{
		"road": config.TagsFilter{"highway": config.BoolValue(true)},
	}
	got := groupsMapExpr(grouped, []string{"road"})
	if !strings.Contains(got, "map(['road'],") {
		t.Errorf("groupsMapExpr() = %q, want a map keyed by group name", got)
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "AS tags") {
		t.Errorf("groupsMapExpr() = %q, want the single column aliased to tags", got)
	}
	if !strings.Contains(got, "tag_entry.value IS NOT NULL") {
		t.Errorf("groupsMapExpr() = %q, want unmatched groups filtered out", got)
	}
}

func TestFilterKeyColumnExpr(t *testing.T) {
	tests := []struct {
		name     string
		value    config.TagValue
		want     string
		wantExpr bool
	}{
		{"bool true extracts the value", config.BoolValue(true), "list_extract", true},
		{"bool false yields no column", config.BoolValue(false), "", false},
		{"string nulls out non-matching values", config.StringValue("apartments"), "= 'apartments' THEN 'apartments'", true},
		{"list keeps only allowed values", config.ListValue([]string{"primary", "secondary"}), "IN ('primary', 'secondary')", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := filterKeyColumnExpr("k", tt.value)
			if ok != tt.wantExpr {
				t.Fatalf("filterKeyColumnExpr() ok = %v, want %v", ok, tt.wantExpr)
			}
			if ok && !strings.Contains(got, tt.want) {
				t.Errorf("filterKeyColumnExpr() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestFilteredTagsMapExprRestrictsEntries(t *testing.T) {
	filter := config.TagsFilter{
		"building": config.StringValue("apartments"),
		"highway":  config.BoolValue(true),
	}
	got := filteredTagsMapExpr(filter)
	if !strings.Contains(got, "map_from_entries") {
		t.Errorf("filteredTagsMapExpr() = %q, want a rebuilt map", got)
	}
	if !strings.Contains(got, "tag_entry.key = 'highway'") {
		t.Errorf("filteredTagsMapExpr() = %q, want a bare key clause for bool specs", got)
	}
	if !strings.Contains(got, "tag_entry.key = 'building' AND tag_entry.value = 'apartments'") {
		t.Errorf("filteredTagsMapExpr() = %q, want a key+value clause for string specs", got)
	}
}

func TestTagProjectionExprsNoExplodeNoFilterReturnsTagsColumn(t *testing.T) {
	exprs, err := tagProjectionExprs(nil, nil, "", config.TagsFilter{}, nil, false, false)
	if err != nil {
		t.Fatalf("tagProjectionExprs() error = %v", err)
	}
	if len(exprs) != 1 || exprs[0] != "tags" {
		t.Errorf("tagProjectionExprs() = %v, want [\"tags\"]", exprs)
	}
}

func TestTagProjectionExprsNoExplodeKeepAllTagsBypassesFilterMap(t *testing.T) {
	filter := config.TagsFilter{"building": config.BoolValue(true)}
	exprs, err := tagProjectionExprs(nil, nil, "", filter, nil, false, true)
	if err != nil {
		t.Fatalf("tagProjectionExprs() error = %v", err)
	}
	if len(exprs) != 1 || exprs[0] != "tags" {
		t.Errorf("tagProjectionExprs() with keepAllTags = %v, want the unrestricted tags column", exprs)
	}
}

func TestTagProjectionExprsGroupedSortsGroupNames(t *testing.T) {
	grouped := config.GroupedTagsFilter{
		"zeta":  config.TagsFilter{"a": config.BoolValue(true)},
		"alpha": config.TagsFilter{"b": config.BoolValue(true)},
	}
	exprs, err := tagProjectionExprs(nil, nil, "", nil, grouped, true, false)
	if err != nil {
		t.Fatalf("tagProjectionExprs() error = %v", err)
	}
	if len(exprs) != 2 {
		t.Fatalf("tagProjectionExprs() len = %d, want 2", len(exprs))
	}
	if !strings.Contains(exprs[0], `"alpha"`) || !strings.Contains(exprs[1], `"zeta"`) {
		t.Errorf("tagProjectionExprs() = %v, want alpha before zeta", exprs)
	}
}

func TestTagProjectionExprsGroupedCompactIsOneColumn(t *testing.T) {
	grouped := config.GroupedTagsFilter{
		"road":     config.TagsFilter{"highway": config.BoolValue(true)},
		"building": config.TagsFilter{"building": config.BoolValue(true)},
	}
	exprs, err := tagProjectionExprs(nil, nil, "", nil, grouped, false, false)
	if err != nil {
		t.Fatalf("tagProjectionExprs() error = %v", err)
	}
	if len(exprs) != 1 {
		t.Fatalf("tagProjectionExprs() len = %d, want a single tags map column", len(exprs))
	}
}

func TestTagProjectionExprsExplodeWithExplicitFilterKeys(t *testing.T) {
	filter := config.TagsFilter{
		"highway": config.BoolValue(true),
		"amenity": config.BoolValue(true),
	}
	exprs, err := tagProjectionExprs(nil, nil, "", filter, nil, true, false)
	if err != nil {
		t.Fatalf("tagProjectionExprs() error = %v", err)
	}
	if len(exprs) != 2 {
		t.Fatalf("tagProjectionExprs() len = %d, want 2", len(exprs))
	}
	if !strings.Contains(exprs[0], `"amenity"`) || !strings.Contains(exprs[1], `"highway"`) {
		t.Errorf("tagProjectionExprs() = %v, want sorted amenity then highway", exprs)
	}
}

func TestGeometryTypeNamesCoverCommonTypes(t *testing.T) {
	for duck, want := range map[string]string{
		"POINT":        "Point",
		"LINESTRING":   "LineString",
		"POLYGON":      "Polygon",
		"MULTIPOLYGON": "MultiPolygon",
	} {
		if got := geometryTypeNames[duck]; got != want {
			t.Errorf("geometryTypeNames[%q] = %q, want %q", duck, got, want)
		}
	}
}
