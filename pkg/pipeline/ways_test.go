package pipeline

import (
	"strings"
	"testing"

	"github.com/azybler/osm2geoparquet/pkg/polygonrules"
)

func testRuleset(t *testing.T) *polygonrules.Config {
	t.Helper()
	ruleset, err := polygonrules.Default()
	if err != nil {
		t.Fatalf("polygonrules.Default() error = %v", err)
	}
	return ruleset
}

func TestPolygonFeatureClausesStartWithAreaYes(t *testing.T) {
	clauses := polygonFeatureClauses(testRuleset(t))
	if len(clauses) < 2 {
		t.Fatalf("polygonFeatureClauses() returned %d clauses, want area=yes plus ruleset clauses", len(clauses))
	}
	if !strings.Contains(clauses[0], "'area'") || !strings.Contains(clauses[0], "= 'yes'") {
		t.Errorf("first clause = %q, want the area=yes condition", clauses[0])
	}
}

func TestPolygonFeatureClausesRenderAllThreeBuckets(t *testing.T) {
	ruleset := &polygonrules.Config{
		All:       []string{"building"},
		Allowlist: map[string][]string{"natural": {"water", "wood"}},
		Denylist:  map[string][]string{"man_made": {"cutline", "embankment"}},
	}

	clauses := polygonFeatureClauses(ruleset)
	if len(clauses) != 4 {
		t.Fatalf("polygonFeatureClauses() returned %d clauses, want 4 (area=yes + one per rule)", len(clauses))
	}
	if !strings.Contains(clauses[1], "list_contains(map_keys(raw_tags), 'building')") {
		t.Errorf("all-bucket clause = %q, want a key presence check on building", clauses[1])
	}
	if !strings.Contains(clauses[2], "list_has_any(map_extract(raw_tags, 'natural'), ['water','wood'])") {
		t.Errorf("allowlist clause = %q, want a list_has_any over the allowed values", clauses[2])
	}
	if !strings.Contains(clauses[3], "NOT list_has_any(map_extract(raw_tags, 'man_made')") {
		t.Errorf("denylist clause = %q, want a negated list_has_any", clauses[3])
	}
}

func TestPolygonFeatureClausesEmptyValueLists(t *testing.T) {
	ruleset := &polygonrules.Config{
		Allowlist: map[string][]string{"sport": {}},
		Denylist:  map[string][]string{"leisure": {}},
	}

	clauses := polygonFeatureClauses(ruleset)
	if len(clauses) != 2 {
		t.Fatalf("polygonFeatureClauses() returned %d clauses, want 2 (area=yes + leisure)", len(clauses))
	}
	// an empty allowed-value list admits nothing and renders no clause;
	// an empty exclusion list reduces to bare key presence.
	if got, want := clauses[1], "list_contains(map_keys(raw_tags), 'leisure')"; got != want {
		t.Errorf("denylist clause = %q, want %q", got, want)
	}
	for _, c := range clauses {
		if strings.Contains(c, "'sport'") {
			t.Errorf("empty allowlist entry rendered a clause: %q", c)
		}
	}
}

func TestPolygonFeatureClausesSortMapKeys(t *testing.T) {
	ruleset := &polygonrules.Config{
		Allowlist: map[string][]string{
			"zoo":     {"enclosure"},
			"natural": {"water"},
		},
		Denylist: map[string][]string{},
	}

	clauses := polygonFeatureClauses(ruleset)
	joined := strings.Join(clauses, " OR ")
	if strings.Index(joined, "'natural'") > strings.Index(joined, "'zoo'") {
		t.Errorf("polygonFeatureClauses() keys not in sorted order: %q", joined)
	}
}

func TestQuotedValueListEscapesQuotes(t *testing.T) {
	got := quotedValueList([]string{"it's", "plain"})
	want := "'it''s','plain'"
	if got != want {
		t.Errorf("quotedValueList() = %q, want %q", got, want)
	}
}

func TestWrapClauses(t *testing.T) {
	got := wrapClauses([]string{"a = 1", "b = 2"})
	if got[0] != "(a = 1)" || got[1] != "(b = 2)" {
		t.Errorf("wrapClauses() = %v, want each clause parenthesized", got)
	}
}
