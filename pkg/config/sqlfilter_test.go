package config

import (
	"strings"
	"testing"
)

func TestTagsSQLFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter TagsFilter
		want   string
	}{
		{"empty filter matches all", TagsFilter{}, "(1=1)"},
		{
			"bool true key",
			TagsFilter{"building": BoolValue(true)},
			"(list_contains(map_keys(tags), 'building'))",
		},
		{
			"single string value",
			TagsFilter{"highway": StringValue("residential")},
			"list_extract(map_extract(tags, 'highway'), 1) = 'residential'",
		},
		{
			"list of values",
			TagsFilter{"highway": ListValue([]string{"primary", "secondary"})},
			"list_extract(map_extract(tags, 'highway'), 1) IN ('primary', 'secondary')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TagsSQLFilter(tt.filter); got != tt.want {
				t.Errorf("TagsSQLFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilteredTagsClauseFromUsesGivenSourceColumn(t *testing.T) {
	got := FilteredTagsClauseFrom("raw_tags")
	if !strings.Contains(got, "map_entries(raw_tags)") {
		t.Errorf("FilteredTagsClauseFrom(%q) = %q, want it to read from raw_tags", "raw_tags", got)
	}
	if !strings.HasSuffix(got, "AS tags") {
		t.Errorf("FilteredTagsClauseFrom(%q) = %q, want it aliased to tags", "raw_tags", got)
	}
}

func TestFilteredTagsClauseDefaultsToTagsColumn(t *testing.T) {
	if got := FilteredTagsClause(); got != FilteredTagsClauseFrom("tags") {
		t.Errorf("FilteredTagsClause() = %q, want same as FilteredTagsClauseFrom(\"tags\")", got)
	}
}

func TestElementIDsSQLFilter(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		kind string
		want string
	}{
		{"no filter matches all", nil, "way", "1=1"},
		{"matching kind", []string{"way/1", "way/2", "node/3"}, "way", "id IN (1,2)"},
		{"no ids of this kind", []string{"node/3"}, "way", "id IS NULL"},
		{"non-numeric ids are skipped", []string{"way/1) OR (1=1", "way/7"}, "way", "id IN (7)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ElementIDsSQLFilter(tt.ids, tt.kind); got != tt.want {
				t.Errorf("ElementIDsSQLFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}
