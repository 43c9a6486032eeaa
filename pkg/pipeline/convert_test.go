package pipeline

import (
	"errors"
	"testing"

	"github.com/azybler/osm2geoparquet/pkg/config"
)

func TestResolveTagsFilterFlatPassthrough(t *testing.T) {
	flat := config.TagsFilter{"highway": config.BoolValue(true)}
	opts := Options{TagsFilter: &flat}

	got, err := resolveTagsFilter(opts)
	if err != nil {
		t.Fatalf("resolveTagsFilter() error = %v", err)
	}
	if got != &flat {
		t.Errorf("resolveTagsFilter() = %p, want the same filter passed in", got)
	}
}

func TestResolveTagsFilterNilWhenUnset(t *testing.T) {
	got, err := resolveTagsFilter(Options{})
	if err != nil {
		t.Fatalf("resolveTagsFilter() error = %v", err)
	}
	if got != nil {
		t.Errorf("resolveTagsFilter() = %v, want nil", got)
	}
}

func TestResolveTagsFilterMergesGroupedFilter(t *testing.T) {
	opts := Options{
		GroupedTagsFilter: config.GroupedTagsFilter{
			"road": config.TagsFilter{"highway": config.BoolValue(true)},
		},
	}

	got, err := resolveTagsFilter(opts)
	if err != nil {
		t.Fatalf("resolveTagsFilter() error = %v", err)
	}
	if got == nil || len(*got) != 1 {
		t.Fatalf("resolveTagsFilter() = %v, want one merged key", got)
	}
	if _, ok := (*got)["highway"]; !ok {
		t.Errorf("resolveTagsFilter() merged filter missing highway key: %v", got)
	}
}

func TestResolveTagsFilterConflictIsFilterShapeInvalid(t *testing.T) {
	opts := Options{
		GroupedTagsFilter: config.GroupedTagsFilter{
			"include": config.TagsFilter{"highway": config.BoolValue(true)},
			"exclude": config.TagsFilter{"highway": config.BoolValue(false)},
		},
	}

	_, err := resolveTagsFilter(opts)
	if err == nil {
		t.Fatal("resolveTagsFilter() error = nil, want a conflict error")
	}
	if !errors.Is(err, ErrFilterShapeInvalid) {
		t.Errorf("resolveTagsFilter() error = %v, want ErrFilterShapeInvalid", err)
	}
}
