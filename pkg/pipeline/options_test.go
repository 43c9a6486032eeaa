package pipeline

import (
	"testing"

	"github.com/azybler/osm2geoparquet/pkg/config"
)

func TestOptionsExplodeTagsDefaultsToWhetherATagFilterIsSet(t *testing.T) {
	flat := config.TagsFilter{"highway": config.BoolValue(true)}

	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{"no filter at all defaults to false", Options{}, false},
		{"flat filter defaults to true", Options{TagsFilter: &flat}, true},
		{
			"grouped filter defaults to true",
			Options{GroupedTagsFilter: config.GroupedTagsFilter{"road": flat}},
			true,
		},
		{"explicit false overrides a set filter", Options{TagsFilter: &flat, ExplodeTags: boolPtr(false)}, false},
		{"explicit true overrides no filter", Options{ExplodeTags: boolPtr(true)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.explodeTags(); got != tt.want {
				t.Errorf("explodeTags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
