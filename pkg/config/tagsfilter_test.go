package config

import "testing"

func TestMergeMultipleTagsFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters []TagsFilter
		wantErr bool
	}{
		{
			name: "disjoint keys merge cleanly",
			filters: []TagsFilter{
				{"building": BoolValue(true)},
				{"highway": StringValue("residential")},
			},
		},
		{
			name: "same key string values merge without conflict",
			filters: []TagsFilter{
				{"highway": StringValue("residential")},
				{"highway": StringValue("primary")},
			},
		},
		{
			name: "true then false on same key conflicts",
			filters: []TagsFilter{
				{"building": BoolValue(true)},
				{"building": BoolValue(false)},
			},
			wantErr: true,
		},
		{
			name: "false then positive value conflicts",
			filters: []TagsFilter{
				{"building": BoolValue(false)},
				{"building": StringValue("yes")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeMultipleTagsFilters(tt.filters)
			if (err != nil) != tt.wantErr {
				t.Errorf("MergeMultipleTagsFilters() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTagsFilterHasAnyPositiveValue(t *testing.T) {
	tests := []struct {
		name   string
		filter TagsFilter
		want   bool
	}{
		{"empty filter", TagsFilter{}, false},
		{"all negative", TagsFilter{"access": BoolValue(false)}, false},
		{"one positive", TagsFilter{"access": BoolValue(false), "highway": BoolValue(true)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.HasAnyPositiveValue(); got != tt.want {
				t.Errorf("HasAnyPositiveValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
