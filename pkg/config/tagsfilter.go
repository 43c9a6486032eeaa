// Package config defines the tag filter types shared across the pipeline
// and renders them, and the id filter, as SQL predicates.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TagValue is the value side of a single tag filter entry. Exactly one of
// the three representations is meaningful at a time:
//
//   - Bool: true means "match any value for this key", false marks the
//     key as excluded: it matches no row on its own, and rows carrying
//     the key are not removed when another key of the filter matches.
//   - Str: match exactly this value.
//   - List: match any of these values.
type TagValue struct {
	Bool  *bool
	Str   string
	List  []string
	isStr bool
}

// BoolValue builds a TagValue representing a bare true/false filter entry.
func BoolValue(b bool) TagValue { return TagValue{Bool: &b} }

// StringValue builds a TagValue matching a single tag value.
func StringValue(s string) TagValue { return TagValue{Str: s, isStr: true} }

// ListValue builds a TagValue matching any of the given tag values.
func ListValue(values []string) TagValue { return TagValue{List: append([]string(nil), values...)} }

// IsPositive reports whether this value represents an inclusion (anything
// other than an explicit `false`).
func (v TagValue) IsPositive() bool {
	return v.Bool == nil || *v.Bool
}

// IsNegative reports whether this value is the explicit exclusion `false`.
func (v TagValue) IsNegative() bool {
	return v.Bool != nil && !*v.Bool
}

// Values returns the concrete tag values this entry matches, nil for a
// bare boolean entry.
func (v TagValue) Values() []string {
	switch {
	case v.isStr:
		return []string{v.Str}
	case v.List != nil:
		return append([]string(nil), v.List...)
	default:
		return nil
	}
}

// MarshalJSON renders the TagValue the way the original tri-state filter
// value would appear when serialized: bool, string, or array of strings.
func (v TagValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.isStr:
		return json.Marshal(v.Str)
	default:
		list := v.List
		if list == nil {
			list = []string{}
		}
		sorted := append([]string(nil), list...)
		sort.Strings(sorted)
		return json.Marshal(sorted)
	}
}

// TagsFilter is a flat key -> value-spec filter, equivalent to the
// original's OsmTagsFilter.
type TagsFilter map[string]TagValue

// GroupedTagsFilter groups several named TagsFilter sets together, the way
// the original's GroupedOsmTagsFilter lets a caller request several feature
// groups (e.g. "buildings", "roads") from one run.
type GroupedTagsFilter map[string]TagsFilter

// HasAnyPositiveValue reports whether at least one key in the filter is not
// an explicit exclusion. An all-exclusion filter matches nothing. An
// empty filter also reports false.
func (f TagsFilter) HasAnyPositiveValue() bool {
	for _, v := range f {
		if v.IsPositive() {
			return true
		}
	}
	return false
}

// HasAnyPositiveValue reports the same thing across every group.
func (g GroupedTagsFilter) HasAnyPositiveValue() bool {
	for _, f := range g {
		if f.HasAnyPositiveValue() {
			return true
		}
	}
	return false
}

// MergeTagsFilters merges a grouped filter into one flat filter suitable
// for the prefilter SQL, mirroring _merge_grouped_osm_tags_filter.
func MergeTagsFilters(grouped GroupedTagsFilter) (TagsFilter, error) {
	filters := make([]TagsFilter, 0, len(grouped))
	for _, f := range grouped {
		filters = append(filters, f)
	}
	return MergeMultipleTagsFilters(filters)
}

// MergeMultipleTagsFilters merges an arbitrary list of flat filters into one,
// mirroring _merge_multiple_osm_tags_filters. A key that is `true` in one
// filter and `false` in another is a conflict and returns an error with the
// same two-line shape as the original.
func MergeMultipleTagsFilters(filters []TagsFilter) (TagsFilter, error) {
	result := make(TagsFilter)
	for _, filter := range filters {
		for key, value := range filter {
			existing, ok := result[key]
			if !ok {
				existing = TagValue{List: []string{}}
			}

			if (existing.IsPositive() && !existing.isEmpty() && value.IsNegative()) ||
				(existing.IsNegative() && !value.IsNegative()) {
				return nil, fmt.Errorf(
					"provided OSM tags filter values cannot be merged\n"+
						"there is a conflict between the following values with %q key: %v and %v",
					key, existing.describe(), value.describe())
			}

			if existing.Bool != nil && *existing.Bool {
				result[key] = existing
				continue
			}

			switch {
			case value.Bool != nil:
				result[key] = TagValue{Bool: value.Bool}
			case value.isStr:
				result[key] = appendUnique(existing, value.Str)
			case value.List != nil:
				merged := existing
				for _, v := range value.List {
					merged = appendUnique(merged, v)
				}
				result[key] = merged
			default:
				result[key] = existing
			}
		}
	}
	return result, nil
}

func (v TagValue) isEmpty() bool {
	return v.Bool == nil && !v.isStr && len(v.List) == 0
}

func (v TagValue) describe() string {
	switch {
	case v.Bool != nil:
		return fmt.Sprintf("%v", *v.Bool)
	case v.isStr:
		return v.Str
	default:
		return fmt.Sprintf("%v", v.List)
	}
}

func appendUnique(existing TagValue, value string) TagValue {
	if existing.Bool != nil || existing.isStr {
		existing = TagValue{List: existing.Values()}
	}
	for _, have := range existing.List {
		if have == value {
			return existing
		}
	}
	existing.List = append(existing.List, value)
	return existing
}
