package pipeline

import (
	"github.com/paulmach/orb"

	"github.com/azybler/osm2geoparquet/pkg/config"
	"github.com/azybler/osm2geoparquet/pkg/polygonrules"
)

// Options is the full set of inputs to one conversion, matching the
// external interfaces of spec.md §6.
type Options struct {
	// PBFPath is the local filesystem path to the extract being
	// converted. Required.
	PBFPath string

	// GeometryFilter, if non-nil, clips every emitted feature to this
	// WGS84 polygon (or multipolygon). Nil means no spatial filter.
	GeometryFilter orb.Geometry

	// TagsFilter, if non-nil, restricts output to elements whose
	// normalized tags match. Nil means no tag filter.
	TagsFilter *config.TagsFilter

	// GroupedTagsFilter, if non-nil, is merged into a flat filter for
	// matching and also drives the "group tagging" output schema
	// (spec.md §4.7, S6). Mutually exclusive with TagsFilter; if both
	// are set, GroupedTagsFilter wins.
	GroupedTagsFilter config.GroupedTagsFilter

	// IDFilter, if non-empty, restricts output to these feature ids
	// ("node/<id>", "way/<id>", "relation/<id>").
	IDFilter []string

	// WorkDir is the parent directory under which a uniquely named
	// per-conversion temporary directory is created. Defaults to
	// os.TempDir() if empty.
	WorkDir string

	// PolygonRuleset selects the closed-way polygon/linestring
	// classification rules. Nil uses the bundled default
	// (polygonrules.Default).
	PolygonRuleset *polygonrules.Config

	// KeepAllTags keeps every tag of each matched element in the output
	// instead of restricting the projection to the tags the filter
	// names. No effect without a tag filter.
	KeepAllTags bool

	// ExplodeTags controls the tag projection schema (spec.md §4.7).
	// Nil defaults to true when a tag filter is present, false
	// otherwise (spec.md §6).
	ExplodeTags *bool

	// OutputPath, if set, overrides the derived result path (§4.8).
	OutputPath string

	// KeepWorkDir suppresses deletion of the per-conversion temporary
	// directory on success, for diagnosis.
	KeepWorkDir bool

	// Threads, if > 0, is forwarded to DuckDB's PRAGMA threads.
	Threads int
}

// explodeTags resolves the effective explode-tags flag per spec.md §6.
func (o Options) explodeTags() bool {
	if o.ExplodeTags != nil {
		return *o.ExplodeTags
	}
	return o.effectiveTagsFilter() != nil
}

// effectiveTagsFilter merges GroupedTagsFilter (if set) or returns
// TagsFilter, returning nil if neither is present.
func (o Options) effectiveTagsFilter() *config.TagsFilter {
	if len(o.GroupedTagsFilter) > 0 {
		merged, err := config.MergeTagsFilters(o.GroupedTagsFilter)
		if err != nil {
			return nil
		}
		return &merged
	}
	return o.TagsFilter
}

// Result describes the outcome of a successful conversion.
type Result struct {
	// OutputPath is the path to the written GeoParquet file.
	OutputPath string

	// FeatureCount is the number of rows written.
	FeatureCount int64

	// Empty is true when FeatureCount is zero (ErrEmptyResult was the
	// non-fatal condition for this run).
	Empty bool
}
