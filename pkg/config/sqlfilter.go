package config

import (
	"fmt"
	"sort"
	"strings"
)

// tagsToIgnore lists tag keys commonly dropped by OGR-style OSM readers
// because they add noise without carrying feature semantics.
var tagsToIgnore = []string{
	"area",
	"created_by",
	"converted_by",
	"source",
	"time",
	"ele",
	"note",
	"todo",
	"fixme",
	"FIXME",
}

const ignoredPrefix = "openGeoDB:"

// TagsSQLFilter renders the merged filter as a boolean SQL expression over
// a `tags` MAP(VARCHAR, VARCHAR) column, matching
// _generate_osm_tags_sql_filter. An empty filter matches everything.
func TagsSQLFilter(filter TagsFilter) string {
	if len(filter) == 0 {
		return "(1=1)"
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	for _, key := range keys {
		value := filter[key]
		escapedKey := escapeSQL(key)
		switch {
		case value.Bool != nil && *value.Bool:
			clauses = append(clauses, fmt.Sprintf("(list_contains(map_keys(tags), '%s'))", escapedKey))
		case value.Bool != nil && !*value.Bool:
			// an explicit false contributes no positive clause; merging
			// already rejected any key that is false alongside a positive
			// value, so a lone false key means "never match".
			clauses = append(clauses, "(1=0)")
		case value.isStr:
			clauses = append(clauses, fmt.Sprintf(
				"list_extract(map_extract(tags, '%s'), 1) = '%s'", escapedKey, escapeSQL(value.Str)))
		case len(value.List) > 0:
			quoted := make([]string, len(value.List))
			for i, v := range value.List {
				quoted[i] = "'" + escapeSQL(v) + "'"
			}
			clauses = append(clauses, fmt.Sprintf(
				"list_extract(map_extract(tags, '%s'), 1) IN (%s)", escapedKey, strings.Join(quoted, ", ")))
		}
	}

	if len(clauses) == 0 {
		return "(1=1)"
	}
	return strings.Join(clauses, " OR ")
}

func escapeSQL(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// FilteredTagsClause renders the `tags` projection expression that strips
// keys commonly ignored by OGR-style readers, matching
// _generate_filtered_tags_clause. It reads from a source column literally
// named "tags".
func FilteredTagsClause() string {
	return FilteredTagsClauseFrom("tags")
}

// FilteredTagsClauseFrom is FilteredTagsClause parameterized on the
// source column name, for callers (like the way prefilter step) that
// keep the pre-normalization map under a different name (raw_tags) so
// both can be projected side by side.
func FilteredTagsClauseFrom(sourceColumn string) string {
	quoted := make([]string, len(tagsToIgnore))
	for i, tag := range tagsToIgnore {
		quoted[i] = "'" + tag + "'"
	}
	return fmt.Sprintf(`
		map_from_entries(
			list_filter(
				map_entries(%s),
				tag_entry -> NOT list_contains([%s], tag_entry.key)
					AND NOT starts_with(tag_entry.key, '%s')
			)
		) AS tags`, sourceColumn, strings.Join(quoted, ", "), ignoredPrefix)
}

// ElementIDsSQLFilter renders an `id` predicate restricting rows to those
// named in filterIDs for the given element kind ("node", "way",
// "relation"), matching _generate_elements_filter. IDs are expected in
// "<kind>/<id>" form; an empty filterIDs matches everything, and a
// non-empty filterIDs containing no id of this kind matches nothing.
func ElementIDsSQLFilter(filterIDs []string, kind string) string {
	if len(filterIDs) == 0 {
		return "1=1"
	}

	prefix := kind + "/"
	var ids []string
	for _, osmID := range filterIDs {
		if rest, ok := strings.CutPrefix(osmID, prefix); ok && isDecimal(rest) {
			ids = append(ids, rest)
		}
	}
	if len(ids) == 0 {
		return "id IS NULL"
	}
	return fmt.Sprintf("id IN (%s)", strings.Join(ids, ","))
}

// isDecimal reports whether s is a non-empty run of ASCII digits, the
// only id form "<kind>/<int>" admits. Anything else is silently skipped
// rather than spliced into the SQL id list.
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
