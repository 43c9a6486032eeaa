// Package polygonrules decides whether a closed OSM way should be treated
// as a polygon (area) or kept as a linestring, following the same
// all/allowlist/denylist structure the OSM wiki's osm_polygon_features
// table uses.
package polygonrules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

//go:embed default.json
var defaultConfigJSON []byte

var (
	defaultOnce   sync.Once
	defaultConfig *Config
	defaultErr    error
)

// Config holds the three rule buckets. A closed way whose key appears in
// All is always a polygon. A key in Allowlist makes a polygon only when
// its value is in the allowed list; a key in Denylist makes a polygon
// unless its value is in the excluded list, so an empty exclusion list
// means the key's presence alone is enough.
type Config struct {
	All       []string
	Allowlist map[string][]string
	Denylist  map[string][]string
}

type rawConfig struct {
	All       []string            `json:"all"`
	Allowlist map[string][]string `json:"allowlist"`
	Denylist  map[string][]string `json:"denylist"`
}

// Default returns the bundled default ruleset. It is parsed once, on the
// first call, and the same *Config is returned to every caller after that
// (spec.md §9: the only process-wide state in the core is this ruleset,
// treated as an immutable, lazily-parsed value).
func Default() (*Config, error) {
	defaultOnce.Do(func() {
		defaultConfig, defaultErr = ParseJSON(defaultConfigJSON)
	})
	return defaultConfig, defaultErr
}

// ParseJSON parses a ruleset from raw JSON, matching
// parse_dict_to_config_object's shape and validation: all three of
// "all", "allowlist", and "denylist" must be present, with a list of
// keys for "all" and a key -> list-of-values mapping for the other two.
func ParseJSON(data []byte) (*Config, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("polygon features config: invalid JSON: %w", err)
	}
	for _, required := range []string{"all", "allowlist", "denylist"} {
		if _, ok := shape[required]; !ok {
			return nil, fmt.Errorf("polygon features config: missing %q key", required)
		}
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("polygon features config: invalid JSON: %w", err)
	}
	return &Config{All: raw.All, Allowlist: raw.Allowlist, Denylist: raw.Denylist}, nil
}

// IsPolygon classifies a closed way given its tag set. tags must contain
// every key/value pair present on the way.
func (c *Config) IsPolygon(tags map[string]string) bool {
	for _, key := range c.All {
		if _, ok := tags[key]; ok {
			return true
		}
	}
	for key, excluded := range c.Denylist {
		value, ok := tags[key]
		if !ok {
			continue
		}
		if !containsValue(excluded, value) {
			return true
		}
	}
	for key, included := range c.Allowlist {
		value, ok := tags[key]
		if !ok {
			continue
		}
		if containsValue(included, value) {
			return true
		}
	}
	return false
}

func containsValue(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
