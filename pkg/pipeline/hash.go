package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/azybler/osm2geoparquet/pkg/config"
)

// ResultFilePath derives the deterministic output path for a conversion,
// matching _generate_geoparquet_result_file_path: the PBF file's stem plus
// a hash of the tags filter, a hash of the clipping geometry, an
// exploded/compact marker, and (if present) a hash of the requested id
// set, each joined by underscores.
func ResultFilePath(workDir, pbfPath string, tagsFilter config.TagsFilter, geometryFilter orb.Geometry, explodeTags bool, idFilter []string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(pbfPath), ".osm.pbf")
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))

	tagsPart := "nofilter"
	if len(tagsFilter) > 0 {
		b, err := json.Marshal(tagsFilter)
		if err != nil {
			return "", fmt.Errorf("hash tags filter: %w", err)
		}
		tagsPart = sha256Hex(b)
	}

	geomPart := "noclip"
	if geometryFilter != nil {
		geomPart = sha256Hex([]byte(wkt.MarshalString(geometryFilter)))
	}

	explodedPart := "compact"
	if explodeTags {
		explodedPart = "exploded"
	}

	idsPart := ""
	if len(idFilter) > 0 {
		unique := make(map[string]struct{}, len(idFilter))
		for _, id := range idFilter {
			unique[id] = struct{}{}
		}
		sorted := make([]string, 0, len(unique))
		for id := range unique {
			sorted = append(sorted, id)
		}
		sort.Strings(sorted)
		b, err := json.Marshal(sorted)
		if err != nil {
			return "", fmt.Errorf("hash id filter: %w", err)
		}
		idsPart = "_" + sha256Hex(b)
	}

	name := fmt.Sprintf("%s_%s_%s_%s%s.geoparquet", stem, tagsPart, geomPart, explodedPart, idsPart)
	return filepath.Join(workDir, name), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
