// Package geoparquet builds the GeoParquet `geo` metadata blob and writes
// the final output file atomically.
package geoparquet

import "encoding/json"

// PrimaryGeometryColumn is the name of the geometry column every emitted
// file carries.
const PrimaryGeometryColumn = "geometry"

// SchemaVersion is the GeoParquet metadata schema version this writer
// targets.
const SchemaVersion = "1.1.0"

// CreatorLibrary identifies this tool in the `creator` metadata block.
const CreatorLibrary = "osm2geoparquet"

// CreatorVersion is the tool version recorded in the `creator` metadata
// block.
const CreatorVersion = "0.1.0"

// wgs84CRS84 is the PROJJSON description of OGC:CRS84 (WGS 84,
// longitude-latitude axis order), matching the CRS GeoParquet readers
// expect when no other CRS is given.
var wgs84CRS84 = map[string]any{
	"$schema": "https://proj.org/schemas/v0.5/projjson.schema.json",
	"type":    "GeographicCRS",
	"name":    "WGS 84 longitude-latitude",
	"datum": map[string]any{
		"type": "GeodeticReferenceFrame",
		"name": "World Geodetic System 1984",
		"ellipsoid": map[string]any{
			"name":               "WGS 84",
			"semi_major_axis":    6378137,
			"inverse_flattening": 298.257223563,
		},
	},
	"coordinate_system": map[string]any{
		"subtype": "ellipsoidal",
		"axis": []map[string]any{
			{
				"name":         "Geodetic longitude",
				"abbreviation": "Lon",
				"direction":    "east",
				"unit":         "degree",
			},
			{
				"name":         "Geodetic latitude",
				"abbreviation": "Lat",
				"direction":    "north",
				"unit":         "degree",
			},
		},
	},
	"id": map[string]any{"authority": "OGC", "code": "CRS84"},
}

// BBox is a WGS84 axis-aligned bounding box, [minx, miny, maxx, maxy].
type BBox [4]float64

// Encoding is the geometry column's binary encoding.
type Encoding string

// WKB is the only encoding this pipeline emits.
const WKB Encoding = "WKB"

type geometryColumn struct {
	Encoding      Encoding `json:"encoding"`
	CRS           any      `json:"crs"`
	GeometryTypes []string `json:"geometry_types"`
	BBox          []float64 `json:"bbox"`
}

type geoMetadata struct {
	Version       string                    `json:"version"`
	PrimaryColumn string                    `json:"primary_column"`
	Columns       map[string]geometryColumn `json:"columns"`
	Creator       creator                   `json:"creator"`
}

type creator struct {
	Library string `json:"library"`
	Version string `json:"version"`
}

// Metadata builds the `geo` key JSON payload for a GeoParquet file
// containing the given geometry types and bounding box, matching
// get_geoparquet_metadata.
func Metadata(geometryTypes []string, bbox BBox) (string, error) {
	meta := geoMetadata{
		Version:       SchemaVersion,
		PrimaryColumn: PrimaryGeometryColumn,
		Columns: map[string]geometryColumn{
			PrimaryGeometryColumn: {
				Encoding:      WKB,
				CRS:           wgs84CRS84,
				GeometryTypes: geometryTypes,
				BBox:          bbox[:],
			},
		},
		Creator: creator{Library: CreatorLibrary, Version: CreatorVersion},
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
