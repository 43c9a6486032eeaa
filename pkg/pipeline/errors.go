package pipeline

import "errors"

// Sentinel errors identifying the conversion failure taxonomy. Wrap these
// with fmt.Errorf("...: %w", ErrX) so callers can still errors.Is against
// them after context is added.
var (
	// ErrInputNotReadable means the PBF file could not be opened or
	// scanned at all.
	ErrInputNotReadable = errors.New("input pbf file not readable")

	// ErrFilterShapeInvalid means a tags filter failed merge/validation,
	// e.g. a key marked both included and excluded.
	ErrFilterShapeInvalid = errors.New("tags filter shape invalid")

	// ErrPolygonFeaturesConfigInvalid means the bundled default polygon
	// ruleset failed to load when no ruleset was supplied.
	ErrPolygonFeaturesConfigInvalid = errors.New("polygon features config invalid")

	// ErrGeometryAssemblyFailure means one feature's geometry could not
	// be assembled (e.g. an unclosed ring); the pipeline drops that
	// feature and continues rather than aborting the whole run.
	ErrGeometryAssemblyFailure = errors.New("geometry assembly failure")

	// ErrIntermediateIOError means a staging parquet file could not be
	// written or read back.
	ErrIntermediateIOError = errors.New("intermediate io error")

	// ErrEmptyResult means every stage ran successfully but no feature
	// survived filtering; the pipeline still writes a valid, empty
	// GeoParquet file and reports this as a non-fatal condition.
	ErrEmptyResult = errors.New("empty result")
)
