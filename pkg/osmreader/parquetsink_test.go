package osmreader

import (
	"os"
	"testing"
)

// parquetMagic is the 4-byte magic string every parquet file starts and
// ends with (PAR1).
const parquetMagic = "PAR1"

func TestParquetSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(dir)
	if err != nil {
		t.Fatalf("NewParquetSink() error = %v", err)
	}

	if err := sink.Node(Element{ID: 1, Lat: 1.2345678, Lon: -2.3456789}); err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if err := sink.Way(Element{ID: 2, Refs: []int64{1, 2, 3}}); err != nil {
		t.Fatalf("Way() error = %v", err)
	}
	if err := sink.Relation(Element{ID: 3, MemberTypes: []Kind{KindWay}, MemberRefs: []int64{2}, MemberRoles: []string{"outer"}}); err != nil {
		t.Fatalf("Relation() error = %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	nodesPath, waysPath, relationsPath := sink.Paths()
	for _, p := range []string{nodesPath, waysPath, relationsPath} {
		assertValidParquetFile(t, p)
	}
}

// TestParquetSinkFlushesAcrossBatches writes more rows than batchSize and
// checks that the sink flushed mid-stream (nodesBuf holding only the
// remainder) rather than buffering every row until Close, the behavior
// this sink exists to avoid on country-scale extracts.
func TestParquetSinkFlushesAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(dir)
	if err != nil {
		t.Fatalf("NewParquetSink() error = %v", err)
	}

	n := batchSize + 5
	for i := 0; i < n; i++ {
		if err := sink.Node(Element{ID: int64(i)}); err != nil {
			t.Fatalf("Node() error = %v", err)
		}
	}
	if len(sink.nodesBuf) != 5 {
		t.Errorf("nodesBuf len = %d after %d writes, want 5 (one batch already flushed)", len(sink.nodesBuf), n)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	nodesPath, _, _ := sink.Paths()
	assertValidParquetFile(t, nodesPath)
}

func assertValidParquetFile(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) < 2*len(parquetMagic) {
		t.Fatalf("%s too small to be a parquet file: %d bytes", path, len(data))
	}
	if string(data[:len(parquetMagic)]) != parquetMagic {
		t.Errorf("%s missing leading PAR1 magic", path)
	}
	if string(data[len(data)-len(parquetMagic):]) != parquetMagic {
		t.Errorf("%s missing trailing PAR1 magic", path)
	}
}
