package spatialindex

import (
	"sort"
	"testing"

	"github.com/paulmach/orb"
)

func TestIntersectingIDs(t *testing.T) {
	ids := []int64{1, 2, 3}
	lons := []float64{0.0, 5.0, 10.0}
	lats := []float64{0.0, 5.0, 10.0}

	idx := Build(ids, lons, lats)
	if got, want := idx.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	filter := orb.Polygon{orb.Ring{
		{-1, -1}, {6, -1}, {6, 6}, {-1, 6}, {-1, -1},
	}}

	got := idx.IntersectingIDs(filter)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	want := []int64{1, 2}
	if len(got) != len(want) {
		t.Fatalf("IntersectingIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IntersectingIDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
