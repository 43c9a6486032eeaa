// Package spatialindex prunes candidate rows against a geometry filter's
// bounding box before the engine's exact ST_Intersects predicate runs,
// mirroring the STRtree-based worker pool the reference implementation
// uses ahead of its row-at-a-time spatial join.
package spatialindex

import (
	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// Index is a bulk-loadable bounding-box index over a set of ids with
// point locations.
type Index struct {
	tree *rtree.RTreeG[int64]
}

// Build inserts every (id, lon, lat) triple into a fresh R-tree.
func Build(ids []int64, lons, lats []float64) *Index {
	tr := &rtree.RTreeG[int64]{}
	for i, id := range ids {
		pt := [2]float64{lons[i], lats[i]}
		tr.Insert(pt, pt, id)
	}
	return &Index{tree: tr}
}

// IntersectingIDs returns every id in the index whose point falls within
// the bounding box of filterGeom. This is a cheap bounding-box prune, not
// an exact intersects test — callers must still run the exact predicate
// (e.g. the engine's ST_Intersects) on the returned candidates.
func (idx *Index) IntersectingIDs(filterGeom orb.Geometry) []int64 {
	bound := filterGeom.Bound()
	min := [2]float64{bound.Min[0], bound.Min[1]}
	max := [2]float64{bound.Max[0], bound.Max[1]}

	var out []int64
	idx.tree.Search(min, max, func(_, _ [2]float64, id int64) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Len returns the number of points indexed.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
