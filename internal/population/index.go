package population

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

type indexed struct {
	model.PopulationPoint
}

func (p indexed) Point() orb.Point { return orb.Point{p.X, p.Y} }

// Index is a read-only quadtree over population points.
type Index struct {
	tree  *quadtree.Quadtree
	total float64
	size  int
}

// NewIndex builds an index over pts. Invalid points are skipped.
func NewIndex(pts []model.PopulationPoint) *Index {
	var bound orb.Bound
	first := true
	for _, p := range pts {
		if !p.Valid() {
			continue
		}
		pt := orb.Point{p.X, p.Y}
		if first {
			bound = orb.Bound{Min: pt, Max: pt}
			first = false
			continue
		}
		bound = bound.Extend(pt)
	}

	ix := &Index{tree: quadtree.New(bound.Pad(1e-9))}
	for _, p := range pts {
		if !p.Valid() {
			continue
		}
		// Every point is inside the padded bound, so Add cannot fail.
		_ = ix.tree.Add(indexed{p})
		ix.total += p.Count
		ix.size++
	}
	return ix
}

// Total is the population of every indexed point.
func (ix *Index) Total() float64 { return ix.total }

// Len is the number of indexed points.
func (ix *Index) Len() int { return ix.size }

// Within returns the points that intersect region.
func (ix *Index) Within(region *geoio.Region) []model.PopulationPoint {
	if ix.size == 0 || region.Empty() {
		return nil
	}
	var out []model.PopulationPoint
	for _, p := range ix.tree.InBound(nil, region.Bound()) {
		ip := p.(indexed)
		if region.Intersects(ip.X, ip.Y) {
			out = append(out, ip.PopulationPoint)
		}
	}
	return out
}

// SumWithin is the population of the points intersecting region.
func (ix *Index) SumWithin(region *geoio.Region) float64 {
	return Sum(ix.Within(region))
}
