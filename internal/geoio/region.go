package geoio

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
)

// Region is an area geometry prepared for repeated point tests.
type Region struct {
	geom  *geos.Geom
	prep  *geos.PrepGeom
	bound orb.Bound
	empty bool
}

// NewRegion prepares g for point-in-area queries.
func NewRegion(g *geos.Geom) (*Region, error) {
	r := &Region{geom: g}
	if g == nil || g.IsEmpty() {
		r.empty = true
		return r, nil
	}
	gt, err := FromGEOS(g)
	if err != nil {
		return nil, err
	}
	b := gt.Bounds()
	r.bound = orb.Bound{
		Min: orb.Point{b.Min(0), b.Min(1)},
		Max: orb.Point{b.Max(0), b.Max(1)},
	}
	if err := guard("prepare", func() { r.prep = g.Prepare() }); err != nil {
		return nil, err
	}
	return r, nil
}

// RegionFromGeom builds a Region from a go-geom geometry.
func RegionFromGeom(g geom.T) (*Region, error) {
	if g == nil {
		return &Region{empty: true}, nil
	}
	gg, err := ToGEOS(g)
	if err != nil {
		return nil, err
	}
	if gg, err = MakeValid(gg); err != nil {
		return nil, err
	}
	return NewRegion(gg)
}

// Empty reports whether the region covers no area.
func (r *Region) Empty() bool { return r == nil || r.empty }

// Bound is the region's bounding box. Meaningless when Empty.
func (r *Region) Bound() orb.Bound { return r.bound }

// Geom returns the underlying GEOS geometry, nil when the region was built
// from a nil geometry.
func (r *Region) Geom() *geos.Geom { return r.geom }

// Intersects reports whether the point (x, y) lies in the region or on its
// boundary.
func (r *Region) Intersects(x, y float64) bool {
	if r.Empty() || !r.bound.Contains(orb.Point{x, y}) {
		return false
	}
	return r.prep.Intersects(geos.NewPoint([]float64{x, y}))
}

// Geometry converts the region back to go-geom for artifact output.
func (r *Region) Geometry() (geom.T, error) {
	if r.Empty() || r.geom == nil {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	return FromGEOS(r.geom)
}
