package geoio

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// degreesPerMetre is the fixed metre to degree factor used for every buffer.
// It is only a fair approximation near the equator and is kept as is so
// radii stay comparable with previously published runs.
const degreesPerMetre = 0.00001 / 1.11

// MetresToDegrees converts a buffer distance in metres to decimal degrees.
func MetresToDegrees(m float64) float64 {
	return m * degreesPerMetre
}

// ToGEOS converts a go-geom geometry to GEOS through WKB.
func ToGEOS(g geom.T) (*geos.Geom, error) {
	if g == nil {
		return nil, eris.New("geoio: nil geometry")
	}
	if g.Layout() == geom.NoLayout && g.Empty() {
		g = geom.NewMultiPolygon(geom.XY)
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geoio: encode WKB")
	}
	gg, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geoio: parse WKB into GEOS")
	}
	return gg, nil
}

// FromGEOS converts a GEOS geometry back to go-geom. Empty results of any
// type come back as an empty XY MultiPolygon.
func FromGEOS(g *geos.Geom) (geom.T, error) {
	if g == nil {
		return nil, eris.New("geoio: nil GEOS geometry")
	}
	if g.IsEmpty() {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	var out geom.T
	err := guard("to WKB", func() {
		var uerr error
		out, uerr = wkb.Unmarshal(g.ToWKB())
		if uerr != nil {
			panic(uerr)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// guard converts a GEOS panic into an error. go-geos reports topology
// exceptions by panicking.
func guard(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = eris.Wrapf(e, "geoio: %s", op)
				return
			}
			err = eris.Errorf("geoio: %s: %v", op, fmt.Sprint(r))
		}
	}()
	fn()
	return nil
}

// Buffer grows (positive) or shrinks (negative) g by radiusDeg degrees.
func Buffer(g *geos.Geom, radiusDeg float64, quadSegs int) (*geos.Geom, error) {
	var out *geos.Geom
	err := guard("buffer", func() { out = g.Buffer(radiusDeg, quadSegs) })
	return out, err
}

// Clip returns the part of target inside mask.
func Clip(target, mask *geos.Geom) (*geos.Geom, error) {
	var out *geos.Geom
	err := guard("intersection", func() { out = target.Intersection(mask) })
	return out, err
}

// PointOnSurface returns a point guaranteed to lie inside g.
func PointOnSurface(g *geos.Geom) (*geos.Geom, error) {
	var out *geos.Geom
	err := guard("point on surface", func() { out = g.PointOnSurface() })
	return out, err
}

// MakeValid repairs self-intersections left by polygonization and digitizing.
func MakeValid(g *geos.Geom) (*geos.Geom, error) {
	var out *geos.Geom
	err := guard("make valid", func() {
		if g.IsValid() {
			out = g
			return
		}
		out = g.MakeValid()
	})
	return out, err
}

// Union merges geometries into one, repairing invalid inputs first.
// An empty input yields an empty collection.
func Union(gs []geom.T) (*geos.Geom, error) {
	coll := geom.NewGeometryCollection()
	for _, g := range gs {
		if g == nil {
			continue
		}
		if err := coll.Push(g); err != nil {
			return nil, eris.Wrap(err, "geoio: collect geometries")
		}
	}
	if coll.NumGeoms() == 0 {
		return ToGEOS(geom.NewPolygon(geom.XY))
	}
	gg, err := ToGEOS(coll)
	if err != nil {
		return nil, err
	}
	if gg, err = MakeValid(gg); err != nil {
		return nil, err
	}
	var out *geos.Geom
	err = guard("unary union", func() { out = gg.UnaryUnion() })
	return out, err
}

// Dissolve merges features sharing the groupBy attribute into one feature
// each, keeping the attributes of the first member. An empty groupBy merges
// the whole collection.
func Dissolve(fc *FeatureCollection, groupBy string) (*FeatureCollection, error) {
	var keys []string
	groups := map[string][]*Feature{"": nil}
	if groupBy == "" {
		keys = []string{""}
		if fc != nil {
			groups[""] = fc.Features
		}
	} else {
		keys, groups = fc.GroupBy(groupBy)
	}

	out := &FeatureCollection{}
	for i, k := range keys {
		members := groups[k]
		if len(members) == 0 {
			continue
		}
		gs := make([]geom.T, 0, len(members))
		for _, m := range members {
			gs = append(gs, m.Geometry)
		}
		u, err := Union(gs)
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: dissolve group %q", k)
		}
		g, err := FromGEOS(u)
		if err != nil {
			return nil, err
		}
		feat := NewFeature(fmt.Sprint(i), g)
		for pk, pv := range members[0].Properties {
			feat.Properties[pk] = pv
		}
		out.Add(feat)
	}
	return out, nil
}

// ClipCollection clips every feature of fc to mask and drops features that
// fall entirely outside it.
func ClipCollection(fc *FeatureCollection, mask geom.T) (*FeatureCollection, error) {
	m, err := ToGEOS(mask)
	if err != nil {
		return nil, err
	}
	if m, err = MakeValid(m); err != nil {
		return nil, err
	}
	out := &FeatureCollection{}
	for _, f := range fc.Features {
		g, err := ToGEOS(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: clip feature %s", f.ID)
		}
		if g, err = MakeValid(g); err != nil {
			return nil, err
		}
		c, err := Clip(g, m)
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: clip feature %s", f.ID)
		}
		if c.IsEmpty() {
			continue
		}
		cg, err := FromGEOS(c)
		if err != nil {
			return nil, err
		}
		clipped := NewFeature(f.ID, cg)
		for k, v := range f.Properties {
			clipped.Properties[k] = v
		}
		out.Add(clipped)
	}
	return out, nil
}
