package geoio

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/model"
)

// ReadShapefile reads every record of a shapefile into a FeatureCollection.
// Numeric DBF columns (N, F) are parsed to float64; everything else is kept
// as a trimmed string. Records without a usable shape are skipped.
func ReadShapefile(path string) (*FeatureCollection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, model.IOErrorf(err, "geoio: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	fc := &FeatureCollection{}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		feat := NewFeature(strconv.Itoa(n), g)
		for i, name := range names {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			feat.Properties[name] = attributeValue(fields[i].Fieldtype, raw)
		}
		fc.Add(feat)
	}

	if skipped > 0 {
		zap.L().Debug("geoio: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if fc.Len() == 0 && skipped > 0 {
		return nil, eris.Errorf("geoio: shapefile %s has no readable shapes", path)
	}
	return fc, nil
}

func attributeValue(fieldType byte, raw string) any {
	if raw == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return raw
	default:
		return raw
	}
}

// shapeToGeom converts a go-shp shape to a go-geom geometry in EPSG:4326.
// Returns nil for nil or unsupported shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	if shape == nil {
		return nil
	}
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(4326)
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon(s)
	default:
		return nil
	}
}

// partRings slices a multi-part shape's points into flat coordinate rings.
func partRings(parts []int32, points []shp.Point) [][]float64 {
	rings := make([][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		rings = append(rings, flat)
	}
	return rings
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}
	mls := geom.NewMultiLineString(geom.XY).SetSRID(4326)
	for i, flat := range partRings(pl.Parts, pl.Points) {
		if len(flat) < 4 {
			zap.L().Debug("geoio: skipping degenerate linestring part", zap.Int("part", i))
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geoio: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon converts a shapefile polygon to a MultiPolygon. The
// format stores outer rings clockwise and holes counter-clockwise; each hole
// is attached to the first shell that contains its first vertex. A hole with
// no enclosing shell is promoted to a shell.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var shells, holes [][]float64
	for _, ring := range partRings(p.Parts, p.Points) {
		if len(ring) < 8 {
			continue
		}
		if xy.IsRingCounterClockwise(geom.XY, ring) {
			holes = append(holes, ring)
		} else {
			shells = append(shells, ring)
		}
	}
	if len(shells) == 0 {
		shells, holes = holes, nil
	}

	owned := make([][][]float64, len(shells))
	for _, hole := range holes {
		pt := geom.Coord{hole[0], hole[1]}
		placed := false
		for i, shell := range shells {
			if xy.IsPointInRing(geom.XY, pt, shell) {
				owned[i] = append(owned[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			shells = append(shells, hole)
			owned = append(owned, nil)
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i, shell := range shells {
		flat := append([]float64(nil), shell...)
		ends := []int{len(flat)}
		for _, hole := range owned[i] {
			flat = append(flat, hole...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			zap.L().Debug("geoio: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
