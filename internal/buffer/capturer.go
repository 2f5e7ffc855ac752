package buffer

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/population"
)

type area struct {
	agland   *geos.Geom
	boundary *geos.Geom
}

// GeosCapturer captures rural population with GEOS buffers. Register every
// district with Add before the first Capture; after that it is safe for
// concurrent use.
type GeosCapturer struct {
	rural    *population.Index
	quadSegs int
	areas    map[string]area
}

// NewGeosCapturer returns a capturer summing points of the rural index.
func NewGeosCapturer(rural *population.Index, quadSegs int) *GeosCapturer {
	if quadSegs < 1 {
		quadSegs = 8
	}
	return &GeosCapturer{rural: rural, quadSegs: quadSegs, areas: make(map[string]area)}
}

// Add registers a district's agricultural land region and boundary. A nil
// agland geometry is treated as an empty region.
func (c *GeosCapturer) Add(key string, agland, boundary geom.T) error {
	if agland == nil {
		agland = geom.NewMultiPolygon(geom.XY)
	}
	ag, err := geoio.ToGEOS(agland)
	if err != nil {
		return eris.Wrapf(err, "buffer: agricultural land of %s", key)
	}
	b, err := geoio.ToGEOS(boundary)
	if err != nil {
		return eris.Wrapf(err, "buffer: boundary of %s", key)
	}
	if b, err = geoio.MakeValid(b); err != nil {
		return eris.Wrapf(err, "buffer: boundary of %s", key)
	}
	c.areas[key] = area{agland: ag, boundary: b}
	return nil
}

// Region returns the buffered, clipped region for key at radiusM without
// summing population. Radius 0 yields the agricultural land clipped to the
// boundary.
func (c *GeosCapturer) Region(key string, radiusM int) (*geos.Geom, error) {
	a, ok := c.areas[key]
	if !ok {
		return nil, model.IntegrityErrorf("buffer: no agricultural land registered for %s", key)
	}
	buf, err := geoio.Buffer(a.agland, geoio.MetresToDegrees(float64(radiusM)), c.quadSegs)
	if err != nil {
		return nil, err
	}
	return geoio.Clip(buf, a.boundary)
}

// Capture implements Capturer.
func (c *GeosCapturer) Capture(ctx context.Context, key string, radiusM int) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	clipped, err := c.Region(key, radiusM)
	if err != nil {
		return Capture{}, err
	}
	region, err := geoio.NewRegion(clipped)
	if err != nil {
		return Capture{}, err
	}
	g, err := geoio.FromGEOS(clipped)
	if err != nil {
		return Capture{}, err
	}
	return Capture{
		Population: c.rural.SumWithin(region),
		Empty:      region.Empty(),
		Geometry:   g,
	}, nil
}
