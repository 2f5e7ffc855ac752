// Package attribution derives the agricultural-dependent population from the
// accepted district buffers and attributes it to the tanks that serve it.
package attribution

import (
	"context"
	"os"
	"sort"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/population"
)

// MergeBuffers unions the accepted per-district buffers into one region.
func MergeBuffers(buffers []geom.T) (geom.T, error) {
	u, err := geoio.Union(buffers)
	if err != nil {
		return nil, eris.Wrap(err, "attribution: merge buffers")
	}
	return geoio.FromGEOS(u)
}

// ADPPoints keeps the rural points inside the merged buffer region: the
// agricultural-dependent population.
func ADPPoints(rural []model.PopulationPoint, merged geom.T) ([]model.PopulationPoint, error) {
	region, err := geoio.RegionFromGeom(merged)
	if err != nil {
		return nil, eris.Wrap(err, "attribution: prepare merged buffers")
	}
	inside, _ := population.SplitRural(rural, region)
	zap.L().Info("attribution: agricultural-dependent population",
		zap.Int("points", len(inside)),
		zap.Float64("population", population.Sum(inside)),
	)
	return inside, nil
}

// TankBuffer is the catchment drawn around one tank.
type TankBuffer struct {
	ID       string
	ZoneCode string
	Geometry geom.T
}

// BufferTanks draws a radiusM buffer around every tank.
func BufferTanks(tanks []model.Tank, radiusM, quadSegs int) ([]TankBuffer, error) {
	deg := geoio.MetresToDegrees(float64(radiusM))
	out := make([]TankBuffer, 0, len(tanks))
	for _, t := range tanks {
		g, err := geoio.ToGEOS(t.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "attribution: tank %s", t.ID)
		}
		if g, err = geoio.MakeValid(g); err != nil {
			return nil, eris.Wrapf(err, "attribution: tank %s", t.ID)
		}
		b, err := geoio.Buffer(g, deg, quadSegs)
		if err != nil {
			return nil, eris.Wrapf(err, "attribution: buffer tank %s", t.ID)
		}
		bg, err := geoio.FromGEOS(b)
		if err != nil {
			return nil, err
		}
		out = append(out, TankBuffer{ID: t.ID, ZoneCode: t.ZoneCode, Geometry: bg})
	}
	return out, nil
}

// Features converts tank buffers to a layer for the tank buffer artifact.
func Features(buffers []TankBuffer, idField, zoneField string) *geoio.FeatureCollection {
	fc := &geoio.FeatureCollection{}
	for _, b := range buffers {
		f := geoio.NewFeature(b.ID, b.Geometry)
		f.Properties[idField] = b.ID
		f.Properties[zoneField] = b.ZoneCode
		fc.Add(f)
	}
	return fc
}

// Serve sums the agricultural-dependent population inside each tank buffer.
// A point inside several overlapping buffers counts towards each of them.
// Results are sorted by tank id.
func Serve(ctx context.Context, buffers []TankBuffer, adp *population.Index, concurrency int) ([]model.TankPopulation, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]model.TankPopulation, len(buffers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, b := range buffers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			region, err := geoio.RegionFromGeom(b.Geometry)
			if err != nil {
				return eris.Wrapf(err, "attribution: tank %s", b.ID)
			}
			out[i] = model.TankPopulation{ID: b.ID, ZoneCode: b.ZoneCode, PopCount: adp.SumWithin(region)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WriteTankPopulation writes the served population table.
func WriteTankPopulation(path string, rows []model.TankPopulation) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "attribution: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadTankPopulation reads a table written by WriteTankPopulation.
func ReadTankPopulation(path string) ([]model.TankPopulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "attribution: read %s", path)
	}
	var rows []model.TankPopulation
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "attribution: decode %s", path)
	}
	return rows, nil
}
