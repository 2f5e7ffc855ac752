package district

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

// Aggregator sums population per district: all points, rural points, and
// rural points on the district's agricultural land.
type Aggregator struct {
	all         *population.Index
	rural       *population.Index
	concurrency int
}

// NewAggregator returns an Aggregator over the two point indexes.
func NewAggregator(all, rural *population.Index, concurrency int) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{all: all, rural: rural, concurrency: concurrency}
}

// Aggregate computes the three sums for every district. agland maps district
// key to its agricultural land region; a district absent from the map has no
// agricultural land and an agland population of 0. Results are sorted by key
// regardless of completion order.
func (a *Aggregator) Aggregate(ctx context.Context, districts []model.District, agland map[string]geom.T) ([]model.DistrictPopulation, error) {
	log := zap.L().With(zap.String("component", "district.aggregate"))
	out := make([]model.DistrictPopulation, len(districts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, d := range districts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			boundary, err := geoio.RegionFromGeom(d.Boundary)
			if err != nil {
				return eris.Wrapf(err, "district: boundary of %s", d.Key)
			}
			row := model.DistrictPopulation{
				Key:             d.Key,
				Name:            d.Name,
				TotalPopulation: a.all.SumWithin(boundary),
				RuralPopulation: a.rural.SumWithin(boundary),
			}
			if ag, ok := agland[d.Key]; ok && ag != nil {
				region, err := geoio.RegionFromGeom(ag)
				if err != nil {
					return eris.Wrapf(err, "district: agricultural land of %s", d.Key)
				}
				row.AgriculturalPopulation = a.rural.SumWithin(region)
			}
			out[i] = row

			log.Debug("district: population summed",
				zap.String("district", d.Key),
				zap.Float64("total", row.TotalPopulation),
				zap.Float64("rural", row.RuralPopulation),
				zap.Float64("agland", row.AgriculturalPopulation),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// WritePopulation writes the district population table.
func WritePopulation(path string, rows []model.DistrictPopulation) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "district: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadPopulation reads a table written by WritePopulation.
func ReadPopulation(path string) ([]model.DistrictPopulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "district: read %s", path)
	}
	var rows []model.DistrictPopulation
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "district: decode %s", path)
	}
	return rows, nil
}
