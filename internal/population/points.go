// Package population turns the gridded population raster into weighted
// points and answers "how many people live inside this area" queries.
package population

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/raster"
)

// Points converts every populated cell of b into a point at the cell centre.
// Nodata, NaN and non-positive cells are dropped before the count is divided
// by divisor, so no emitted point has a count <= 0.
func Points(b *raster.Band, divisor float64) []model.PopulationPoint {
	if divisor <= 0 {
		divisor = 1
	}
	pts := make([]model.PopulationPoint, 0, len(b.Values)/4)
	for row := 0; row < b.Height; row++ {
		for col := 0; col < b.Width; col++ {
			v := b.At(col, row)
			if b.IsNoData(v) || v <= 0 {
				continue
			}
			x, y := b.PixelCenter(col, row)
			p := model.PopulationPoint{X: x, Y: y, Count: v / divisor}
			if p.Valid() {
				pts = append(pts, p)
			}
		}
	}
	return pts
}

// Sum adds up the counts of pts.
func Sum(pts []model.PopulationPoint) float64 {
	var total float64
	for _, p := range pts {
		total += p.Count
	}
	return total
}

// SplitRural partitions pts into points inside the rural settlement region
// and the rest.
func SplitRural(pts []model.PopulationPoint, rural *geoio.Region) (inside, outside []model.PopulationPoint) {
	for _, p := range pts {
		if rural.Intersects(p.X, p.Y) {
			inside = append(inside, p)
		} else {
			outside = append(outside, p)
		}
	}
	return inside, outside
}

// WritePoints writes pts as an x,y,population CSV.
func WritePoints(path string, pts []model.PopulationPoint) error {
	if pts == nil {
		pts = []model.PopulationPoint{}
	}
	data, err := csvutil.Marshal(pts)
	if err != nil {
		return eris.Wrapf(err, "population: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadPoints reads a CSV written by WritePoints. Rows that violate the
// positive-count invariant are rejected.
func ReadPoints(path string) ([]model.PopulationPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "population: read %s", path)
	}
	var pts []model.PopulationPoint
	if err := csvutil.Unmarshal(data, &pts); err != nil {
		return nil, eris.Wrapf(err, "population: decode %s", path)
	}
	for i, p := range pts {
		if !p.Valid() {
			return nil, model.IntegrityErrorf("population: %s row %d has count %v", path, i+1, p.Count)
		}
	}
	return pts, nil
}

// Distributor produces the population point layers from raster inputs.
type Distributor struct {
	io  raster.IO
	cfg config.PopulationConfig
}

// NewDistributor returns a Distributor reading rasters through rio.
func NewDistributor(rio raster.IO, cfg config.PopulationConfig) *Distributor {
	return &Distributor{io: rio, cfg: cfg}
}

// Resample warps the 1 km population grid onto the target resolution.
func (d *Distributor) Resample(src, dst string) error {
	return d.io.Warp([]string{src}, dst, raster.WarpOptions{
		TargetCRS:  d.cfg.TargetCRS,
		Resolution: d.cfg.TargetResolution,
		Resampling: raster.ResampleNearest,
	})
}

// Sample reads band 1 of path and converts it into population points.
func (d *Distributor) Sample(path string) ([]model.PopulationPoint, error) {
	b, err := d.io.ReadBand(path, 1)
	if err != nil {
		return nil, err
	}
	pts := Points(b, d.cfg.ValueDivisor)
	zap.L().Info("population: sampled raster",
		zap.String("path", path),
		zap.Int("cells", b.Width*b.Height),
		zap.Int("points", len(pts)),
		zap.Float64("population", Sum(pts)),
	)
	return pts, nil
}
