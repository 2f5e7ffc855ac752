package population

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/raster"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10})
}

func TestPointsDropsNonPositive(t *testing.T) {
	b := &raster.Band{
		Width:        3,
		Height:       2,
		Values:       []float64{100, 0, -5, math.NaN(), -99, 250},
		GeoTransform: [6]float64{0, 1, 0, 2, 0, -1},
		NoData:       -99,
		HasNoData:    true,
	}

	pts := Points(b, 100)
	require.Len(t, pts, 2)
	for _, p := range pts {
		assert.Greater(t, p.Count, 0.0)
	}
	assert.Equal(t, model.PopulationPoint{X: 0.5, Y: 1.5, Count: 1}, pts[0])
	assert.Equal(t, model.PopulationPoint{X: 2.5, Y: 0.5, Count: 2.5}, pts[1])
	assert.InDelta(t, 3.5, Sum(pts), 1e-12)
}

func TestPointsTinyValuesSurvive(t *testing.T) {
	b := &raster.Band{
		Width:        1,
		Height:       1,
		Values:       []float64{0.001},
		GeoTransform: [6]float64{0, 1, 0, 1, 0, -1},
	}
	pts := Points(b, 100)
	require.Len(t, pts, 1)
	assert.Greater(t, pts[0].Count, 0.0)
}

func TestPointsCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pop_points.csv")
	in := []model.PopulationPoint{{X: 80.1, Y: 7.2, Count: 1.25}, {X: 80.2, Y: 7.3, Count: 3}}

	require.NoError(t, WritePoints(path, in))
	out, err := ReadPoints(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadPointsRejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,y,population\n1,2,0\n"), 0o644))

	_, err := ReadPoints(path)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDataIntegrity))
}

func TestReadPointsMissingFile(t *testing.T) {
	_, err := ReadPoints(filepath.Join(t.TempDir(), "none.csv"))
	assert.True(t, eris.Is(err, model.ErrIO))
}

func grid() []model.PopulationPoint {
	var pts []model.PopulationPoint
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			pts = append(pts, model.PopulationPoint{X: float64(x) + 0.5, Y: float64(y) + 0.5, Count: 1})
		}
	}
	return pts
}

func TestIndexSumWithin(t *testing.T) {
	ix := NewIndex(grid())
	assert.Equal(t, 100, ix.Len())
	assert.InDelta(t, 100.0, ix.Total(), 1e-12)

	r, err := geoio.RegionFromGeom(square(0, 0, 3))
	require.NoError(t, err)
	assert.InDelta(t, 9.0, ix.SumWithin(r), 1e-12)

	outside, err := geoio.RegionFromGeom(square(50, 50, 3))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ix.SumWithin(outside))

	empty, err := geoio.RegionFromGeom(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ix.SumWithin(empty))
}

func TestIndexMonotonicUnderRestriction(t *testing.T) {
	ix := NewIndex(grid())
	prev := -1.0
	for size := 1.0; size <= 10; size++ {
		r, err := geoio.RegionFromGeom(square(0, 0, size))
		require.NoError(t, err)
		got := ix.SumWithin(r)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.InDelta(t, ix.Total(), prev, 1e-12)
}

func TestIndexEmpty(t *testing.T) {
	ix := NewIndex(nil)
	r, err := geoio.RegionFromGeom(square(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ix.SumWithin(r))
	assert.Equal(t, 0.0, ix.Total())
}

func TestSplitRural(t *testing.T) {
	r, err := geoio.RegionFromGeom(square(0, 0, 5))
	require.NoError(t, err)

	rural, urban := SplitRural(grid(), r)
	assert.Len(t, rural, 25)
	assert.Len(t, urban, 75)
	assert.InDelta(t, 100.0, Sum(rural)+Sum(urban), 1e-12)
}

type mockRasterIO struct {
	mock.Mock
}

func (m *mockRasterIO) ReadBand(path string, band int) (*raster.Band, error) {
	args := m.Called(path, band)
	b, _ := args.Get(0).(*raster.Band)
	return b, args.Error(1)
}

func (m *mockRasterIO) Warp(srcs []string, dst string, opts raster.WarpOptions) error {
	return m.Called(srcs, dst, opts).Error(0)
}

func (m *mockRasterIO) Polygonize(path string, classes []int, dissolve bool) (*geoio.FeatureCollection, error) {
	args := m.Called(path, classes, dissolve)
	fc, _ := args.Get(0).(*geoio.FeatureCollection)
	return fc, args.Error(1)
}

func TestDistributor(t *testing.T) {
	rio := new(mockRasterIO)
	cfg := config.PopulationConfig{TargetResolution: 0.001, ValueDivisor: 100, TargetCRS: "EPSG:4326"}
	d := NewDistributor(rio, cfg)

	rio.On("Warp", []string{"pop.tif"}, "pop100.tif", raster.WarpOptions{
		TargetCRS:  "EPSG:4326",
		Resolution: 0.001,
		Resampling: raster.ResampleNearest,
	}).Return(nil)
	rio.On("ReadBand", "pop100.tif", 1).Return(&raster.Band{
		Width:        2,
		Height:       1,
		Values:       []float64{200, 0},
		GeoTransform: [6]float64{0, 1, 0, 1, 0, -1},
	}, nil)

	require.NoError(t, d.Resample("pop.tif", "pop100.tif"))
	pts, err := d.Sample("pop100.tif")
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, 2.0, pts[0].Count)
	rio.AssertExpectations(t)
}
