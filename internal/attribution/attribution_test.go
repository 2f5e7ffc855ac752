package attribution

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/population"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10})
}

func TestMergeBuffers(t *testing.T) {
	merged, err := MergeBuffers([]geom.T{square(0, 0, 2), square(1, 0, 2), square(10, 10, 1)})
	require.NoError(t, err)
	g, err := geoio.ToGEOS(merged)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, g.Area(), 1e-9, "overlap counted once")
}

func TestADPPoints(t *testing.T) {
	rural := []model.PopulationPoint{
		{X: 0.5, Y: 0.5, Count: 3},
		{X: 5, Y: 5, Count: 7},
		{X: 1.5, Y: 0.5, Count: 2},
	}
	got, err := ADPPoints(rural, square(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []model.PopulationPoint{{X: 0.5, Y: 0.5, Count: 3}, {X: 1.5, Y: 0.5, Count: 2}}, got)
}

func TestBufferTanksUsesMetreConversion(t *testing.T) {
	tanks := []model.Tank{{ID: "T1", ZoneCode: "LK1101", Geometry: square(0, 0, 0.001)}}
	got, err := BufferTanks(tanks, 1000, 8)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T1", got[0].ID)
	assert.Equal(t, "LK1101", got[0].ZoneCode)

	b := got[0].Geometry.Bounds()
	r := geoio.MetresToDegrees(1000)
	assert.InDelta(t, -r, b.Min(0), 1e-9)
	assert.InDelta(t, 0.001+r, b.Max(1), 1e-9)
}

func TestServeCountsOverlaps(t *testing.T) {
	adp := population.NewIndex([]model.PopulationPoint{
		{X: 1.5, Y: 0.5, Count: 10}, // shared by both tanks
		{X: 0.5, Y: 0.5, Count: 1},
		{X: 2.5, Y: 0.5, Count: 4},
	})
	buffers := []TankBuffer{
		{ID: "T2", ZoneCode: "Z1", Geometry: square(1, 0, 2)},
		{ID: "T1", ZoneCode: "Z1", Geometry: square(0, 0, 2)},
		{ID: "T3", ZoneCode: "Z2", Geometry: square(50, 50, 1)},
	}
	for _, conc := range []int{1, 3} {
		got, err := Serve(context.Background(), buffers, adp, conc)
		require.NoError(t, err)
		assert.Equal(t, []model.TankPopulation{
			{ID: "T1", ZoneCode: "Z1", PopCount: 11},
			{ID: "T2", ZoneCode: "Z1", PopCount: 14},
			{ID: "T3", ZoneCode: "Z2", PopCount: 0},
		}, got)
	}
}

func TestFeatures(t *testing.T) {
	fc := Features([]TankBuffer{{ID: "T1", ZoneCode: "Z1", Geometry: square(0, 0, 1)}}, "Map_id", "ADM3_PCODE")
	require.Equal(t, 1, fc.Len())
	id, ok := fc.Features[0].String("Map_id")
	require.True(t, ok)
	assert.Equal(t, "T1", id)
}

func TestTankPopulationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank_population.csv")
	rows := []model.TankPopulation{{ID: "T1", ZoneCode: "Z1", PopCount: 12.5}}
	require.NoError(t, WriteTankPopulation(path, rows))
	got, err := ReadTankPopulation(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	_, err = ReadTankPopulation(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, eris.Is(err, model.ErrIO))
}
