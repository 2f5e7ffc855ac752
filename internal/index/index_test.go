package index

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10})
}

func indexConfig() config.IndexConfig {
	return config.IndexConfig{
		TankBufferM:    1000,
		UnknownAquifer: config.UnknownAquiferFail,
		AquiferYields:  config.DefaultAquiferYields(),
	}
}

func fields() config.FieldsConfig {
	return config.FieldsConfig{
		ZoneCode:   "ADM3_PCODE",
		TankID:     "Map_id",
		Silt:       "silt_p",
		Soil:       "max_soil_d",
		Functional: "functional",
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("x", []float64{2, 8, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 1, 0, 0.5}, got)

	got, err = Normalize("x", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
	}{
		{"all zero", []float64{0, 0}},
		{"negative max", []float64{-1, -2}},
		{"negative value", []float64{-1, 2}},
		{"nan", []float64{1, math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize("x", tt.vals)
			require.Error(t, err)
			assert.True(t, eris.Is(err, model.ErrDataIntegrity))
		})
	}
}

func TestFuncScore(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{"Abandoned", 0},
		{"Damaged", 1},
		{"Functioning", 2},
	}
	for _, tt := range tests {
		got, err := FuncScore(tt.status)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "functioning", "Unknown"} {
		_, err := FuncScore(bad)
		require.Error(t, err, bad)
		var ce *model.CategoryError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "functional", ce.Field)
	}
}

func TestPumpYieldDeepConfined(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)

	y, r, err := c.PumpYield("Deep confined aquifer")
	require.NoError(t, err)
	assert.Equal(t, 585, y)
	assert.Equal(t, 6, r)
	assert.InDelta(t, 6.0/7.0, c.NormGeoRank(r), 1e-12)
	assert.InDelta(t, 0.857, c.NormGeoRank(r), 1e-3)
}

func TestPumpYieldRanks(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)

	want := map[string]int{
		"Shallow alluvial aquifer":      7,
		"Deep confined aquifer":         6,
		"Shallow karstic acquifer":      5,
		"Shallow sandy aquifer":         4,
		"Basement regolith aquifer":     3,
		"Regolith or fractured aquifer": 2,
		"Laterite (cabook) aquifer":     1,
	}
	for name, rank := range want {
		_, r, err := c.PumpYield(name)
		require.NoError(t, err, name)
		assert.Equal(t, rank, r, name)
	}
	assert.Equal(t, 1.0, c.NormGeoRank(7))

	_, r, err := c.PumpYield("  shallow   ALLUVIAL aquifer ")
	require.NoError(t, err)
	assert.Equal(t, 7, r)

	_, _, err = c.PumpYield("Volcanic aquifer")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnrecognizedCategory))
}

func sampleInputs() Inputs {
	return Inputs{
		Tanks: []model.Tank{
			{ID: "T1", ZoneCode: "Z1", SiltDepth: 2, SoilDepth: 1, Functional: "Functioning"},
			{ID: "T2", ZoneCode: "Z1", SiltDepth: 4, SoilDepth: 3, Functional: "Damaged"},
			{ID: "T3", ZoneCode: "", SiltDepth: 1, SoilDepth: 4, Functional: "Abandoned"},
		},
		Served: []model.TankPopulation{
			{ID: "T1", ZoneCode: "Z1", PopCount: 50},
			{ID: "T3", ZoneCode: "Z2", PopCount: 100},
		},
		Covariance: map[string]float64{"T1": 10, "T3": 20},
		Aquifers: map[string]string{
			"T1": "Deep confined aquifer",
			"T2": "Shallow alluvial aquifer",
			"T3": "Laterite (cabook) aquifer",
		},
	}
}

func TestCompose(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)

	got, err := c.Compose(sampleInputs())
	require.NoError(t, err)
	require.Len(t, got, 3)

	t1, t2, t3 := got[0], got[1], got[2]
	assert.Equal(t, "T1", t1.ID)
	assert.InDelta(t, 0.5, t1.SiltScore, 1e-12)
	assert.InDelta(t, 0.25, t1.SoilScore, 1e-12)
	assert.Equal(t, 2, t1.FuncScore)
	assert.InDelta(t, 0.5, t1.NormADP, 1e-12)
	require.NotNil(t, t1.DemandIndex)
	assert.InDelta(t, 0.25, *t1.DemandIndex, 1e-12)
	require.NotNil(t, t1.GeoRank)
	assert.Equal(t, 6, *t1.GeoRank)

	// T2 has no served row and no covariance.
	assert.Zero(t, t2.PopCount)
	assert.Nil(t, t2.NormCov)
	assert.Nil(t, t2.DemandIndex)
	assert.InDelta(t, 1.0, t2.SupplyIndex, 1e-12, "largest supply score")

	// T3 takes its zone from the served population row.
	assert.Equal(t, "Z2", t3.ZoneCode)
	assert.InDelta(t, 1.0, *t3.DemandIndex, 1e-12)
}

func TestComposeNormalizationBound(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)
	got, err := c.Compose(sampleInputs())
	require.NoError(t, err)

	check := func(name string, vals []float64) {
		hasOne := false
		for _, v := range vals {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
			if v == 1.0 {
				hasOne = true
			}
		}
		assert.True(t, hasOne, "%s: max record maps to 1", name)
	}
	var silt, soil, supply, adp, cov, geo []float64
	for _, s := range got {
		silt = append(silt, s.SiltScore)
		soil = append(soil, s.SoilScore)
		supply = append(supply, s.SupplyIndex)
		adp = append(adp, s.NormADP)
		if s.NormCov != nil {
			cov = append(cov, *s.NormCov)
		}
		if s.NormGeoRank != nil {
			geo = append(geo, *s.NormGeoRank)
		}
	}
	check("silt_score", silt)
	check("soil_score", soil)
	check("tank_supply_index", supply)
	check("norm_adp", adp)
	check("norm_cov", cov)
	check("n_geo_rank", geo)
}

func TestComposeUnknownCategories(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)

	in := sampleInputs()
	in.Tanks[0].Functional = "Ruined"
	_, err = c.Compose(in)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnrecognizedCategory))

	in = sampleInputs()
	in.Aquifers["T2"] = "Volcanic aquifer"
	_, err = c.Compose(in)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnrecognizedCategory))
}

func TestComposeExcludesUnknownAquifer(t *testing.T) {
	cfg := indexConfig()
	cfg.UnknownAquifer = config.UnknownAquiferExclude
	c, err := NewComposer(cfg)
	require.NoError(t, err)

	in := sampleInputs()
	in.Aquifers["T2"] = "Volcanic aquifer"
	got, err := c.Compose(in)
	require.NoError(t, err)
	assert.Equal(t, "Volcanic aquifer", got[1].AquiferType)
	assert.Nil(t, got[1].NormGeoRank)
	assert.NotNil(t, got[0].NormGeoRank)
}

func TestComposeNoServedPopulation(t *testing.T) {
	c, err := NewComposer(indexConfig())
	require.NoError(t, err)
	in := sampleInputs()
	in.Served = nil
	_, err = c.Compose(in)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDataIntegrity))
}

func zoneLayer() *geoio.FeatureCollection {
	fc := &geoio.FeatureCollection{}
	for i, code := range []string{"Z1", "Z2", "Z3"} {
		f := geoio.NewFeature(code, square(float64(i), 0, 1))
		f.Properties["ADM3_PCODE"] = code
		fc.Add(f)
	}
	return fc
}

func TestZonesDropsEmptyZones(t *testing.T) {
	half, one := 0.5, 1.0
	scores := []model.TankScore{
		{ID: "T1", ZoneCode: "Z1", SiltDepth: 2, SoilDepth: 1, SupplyIndex: 0.4, DemandIndex: &half, NormGeoRank: &one},
		{ID: "T2", ZoneCode: "Z1", SiltDepth: 4, SoilDepth: 3, SupplyIndex: 1.0},
		{ID: "T3", ZoneCode: "Z2", SiltDepth: 1, SoilDepth: 4, SupplyIndex: 0.6},
		{ID: "T4", SiltDepth: 1, SoilDepth: 1, SupplyIndex: 0.1},
	}
	got := Zones(scores, zoneLayer(), "ADM3_PCODE")
	require.Len(t, got, 2, "Z3 has no tanks")

	z1 := got[0]
	assert.Equal(t, "Z1", z1.ZoneCode)
	assert.Equal(t, 2, z1.TankCount)
	assert.InDelta(t, 3.0, z1.SiltDepth, 1e-12)
	assert.InDelta(t, 2.0, z1.SoilDepth, 1e-12)
	assert.InDelta(t, 0.7, z1.SupplyIndex, 1e-12)
	require.NotNil(t, z1.DemandIndex)
	assert.InDelta(t, 0.5, *z1.DemandIndex, 1e-12, "undefined values are skipped")
	require.NotNil(t, z1.Geometry)

	z2 := got[1]
	assert.Equal(t, "Z2", z2.ZoneCode)
	assert.Equal(t, 1, z2.TankCount)
	assert.Nil(t, z2.DemandIndex)
	assert.Nil(t, z2.NormGeoRank)

	for _, z := range got {
		assert.NotEqual(t, "Z3", z.ZoneCode)
	}
}

func TestZoneOutputs(t *testing.T) {
	dir := t.TempDir()
	half := 0.5
	zones := []model.ZoneIndex{
		{ZoneCode: "Z1", SiltDepth: 3, SoilDepth: 2, SupplyIndex: 0.7, DemandIndex: &half, TankCount: 2, Geometry: square(0, 0, 1)},
		{ZoneCode: "Z2", SiltDepth: 1, SoilDepth: 4, SupplyIndex: 0.6, TankCount: 1, Geometry: square(1, 0, 1)},
	}

	csvPath := filepath.Join(dir, "tanks_dsd_level.csv")
	require.NoError(t, WriteZones(csvPath, zones))
	rows, err := ReadZones(csvPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].TankCount)
	require.NotNil(t, rows[0].DemandIndex)
	assert.Nil(t, rows[1].DemandIndex)
	assert.Nil(t, rows[0].Geometry)

	layerPath := filepath.Join(dir, "tanks_dsd_level.geojson")
	require.NoError(t, WriteZoneLayer(layerPath, "ADM3_PCODE", zones))
	layer, err := ReadZoneLayer(layerPath, "ADM3_PCODE")
	require.NoError(t, err)
	require.Len(t, layer, 2)
	assert.Equal(t, "Z1", layer[0].ZoneCode)
	assert.Equal(t, 2, layer[0].TankCount)
	assert.InDelta(t, 0.5, *layer[0].DemandIndex, 1e-12)
	assert.Nil(t, layer[1].DemandIndex)
	assert.NotNil(t, layer[1].Geometry)
}

func TestLoadTanksAndAssignZones(t *testing.T) {
	fc := &geoio.FeatureCollection{}
	add := func(id float64, zone string, g geom.T) {
		f := geoio.NewFeature("", g)
		f.Properties["Map_id"] = id
		f.Properties["silt_p"] = 2.0
		f.Properties["max_soil_d"] = "1.5"
		f.Properties["functional"] = "Damaged"
		if zone != "" {
			f.Properties["ADM3_PCODE"] = zone
		}
		fc.Add(f)
	}
	add(1, "Z9", square(0.2, 0.2, 0.1))
	add(2, "", square(1.2, 0.2, 0.1))
	add(3, "", square(40, 40, 0.1))

	tanks, err := LoadTanks(fc, fields())
	require.NoError(t, err)
	require.Len(t, tanks, 3)
	assert.Equal(t, "1", tanks[0].ID)
	assert.Equal(t, 1.5, tanks[0].SoilDepth)

	require.NoError(t, AssignZones(tanks, zoneLayer(), "ADM3_PCODE"))
	assert.Equal(t, "Z9", tanks[0].ZoneCode, "attribute wins")
	assert.Equal(t, "Z2", tanks[1].ZoneCode)
	assert.Equal(t, "", tanks[2].ZoneCode)
}

func TestLoadTanksRejectsBadRows(t *testing.T) {
	fc := &geoio.FeatureCollection{}
	f := geoio.NewFeature("", square(0, 0, 1))
	f.Properties["Map_id"] = "A"
	f.Properties["silt_p"] = ""
	f.Properties["max_soil_d"] = 1.0
	fc.Add(f)
	_, err := LoadTanks(fc, fields())
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDataIntegrity))

	dup := &geoio.FeatureCollection{}
	for range 2 {
		g := geoio.NewFeature("", square(0, 0, 1))
		g.Properties["Map_id"] = "A"
		g.Properties["silt_p"] = 1.0
		g.Properties["max_soil_d"] = 1.0
		dup.Add(g)
	}
	_, err = LoadTanks(dup, fields())
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrDataIntegrity))
}

func TestLoadCovarianceAndAquifers(t *testing.T) {
	fc := &geoio.FeatureCollection{}
	f := geoio.NewFeature("", nil)
	f.Properties["Map_id"] = 7.0
	f.Properties["gridcode_m"] = 0.3
	f.Properties["AquName"] = "Deep confined aquifer"
	fc.Add(f)

	cov, err := LoadCovariance(fc, "Map_id", "gridcode_m")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"7": 0.3}, cov)

	aq, err := LoadAquifers(fc, "Map_id", "AquName")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "Deep confined aquifer"}, aq)
}
