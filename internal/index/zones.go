package index

import (
	"os"
	"sort"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

// Zones aggregates tank scores by zone code: the mean of silt depth, soil
// depth, supply index, demand index and normalized geo rank, and the tank
// count. Undefined tank values are skipped in their mean; a zone where every
// value is undefined keeps a nil mean. Zones without tanks do not appear.
// Geometry is taken from the zone layer. The result is sorted by zone code.
func Zones(scores []model.TankScore, zones *geoio.FeatureCollection, zoneField string) []model.ZoneIndex {
	byZone := make(map[string][]model.TankScore)
	skipped := 0
	for _, s := range scores {
		if s.ZoneCode == "" {
			skipped++
			continue
		}
		byZone[s.ZoneCode] = append(byZone[s.ZoneCode], s)
	}
	if skipped > 0 {
		zap.L().Warn("index: tanks without zone left out of aggregation", zap.Int("tanks", skipped))
	}

	shapes := make(map[string]geom.T)
	if zones != nil {
		for _, f := range zones.Features {
			code, ok := f.String(zoneField)
			if !ok {
				continue
			}
			if _, dup := shapes[code]; !dup {
				shapes[code] = f.Geometry
			}
		}
	}

	out := make([]model.ZoneIndex, 0, len(byZone))
	for code, ts := range byZone {
		var silt, soil, supply, demand, geo []float64
		for _, t := range ts {
			silt = append(silt, t.SiltDepth)
			soil = append(soil, t.SoilDepth)
			supply = append(supply, t.SupplyIndex)
			if t.DemandIndex != nil {
				demand = append(demand, *t.DemandIndex)
			}
			if t.NormGeoRank != nil {
				geo = append(geo, *t.NormGeoRank)
			}
		}
		out = append(out, model.ZoneIndex{
			ZoneCode:    code,
			SiltDepth:   stat.Mean(silt, nil),
			SoilDepth:   stat.Mean(soil, nil),
			SupplyIndex: stat.Mean(supply, nil),
			DemandIndex: optionalMean(demand),
			NormGeoRank: optionalMean(geo),
			TankCount:   len(ts),
			Geometry:    shapes[code],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneCode < out[j].ZoneCode })
	return out
}

func optionalMean(x []float64) *float64 {
	if len(x) == 0 {
		return nil
	}
	m := stat.Mean(x, nil)
	return &m
}

// WriteScores writes the per-tank score table.
func WriteScores(path string, scores []model.TankScore) error {
	data, err := csvutil.Marshal(scores)
	if err != nil {
		return eris.Wrapf(err, "index: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// WriteZones writes the zone index table.
func WriteZones(path string, zones []model.ZoneIndex) error {
	data, err := csvutil.Marshal(zones)
	if err != nil {
		return eris.Wrapf(err, "index: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadZones reads a table written by WriteZones. Geometry is not part of the
// table.
func ReadZones(path string) ([]model.ZoneIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "index: read %s", path)
	}
	var zones []model.ZoneIndex
	if err := csvutil.Unmarshal(data, &zones); err != nil {
		return nil, eris.Wrapf(err, "index: decode %s", path)
	}
	return zones, nil
}

// WriteZoneLayer writes the zone index as a polygon layer. Zones missing
// from the zone layer are written with a null geometry.
func WriteZoneLayer(path, zoneField string, zones []model.ZoneIndex) error {
	fc := &geoio.FeatureCollection{}
	for _, z := range zones {
		f := geoio.NewFeature(z.ZoneCode, z.Geometry)
		f.Properties[zoneField] = z.ZoneCode
		f.Properties["silt_p"] = z.SiltDepth
		f.Properties["max_soil_d"] = z.SoilDepth
		f.Properties["tank_supply_index"] = z.SupplyIndex
		if z.DemandIndex != nil {
			f.Properties["demand_index"] = *z.DemandIndex
		}
		if z.NormGeoRank != nil {
			f.Properties["n_geo_rank"] = *z.NormGeoRank
		}
		f.Properties["Map_id"] = z.TankCount
		fc.Add(f)
	}
	return geoio.WriteVector(fc, path)
}

// ReadZoneLayer reads a layer written by WriteZoneLayer.
func ReadZoneLayer(path, zoneField string) ([]model.ZoneIndex, error) {
	fc, err := geoio.ReadVector(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.ZoneIndex, 0, fc.Len())
	for _, f := range fc.Features {
		code, ok := f.String(zoneField)
		if !ok {
			return nil, model.IntegrityErrorf("index: zone feature %s has no %s", f.ID, zoneField)
		}
		z := model.ZoneIndex{ZoneCode: code, Geometry: f.Geometry}
		if z.SiltDepth, err = f.Float("silt_p"); err != nil {
			return nil, err
		}
		if z.SoilDepth, err = f.Float("max_soil_d"); err != nil {
			return nil, err
		}
		if z.SupplyIndex, err = f.Float("tank_supply_index"); err != nil {
			return nil, err
		}
		count, err := f.Float("Map_id")
		if err != nil {
			return nil, err
		}
		z.TankCount = int(count)
		z.DemandIndex = optionalFloat(f, "demand_index")
		z.NormGeoRank = optionalFloat(f, "n_geo_rank")
		out = append(out, z)
	}
	return out, nil
}

func optionalFloat(f *geoio.Feature, name string) *float64 {
	if _, ok := f.Property(name); !ok {
		return nil
	}
	v, err := f.Float(name)
	if err != nil {
		return nil
	}
	return &v
}
