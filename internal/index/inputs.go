// Package index composes the tank rejuvenation priority index from supply,
// demand and utility factors and aggregates it to DSD zones.
package index

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

// LoadTanks reads tanks from the tank layer. Silt and soil depths are
// required; the zone code is optional and can be filled by AssignZones.
func LoadTanks(fc *geoio.FeatureCollection, fields config.FieldsConfig) ([]model.Tank, error) {
	out := make([]model.Tank, 0, fc.Len())
	seen := make(map[string]bool, fc.Len())
	for _, f := range fc.Features {
		id, ok := f.String(fields.TankID)
		if !ok {
			return nil, model.IntegrityErrorf("index: tank feature %s has no %s", f.ID, fields.TankID)
		}
		if seen[id] {
			return nil, model.IntegrityErrorf("index: duplicate tank %s", id)
		}
		seen[id] = true

		silt, err := f.Float(fields.Silt)
		if err != nil {
			return nil, eris.Wrapf(err, "index: tank %s", id)
		}
		soil, err := f.Float(fields.Soil)
		if err != nil {
			return nil, eris.Wrapf(err, "index: tank %s", id)
		}
		zone, _ := f.String(fields.ZoneCode)
		status, _ := f.String(fields.Functional)
		out = append(out, model.Tank{
			ID:         id,
			ZoneCode:   zone,
			SiltDepth:  silt,
			SoilDepth:  soil,
			Functional: status,
			Geometry:   f.Geometry,
		})
	}
	return out, nil
}

// LoadCovariance reads the rainfall covariance per tank id. Tanks absent
// from the layer have no covariance.
func LoadCovariance(fc *geoio.FeatureCollection, idField, covField string) (map[string]float64, error) {
	out := make(map[string]float64, fc.Len())
	for _, f := range fc.Features {
		id, ok := f.String(idField)
		if !ok {
			return nil, model.IntegrityErrorf("index: covariance feature %s has no %s", f.ID, idField)
		}
		v, err := f.Float(covField)
		if err != nil {
			return nil, eris.Wrapf(err, "index: covariance of tank %s", id)
		}
		out[id] = v
	}
	return out, nil
}

// LoadAquifers reads the aquifer type per tank id.
func LoadAquifers(fc *geoio.FeatureCollection, idField, aquiferField string) (map[string]string, error) {
	out := make(map[string]string, fc.Len())
	for _, f := range fc.Features {
		id, ok := f.String(idField)
		if !ok {
			return nil, model.IntegrityErrorf("index: aquifer feature %s has no %s", f.ID, idField)
		}
		name, _ := f.String(aquiferField)
		out[id] = name
	}
	return out, nil
}

// AssignZones fills in the zone code of tanks that lack one from the zone
// polygon containing a point on the tank's surface. Tanks outside every zone
// keep an empty code and are left out of zone aggregation.
func AssignZones(tanks []model.Tank, zones *geoio.FeatureCollection, zoneField string) error {
	type zone struct {
		code   string
		region *geoio.Region
	}
	var regions []zone
	prepared := false
	prepare := func() error {
		prepared = true
		for _, f := range zones.Features {
			code, ok := f.String(zoneField)
			if !ok {
				continue
			}
			r, err := geoio.RegionFromGeom(f.Geometry)
			if err != nil {
				return eris.Wrapf(err, "index: zone %s", code)
			}
			regions = append(regions, zone{code: code, region: r})
		}
		return nil
	}

	unplaced := 0
	for i := range tanks {
		if tanks[i].ZoneCode != "" {
			continue
		}
		if !prepared {
			if err := prepare(); err != nil {
				return err
			}
		}
		x, y, err := surfacePoint(tanks[i].Geometry)
		if err != nil {
			return eris.Wrapf(err, "index: tank %s", tanks[i].ID)
		}
		for _, z := range regions {
			if z.region.Intersects(x, y) {
				tanks[i].ZoneCode = z.code
				break
			}
		}
		if tanks[i].ZoneCode == "" {
			unplaced++
		}
	}
	if unplaced > 0 {
		zap.L().Warn("index: tanks outside every zone", zap.Int("tanks", unplaced))
	}
	return nil
}

func surfacePoint(g geom.T) (x, y float64, err error) {
	gg, err := geoio.ToGEOS(g)
	if err != nil {
		return 0, 0, err
	}
	if gg, err = geoio.MakeValid(gg); err != nil {
		return 0, 0, err
	}
	pt, err := geoio.PointOnSurface(gg)
	if err != nil {
		return 0, 0, err
	}
	pg, err := geoio.FromGEOS(pt)
	if err != nil {
		return 0, 0, err
	}
	p, ok := pg.(*geom.Point)
	if !ok || p.Empty() {
		return 0, 0, model.IntegrityErrorf("index: geometry has no surface point")
	}
	return p.X(), p.Y(), nil
}
