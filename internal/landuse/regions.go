package landuse

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

// Region is the dissolved agricultural land of one district.
type Region struct {
	Key      string
	Geometry geom.T
	Parcels  int
}

// Agricultural keeps the agricultural parcels of fc. A parcel whose label is
// missing or outside the closed set aborts the filter.
func (c *Classifier) Agricultural(fc *geoio.FeatureCollection, field string) (*geoio.FeatureCollection, error) {
	out := &geoio.FeatureCollection{}
	for _, f := range fc.Features {
		label, _ := f.String(field)
		ag, err := c.Classify(label)
		if err != nil {
			return nil, eris.Wrapf(err, "landuse: parcel %s", f.ID)
		}
		if ag {
			out.Add(f)
		}
	}
	return out, nil
}

// Regions dissolves the agricultural parcels falling in each district and
// clips the result to the district boundary. Districts without agricultural
// land get an empty region rather than being dropped.
func Regions(parcels *geoio.FeatureCollection, districts []model.District) ([]Region, error) {
	log := zap.L().With(zap.String("component", "landuse.regions"))

	type boxed struct {
		g geom.T
		b *geom.Bounds
	}
	boxes := make([]boxed, 0, parcels.Len())
	for _, f := range parcels.Features {
		if f.Geometry == nil {
			continue
		}
		boxes = append(boxes, boxed{g: f.Geometry, b: f.Geometry.Bounds()})
	}

	out := make([]Region, 0, len(districts))
	for _, d := range districts {
		db := d.Boundary.Bounds()
		var candidates []geom.T
		for _, p := range boxes {
			if p.b.Overlaps(d.Boundary.Layout(), db) {
				candidates = append(candidates, p.g)
			}
		}

		u, err := geoio.Union(candidates)
		if err != nil {
			return nil, eris.Wrapf(err, "landuse: dissolve %s", d.Key)
		}
		boundary, err := geoio.ToGEOS(d.Boundary)
		if err != nil {
			return nil, eris.Wrapf(err, "landuse: boundary %s", d.Key)
		}
		if boundary, err = geoio.MakeValid(boundary); err != nil {
			return nil, err
		}
		clipped, err := geoio.Clip(u, boundary)
		if err != nil {
			return nil, eris.Wrapf(err, "landuse: clip %s", d.Key)
		}
		g, err := geoio.FromGEOS(clipped)
		if err != nil {
			return nil, err
		}

		log.Debug("landuse: district region built",
			zap.String("district", d.Key),
			zap.Int("parcels", len(candidates)),
			zap.Bool("empty", clipped.IsEmpty()),
		)
		out = append(out, Region{Key: d.Key, Geometry: g, Parcels: len(candidates)})
	}
	return out, nil
}

// Path is the agricultural land artifact of district key under dir.
func Path(dir, key string) string {
	return filepath.Join(dir, model.FileKey(key)+".geojson")
}

// Write persists one agricultural land file per district.
func Write(dir string, regions []Region) error {
	for _, r := range regions {
		f := geoio.NewFeature(r.Key, r.Geometry)
		f.Properties["key"] = r.Key
		f.Properties["parcels"] = r.Parcels
		if err := geoio.WriteVector(&geoio.FeatureCollection{Features: []*geoio.Feature{f}}, Path(dir, r.Key)); err != nil {
			return err
		}
	}
	return nil
}

// Read loads the agricultural land of every key. A district without a file
// is an error: Regions writes one for every district, empty or not.
func Read(dir string, keys []string) (map[string]geom.T, error) {
	out := make(map[string]geom.T, len(keys))
	for _, k := range keys {
		fc, err := geoio.ReadVector(Path(dir, k))
		if err != nil {
			return nil, eris.Wrapf(err, "landuse: agricultural land of %s", k)
		}
		if fc.Len() != 1 {
			return nil, model.IntegrityErrorf("landuse: %s holds %d features, want 1", Path(dir, k), fc.Len())
		}
		out[k] = fc.Features[0].Geometry
	}
	return out, nil
}
