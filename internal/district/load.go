// Package district builds the district table, sums population per district
// and reconciles the modelled agricultural fraction against the survey.
package district

import (
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/survey"
)

// FromFeatures builds districts from a boundary layer. Each district's key
// is computed here, once, from its name; features sharing a key are merged.
// The result is sorted by key.
func FromFeatures(fc *geoio.FeatureCollection, nameField, codeField string) ([]model.District, error) {
	type acc struct {
		d     model.District
		parts []geom.T
	}
	byKey := make(map[string]*acc)
	for _, f := range fc.Features {
		name, ok := f.String(nameField)
		if !ok {
			return nil, model.IntegrityErrorf("district: feature %s has no %s", f.ID, nameField)
		}
		key := survey.Canonical(name)
		a, ok := byKey[key]
		if !ok {
			code, _ := f.String(codeField)
			a = &acc{d: model.District{Key: key, Code: code, Name: name}}
			byKey[key] = a
		}
		a.parts = append(a.parts, f.Geometry)
	}

	out := make([]model.District, 0, len(byKey))
	for _, a := range byKey {
		if len(a.parts) == 1 {
			a.d.Boundary = a.parts[0]
		} else {
			u, err := geoio.Union(a.parts)
			if err != nil {
				return nil, eris.Wrapf(err, "district: merge parts of %s", a.d.Key)
			}
			if a.d.Boundary, err = geoio.FromGEOS(u); err != nil {
				return nil, err
			}
		}
		out = append(out, a.d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Path is the per-district artifact path for key under dir.
func Path(dir, key string) string {
	return filepath.Join(dir, model.FileKey(key)+".geojson")
}

// Write persists one boundary file per district.
func Write(dir string, districts []model.District) error {
	for _, d := range districts {
		f := geoio.NewFeature(d.Key, d.Boundary)
		f.Properties["key"] = d.Key
		f.Properties["name"] = d.Name
		f.Properties["code"] = d.Code
		if err := geoio.WriteVector(&geoio.FeatureCollection{Features: []*geoio.Feature{f}}, Path(dir, d.Key)); err != nil {
			return err
		}
	}
	return nil
}

// Read loads a district written by Write.
func Read(dir, key string) (model.District, error) {
	fc, err := geoio.ReadVector(Path(dir, key))
	if err != nil {
		return model.District{}, err
	}
	if fc.Len() != 1 {
		return model.District{}, model.IntegrityErrorf("district: %s holds %d features, want 1", Path(dir, key), fc.Len())
	}
	f := fc.Features[0]
	name, _ := f.String("name")
	code, _ := f.String("code")
	return model.District{Key: key, Code: code, Name: name, Boundary: f.Geometry}, nil
}

// ReadAll loads every district written by Write, sorted by key.
func ReadAll(dir string) ([]model.District, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.geojson"))
	if err != nil {
		return nil, eris.Wrapf(err, "district: list %s", dir)
	}
	if len(paths) == 0 {
		return nil, model.IntegrityErrorf("district: no district files in %s", dir)
	}
	out := make([]model.District, 0, len(paths))
	for _, p := range paths {
		fc, err := geoio.ReadVector(p)
		if err != nil {
			return nil, err
		}
		if fc.Len() != 1 {
			return nil, model.IntegrityErrorf("district: %s holds %d features, want 1", p, fc.Len())
		}
		f := fc.Features[0]
		key, ok := f.String("key")
		if !ok {
			return nil, model.IntegrityErrorf("district: %s has no key", p)
		}
		name, _ := f.String("name")
		code, _ := f.String("code")
		out = append(out, model.District{Key: key, Code: code, Name: name, Boundary: f.Geometry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
