package geoio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/tankindex/internal/model"
)

// ReadVector reads a vector layer, choosing the decoder by file extension.
func ReadVector(path string) (*FeatureCollection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path)
	case ".geojson", ".json":
		return ReadGeoJSON(path)
	default:
		return nil, eris.Errorf("geoio: unsupported vector format %q", path)
	}
}

// WriteVector writes fc as GeoJSON to path. The file is replaced atomically
// so an interrupted run never leaves a truncated artifact behind.
func WriteVector(fc *FeatureCollection, path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".geojson" && ext != ".json" {
		return eris.Errorf("geoio: can only write GeoJSON, got %q", path)
	}
	out := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, fc.Len())}
	if fc != nil {
		for _, f := range fc.Features {
			out.Features = append(out.Features, &geojson.Feature{
				ID:         f.ID,
				Geometry:   f.Geometry,
				Properties: f.Properties,
			})
		}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return eris.Wrapf(err, "geoio: encode %s", path)
	}
	return WriteFileAtomic(path, data)
}

// ReadGeoJSON decodes a GeoJSON FeatureCollection.
func ReadGeoJSON(path string) (*FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "geoio: read %s", path)
	}
	var in geojson.FeatureCollection
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, eris.Wrapf(err, "geoio: decode %s", path)
	}
	fc := &FeatureCollection{Features: make([]*Feature, 0, len(in.Features))}
	for _, f := range in.Features {
		props := f.Properties
		if props == nil {
			props = make(map[string]any)
		}
		fc.Add(&Feature{ID: f.ID, Geometry: f.Geometry, Properties: props})
	}
	return fc, nil
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// creating parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.IOErrorf(err, "geoio: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return model.IOErrorf(err, "geoio: create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return model.IOErrorf(err, "geoio: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return model.IOErrorf(err, "geoio: close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return model.IOErrorf(err, "geoio: rename %s", path)
	}
	return nil
}
