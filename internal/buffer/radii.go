package buffer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

// Radii flattens search results into the radius table.
func Radii(results []Result) []model.BufferRadius {
	out := make([]model.BufferRadius, 0, len(results))
	for _, r := range results {
		out = append(out, model.BufferRadius{Key: r.Key, Name: r.Name, RadiusM: r.RadiusM})
	}
	return out
}

// WriteRadii writes the buffer radius table.
func WriteRadii(path string, rows []model.BufferRadius) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "buffer: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadRadii reads a table written by WriteRadii.
func ReadRadii(path string) ([]model.BufferRadius, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "buffer: read %s", path)
	}
	var rows []model.BufferRadius
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "buffer: decode %s", path)
	}
	return rows, nil
}

// ArtifactPath names the accepted buffer of a district by key and signed
// radius, e.g. buffers/nuwara_eliya_-300m.geojson.
func ArtifactPath(dir, key string, radiusM int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%dm.geojson", model.FileKey(key), radiusM))
}

// WriteArtifact persists the accepted buffer geometry of a district.
func WriteArtifact(dir, key string, radiusM int, g geom.T) error {
	if g == nil {
		g = geom.NewMultiPolygon(geom.XY)
	}
	f := geoio.NewFeature(key, g)
	f.Properties["key"] = key
	f.Properties["radius_m"] = radiusM
	return geoio.WriteVector(&geoio.FeatureCollection{Features: []*geoio.Feature{f}}, ArtifactPath(dir, key, radiusM))
}

// ReadArtifact loads the buffer persisted for key at radiusM.
func ReadArtifact(dir, key string, radiusM int) (geom.T, error) {
	path := ArtifactPath(dir, key, radiusM)
	fc, err := geoio.ReadVector(path)
	if err != nil {
		return nil, err
	}
	if fc.Len() != 1 {
		return nil, model.IntegrityErrorf("buffer: %s holds %d features, want 1", path, fc.Len())
	}
	return fc.Features[0].Geometry, nil
}
