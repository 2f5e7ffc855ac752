// Package geoio reads and writes vector layers and bridges go-geom
// geometries to GEOS for buffering, clipping and dissolving.
package geoio

import (
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/tankindex/internal/model"
)

// Feature is one vector record: a geometry and its attribute row.
type Feature struct {
	ID         string
	Geometry   geom.T
	Properties map[string]any
}

// FeatureCollection is an ordered set of features read from or written to a layer.
type FeatureCollection struct {
	Features []*Feature
}

// NewFeature returns a feature with an initialized property map.
func NewFeature(id string, g geom.T) *Feature {
	return &Feature{ID: id, Geometry: g, Properties: make(map[string]any)}
}

// Len returns the number of features.
func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// Add appends features to the collection.
func (fc *FeatureCollection) Add(fs ...*Feature) {
	fc.Features = append(fc.Features, fs...)
}

// Property looks up an attribute by name. An exact match wins; otherwise the
// first case-insensitive match is returned, since shapefile DBF headers and
// GeoJSON exports of the same layer disagree on case.
func (f *Feature) Property(name string) (any, bool) {
	if f.Properties == nil {
		return nil, false
	}
	if v, ok := f.Properties[name]; ok {
		return v, true
	}
	for k, v := range f.Properties {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// String returns the attribute formatted as a trimmed string. Missing and
// null attributes return ok=false.
func (f *Feature) String(name string) (string, bool) {
	v, ok := f.Property(name)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Float returns a numeric attribute. Missing, empty, unparseable and NaN
// values are data integrity errors: every caller feeds the value into a ratio.
func (f *Feature) Float(name string) (float64, error) {
	v, ok := f.Property(name)
	if !ok || v == nil {
		return 0, model.IntegrityErrorf("geoio: feature %s: missing numeric field %q", f.ID, name)
	}
	var x float64
	switch t := v.(type) {
	case float64:
		x = t
	case float32:
		x = float64(t)
	case int:
		x = float64(t)
	case int64:
		x = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, model.IntegrityErrorf("geoio: feature %s: empty numeric field %q", f.ID, name)
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, model.IntegrityErrorf("geoio: feature %s: field %q: %q is not a number", f.ID, name, s)
		}
		x = p
	default:
		return 0, model.IntegrityErrorf("geoio: feature %s: field %q has type %T", f.ID, name, v)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, model.IntegrityErrorf("geoio: feature %s: field %q is not finite", f.ID, name)
	}
	return x, nil
}

// GroupBy partitions features by the string value of an attribute, keeping
// first-seen key order. Features without the attribute are grouped under "".
func (fc *FeatureCollection) GroupBy(name string) ([]string, map[string][]*Feature) {
	groups := make(map[string][]*Feature)
	var keys []string
	for _, f := range fc.Features {
		k, _ := f.String(name)
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], f)
	}
	return keys, groups
}
