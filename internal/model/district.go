package model

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

// Classification is the reconciliation verdict for a district.
type Classification string

const (
	ClassificationOK       Classification = "OK"
	ClassificationTooSmall Classification = "too small"
	ClassificationTooBig   Classification = "too big"
)

// Valid reports whether c is one of the three defined classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationOK, ClassificationTooSmall, ClassificationTooBig:
		return true
	default:
		return false
	}
}

// District is a second-level administrative unit. Key is the canonical
// identifier assigned once at ingestion and used to join every other source.
type District struct {
	Key      string
	Code     string
	Name     string
	Boundary geom.T
}

// DistrictPopulation holds the three population sums for a district.
type DistrictPopulation struct {
	Key                    string  `csv:"key"`
	Name                   string  `csv:"district"`
	TotalPopulation        float64 `csv:"total_pop"`
	RuralPopulation        float64 `csv:"rural_pop"`
	AgriculturalPopulation float64 `csv:"agland_pop"`
}

// Comparison is one row of the district comparison table.
type Comparison struct {
	Key                    string         `csv:"key"`
	Name                   string         `csv:"district"`
	TotalPopulation        float64        `csv:"total_pop"`
	RuralPopulation        float64        `csv:"rural_pop"`
	AgriculturalPopulation float64        `csv:"agland_pop"`
	SurveyFraction         float64        `csv:"survey_fraction"`
	ModelFraction          float64        `csv:"model_fraction"`
	Diff                   float64        `csv:"diff"`
	Classification         Classification `csv:"classification"`
}

// BufferRadius is one row of the buffer radius table. RadiusM is signed:
// positive grows the agricultural footprint, negative shrinks it.
type BufferRadius struct {
	Key     string `csv:"key"`
	Name    string `csv:"district"`
	RadiusM int    `csv:"radius_m"`
}

// PopulationPoint is a sampled population count at a pixel centre.
type PopulationPoint struct {
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Count float64 `csv:"population"`
}

// Valid reports whether the point carries a usable, positive count.
func (p PopulationPoint) Valid() bool {
	return p.Count > 0 && !math.IsNaN(p.Count) && !math.IsInf(p.Count, 0)
}

// FileKey turns a district key into a file name stem.
func FileKey(key string) string {
	return strings.ReplaceAll(key, " ", "_")
}
