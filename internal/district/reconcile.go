package district

import (
	"math"
	"os"
	"sort"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/survey"
)

// Classify compares diff = model fraction - survey fraction against
// ±threshold. Exactly one arm matches any finite diff; NaN falls through to
// the error arm.
func Classify(diff, threshold float64) (model.Classification, error) {
	switch {
	case diff > threshold:
		return model.ClassificationTooBig, nil
	case diff < -threshold:
		return model.ClassificationTooSmall, nil
	case diff >= -threshold && diff <= threshold:
		return model.ClassificationOK, nil
	default:
		return "", model.IntegrityErrorf("district: cannot classify diff %v against threshold %v", diff, threshold)
	}
}

// Reconcile joins the population table with the survey on district key and
// classifies every district. Each district needs exactly one survey row and
// every survey row must match a district; unmatched names on either side
// are reported together.
func Reconcile(pops []model.DistrictPopulation, rows []survey.Row, threshold float64) ([]model.Comparison, error) {
	bySurvey := make(map[string]survey.Row, len(rows))
	for _, r := range rows {
		bySurvey[r.Key] = r
	}

	var missingSurvey []string
	matched := make(map[string]bool, len(pops))
	for _, p := range pops {
		if _, ok := bySurvey[p.Key]; !ok {
			missingSurvey = append(missingSurvey, p.Name)
		}
		matched[p.Key] = true
	}
	var unknownDistricts []string
	for _, r := range rows {
		if !matched[r.Key] {
			unknownDistricts = append(unknownDistricts, r.Name)
		}
	}
	if len(missingSurvey) > 0 || len(unknownDistricts) > 0 {
		sort.Strings(missingSurvey)
		sort.Strings(unknownDistricts)
		return nil, model.IntegrityErrorf(
			"district: survey does not line up with boundaries: no survey row for [%s]; survey rows without a district [%s]",
			strings.Join(missingSurvey, ", "), strings.Join(unknownDistricts, ", "))
	}

	out := make([]model.Comparison, 0, len(pops))
	for _, p := range pops {
		if p.TotalPopulation <= 0 || math.IsNaN(p.TotalPopulation) {
			return nil, model.IntegrityErrorf("district: %s has total population %v", p.Name, p.TotalPopulation)
		}
		s := bySurvey[p.Key]
		modelFrac := p.AgriculturalPopulation / p.TotalPopulation
		diff := modelFrac - s.Fraction
		class, err := Classify(diff, threshold)
		if err != nil {
			return nil, eris.Wrapf(err, "district: %s", p.Name)
		}
		out = append(out, model.Comparison{
			Key:                    p.Key,
			Name:                   p.Name,
			TotalPopulation:        p.TotalPopulation,
			RuralPopulation:        p.RuralPopulation,
			AgriculturalPopulation: p.AgriculturalPopulation,
			SurveyFraction:         s.Fraction,
			ModelFraction:          modelFrac,
			Diff:                   diff,
			Classification:         class,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	counts := map[model.Classification]int{}
	for _, c := range out {
		counts[c.Classification]++
	}
	zap.L().Info("district: reconciled with survey",
		zap.Int("districts", len(out)),
		zap.Int("ok", counts[model.ClassificationOK]),
		zap.Int("too_small", counts[model.ClassificationTooSmall]),
		zap.Int("too_big", counts[model.ClassificationTooBig]),
	)
	return out, nil
}

// WriteComparisons writes the district comparison table.
func WriteComparisons(path string, rows []model.Comparison) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "district: encode %s", path)
	}
	return geoio.WriteFileAtomic(path, data)
}

// ReadComparisons reads a table written by WriteComparisons and rejects rows
// whose classification is not one of the three verdicts.
func ReadComparisons(path string) ([]model.Comparison, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "district: read %s", path)
	}
	var rows []model.Comparison
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "district: decode %s", path)
	}
	for _, r := range rows {
		if !r.Classification.Valid() {
			return nil, &model.CategoryError{Field: "classification", Value: string(r.Classification)}
		}
	}
	return rows, nil
}
