package pipeline

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/buffer"
	"github.com/sells-group/tankindex/internal/district"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/population"
	"github.com/sells-group/tankindex/internal/survey"
)

// Search runs the buffer radius search over the artifacts of the reconcile
// stage without persisting anything. names restricts the search to those
// districts (matched by canonical key); no names searches every district.
func (p *Pipeline) Search(ctx context.Context, names []string) ([]buffer.Result, error) {
	results, _, err := p.search(ctx, names)
	return results, err
}

func (p *Pipeline) search(ctx context.Context, names []string) ([]buffer.Result, *buffer.GeosCapturer, error) {
	log := zap.L().With(zap.String("component", "pipeline.search"))

	comps, err := district.ReadComparisons(p.paths.Comparison())
	if err != nil {
		return nil, nil, err
	}
	if comps, err = filterComparisons(comps, names); err != nil {
		return nil, nil, err
	}

	rural, err := population.ReadPoints(p.paths.RuralPoints())
	if err != nil {
		return nil, nil, err
	}
	districts, agland, err := p.districtsWithAgland()
	if err != nil {
		return nil, nil, err
	}
	boundaries := make(map[string]model.District, len(districts))
	for _, d := range districts {
		boundaries[d.Key] = d
	}

	capturer := buffer.NewGeosCapturer(population.NewIndex(rural), p.cfg.Search.QuadSegments)
	for _, c := range comps {
		d, ok := boundaries[c.Key]
		if !ok {
			return nil, nil, model.IntegrityErrorf("pipeline: no boundary for district %s", c.Name)
		}
		if err := capturer.Add(c.Key, agland[c.Key], d.Boundary); err != nil {
			return nil, nil, err
		}
	}

	results, err := buffer.NewEngine(p.cfg.Search, capturer).SearchAll(ctx, comps)
	if err != nil {
		return nil, nil, err
	}
	log.Info("pipeline: buffer search complete", zap.Int("districts", len(results)))
	return results, capturer, nil
}

// filterComparisons keeps the rows whose key matches one of names. Every
// name must match a row.
func filterComparisons(comps []model.Comparison, names []string) ([]model.Comparison, error) {
	if len(names) == 0 {
		return comps, nil
	}
	want := make(map[string]string, len(names))
	for _, n := range names {
		want[survey.Canonical(n)] = n
	}
	var out []model.Comparison
	for _, c := range comps {
		if _, ok := want[c.Key]; ok {
			out = append(out, c)
			delete(want, c.Key)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range want {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, model.IntegrityErrorf("pipeline: unknown district(s) %s", strings.Join(missing, ", "))
	}
	return out, nil
}
