// Package buffer searches, per district, for the buffer radius around
// agricultural land whose captured rural population matches the survey's
// agricultural-dependent fraction.
package buffer

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/model"
)

// State is a step of the per-district search.
type State int

const (
	StateInit State = iota
	StateGrowing
	StateShrinking
	StateConverged
	StateSaturated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGrowing:
		return "growing"
	case StateShrinking:
		return "shrinking"
	case StateConverged:
		return "converged"
	case StateSaturated:
		return "saturated"
	default:
		return "unknown"
	}
}

// Capture is what a buffer of a given radius holds.
type Capture struct {
	Population float64
	// Empty is set when the buffered, clipped region has no area left.
	Empty    bool
	Geometry geom.T
}

// Capturer buffers a district's agricultural land by radiusM metres
// (negative shrinks), clips it to the district and sums the rural population
// inside.
type Capturer interface {
	Capture(ctx context.Context, key string, radiusM int) (Capture, error)
}

// Step records one search iteration.
type Step struct {
	Iteration  int
	RadiusM    int
	Population float64
	Fraction   float64
}

// Result is the outcome of a district search. RadiusM is signed and 0 for
// districts that needed no adjustment; Geometry is nil in that case.
type Result struct {
	Key        string
	Name       string
	State      State
	RadiusM    int
	Population float64
	Fraction   float64
	Trace      []Step
	Geometry   geom.T
}

// Engine runs the radius search.
type Engine struct {
	cfg      config.SearchConfig
	capturer Capturer
}

// NewEngine returns an Engine using cfg's threshold, radii and bounds.
func NewEngine(cfg config.SearchConfig, capturer Capturer) *Engine {
	return &Engine{cfg: cfg, capturer: capturer}
}

// Search runs the state machine for one district. Growing stops once the
// captured fraction is no longer more than threshold below the survey, or
// once the buffer holds saturation_fraction of the rural population.
// Shrinking stops once the region is empty or the fraction is no longer more
// than threshold above the survey. Radii advance in one direction only, so
// the result is deterministic for fixed inputs.
func (e *Engine) Search(ctx context.Context, c model.Comparison) (Result, error) {
	log := zap.L().With(
		zap.String("component", "buffer.search"),
		zap.String("district", c.Key),
	)
	res := Result{Key: c.Key, Name: c.Name, State: StateInit}

	var sign int
	switch c.Classification {
	case model.ClassificationOK:
		res.State = StateConverged
		res.Population = c.AgriculturalPopulation
		res.Fraction = c.ModelFraction
		log.Info("buffer: no adjustment needed")
		return res, nil
	case model.ClassificationTooSmall:
		res.State, sign = StateGrowing, 1
	case model.ClassificationTooBig:
		res.State, sign = StateShrinking, -1
	default:
		return res, eris.Wrapf(&model.CategoryError{Field: "classification", Value: string(c.Classification)},
			"buffer: district %s", c.Key)
	}
	if c.TotalPopulation <= 0 {
		return res, model.IntegrityErrorf("buffer: district %s has total population %v", c.Key, c.TotalPopulation)
	}

	saturation := e.cfg.SaturationFraction * c.RuralPopulation
	for i := 1; i <= e.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrapf(err, "buffer: district %s", c.Key)
		}

		radius := sign * (e.cfg.InitialRadiusM + (i-1)*e.cfg.IncrementM)
		capt, err := e.capturer.Capture(ctx, c.Key, radius)
		if err != nil {
			return res, eris.Wrapf(err, "buffer: district %s at %dm", c.Key, radius)
		}
		frac := capt.Population / c.TotalPopulation
		diff := frac - c.SurveyFraction

		res.Trace = append(res.Trace, Step{Iteration: i, RadiusM: radius, Population: capt.Population, Fraction: frac})
		res.RadiusM = radius
		res.Population = capt.Population
		res.Fraction = frac
		res.Geometry = capt.Geometry

		log.Debug("buffer: iteration",
			zap.Int("iteration", i),
			zap.Int("radius_m", radius),
			zap.Float64("population", capt.Population),
			zap.Float64("fraction", frac),
			zap.Float64("diff", diff),
		)

		switch res.State {
		case StateGrowing:
			if diff > -e.cfg.Threshold {
				res.State = StateConverged
			} else if capt.Population >= saturation {
				res.State = StateSaturated
			}
		case StateShrinking:
			if capt.Empty {
				res.State = StateSaturated
			} else if diff < e.cfg.Threshold {
				res.State = StateConverged
			}
		}
		if res.State == StateConverged || res.State == StateSaturated {
			log.Info("buffer: radius accepted",
				zap.String("state", res.State.String()),
				zap.Int("radius_m", radius),
				zap.Int("iterations", i),
				zap.Float64("fraction", frac),
				zap.Float64("survey_fraction", c.SurveyFraction),
			)
			return res, nil
		}
	}

	return res, &model.ConvergenceError{
		District:     c.Key,
		Iterations:   e.cfg.MaxIterations,
		LastRadiusM:  res.RadiusM,
		LastFraction: res.Fraction,
	}
}

// SearchAll searches every district, up to cfg.Concurrency at a time. The
// first failure cancels the rest. Results are sorted by district key.
func (e *Engine) SearchAll(ctx context.Context, comps []model.Comparison) ([]Result, error) {
	limit := e.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	out := make([]Result, len(comps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range comps {
		g.Go(func() error {
			r, err := e.Search(gctx, c)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
