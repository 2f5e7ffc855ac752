// Package pipeline sequences the tank index stages, skipping any stage whose
// inputs and settings are unchanged since it last completed.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/checkpoint"
	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/raster"
)

// Stage ids in execution order.
const (
	StagePopulation = "population"
	StageSettlement = "settlement"
	StageDistricts  = "districts"
	StageLanduse    = "landuse"
	StageAggregate  = "aggregate"
	StageReconcile  = "reconcile"
	StageSearch     = "search"
	StageAttribute  = "attribute"
	StageIndex      = "index"
)

// Output is what a stage produced: the files recorded in its checkpoint and
// metadata reported on its phase.
type Output struct {
	Files    []string
	Metadata map[string]any
}

// Stage is one step of the pipeline. Inputs and Settings are evaluated right
// before the stage runs, so artifacts written by earlier stages of the same
// run are hashed as they are on disk.
type Stage struct {
	ID       string
	Inputs   func() []string
	Settings func() any
	Run      func(ctx context.Context) (*Output, error)
}

// Report summarizes one invocation of Run.
type Report struct {
	RunID  string
	Phases []model.PhaseResult
}

// Pipeline orchestrates the stages of the tank index.
type Pipeline struct {
	cfg    *config.Config
	store  checkpoint.Store
	raster raster.IO
	paths  Paths
	stages []Stage
}

// New creates a Pipeline over the given checkpoint store and raster toolkit.
func New(cfg *config.Config, st checkpoint.Store, rio raster.IO) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		raster: rio,
		paths:  NewPaths(cfg.Paths),
	}
	p.stages = p.defaultStages()
	return p
}

// Paths returns the artifact locations used by the pipeline.
func (p *Pipeline) Paths() Paths { return p.paths }

// StageIDs lists the stage ids in execution order.
func (p *Pipeline) StageIDs() []string {
	ids := make([]string, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.ID
	}
	return ids
}

// selectStages returns the stages named in ids, in pipeline order. No ids
// selects every stage.
func (p *Pipeline) selectStages(ids []string) ([]Stage, error) {
	if len(ids) == 0 {
		return p.stages, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.ToLower(strings.TrimSpace(id))] = true
	}
	var out []Stage
	for _, s := range p.stages {
		if want[s.ID] {
			out = append(out, s)
			delete(want, s.ID)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for id := range want {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, eris.Errorf("pipeline: unknown stage(s) %s (known: %s)",
			strings.Join(unknown, ", "), strings.Join(p.StageIDs(), ", "))
	}
	return out, nil
}

// Run executes the selected stages (all when selected is empty) in order.
// A stage whose checkpoint matches its current input hash is skipped unless
// force is set. The first failing stage aborts the run.
func (p *Pipeline) Run(ctx context.Context, selected []string, force bool) (*Report, error) {
	stages, err := p.selectStages(selected)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(stages))
	for i, s := range stages {
		ids[i] = s.ID
	}

	log := zap.L().With(zap.String("component", "pipeline"))
	run, err := p.store.CreateRun(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting run", zap.Strings("stages", ids), zap.Bool("force", force))

	report := &Report{RunID: run.ID}
	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) (*model.PhaseResult, error) {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		switch {
		case fnErr != nil:
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		case phaseResult.Status == model.PhaseStatusSkipped:
			log.Info("pipeline: phase skipped, inputs unchanged",
				zap.String("phase", name),
				zap.String("input_hash", phaseResult.InputHash),
			)
		default:
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		report.Phases = append(report.Phases, *phaseResult)
		return phaseResult, fnErr
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			setStatus(model.RunStatusFailed)
			return report, eris.Wrap(err, "pipeline: run cancelled")
		}
		if _, err := trackPhase(s.ID, func() (*model.PhaseResult, error) {
			return p.execute(ctx, run.ID, s, force)
		}); err != nil {
			setStatus(model.RunStatusFailed)
			return report, eris.Wrapf(err, "pipeline: stage %s", s.ID)
		}
	}

	setStatus(model.RunStatusComplete)
	log.Info("pipeline: run complete", zap.Int("stages", len(stages)))
	return report, nil
}

// execute hashes the stage inputs, skips the stage when its checkpoint is
// fresh and otherwise runs it and records a new checkpoint. A failed stage
// loses its checkpoint so the next run cannot skip it.
func (p *Pipeline) execute(ctx context.Context, runID string, s Stage, force bool) (*model.PhaseResult, error) {
	var settings any
	if s.Settings != nil {
		settings = s.Settings()
	}
	var inputs []string
	if s.Inputs != nil {
		inputs = s.Inputs()
	}
	hash, err := checkpoint.HashInputs(s.ID, settings, inputs...)
	if err != nil {
		return nil, err
	}
	result := &model.PhaseResult{InputHash: hash}

	if !force {
		fresh, err := checkpoint.Fresh(ctx, p.store, s.ID, hash)
		if err != nil {
			return result, err
		}
		if fresh {
			result.Status = model.PhaseStatusSkipped
			return result, nil
		}
	}

	out, err := s.Run(ctx)
	if err != nil {
		if delErr := p.store.DeleteCheckpoint(ctx, s.ID); delErr != nil {
			zap.L().Warn("pipeline: failed to drop checkpoint", zap.String("phase", s.ID), zap.Error(delErr))
		}
		return result, err
	}
	if out == nil {
		out = &Output{}
	}
	result.Metadata = out.Metadata

	if err := p.store.SaveCheckpoint(ctx, model.Checkpoint{
		Stage:     s.ID,
		InputHash: hash,
		Outputs:   out.Files,
		RunID:     runID,
	}); err != nil {
		return result, eris.Wrapf(err, "pipeline: save checkpoint of %s", s.ID)
	}
	return result, nil
}
