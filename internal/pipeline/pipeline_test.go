package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/checkpoint"
	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *checkpoint.SQLiteStore {
	t.Helper()
	st, err := checkpoint.NewSQLite(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// copyStage reads src and writes its content, prefixed by id, to dst.
type copyStage struct {
	id       string
	src, dst string
	calls    int
	fail     error
}

func (c *copyStage) stage() Stage {
	return Stage{
		ID:       c.id,
		Inputs:   func() []string { return []string{c.src} },
		Settings: func() any { return map[string]string{"id": c.id} },
		Run: func(context.Context) (*Output, error) {
			c.calls++
			if c.fail != nil {
				return nil, c.fail
			}
			data, err := os.ReadFile(c.src)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(c.dst, append([]byte(c.id+":"), data...), 0o644); err != nil {
				return nil, err
			}
			return &Output{Files: []string{c.dst}, Metadata: map[string]any{"bytes": len(data)}}, nil
		},
	}
}

type chain struct {
	p      *Pipeline
	store  *checkpoint.SQLiteStore
	source string
	stages []*copyStage
}

// newChain builds a pipeline of three stages a -> b -> c, each reading the
// previous stage's output.
func newChain(t *testing.T) *chain {
	t.Helper()
	dir := t.TempDir()
	st := newTestStore(t)
	source := filepath.Join(dir, "source.txt")
	writeFile(t, source, "v1")

	cfg := &config.Config{Paths: config.PathsConfig{WorkDir: dir, OutputDir: dir}}
	p := New(cfg, st, nil)

	a := &copyStage{id: "a", src: source, dst: filepath.Join(dir, "a.txt")}
	b := &copyStage{id: "b", src: a.dst, dst: filepath.Join(dir, "b.txt")}
	c := &copyStage{id: "c", src: b.dst, dst: filepath.Join(dir, "c.txt")}
	p.stages = []Stage{a.stage(), b.stage(), c.stage()}
	return &chain{p: p, store: st, source: source, stages: []*copyStage{a, b, c}}
}

func (c *chain) calls() []int {
	out := make([]int, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.calls
	}
	return out
}

func statuses(r *Report) []model.PhaseStatus {
	out := make([]model.PhaseStatus, len(r.Phases))
	for i, ph := range r.Phases {
		out[i] = ph.Status
	}
	return out
}

func TestRun_SecondRunSkipsEveryStage(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	first, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusComplete, model.PhaseStatusComplete, model.PhaseStatusComplete}, statuses(first))
	assert.Equal(t, []int{1, 1, 1}, c.calls())
	assert.Equal(t, 2, first.Phases[0].Metadata["bytes"])

	data, err := os.ReadFile(c.stages[2].dst)
	require.NoError(t, err)
	assert.Equal(t, "c:b:a:v1", string(data))

	second, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusSkipped, model.PhaseStatusSkipped, model.PhaseStatusSkipped}, statuses(second))
	assert.Equal(t, []int{1, 1, 1}, c.calls())
	assert.NotEqual(t, first.RunID, second.RunID)

	for i := range first.Phases {
		assert.Equal(t, first.Phases[i].InputHash, second.Phases[i].InputHash)
	}

	run, err := c.store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	phases, err := c.store.ListPhases(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, phases, 3)
	assert.Equal(t, model.PhaseStatusSkipped, phases[0].Status)
}

func TestRun_ChangedInputRerunsDownstream(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	_, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)

	writeFile(t, c.source, "v2")
	r, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusComplete, model.PhaseStatusComplete, model.PhaseStatusComplete}, statuses(r))
	assert.Equal(t, []int{2, 2, 2}, c.calls())

	data, err := os.ReadFile(c.stages[2].dst)
	require.NoError(t, err)
	assert.Equal(t, "c:b:a:v2", string(data))
}

func TestRun_UnchangedOutputStopsPropagation(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	_, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)

	// a's output is deleted, so a reruns and rewrites identical content;
	// b and c see unchanged inputs.
	require.NoError(t, os.Remove(c.stages[0].dst))
	r, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusComplete, model.PhaseStatusSkipped, model.PhaseStatusSkipped}, statuses(r))
	assert.Equal(t, []int{2, 1, 1}, c.calls())
}

func TestRun_Force(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	_, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	r, err := c.p.Run(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusComplete, model.PhaseStatusComplete, model.PhaseStatusComplete}, statuses(r))
	assert.Equal(t, []int{2, 2, 2}, c.calls())
}

func TestRun_FailureAbortsAndResumes(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()
	boom := eris.New("boom")
	c.stages[1].fail = boom

	r, err := c.p.Run(ctx, nil, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))
	assert.Contains(t, err.Error(), "stage b")
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusComplete, model.PhaseStatusFailed}, statuses(r))
	assert.Equal(t, "boom", r.Phases[1].Error)
	assert.Equal(t, []int{1, 1, 0}, c.calls(), "later stages never run")

	run, err := c.store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	cp, err := c.store.GetCheckpoint(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, cp)

	c.stages[1].fail = nil
	r, err = c.p.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusSkipped, model.PhaseStatusComplete, model.PhaseStatusComplete}, statuses(r))
	assert.Equal(t, []int{1, 2, 1}, c.calls())
}

func TestRun_FailureDropsStaleCheckpoint(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	_, err := c.p.Run(ctx, nil, false)
	require.NoError(t, err)

	c.stages[0].fail = eris.New("boom")
	_, err = c.p.Run(ctx, []string{"a"}, true)
	require.Error(t, err)

	cp, err := c.store.GetCheckpoint(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, cp, "a failed rerun must not leave the old checkpoint behind")
}

func TestRun_MissingInput(t *testing.T) {
	c := newChain(t)
	require.NoError(t, os.Remove(c.source))

	r, err := c.p.Run(context.Background(), nil, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrIO))
	assert.Equal(t, []model.PhaseStatus{model.PhaseStatusFailed}, statuses(r))
	assert.Equal(t, []int{0, 0, 0}, c.calls())
}

func TestRun_SelectedStagesKeepPipelineOrder(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	_, err := c.p.Run(ctx, []string{"a"}, false)
	require.NoError(t, err)

	r, err := c.p.Run(ctx, []string{"C", " b "}, false)
	require.NoError(t, err)
	require.Len(t, r.Phases, 2)
	assert.Equal(t, "b", r.Phases[0].Name)
	assert.Equal(t, "c", r.Phases[1].Name)

	run, err := c.store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, run.Stages)
}

func TestRun_UnknownStage(t *testing.T) {
	c := newChain(t)
	_, err := c.p.Run(context.Background(), []string{"a", "zeta", "alpha"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage(s) alpha, zeta")
	assert.Equal(t, []int{0, 0, 0}, c.calls())
}

func TestRun_Cancelled(t *testing.T) {
	c := newChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.p.Run(ctx, nil, false)
	require.Error(t, err)
	assert.Equal(t, []int{0, 0, 0}, c.calls())
}

func TestStageIDs(t *testing.T) {
	p := New(&config.Config{}, nil, nil)
	assert.Equal(t, []string{
		StagePopulation, StageSettlement, StageDistricts, StageLanduse,
		StageAggregate, StageReconcile, StageSearch, StageAttribute, StageIndex,
	}, p.StageIDs())
}

func TestRasterStagesNeedToolkit(t *testing.T) {
	p := New(&config.Config{}, nil, nil)
	_, err := p.runPopulation(context.Background())
	require.Error(t, err)
	_, err = p.runSettlement(context.Background())
	require.Error(t, err)
}
