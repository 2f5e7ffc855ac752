package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tankindex/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state", "checkpoints.db")
	st, err := NewSQLite(dbPath)
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

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_RunsAndPhases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	run, err := st.CreateRun(ctx, []string{"population", "settlement"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	p1, err := st.CreatePhase(ctx, run.ID, "population")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, p1.ID, &model.PhaseResult{
		Name: "population", Status: model.PhaseStatusComplete, Duration: 12, InputHash: "abc",
	}))
	p2, err := st.CreatePhase(ctx, run.ID, "settlement")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, p2.ID, &model.PhaseResult{
		Name: "settlement", Status: model.PhaseStatusFailed, Error: "boom",
	}))
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed))

	latest, err = st.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, model.RunStatusFailed, latest.Status)
	assert.Equal(t, []string{"population", "settlement"}, latest.Stages)

	phases, err := st.ListPhases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "population", phases[0].Name)
	assert.Equal(t, model.PhaseStatusComplete, phases[0].Status)
	require.NotNil(t, phases[0].Result)
	assert.Equal(t, "abc", phases[0].Result.InputHash)
	assert.Equal(t, "boom", phases[1].Result.Error)
}

func TestSQLite_UpdateMissingRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateRunStatus(context.Background(), "nope", model.RunStatusComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_CheckpointSaveReplaceDelete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cp, err := st.GetCheckpoint(ctx, "districts")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, st.SaveCheckpoint(ctx, model.Checkpoint{Stage: "districts", InputHash: "h1", Outputs: []string{"a"}, RunID: "r1"}))
	require.NoError(t, st.SaveCheckpoint(ctx, model.Checkpoint{Stage: "districts", InputHash: "h2", Outputs: []string{"a", "b"}, RunID: "r2"}))

	cp, err = st.GetCheckpoint(ctx, "districts")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "h2", cp.InputHash)
	assert.Equal(t, []string{"a", "b"}, cp.Outputs)
	assert.Equal(t, "r2", cp.RunID)
	assert.False(t, cp.CompletedAt.IsZero())

	all, err := st.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.DeleteCheckpoint(ctx, "districts"))
	cp, err = st.GetCheckpoint(ctx, "districts")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestHashInputs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	sub := filepath.Join(dir, "tiles")
	writeFile(t, a, "x,y\n1,2\n")
	writeFile(t, filepath.Join(sub, "1.tif"), "one")
	writeFile(t, filepath.Join(sub, "2.tif"), "two")

	settings := map[string]any{"threshold": 0.05}
	h1, err := HashInputs("reconcile", settings, a, sub)
	require.NoError(t, err)
	h2, err := HashInputs("reconcile", settings, a, sub)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)

	other, err := HashInputs("aggregate", settings, a, sub)
	require.NoError(t, err)
	assert.NotEqual(t, h1, other, "stage id is part of the hash")

	other, err = HashInputs("reconcile", map[string]any{"threshold": 0.1}, a, sub)
	require.NoError(t, err)
	assert.NotEqual(t, h1, other, "settings are part of the hash")

	writeFile(t, filepath.Join(sub, "2.tif"), "TWO")
	other, err = HashInputs("reconcile", settings, a, sub)
	require.NoError(t, err)
	assert.NotEqual(t, h1, other, "directory content is part of the hash")

	_, err = HashInputs("reconcile", settings, filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrIO))
}

func TestFresh(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "district_population.csv")

	fresh, err := Fresh(ctx, st, "aggregate", "h1")
	require.NoError(t, err)
	assert.False(t, fresh, "never ran")

	writeFile(t, out, "key\n")
	require.NoError(t, st.SaveCheckpoint(ctx, model.Checkpoint{Stage: "aggregate", InputHash: "h1", Outputs: []string{out}}))

	fresh, err = Fresh(ctx, st, "aggregate", "h1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = Fresh(ctx, st, "aggregate", "h2")
	require.NoError(t, err)
	assert.False(t, fresh, "inputs changed")

	require.NoError(t, os.Remove(out))
	fresh, err = Fresh(ctx, st, "aggregate", "h1")
	require.NoError(t, err)
	assert.False(t, fresh, "output deleted")
}
