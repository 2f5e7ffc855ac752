// Package checkpoint records pipeline runs, per-stage phases and the input
// hash of every completed stage so unchanged stages can be skipped.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tankindex/internal/model"
)

// Store persists runs, phases and stage checkpoints.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateRun(ctx context.Context, stages []string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	LatestRun(ctx context.Context) (*model.Run, error)

	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	GetCheckpoint(ctx context.Context, stage string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, stage string) error
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at path and configures WAL mode. The
// parent directory is created if needed.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, model.IOErrorf(err, "checkpoint: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "checkpoint: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	stages     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS checkpoints (
	stage        TEXT PRIMARY KEY,
	input_hash   TEXT NOT NULL,
	outputs      TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	completed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "checkpoint: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, stages []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: marshal stages")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stages, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(stagesJSON), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: insert run")
	}

	return &model.Run{
		ID:        id,
		Stages:    stages,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// LatestRun returns the most recently created run, or nil when there is none.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stages, status, created_at, updated_at FROM runs ORDER BY rowid DESC LIMIT 1`,
	)

	var r model.Run
	var stagesJSON string
	err := row.Scan(&r.ID, &stagesJSON, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: scan run")
	}
	if err := json.Unmarshal([]byte(stagesJSON), &r.Stages); err != nil {
		return nil, eris.Wrap(err, "checkpoint: unmarshal stages")
	}
	return &r, nil
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// ListPhases returns the phases of a run in start order.
func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: list phases")
	}
	defer rows.Close() //nolint:errcheck

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "checkpoint: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "checkpoint: list phases iterate")
}

// GetCheckpoint returns the checkpoint of stage, or nil when the stage has
// never completed.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, stage string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT stage, input_hash, outputs, run_id, completed_at FROM checkpoints WHERE stage = ?`,
		stage,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// SaveCheckpoint replaces the checkpoint of cp.Stage.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	outputsJSON, err := json.Marshal(cp.Outputs)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal outputs")
	}
	if cp.CompletedAt.IsZero() {
		cp.CompletedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (stage, input_hash, outputs, run_id, completed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(stage) DO UPDATE SET input_hash = excluded.input_hash, outputs = excluded.outputs,
		 run_id = excluded.run_id, completed_at = excluded.completed_at`,
		cp.Stage, cp.InputHash, string(outputsJSON), cp.RunID, cp.CompletedAt,
	)
	return eris.Wrapf(err, "checkpoint: save %s", cp.Stage)
}

// DeleteCheckpoint forgets stage so its next run recomputes.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, stage string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE stage = ?`, stage)
	return eris.Wrapf(err, "checkpoint: delete %s", stage)
}

// ListCheckpoints returns every checkpoint ordered by stage id.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, input_hash, outputs, run_id, completed_at FROM checkpoints ORDER BY stage`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: list")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, eris.Wrap(rows.Err(), "checkpoint: list iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var outputsJSON string
	err := row.Scan(&cp.Stage, &cp.InputHash, &outputsJSON, &cp.RunID, &cp.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: scan")
	}
	if err := json.Unmarshal([]byte(outputsJSON), &cp.Outputs); err != nil {
		return nil, eris.Wrap(err, "checkpoint: unmarshal outputs")
	}
	return &cp, nil
}
