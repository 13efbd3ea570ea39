package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/etf-advisor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	config_hash  TEXT NOT NULL,
	instruments  INTEGER NOT NULL DEFAULT 0,
	clients      INTEGER NOT NULL DEFAULT 0,
	warnings     TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS scored_instruments (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	position        INTEGER NOT NULL,
	instrument_id   TEXT NOT NULL,
	risk_tier       TEXT NOT NULL,
	tier_rank       INTEGER NOT NULL,
	selected        INTEGER NOT NULL,
	composite_score REAL NOT NULL,
	data            TEXT NOT NULL,
	PRIMARY KEY (run_id, instrument_id)
);

CREATE TABLE IF NOT EXISTS recommendations (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	client_id  TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, client_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_scored_run_position ON scored_instruments(run_id, position);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, configHash string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), configHash, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		Status:     model.RunStatusRunning,
		ConfigHash: configHash,
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result RunResult) error {
	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, instruments = ?, clients = ?, warnings = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(result.Status), result.Instruments, result.Clients, string(warningsJSON),
		nullString(result.Error), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, config_hash, instruments, clients, warnings, error, created_at, completed_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config_hash, instruments, clients, warnings, error, created_at, completed_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveScored(ctx context.Context, runID string, items []model.ScoredInstrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save scored")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_instruments WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear scored for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scored_instruments (run_id, position, instrument_id, risk_tier, tier_rank, selected, composite_score, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert scored")
	}
	defer stmt.Close() //nolint:errcheck

	for i, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal scored %s", it.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, i, it.ID, string(it.Tier), it.TierRank, it.Selected, it.CompositeScore, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert scored %s", it.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save scored")
}

func (s *SQLiteStore) ListScored(ctx context.Context, runID string) ([]model.ScoredInstrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM scored_instruments WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list scored for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var items []model.ScoredInstrument
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scored")
		}
		var it model.ScoredInstrument
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scored")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list scored iterate")
}

func (s *SQLiteStore) SaveRecommendations(ctx context.Context, runID string, recs []model.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save recommendations")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal recommendation %s", rec.ClientID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recommendations (run_id, client_id, data, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (run_id, client_id) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
			runID, rec.ClientID, string(data), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert recommendation %s", rec.ClientID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save recommendations")
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, runID, clientID string) (*model.Recommendation, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM recommendations WHERE run_id = ? AND client_id = ?`,
		runID, clientID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recommendation %s/%s", runID, clientID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get recommendation")
	}

	var rec model.Recommendation
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal recommendation")
	}
	return &rec, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var warningsJSON, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &r.ConfigHash, &r.Instruments, &r.Clients,
		&warningsJSON, &errMsg, &r.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
	}
	r.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
