package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/etf-advisor/internal/db"
	"github.com/sells-group/etf-advisor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":         `INSERT INTO runs (id, status, config_hash, created_at) VALUES ($1, $2, $3, $4)`,
	"complete_run":       `UPDATE runs SET status = $1, instruments = $2, clients = $3, warnings = $4, error = $5, completed_at = $6 WHERE id = $7`,
	"get_run":            `SELECT id, status, config_hash, instruments, clients, warnings, error, created_at, completed_at FROM runs WHERE id = $1`,
	"list_scored":        `SELECT data FROM scored_instruments WHERE run_id = $1 ORDER BY position`,
	"get_recommendation": `SELECT data FROM recommendations WHERE run_id = $1 AND client_id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status       TEXT NOT NULL DEFAULT 'running',
	config_hash  TEXT NOT NULL,
	instruments  INTEGER NOT NULL DEFAULT 0,
	clients      INTEGER NOT NULL DEFAULT 0,
	warnings     JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scored_instruments (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	position        INTEGER NOT NULL,
	instrument_id   TEXT NOT NULL,
	risk_tier       TEXT NOT NULL,
	tier_rank       INTEGER NOT NULL,
	selected        BOOLEAN NOT NULL,
	composite_score DOUBLE PRECISION NOT NULL,
	data            JSONB NOT NULL,
	PRIMARY KEY (run_id, instrument_id)
);

CREATE TABLE IF NOT EXISTS recommendations (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	client_id  TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, client_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scored_run_position ON scored_instruments(run_id, position);
CREATE INDEX IF NOT EXISTS idx_scored_selected ON scored_instruments(run_id, risk_tier) WHERE selected;
`

var (
	scoredColumns         = []string{"run_id", "position", "instrument_id", "risk_tier", "tier_rank", "selected", "composite_score", "data"}
	recommendationColumns = []string{"run_id", "client_id", "data", "created_at"}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, configHash string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, config_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusRunning), configHash, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		Status:     model.RunStatusRunning,
		ConfigHash: configHash,
		CreatedAt:  now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result RunResult) error {
	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}

	var errMsg *string
	if result.Error != "" {
		errMsg = &result.Error
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, instruments = $2, clients = $3, warnings = $4, error = $5, completed_at = $6 WHERE id = $7`,
		string(result.Status), result.Instruments, result.Clients, warningsJSON, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, config_hash, instruments, clients, warnings, error, created_at, completed_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config_hash, instruments, clients, warnings, error, created_at, completed_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveScored replaces the scored table of a run using COPY.
func (s *PostgresStore) SaveScored(ctx context.Context, runID string, items []model.ScoredInstrument) error {
	rows := make([][]any, 0, len(items))
	for i, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal scored %s", it.ID)
		}
		rows = append(rows, []any{runID, i, it.ID, string(it.Tier), it.TierRank, it.Selected, it.CompositeScore, data})
	}
	return s.replace(ctx, "scored_instruments", scoredColumns, runID, rows)
}

func (s *PostgresStore) ListScored(ctx context.Context, runID string) ([]model.ScoredInstrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM scored_instruments WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scored for run %s", runID)
	}
	defer rows.Close()

	var items []model.ScoredInstrument
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scored")
		}
		var it model.ScoredInstrument
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scored")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list scored iterate")
}

// SaveRecommendations replaces the recommendations of a run using COPY.
func (s *PostgresStore) SaveRecommendations(ctx context.Context, runID string, recs []model.Recommendation) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal recommendation %s", rec.ClientID)
		}
		rows = append(rows, []any{runID, rec.ClientID, data, now})
	}
	return s.replace(ctx, "recommendations", recommendationColumns, runID, rows)
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, runID, clientID string) (*model.Recommendation, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM recommendations WHERE run_id = $1 AND client_id = $2`,
		runID, clientID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recommendation %s/%s", runID, clientID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get recommendation")
	}

	var rec model.Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal recommendation")
	}
	return &rec, nil
}

// replace deletes the rows of a run from table and copies the new rows in
// one transaction.
func (s *PostgresStore) replace(ctx context.Context, table string, columns []string, runID string, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin replace %s", table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, pgx.Identifier{table}.Sanitize()), runID); err != nil {
		return eris.Wrapf(err, "postgres: clear %s for run %s", table, runID)
	}
	if _, err := db.CopyFrom(ctx, tx, table, columns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy %s", table)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit replace %s", table)
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var warningsJSON []byte
	var errMsg *string
	var completedAt *time.Time

	if err := row.Scan(&r.ID, &r.Status, &r.ConfigHash, &r.Instruments, &r.Clients,
		&warningsJSON, &errMsg, &r.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal warnings")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	r.CompletedAt = completedAt
	return &r, nil
}
