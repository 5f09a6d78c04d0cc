package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSubmissionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSubmissionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			state TEXT NOT NULL,
			draft JSONB NOT NULL,
			record JSONB NULL,
			failure TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			anchor_attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_session_updated ON submissions (session_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS submission_transitions (
			submission_id TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			PRIMARY KEY (submission_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init submission schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSubmission(ctx context.Context, snap Snapshot) error {
	draftJSON, err := json.Marshal(snap.Draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	var recordJSON []byte
	if snap.Record != nil {
		if recordJSON, err = json.Marshal(snap.Record); err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO submissions (
			id, session_id, state, draft, record, failure, failure_detail, anchor_attempts, next_retry_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			state=EXCLUDED.state,
			draft=EXCLUDED.draft,
			record=EXCLUDED.record,
			failure=EXCLUDED.failure,
			failure_detail=EXCLUDED.failure_detail,
			anchor_attempts=EXCLUDED.anchor_attempts,
			next_retry_at=EXCLUDED.next_retry_at,
			updated_at=EXCLUDED.updated_at`,
		snap.ID,
		snap.SessionID,
		string(snap.State),
		draftJSON,
		recordJSON,
		string(snap.Failure),
		snap.FailureDetail,
		snap.AnchorAttempts,
		snap.NextRetryAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM submission_transitions WHERE submission_id=$1`, snap.ID); err != nil {
		return fmt.Errorf("delete prior transitions: %w", err)
	}
	for i, state := range snap.History {
		if _, err := tx.Exec(ctx,
			`INSERT INTO submission_transitions (submission_id, seq, state) VALUES ($1,$2,$3)`,
			snap.ID, i+1, string(state),
		); err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_id, state, draft, record, failure, failure_detail, anchor_attempts, next_retry_at, updated_at
		   FROM submissions WHERE id=$1`,
		id,
	)
	snap, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrStoreNotFound
		}
		return Snapshot{}, fmt.Errorf("get submission: %w", err)
	}
	if snap.History, err = s.loadHistory(ctx, snap.ID); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, state, draft, record, failure, failure_detail, anchor_attempts, next_retry_at, updated_at
		   FROM submissions WHERE session_id=$1 ORDER BY updated_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		out = append(out, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}

	for i := range out {
		if out[i].History, err = s.loadHistory(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) loadHistory(ctx context.Context, id string) ([]State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM submission_transitions WHERE submission_id=$1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	history := make([]State, 0, 6)
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		history = append(history, State(state))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}
	return history, nil
}

func scanSubmission(row pgx.Row) (Snapshot, error) {
	var (
		snap        Snapshot
		state       string
		failure     string
		draftJSON   []byte
		recordJSON  []byte
		nextRetryAt *time.Time
	)
	if err := row.Scan(
		&snap.ID,
		&snap.SessionID,
		&state,
		&draftJSON,
		&recordJSON,
		&failure,
		&snap.FailureDetail,
		&snap.AnchorAttempts,
		&nextRetryAt,
		&snap.UpdatedAt,
	); err != nil {
		return Snapshot{}, err
	}
	snap.State = State(state)
	snap.Failure = FailureKind(failure)
	snap.NextRetryAt = nextRetryAt
	if err := json.Unmarshal(draftJSON, &snap.Draft); err != nil {
		return Snapshot{}, fmt.Errorf("decode draft: %w", err)
	}
	if len(recordJSON) > 0 {
		var rec Record
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return Snapshot{}, fmt.Errorf("decode record: %w", err)
		}
		snap.Record = &rec
	}
	return snap, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
