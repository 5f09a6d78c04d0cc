package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger anchors reports into an insert-only table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initLedgerSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresLedger{pool: pool}, nil
}

func initLedgerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS anchored_reports (
			proof_hash TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			anchored_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init ledger schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (l *PostgresLedger) Anchor(ctx context.Context, payload, signature string) (string, error) {
	if strings.TrimSpace(payload) == "" || strings.TrimSpace(signature) == "" {
		return "", ErrEmptyPayload
	}
	hash := ProofHash(payload, signature)
	_, err := l.pool.Exec(ctx,
		`INSERT INTO anchored_reports (proof_hash, payload, signature, anchored_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (proof_hash) DO NOTHING`,
		hash, payload, signature, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("anchor report: %w", err)
	}
	return hash, nil
}

func (l *PostgresLedger) Lookup(ctx context.Context, proofHash string) (Entry, error) {
	var e Entry
	err := l.pool.QueryRow(ctx,
		`SELECT proof_hash, payload, signature, anchored_at FROM anchored_reports WHERE proof_hash=$1`,
		strings.ToLower(strings.TrimSpace(proofHash)),
	).Scan(&e.ProofHash, &e.Payload, &e.Signature, &e.AnchoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("lookup proof hash: %w", err)
	}
	return e, nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
