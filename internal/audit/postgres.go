package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSink persists Events to PostgreSQL, adapted from the reference
// vector store's connect-ping-migrate bootstrap shape. Wholly optional:
// the engine runs with MemorySink by default, and nothing in the
// workflow state machine depends on being able to read this table back.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditSink connects to dsn, verifies reachability, and
// ensures the audit table exists.
func NewPostgresAuditSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("audit: postgres sink initialized")
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS workflow_audit_events (
			proposal_id   TEXT PRIMARY KEY,
			cp_name       TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			final_state   TEXT NOT NULL,
			success       BOOLEAN NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			iterations    INTEGER NOT NULL DEFAULT 0,
			recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_workflow_audit_cp ON workflow_audit_events (cp_name);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	const q = `
		INSERT INTO workflow_audit_events
			(proposal_id, cp_name, workflow_name, final_state, success, reason, iterations, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (proposal_id) DO UPDATE SET
			final_state = EXCLUDED.final_state,
			success     = EXCLUDED.success,
			reason      = EXCLUDED.reason,
			iterations  = EXCLUDED.iterations
	`
	_, err := s.pool.Exec(ctx, q,
		event.ProposalID, event.CPName, event.WorkflowName, event.FinalState,
		event.Success, event.Reason, event.Iterations, event.RecordedAt)
	return err
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
