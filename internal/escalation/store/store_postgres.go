package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"trustgate/internal/escalation/models"
	"trustgate/pkg/sentinel"
)

// PostgresStore persists escalations in PostgreSQL. The conditional
// transition is a single UPDATE guarded by status = 'PENDING', so the race
// window between read and write is eliminated at the database.
//
// Expected schema:
//
//	CREATE TABLE escalations (
//	    escalation_id   TEXT PRIMARY KEY,
//	    tenant_id       TEXT NOT NULL,
//	    transaction_ref TEXT NOT NULL,
//	    vendor_id       TEXT NOT NULL,
//	    buyer_id        TEXT NOT NULL,
//	    amount_minor    BIGINT NOT NULL,
//	    reason          TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL,
//	    expires_at      TIMESTAMPTZ NOT NULL,
//	    decided_by      TEXT NOT NULL DEFAULT '',
//	    decision_notes  TEXT NOT NULL DEFAULT '',
//	    flagged_by      TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX escalations_tenant_status_idx ON escalations (tenant_id, status, created_at DESC);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed escalation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escalationColumns = `escalation_id, tenant_id, transaction_ref, vendor_id, buyer_id,
	amount_minor, reason, status, created_at, updated_at, expires_at,
	decided_by, decision_notes, flagged_by`

func (s *PostgresStore) Create(ctx context.Context, esc *models.Escalation) error {
	query := `
		INSERT INTO escalations (` + escalationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		esc.EscalationID, esc.TenantID, esc.TransactionRef, esc.VendorID, esc.BuyerID,
		esc.AmountMinor, esc.Reason, esc.Status, esc.CreatedAt, esc.UpdatedAt, esc.ExpiresAt,
		esc.DecidedBy, esc.DecisionNotes, esc.FlaggedBy,
	)
	if err != nil {
		return fmt.Errorf("create escalation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, escalationID string) (*models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE escalation_id = $1`
	esc, err := scanEscalation(s.db.QueryRowContext(ctx, query, escalationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("escalation %q: %w", escalationID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find escalation: %w", err)
	}
	return esc, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, tenantID string) ([]*models.Escalation, error) {
	query := `
		SELECT ` + escalationColumns + `
		FROM escalations
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
	`
	return s.list(ctx, query, tenantID, models.StatusPending)
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.Escalation, error) {
	query := `
		SELECT ` + escalationColumns + `
		FROM escalations
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	return s.list(ctx, query, tenantID)
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT escalation_id FROM escalations WHERE status = $1 AND expires_at < $2`,
		models.StatusPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired escalations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan escalation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransitionIfPending is a single conditional UPDATE. Zero rows affected
// means either the row is absent (ErrNotFound) or another decision raced
// ahead (ErrConflict); a follow-up read disambiguates.
func (s *PostgresStore) TransitionIfPending(ctx context.Context, escalationID string, tr Transition) (*models.Escalation, error) {
	query := `
		UPDATE escalations
		SET status = $2, decided_by = $3, decision_notes = $4, updated_at = $5
		WHERE escalation_id = $1 AND status = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		escalationID, tr.To, tr.DecidedBy, tr.DecisionNotes, tr.At, models.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("transition escalation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition escalation: %w", err)
	}
	if affected == 0 {
		current, findErr := s.FindByID(ctx, escalationID)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("escalation %q already %s: %w", escalationID, current.Status, sentinel.ErrConflict)
	}
	return s.FindByID(ctx, escalationID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Escalation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []*models.Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row scanner) (*models.Escalation, error) {
	var esc models.Escalation
	err := row.Scan(
		&esc.EscalationID, &esc.TenantID, &esc.TransactionRef, &esc.VendorID, &esc.BuyerID,
		&esc.AmountMinor, &esc.Reason, &esc.Status, &esc.CreatedAt, &esc.UpdatedAt, &esc.ExpiresAt,
		&esc.DecidedBy, &esc.DecisionNotes, &esc.FlaggedBy,
	)
	if err != nil {
		return nil, err
	}
	return &esc, nil
}
