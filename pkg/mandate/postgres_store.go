package mandate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. Schema mirrors the SQLite
// store; migrations are expected to be applied out of band.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the mandates table if missing. Intended for dev/test;
// production schemas are managed externally.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS mandates (
        id TEXT PRIMARY KEY,
        principal_id TEXT NOT NULL,
        agent_id TEXT NOT NULL,
        status TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        revoked_at TIMESTAMPTZ,
        revoke_reason TEXT NOT NULL DEFAULT '',
        doc JSONB NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_mandates_principal ON mandates (principal_id, status, created_at);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Mandate, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT doc, status, updated_at, revoked_at, revoke_reason FROM mandates WHERE id = $1", id)
	return scanPgMandateRow(row)
}

func (s *PostgresStore) Put(ctx context.Context, m *Mandate) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mandate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mandates (id, principal_id, agent_id, status, created_at, updated_at, revoke_reason, doc)
         VALUES ($1, $2, $3, $4, $5, $6, '', $7)`,
		m.ID, m.PrincipalID, m.AgentID, string(m.Status), m.CreatedAt, m.UpdatedAt, string(doc))
	if err != nil {
		return fmt.Errorf("insert mandate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, expect, next Status, at time.Time, revokeReason string) (bool, error) {
	var revokedAt sql.NullTime
	if next == StatusRevoked {
		revokedAt = sql.NullTime{Time: at, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mandates SET status = $1, updated_at = $2, revoked_at = COALESCE($3, revoked_at),
                revoke_reason = CASE WHEN $4 != '' THEN $4 ELSE revoke_reason END
         WHERE id = $5 AND status = $6`,
		string(next), at, revokedAt, revokeReason, id, string(expect))
	if err != nil {
		return false, fmt.Errorf("update mandate status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM mandates WHERE id = $1", id).Scan(&one)
		if err == sql.ErrNoRows {
			return false, ErrNotFound
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Mandate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, status, updated_at, revoked_at, revoke_reason FROM mandates
         WHERE principal_id = $1 AND status = $2 ORDER BY created_at DESC`,
		principalID, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Mandate
	for rows.Next() {
		m, err := scanPgMandateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanPgMandateRow(row rowScanner) (*Mandate, error) {
	var (
		doc          string
		status       string
		updatedAt    time.Time
		revokedAt    sql.NullTime
		revokeReason string
	)
	err := row.Scan(&doc, &status, &updatedAt, &revokedAt, &revokeReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m Mandate
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("unmarshal mandate doc: %w", err)
	}
	m.Status = Status(status)
	m.UpdatedAt = updatedAt
	if revokedAt.Valid {
		t := revokedAt.Time
		m.RevokedAt = &t
	}
	if revokeReason != "" {
		m.RevokeReason = revokeReason
	}
	return &m, nil
}
