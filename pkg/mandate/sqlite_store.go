package mandate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite. The mandate document is stored as
// JSON alongside indexed lifecycle columns; the columns are authoritative for
// status so CompareAndSetStatus is a single conditional UPDATE.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS mandates (
        id TEXT PRIMARY KEY,
        principal_id TEXT NOT NULL,
        agent_id TEXT NOT NULL,
        status TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        revoked_at DATETIME,
        revoke_reason TEXT NOT NULL DEFAULT '',
        doc JSON NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_mandates_principal ON mandates (principal_id, status, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Mandate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc, status, updated_at, revoked_at, revoke_reason FROM mandates WHERE id = ?`, id)
	return scanMandateRow(row)
}

func (s *SQLiteStore) Put(ctx context.Context, m *Mandate) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mandate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mandates (id, principal_id, agent_id, status, created_at, updated_at, revoke_reason, doc)
         VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
		m.ID, m.PrincipalID, m.AgentID, string(m.Status),
		m.CreatedAt.UTC().Format(time.RFC3339Nano), m.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(doc))
	if err != nil {
		return fmt.Errorf("insert mandate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompareAndSetStatus(ctx context.Context, id string, expect, next Status, at time.Time, revokeReason string) (bool, error) {
	var revokedAt interface{}
	if next == StatusRevoked {
		revokedAt = at.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mandates SET status = ?, updated_at = ?, revoked_at = COALESCE(?, revoked_at), revoke_reason = CASE WHEN ? != '' THEN ? ELSE revoke_reason END
         WHERE id = ? AND status = ?`,
		string(next), at.UTC().Format(time.RFC3339Nano), revokedAt, revokeReason, revokeReason, id, string(expect))
	if err != nil {
		return false, fmt.Errorf("update mandate status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish missing from status mismatch.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM mandates WHERE id = ?`, id).Scan(&one)
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

func (s *SQLiteStore) ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Mandate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, status, updated_at, revoked_at, revoke_reason FROM mandates
         WHERE principal_id = ? AND status = ? ORDER BY created_at DESC`,
		principalID, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Mandate
	for rows.Next() {
		m, err := scanMandateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMandateRow rebuilds a mandate from its JSON document and overlays the
// authoritative lifecycle columns.
func scanMandateRow(row rowScanner) (*Mandate, error) {
	var (
		doc          string
		status       string
		updatedAt    string
		revokedAt    sql.NullString
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
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	if revokedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, revokedAt.String); err == nil {
			m.RevokedAt = &t
		}
	}
	if revokeReason != "" {
		m.RevokeReason = revokeReason
	}
	return &m, nil
}
