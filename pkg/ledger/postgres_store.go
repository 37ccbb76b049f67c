package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements TransactionStore using PostgreSQL. Reserve takes a
// per-mandate advisory lock so the capacity check and insert are serialized
// across service instances without locking the mandates table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if missing. Intended for dev/test.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS transactions (
        id TEXT PRIMARY KEY,
        mandate_id TEXT NOT NULL,
        principal_id TEXT NOT NULL,
        status TEXT NOT NULL,
        amount_minor BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        doc JSONB NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_txns_mandate_status ON transactions (mandate_id, status);
    CREATE INDEX IF NOT EXISTS idx_txns_principal_created ON transactions (principal_id, created_at);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Reserve(ctx context.Context, txn *Transaction, limit *int) (bool, error) {
	doc, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("marshal transaction: %w", err)
	}

	if limit == nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO transactions (id, mandate_id, principal_id, status, amount_minor, created_at, updated_at, doc)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			txn.ID, txn.MandateID, txn.PrincipalID, string(txn.Status), txn.AmountMinor, txn.CreatedAt, txn.UpdatedAt, string(doc))
		if err != nil {
			return false, fmt.Errorf("insert transaction: %w", err)
		}
		return true, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize concurrent reservations for the same mandate. The advisory
	// lock is released at commit/rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, txn.MandateID); err != nil {
		return false, fmt.Errorf("acquire mandate lock: %w", err)
	}

	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE mandate_id = $1 AND status IN ('pending', 'completed')`,
		txn.MandateID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count transactions: %w", err)
	}
	if n >= *limit {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, mandate_id, principal_id, status, amount_minor, created_at, updated_at, doc)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.MandateID, txn.PrincipalID, string(txn.Status), txn.AmountMinor, txn.CreatedAt, txn.UpdatedAt, string(doc))
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT doc FROM transactions WHERE id = $1", id)
	return scanTxnDoc(row)
}

func (s *PostgresStore) Update(ctx context.Context, txn *Transaction, expect TxnStatus) (bool, error) {
	doc, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("marshal transaction: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2, doc = $3 WHERE id = $4 AND status = $5`,
		string(txn.Status), txn.UpdatedAt, string(doc), txn.ID, string(expect))
	if err != nil {
		return false, fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM transactions WHERE id = $1", txn.ID).Scan(&one)
		if err == sql.ErrNoRows {
			return false, ErrTxnNotFound
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) Unreserve(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = $1 AND status = 'pending'", id)
	return err
}

func (s *PostgresStore) CountedAgainstLimit(ctx context.Context, mandateID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE mandate_id = $1 AND status IN ('pending', 'completed')",
		mandateID).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM transactions WHERE principal_id = $1 ORDER BY created_at DESC LIMIT $2",
		principalID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTxns(rows)
}

func (s *PostgresStore) StatsByPrincipal(ctx context.Context, principalID string) (int, int64, *time.Time, error) {
	var (
		count int
		total sql.NullInt64
		last  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(CASE WHEN status IN ('completed', 'refunded') THEN amount_minor ELSE 0 END), 0),
                MAX(created_at)
         FROM transactions WHERE principal_id = $1`, principalID).Scan(&count, &total, &last)
	if err != nil {
		return 0, 0, nil, err
	}
	var lastPtr *time.Time
	if last.Valid {
		t := last.Time
		lastPtr = &t
	}
	return count, total.Int64, lastPtr, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM transactions WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2",
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTxns(rows)
}
