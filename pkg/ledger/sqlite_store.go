package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements TransactionStore on SQLite. SQLite serializes
// writers, so the conditional INSERT in Reserve is naturally atomic.
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
    CREATE TABLE IF NOT EXISTS transactions (
        id TEXT PRIMARY KEY,
        mandate_id TEXT NOT NULL,
        principal_id TEXT NOT NULL,
        status TEXT NOT NULL,
        amount_minor INTEGER NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        doc JSON NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_txns_mandate_status ON transactions (mandate_id, status);
    CREATE INDEX IF NOT EXISTS idx_txns_principal_created ON transactions (principal_id, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Reserve(ctx context.Context, txn *Transaction, limit *int) (bool, error) {
	doc, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("marshal transaction: %w", err)
	}
	created := txn.CreatedAt.UTC().Format(time.RFC3339Nano)
	updated := txn.UpdatedAt.UTC().Format(time.RFC3339Nano)

	if limit == nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO transactions (id, mandate_id, principal_id, status, amount_minor, created_at, updated_at, doc)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			txn.ID, txn.MandateID, txn.PrincipalID, string(txn.Status), txn.AmountMinor, created, updated, string(doc))
		if err != nil {
			return false, fmt.Errorf("insert transaction: %w", err)
		}
		return true, nil
	}

	// Conditional insert: the count guard and the insert are one statement,
	// so two concurrent spends cannot both observe free capacity.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, mandate_id, principal_id, status, amount_minor, created_at, updated_at, doc)
         SELECT ?, ?, ?, ?, ?, ?, ?, ?
         WHERE (SELECT COUNT(*) FROM transactions
                WHERE mandate_id = ? AND status IN ('pending', 'completed')) < ?`,
		txn.ID, txn.MandateID, txn.PrincipalID, string(txn.Status), txn.AmountMinor, created, updated, string(doc),
		txn.MandateID, *limit)
	if err != nil {
		return false, fmt.Errorf("reserve transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM transactions WHERE id = ?`, id)
	return scanTxnDoc(row)
}

func (s *SQLiteStore) Update(ctx context.Context, txn *Transaction, expect TxnStatus) (bool, error) {
	doc, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("marshal transaction: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ?, doc = ? WHERE id = ? AND status = ?`,
		string(txn.Status), txn.UpdatedAt.UTC().Format(time.RFC3339Nano), string(doc), txn.ID, string(expect))
	if err != nil {
		return false, fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id = ?`, txn.ID).Scan(&one)
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

func (s *SQLiteStore) Unreserve(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND status = 'pending'`, id)
	return err
}

func (s *SQLiteStore) CountedAgainstLimit(ctx context.Context, mandateID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE mandate_id = ? AND status IN ('pending', 'completed')`,
		mandateID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM transactions WHERE principal_id = ? ORDER BY created_at DESC LIMIT ?`,
		principalID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTxns(rows)
}

func (s *SQLiteStore) StatsByPrincipal(ctx context.Context, principalID string) (int, int64, *time.Time, error) {
	var (
		count   int
		total   sql.NullInt64
		lastRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(CASE WHEN status IN ('completed', 'refunded') THEN amount_minor ELSE 0 END), 0),
                MAX(created_at)
         FROM transactions WHERE principal_id = ?`, principalID).Scan(&count, &total, &lastRaw)
	if err != nil {
		return 0, 0, nil, err
	}
	var last *time.Time
	if lastRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRaw.String); err == nil {
			last = &t
		}
	}
	return count, total.Int64, last, nil
}

func (s *SQLiteStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM transactions WHERE status = 'pending' AND created_at < ? ORDER BY created_at ASC LIMIT ?`,
		cutoff.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTxns(rows)
}

type txnScanner interface {
	Scan(dest ...interface{}) error
}

func scanTxnDoc(row txnScanner) (*Transaction, error) {
	var doc string
	err := row.Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrTxnNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Transaction
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("unmarshal transaction doc: %w", err)
	}
	return &t, nil
}

func collectTxns(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t, err := scanTxnDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
