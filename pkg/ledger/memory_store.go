package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quorumpay/mandate/pkg/audit"
)

// MemoryStore implements TransactionStore in memory. A single mutex makes
// Reserve's check-and-insert indivisible.
type MemoryStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txns: make(map[string]*Transaction)}
}

func (s *MemoryStore) countedLocked(mandateID string) int {
	n := 0
	for _, t := range s.txns {
		if t.MandateID == mandateID && (t.Status == TxnPending || t.Status == TxnCompleted) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Reserve(ctx context.Context, txn *Transaction, limit *int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit != nil && s.countedLocked(txn.MandateID) >= *limit {
		return false, nil
	}
	val := cloneTxn(txn)
	s.txns[txn.ID] = val
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTxnNotFound
	}
	return cloneTxn(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, txn *Transaction, expect TxnStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.txns[txn.ID]
	if !ok {
		return false, ErrTxnNotFound
	}
	if cur.Status != expect {
		return false, nil
	}
	s.txns[txn.ID] = cloneTxn(txn)
	return true, nil
}

func (s *MemoryStore) Unreserve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txns, id)
	return nil
}

func (s *MemoryStore) CountedAgainstLimit(ctx context.Context, mandateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countedLocked(mandateID), nil
}

func (s *MemoryStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.PrincipalID == principalID {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) StatsByPrincipal(ctx context.Context, principalID string) (int, int64, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		count int
		total int64
		last  *time.Time
	)
	for _, t := range s.txns {
		if t.PrincipalID != principalID {
			continue
		}
		count++
		if t.Status == TxnCompleted || t.Status == TxnRefunded {
			total += t.AmountMinor
		}
		if last == nil || t.CreatedAt.After(*last) {
			ts := t.CreatedAt
			last = &ts
		}
	}
	return count, total, last, nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.Status == TxnPending && t.CreatedAt.Before(cutoff) {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTxn(t *Transaction) *Transaction {
	val := *t
	if t.Metadata != nil {
		val.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			val.Metadata[k] = v
		}
	}
	val.Audit = append([]audit.Entry(nil), t.Audit...)
	return &val
}
