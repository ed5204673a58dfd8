package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corebank/ledger/internal/models"
)

// MemStore is the in-process map backend. It has no native transaction
// isolation, so serialization comes from the per-key gate: a unit of work
// holds the gate for every account it lock-reads until commit or rollback.
// Writes are buffered in the unit of work and applied in one critical
// section, so a failed multi-step mutation leaves nothing behind.
type MemStore struct {
	gate *KeyLock

	mu       sync.RWMutex
	persons  map[string]struct{}
	accounts map[string]*models.Account
	journal  []models.Transaction
	byKey    map[string]int // idempotency key -> journal index
}

func NewMemStore() *MemStore {
	return &MemStore{
		gate:     NewKeyLock(),
		persons:  make(map[string]struct{}),
		accounts: make(map[string]*models.Account),
		byKey:    make(map[string]int),
	}
}

// Gate exposes the serialization gate so the owner can run its idle sweeper.
func (s *MemStore) Gate() *KeyLock { return s.gate }

// AddPerson registers an owner reference. Stands in for the persons table a
// relational backend enforces through a foreign key.
func (s *MemStore) AddPerson(personID string) {
	s.mu.Lock()
	s.persons[personID] = struct{}{}
	s.mu.Unlock()
}

func (s *MemStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) matches(t *models.Transaction, f TransactionFilter) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if !f.From.IsZero() && t.TransactionDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.TransactionDate.Before(f.To) {
		return false
	}
	return true
}

func (s *MemStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	s.mu.RLock()
	matched := []int{}
	for i := range s.journal {
		if s.matches(&s.journal[i], f) {
			matched = append(matched, i)
		}
	}
	// Newest first, matching the relational adapter's ordering. Entries
	// sharing a timestamp order by journal recency so ties stay
	// deterministic.
	sort.Slice(matched, func(i, j int) bool {
		a, b := &s.journal[matched[i]], &s.journal[matched[j]]
		if a.TransactionDate.Equal(b.TransactionDate) {
			return matched[i] > matched[j]
		}
		return a.TransactionDate.After(b.TransactionDate)
	})
	out := make([]models.Transaction, 0, len(matched))
	for _, i := range matched {
		out = append(out, s.journal[i])
	}
	s.mu.RUnlock()

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Transaction{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) CountTransactions(ctx context.Context, f TransactionFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for i := range s.journal {
		if s.matches(&s.journal[i], f) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) SumByRange(ctx context.Context, f TransactionFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for i := range s.journal {
		if s.matches(&s.journal[i], f) {
			sum += s.journal[i].Value
		}
	}
	return sum, nil
}

// IsRetryable is always false: the map backend has no transient contention
// failures, the gate blocks instead of erroring.
func (s *MemStore) IsRetryable(err error) bool { return false }

func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{
		store:    s,
		releases: make(map[string]func()),
		balances: make(map[string]int64),
		flags:    make(map[string]bool),
		keys:     make(map[string]struct{}),
	}, nil
}

type memTx struct {
	store *MemStore

	releases map[string]func() // gate releases by account key
	accounts []*models.Account
	entries  []models.Transaction
	balances map[string]int64
	flags    map[string]bool
	keys     map[string]struct{} // idempotency keys staged in this tx
	done     bool
}

func (t *memTx) LockAccountForUpdate(ctx context.Context, accountID string) (*models.Account, error) {
	if _, held := t.releases[accountID]; !held {
		t.releases[accountID] = t.store.gate.Acquire(accountID)
	}
	return t.store.GetAccount(ctx, accountID)
}

func (t *memTx) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	idx, ok := t.store.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := t.store.journal[idx]
	return &cp, nil
}

func (t *memTx) InsertAccount(ctx context.Context, acct *models.Account) error {
	t.store.mu.RLock()
	_, personOK := t.store.persons[acct.PersonID]
	t.store.mu.RUnlock()
	if !personOK {
		return ErrPersonNotFound
	}
	cp := *acct
	t.accounts = append(t.accounts, &cp)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, entry *models.Transaction) error {
	if entry.IdempotencyKey != "" {
		if _, staged := t.keys[entry.IdempotencyKey]; staged {
			return ErrDuplicateIdempotencyKey
		}
		t.store.mu.RLock()
		_, exists := t.store.byKey[entry.IdempotencyKey]
		t.store.mu.RUnlock()
		if exists {
			return ErrDuplicateIdempotencyKey
		}
		t.keys[entry.IdempotencyKey] = struct{}{}
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memTx) SetBalance(ctx context.Context, accountID string, balance int64) error {
	t.balances[accountID] = balance
	return nil
}

func (t *memTx) SetActiveFlag(ctx context.Context, accountID string, active bool) error {
	if !t.staged(accountID) {
		t.store.mu.RLock()
		_, ok := t.store.accounts[accountID]
		t.store.mu.RUnlock()
		if !ok {
			return ErrAccountNotFound
		}
	}
	t.flags[accountID] = active
	return nil
}

func (t *memTx) staged(accountID string) bool {
	for _, a := range t.accounts {
		if a.ID == accountID {
			return true
		}
	}
	return false
}

func (t *memTx) SumAbsoluteDebitsForDay(ctx context.Context, accountID string, day time.Time) (int64, error) {
	day = debitDay(day)
	var sum int64
	t.store.mu.RLock()
	for i := range t.store.journal {
		e := &t.store.journal[i]
		if e.AccountID == accountID && e.Value < 0 && debitDay(e.TransactionDate).Equal(day) {
			sum += -e.Value
		}
	}
	t.store.mu.RUnlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.AccountID == accountID && e.Value < 0 && debitDay(e.TransactionDate).Equal(day) {
			sum += -e.Value
		}
	}
	return sum, nil
}

// Commit applies every staged write in one critical section. The global
// idempotency-key uniqueness is re-checked here: the gate only serializes
// per account, and a key can race across two accounts.
func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	defer t.finish()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range t.entries {
		if key := t.entries[i].IdempotencyKey; key != "" {
			if _, exists := s.byKey[key]; exists {
				return ErrDuplicateIdempotencyKey
			}
		}
	}

	for _, a := range t.accounts {
		cp := *a
		s.accounts[cp.ID] = &cp
	}
	for id, balance := range t.balances {
		if a, ok := s.accounts[id]; ok {
			a.Balance = balance
		}
	}
	for id, active := range t.flags {
		if a, ok := s.accounts[id]; ok {
			a.Active = active
		}
	}
	for i := range t.entries {
		s.journal = append(s.journal, t.entries[i])
		if key := t.entries[i].IdempotencyKey; key != "" {
			s.byKey[key] = len(s.journal) - 1
		}
	}
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	for _, release := range t.releases {
		release()
	}
}
