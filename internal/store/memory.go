package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/haldenbank/corebank/internal/domain"
)

// Memory is an in-memory Store used by unit tests and the seeder. It is
// safe for concurrent use; PostUnit stages copies and swaps them in on
// commit, so a failed unit leaves no trace.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	txs      map[string]*domain.Transaction
	byRef    map[string]string
	history  map[string][]domain.HistoryEntry

	lockMu  sync.Mutex
	lockMap map[string]*sync.Mutex

	// CommitHook, when set, runs after the unit callback succeeds and
	// before the staged state commits; an error aborts the whole unit.
	CommitHook func() error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*domain.Account),
		txs:      make(map[string]*domain.Transaction),
		byRef:    make(map[string]string),
		history:  make(map[string][]domain.HistoryEntry),
		lockMap:  make(map[string]*sync.Mutex),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) accountLock(userID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if _, ok := m.lockMap[userID]; !ok {
		m.lockMap[userID] = &sync.Mutex{}
	}
	return m.lockMap[userID]
}

func (m *Memory) CreateAccount(_ context.Context, acc *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acc.UserID]; ok {
		return fmt.Errorf("account %s already exists", acc.UserID)
	}
	m.accounts[acc.UserID] = cloneAccount(acc)
	return nil
}

func (m *Memory) GetAccount(_ context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (m *Memory) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[tx.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	m.txs[tx.ID] = cloneTransaction(tx)
	m.byRef[tx.Reference] = tx.ID
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *Memory) GetTransactionByReference(_ context.Context, ref string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTransaction(m.txs[id]), nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	m.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (m *Memory) UpsertHistory(_ context.Context, userID string, e domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[userID] = upsertHistory(m.history[userID], e)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, userID string, f domain.HistoryFilter, p domain.Page) ([]domain.HistoryEntry, domain.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.history[userID]
	var matched []domain.HistoryEntry
	totals := domain.Totals{Credits: decimal.Zero, Debits: decimal.Zero}
	// newest first
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !f.Matches(e) {
			continue
		}
		matched = append(matched, e)
		if e.Type.IsCredit() {
			totals.Credits = totals.Credits.Add(e.Amount)
		} else {
			totals.Debits = totals.Debits.Add(e.Amount)
		}
	}

	if p.Offset >= len(matched) {
		return nil, totals, nil
	}
	matched = matched[p.Offset:]
	if p.Limit > 0 && p.Limit < len(matched) {
		matched = matched[:p.Limit]
	}
	return matched, totals, nil
}

func (m *Memory) PostUnit(_ context.Context, userID string, fn func(Unit) error) error {
	lock := m.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	acc, ok := m.accounts[userID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrAccountNotFound
	}
	u := &memUnit{
		store:   m,
		acc:     cloneAccount(acc),
		history: append([]domain.HistoryEntry(nil), m.history[userID]...),
		txs:     make(map[string]*domain.Transaction),
	}
	m.mu.Unlock()

	if err := fn(u); err != nil {
		return err
	}
	if m.CommitHook != nil {
		if err := m.CommitHook(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = u.acc
	for id, tx := range u.txs {
		m.txs[id] = tx
		m.byRef[tx.Reference] = id
	}
	m.history[userID] = u.history
	return nil
}

// memUnit stages all mutations against copies; Memory.PostUnit swaps them
// in only after the callback succeeds.
type memUnit struct {
	store   *Memory
	acc     *domain.Account
	history []domain.HistoryEntry
	txs     map[string]*domain.Transaction
}

func (u *memUnit) GetTransaction(id string) (*domain.Transaction, error) {
	if tx, ok := u.txs[id]; ok {
		return cloneTransaction(tx), nil
	}
	return u.store.GetTransaction(context.Background(), id)
}

func (u *memUnit) UpdateTransaction(tx *domain.Transaction) error {
	u.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (u *memUnit) ApplyBalanceDelta(t domain.AccountType, delta decimal.Decimal) (decimal.Decimal, error) {
	after := u.acc.Balance(t).Add(delta)
	u.acc.SetBalance(t, after)
	return after, nil
}

func (u *memUnit) ApplyEURDelta(delta decimal.Decimal) (decimal.Decimal, error) {
	u.acc.EURBalance = u.acc.EURBalance.Add(delta)
	return u.acc.EURBalance, nil
}

func (u *memUnit) UpsertHistory(e domain.HistoryEntry) error {
	u.history = upsertHistory(u.history, e)
	return nil
}

// upsertHistory replaces the entry with the same transaction id in place,
// or appends and evicts the oldest past the cap.
func upsertHistory(entries []domain.HistoryEntry, e domain.HistoryEntry) []domain.HistoryEntry {
	for i := range entries {
		if entries[i].TransactionID == e.TransactionID {
			entries[i] = e
			return entries
		}
	}
	entries = append(entries, e)
	if len(entries) > domain.HistoryCap {
		entries = entries[len(entries)-domain.HistoryCap:]
	}
	return entries
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.PostedAt != nil {
		v := *t.PostedAt
		c.PostedAt = &v
	}
	if t.OriginalDate != nil {
		v := *t.OriginalDate
		c.OriginalDate = &v
	}
	if t.ReviewedAt != nil {
		v := *t.ReviewedAt
		c.ReviewedAt = &v
	}
	if t.Transfer != nil {
		d := *t.Transfer
		if t.Transfer.External != nil {
			e := *t.Transfer.External
			d.External = &e
		}
		if t.Transfer.Wire != nil {
			w := *t.Transfer.Wire
			d.Wire = &w
		}
		c.Transfer = &d
	}
	return &c
}
