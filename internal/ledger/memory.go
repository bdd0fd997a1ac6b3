package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/pagination"
)

// MemoryLedger keeps wallets and audit entries in memory for demo mode
// and unit tests. Atomic units are serialized under one mutex and staged
// so that a failed unit leaves no partial effects, mirroring the rollback
// guarantees of the SQL implementation.
type MemoryLedger struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	entries []*Entry
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{wallets: make(map[string]*Wallet)}
}

// Atomic runs fn as one atomic unit. Wallet mutations and appended
// entries are staged and applied only when fn returns nil.
func (m *MemoryLedger) Atomic(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{ml: m, staged: make(map[string]*Wallet)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, w := range tx.staged {
		cp := *w
		m.wallets[id] = &cp
	}
	m.entries = append(m.entries, tx.entries...)
	return nil
}

type memTx struct {
	ml      *MemoryLedger
	staged  map[string]*Wallet
	entries []*Entry
}

func (t *memTx) wallet(userID string) *Wallet {
	if w, ok := t.staged[userID]; ok {
		return w
	}
	w := &Wallet{UserID: userID, Available: decimal.Zero, Locked: decimal.Zero, UpdatedAt: time.Now().UTC()}
	if existing, ok := t.ml.wallets[userID]; ok {
		cp := *existing
		w = &cp
	}
	t.staged[userID] = w
	return w
}

func (t *memTx) GetOrCreate(_ context.Context, userID string) (*Wallet, error) {
	w := t.wallet(userID)
	cp := *w
	return &cp, nil
}

func (t *memTx) MoveAvailableToLocked(_ context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("lock amount must be positive, got %s", amount)
	}
	w := t.wallet(userID)
	if w.Available.LessThan(amount) {
		return nil, apperr.InsufficientFundsf("user %s has %s available, needs %s", userID, w.Available, amount)
	}
	w.Available = w.Available.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (t *memTx) MoveLockedToAvailable(_ context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("unlock amount must be positive, got %s", amount)
	}
	w := t.wallet(userID)
	if w.Locked.LessThan(amount) {
		return nil, apperr.Conflictf("user %s has %s locked, releasing %s", userID, w.Locked, amount)
	}
	w.Locked = w.Locked.Sub(amount)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (t *memTx) CreditAvailable(_ context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("credit amount must be positive, got %s", amount)
	}
	w := t.wallet(userID)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (t *memTx) DebitAvailable(_ context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("debit amount must be positive, got %s", amount)
	}
	w := t.wallet(userID)
	if w.Available.LessThan(amount) {
		return nil, apperr.InsufficientFundsf("user %s has %s available, debiting %s", userID, w.Available, amount)
	}
	w.Available = w.Available.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (t *memTx) Append(_ context.Context, e *Entry) error {
	cp := *e
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("txn_")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	t.entries = append(t.entries, &cp)
	return nil
}

// Wallet implements Reader.
func (m *MemoryLedger) Wallet(_ context.Context, userID string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	return &Wallet{
		UserID:    userID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// History implements Reader, newest first.
func (m *MemoryLedger) History(_ context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if cursor != nil && !beforeCursor(e, cursor) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// beforeCursor reports whether e comes strictly after the cursor position
// in the newest-first stream.
func beforeCursor(e *Entry, c *pagination.Cursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID < c.ID
}

// ReplaySum implements Reader.
func (m *MemoryLedger) ReplaySum(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, e := range m.entries {
		if e.UserID == userID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}
