package user

import (
	"context"
	"sync"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

// MemoryStore is an in-memory user store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	ledger *ledger.MemoryLedger
}

// NewMemoryStore creates an in-memory user store backed by the shared
// in-memory ledger (for wallet creation).
func NewMemoryStore(l *ledger.MemoryLedger) *MemoryStore {
	return &MemoryStore{users: make(map[string]*User), ledger: l}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) (*ledger.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return nil, apperr.Conflictf("user %s already exists", u.ID)
	}

	var w *ledger.Wallet
	err := m.ledger.Atomic(func(tx ledger.Tx) error {
		var err error
		w, err = tx.GetOrCreate(ctx, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	cp := *u
	m.users[u.ID] = &cp
	return w, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFoundf("user %s", id)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*User
	for _, u := range m.users {
		cp := *u
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFoundf("user %s", id)
	}
	u.Status = status
	cp := *u
	return &cp, nil
}
