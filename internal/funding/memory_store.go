package funding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

// MemoryStore is an in-memory request store for demo mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*TransactionRequest
	ledger   *ledger.MemoryLedger
}

// NewMemoryStore creates an in-memory request store over the given ledger.
func NewMemoryStore(l *ledger.MemoryLedger) *MemoryStore {
	return &MemoryStore{requests: make(map[string]*TransactionRequest), ledger: l}
}

func (m *MemoryStore) Create(_ context.Context, r *TransactionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ID]; ok {
		return apperr.Conflictf("request %s already exists", r.ID)
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*TransactionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFoundf("request %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByGatewayRef(_ context.Context, ref string) (*TransactionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.requests {
		if r.GatewayRef == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.NotFoundf("request with gateway ref %s", ref)
}

func (m *MemoryStore) SetGatewayRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return apperr.NotFoundf("request %s", id)
	}
	r.GatewayRef = ref
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*TransactionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransactionRequest
	for _, r := range m.requests {
		if r.UserID == userID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]*TransactionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransactionRequest
	for _, r := range m.requests {
		if r.Status == StatusPending {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Review(ctx context.Context, p ReviewParams) (*TransactionRequest, *ledger.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[p.RequestID]
	if !ok {
		return nil, nil, apperr.NotFoundf("request %s", p.RequestID)
	}
	if r.Status != StatusPending {
		return nil, nil, apperr.Conflictf("request %s already %s", r.ID, r.Status)
	}

	var wallet *ledger.Wallet
	if p.Approve {
		err := m.ledger.Atomic(func(tx ledger.Tx) error {
			w, err := applyApproval(ctx, tx, r, p.CreditAmount)
			if err != nil {
				return err
			}
			wallet = w
			return nil
		})
		if err != nil {
			// The request stays pending; a withdrawal can be retried once
			// the balance allows it.
			return nil, nil, err
		}
		r.Status = StatusApproved
	} else {
		r.Status = StatusRejected
	}

	now := time.Now().UTC()
	r.ReviewedBy = p.ReviewerID
	r.ReviewNote = p.Note
	r.ReviewedAt = &now
	r.UpdatedAt = now

	cp := *r
	return &cp, wallet, nil
}

// applyApproval moves the money for an approved request: deposits credit
// the converted amount, withdrawals debit the requested amount. Shared
// by both store implementations.
func applyApproval(ctx context.Context, tx ledger.Tx, r *TransactionRequest, creditAmount decimal.Decimal) (*ledger.Wallet, error) {
	switch r.Type {
	case TypeDeposit:
		before, err := tx.GetOrCreate(ctx, r.UserID)
		if err != nil {
			return nil, err
		}
		w, err := tx.CreditAvailable(ctx, r.UserID, creditAmount)
		if err != nil {
			return nil, err
		}
		err = tx.Append(ctx, &ledger.Entry{
			UserID:        r.UserID,
			Type:          ledger.TypeDeposit,
			Amount:        creditAmount,
			BalanceBefore: before.Available,
			BalanceAfter:  w.Available,
			Description:   fmt.Sprintf("deposit %s approved", r.ID),
		})
		if err != nil {
			return nil, err
		}
		return w, nil

	case TypeWithdrawal:
		before, err := tx.GetOrCreate(ctx, r.UserID)
		if err != nil {
			return nil, err
		}
		w, err := tx.DebitAvailable(ctx, r.UserID, r.Amount)
		if err != nil {
			return nil, err
		}
		err = tx.Append(ctx, &ledger.Entry{
			UserID:        r.UserID,
			Type:          ledger.TypeWithdrawal,
			Amount:        r.Amount.Neg(),
			BalanceBefore: before.Available,
			BalanceAfter:  w.Available,
			Description:   fmt.Sprintf("withdrawal %s approved", r.ID),
		})
		if err != nil {
			return nil, err
		}
		return w, nil

	default:
		return nil, apperr.Validationf("unknown request type %q", r.Type)
	}
}
