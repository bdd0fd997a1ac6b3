package escrow

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

// MemoryStore is an in-memory order store for demo mode and tests,
// backed by the shared in-memory ledger. Operations stage their order
// mutation and apply it only when the ledger unit commits, matching the
// atomicity of the SQL store.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	ledger *ledger.MemoryLedger
}

// NewMemoryStore creates an in-memory order store over the given ledger.
func NewMemoryStore(l *ledger.MemoryLedger) *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order), ledger: l}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return nil, apperr.Conflictf("order %s already exists", o.ID)
	}

	var buyer *ledger.Wallet
	err := m.ledger.Atomic(func(tx ledger.Tx) error {
		w, err := tx.GetOrCreate(ctx, o.BuyerID)
		if err != nil {
			return err
		}
		before := w.Available
		w, err = tx.MoveAvailableToLocked(ctx, o.BuyerID, o.Amount)
		if err != nil {
			return err
		}
		buyer = w
		return tx.Append(ctx, &ledger.Entry{
			UserID:        o.BuyerID,
			OrderID:       o.ID,
			Type:          ledger.TypeCreate,
			Amount:        o.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  w.Available,
			Description:   fmt.Sprintf("funds locked for order %s", o.ID),
		})
	})
	if err != nil {
		return nil, err
	}

	cp := *o
	m.orders[o.ID] = &cp
	return &Result{Order: o, Wallets: []*ledger.Wallet{buyer}}, nil
}

func (m *MemoryStore) Claim(ctx context.Context, orderID, settlerID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, apperr.Conflictf("order %s is %s, claim requires %s", o.ID, o.Status, StatusPending)
	}
	if o.BuyerID == settlerID {
		return nil, apperr.Conflictf("buyer cannot claim their own order")
	}

	var settler *ledger.Wallet
	err = m.ledger.Atomic(func(tx ledger.Tx) error {
		w, err := tx.GetOrCreate(ctx, settlerID)
		if err != nil {
			return err
		}
		before := w.Available
		w, err = tx.MoveAvailableToLocked(ctx, settlerID, o.Amount)
		if err != nil {
			return err
		}
		settler = w
		return tx.Append(ctx, &ledger.Entry{
			UserID:        settlerID,
			OrderID:       o.ID,
			Type:          ledger.TypeClaim,
			Amount:        o.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  w.Available,
			Description:   fmt.Sprintf("collateral locked for order %s", o.ID),
		})
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.SettlerID = settlerID
	o.Status = StatusClaimed
	o.ClaimedAt = &now
	o.UpdatedAt = now
	return &Result{Order: copyOrder(o), Wallets: []*ledger.Wallet{settler}}, nil
}

func (m *MemoryStore) MarkReady(_ context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusClaimed {
		return nil, apperr.Conflictf("order %s is %s, mark ready requires %s", o.ID, o.Status, StatusClaimed)
	}

	o.Status = StatusReady
	o.UpdatedAt = time.Now().UTC()
	return copyOrder(o), nil
}

func (m *MemoryStore) Dispute(_ context.Context, orderID, reason string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusClaimed && o.Status != StatusReady {
		return nil, apperr.Conflictf("order %s is %s, dispute requires %s or %s", o.ID, o.Status, StatusClaimed, StatusReady)
	}

	o.Status = StatusDisputed
	o.DisputeReason = reason
	o.UpdatedAt = time.Now().UTC()
	return copyOrder(o), nil
}

func (m *MemoryStore) Settle(ctx context.Context, orderID string, commission decimal.Decimal, cause ledger.EntryType) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	switch cause {
	case ledger.TypeComplete:
		if o.Status != StatusClaimed && o.Status != StatusReady {
			return nil, apperr.Conflictf("order %s is %s, complete requires %s or %s", o.ID, o.Status, StatusClaimed, StatusReady)
		}
	case ledger.TypeDisputeResolve:
		if o.Status != StatusDisputed {
			return nil, apperr.Conflictf("order %s is %s, resolve requires %s", o.ID, o.Status, StatusDisputed)
		}
	default:
		return nil, apperr.Validationf("unsupported settle cause %q", cause)
	}
	if commission.IsNegative() || commission.GreaterThanOrEqual(o.Amount) {
		return nil, apperr.Validationf("commission %s out of range for amount %s", commission, o.Amount)
	}

	var wallets []*ledger.Wallet
	err = m.ledger.Atomic(func(tx ledger.Tx) error {
		ws, err := settleLedger(ctx, tx, o, commission, cause)
		if err != nil {
			return err
		}
		wallets = ws
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.Status = StatusCompleted
	if cause == ledger.TypeDisputeResolve {
		o.Winner = WinnerSettler
	}
	o.ResolvedAt = &now
	o.UpdatedAt = now
	return &Result{Order: copyOrder(o), Wallets: wallets}, nil
}

func (m *MemoryStore) ResolveToBuyer(ctx context.Context, orderID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDisputed {
		return nil, apperr.Conflictf("order %s is %s, resolve requires %s", o.ID, o.Status, StatusDisputed)
	}

	var wallets []*ledger.Wallet
	err = m.ledger.Atomic(func(tx ledger.Tx) error {
		ws, err := unwindLedger(ctx, tx, o, ledger.TypeDisputeResolve)
		if err != nil {
			return err
		}
		wallets = ws
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.Status = StatusCompleted
	o.Winner = WinnerBuyer
	o.ResolvedAt = &now
	o.UpdatedAt = now
	return &Result{Order: copyOrder(o), Wallets: wallets}, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, orderID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.get(orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusPending, StatusClaimed, StatusReady:
	default:
		return nil, apperr.Conflictf("order %s is %s and cannot be cancelled", o.ID, o.Status)
	}

	var wallets []*ledger.Wallet
	err = m.ledger.Atomic(func(tx ledger.Tx) error {
		ws, err := unwindLedger(ctx, tx, o, ledger.TypeCancel)
		if err != nil {
			return err
		}
		wallets = ws
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.ResolvedAt = &now
	o.UpdatedAt = now
	return &Result{Order: copyOrder(o), Wallets: wallets}, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.BuyerID == userID || o.SettlerID == userID {
			result = append(result, copyOrder(o))
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == status {
			result = append(result, copyOrder(o))
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// get returns the live order; callers hold m.mu.
func (m *MemoryStore) get(id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFoundf("order %s", id)
	}
	return o, nil
}

func copyOrder(o *Order) *Order {
	cp := *o
	return &cp
}

func sortNewestFirst(orders []*Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
