// Package ledger owns the dual-balance wallet and the append-only
// transaction audit trail.
//
// Every user has exactly one wallet with two buckets:
//
//	available_balance: spendable funds
//	locked_balance:    funds frozen against an open order
//
// Both buckets are non-negative at all times. Their sum only changes via
// a credit or debit; lock/unlock transfers are zero-sum within a wallet.
//
// The primitives on Tx are not idempotent: callers own at-most-once
// invocation for each logical event, and every primitive is paired with
// an audit Entry inside the same transaction.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/pagination"
)

// Wallet is a user's dual-balance wallet.
type Wallet struct {
	UserID    string          `json:"userId"`
	Available decimal.Decimal `json:"availableBalance"`
	Locked    decimal.Decimal `json:"lockedBalance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// EntryType is the cause of an audit entry.
type EntryType string

const (
	TypeCreate         EntryType = "CREATE"
	TypeClaim          EntryType = "CLAIM"
	TypeComplete       EntryType = "COMPLETE"
	TypeCancel         EntryType = "CANCEL"
	TypeDisputeResolve EntryType = "DISPUTE_RESOLVE"
	TypeDeposit        EntryType = "DEPOSIT"
	TypeWithdrawal     EntryType = "WITHDRAWAL"
	TypeCommission     EntryType = "COMMISSION"
)

// Entry is one immutable audit-trail row. Amount is the signed change to
// the user's available balance; BalanceBefore/BalanceAfter snapshot the
// available balance around it. Entries are never updated or deleted.
type Entry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	OrderID       string          `json:"orderId,omitempty"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Tx is one atomic unit of wallet and audit work. Implementations hold a
// lock on every wallet row they touch until the enclosing transaction
// commits or rolls back; on rollback none of the effects are observable.
type Tx interface {
	// GetOrCreate returns the user's wallet, creating a zero-balance row
	// if none existed. It never fails on a missing wallet.
	GetOrCreate(ctx context.Context, userID string) (*Wallet, error)

	// MoveAvailableToLocked freezes amount against an order. Requires
	// amount > 0 (apperr.ErrValidation) and available >= amount
	// (apperr.ErrInsufficientFunds).
	MoveAvailableToLocked(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error)

	// MoveLockedToAvailable releases previously frozen funds. A locked
	// balance smaller than amount signals a bookkeeping bug, not a user
	// error, and fails with apperr.ErrConflict.
	MoveLockedToAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error)

	// CreditAvailable adds external funds to the available balance.
	CreditAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error)

	// DebitAvailable removes external funds from the available balance,
	// failing with apperr.ErrInsufficientFunds if it would go negative.
	DebitAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error)

	// Append inserts an audit entry. It performs no validation beyond
	// required fields and succeeds iff the transaction commits.
	Append(ctx context.Context, e *Entry) error
}

// Reader provides read access to wallets and the audit trail.
type Reader interface {
	// Wallet returns the user's wallet snapshot, or a zero-balance
	// wallet if none exists yet.
	Wallet(ctx context.Context, userID string) (*Wallet, error)

	// History returns the user's audit entries, newest first. A non-nil
	// cursor resumes after the given (createdAt, id) position.
	History(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Entry, error)

	// ReplaySum folds all of the user's entry amounts in creation order
	// starting from zero. For a consistent ledger it equals the wallet's
	// current available balance exactly.
	ReplaySum(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Replayed reports whether the audit trail reproduces the wallet's
// available balance, surfacing both sides for diagnostics.
type Replayed struct {
	UserID     string          `json:"userId"`
	Available  decimal.Decimal `json:"availableBalance"`
	ReplaySum  decimal.Decimal `json:"replaySum"`
	Consistent bool            `json:"consistent"`
}

// CheckReplay runs the replay invariant for one user against a Reader.
func CheckReplay(ctx context.Context, r Reader, userID string) (*Replayed, error) {
	w, err := r.Wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := r.ReplaySum(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Replayed{
		UserID:     userID,
		Available:  w.Available,
		ReplaySum:  sum,
		Consistent: sum.Equal(w.Available),
	}, nil
}
