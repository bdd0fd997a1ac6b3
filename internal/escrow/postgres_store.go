package escrow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL. Each mutating method
// opens one transaction, locks the order row, applies the wallet moves
// through the ledger primitives, updates the order, and commits. The
// order row lock serializes concurrent lifecycle calls on the same
// order; the loser re-reads a changed status and fails its precondition.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `
	id, buyer_id, COALESCE(settler_id, ''), amount, COALESCE(description, ''),
	status, COALESCE(winner, ''), COALESCE(dispute_reason, ''),
	claimed_at, resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, amount, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.BuyerID, o.Amount, o.Description, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	lt := ledger.NewSQLTx(tx)
	before, err := lt.GetOrCreate(ctx, o.BuyerID)
	if err != nil {
		return nil, err
	}
	buyer, err := lt.MoveAvailableToLocked(ctx, o.BuyerID, o.Amount)
	if err != nil {
		return nil, err
	}
	err = lt.Append(ctx, &ledger.Entry{
		UserID:        o.BuyerID,
		OrderID:       o.ID,
		Type:          ledger.TypeCreate,
		Amount:        o.Amount.Neg(),
		BalanceBefore: before.Available,
		BalanceAfter:  buyer.Available,
		Description:   fmt.Sprintf("funds locked for order %s", o.ID),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Result{Order: o, Wallets: []*ledger.Wallet{buyer}}, nil
}

func (p *PostgresStore) Claim(ctx context.Context, orderID, settlerID string) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, apperr.Conflictf("order %s is %s, claim requires %s", o.ID, o.Status, StatusPending)
	}
	if o.BuyerID == settlerID {
		return nil, apperr.Conflictf("buyer cannot claim their own order")
	}

	lt := ledger.NewSQLTx(tx)
	before, err := lt.GetOrCreate(ctx, settlerID)
	if err != nil {
		return nil, err
	}
	settler, err := lt.MoveAvailableToLocked(ctx, settlerID, o.Amount)
	if err != nil {
		return nil, err
	}
	err = lt.Append(ctx, &ledger.Entry{
		UserID:        settlerID,
		OrderID:       o.ID,
		Type:          ledger.TypeClaim,
		Amount:        o.Amount.Neg(),
		BalanceBefore: before.Available,
		BalanceAfter:  settler.Available,
		Description:   fmt.Sprintf("collateral locked for order %s", o.ID),
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET settler_id = $2, status = $3, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, o.ID, settlerID, string(StatusClaimed))
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return p.result(ctx, orderID, settler)
}

func (p *PostgresStore) MarkReady(ctx context.Context, orderID string) (*Order, error) {
	return p.transition(ctx, orderID, StatusReady, "mark ready", StatusClaimed)
}

func (p *PostgresStore) Dispute(ctx context.Context, orderID, reason string) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusClaimed && o.Status != StatusReady {
		return nil, apperr.Conflictf("order %s is %s, dispute requires %s or %s", o.ID, o.Status, StatusClaimed, StatusReady)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, dispute_reason = $3, updated_at = NOW()
		WHERE id = $1
	`, orderID, string(StatusDisputed), reason)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.Get(ctx, orderID)
}

func (p *PostgresStore) Settle(ctx context.Context, orderID string, commission decimal.Decimal, cause ledger.EntryType) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
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

	wallets, err := settleLedger(ctx, ledger.NewSQLTx(tx), o, commission, cause)
	if err != nil {
		return nil, err
	}

	var winner any
	if cause == ledger.TypeDisputeResolve {
		winner = string(WinnerSettler)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, winner = COALESCE($3, winner), resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, orderID, string(StatusCompleted), winner)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.result(ctx, orderID, wallets...)
}

func (p *PostgresStore) ResolveToBuyer(ctx context.Context, orderID string) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDisputed {
		return nil, apperr.Conflictf("order %s is %s, resolve requires %s", o.ID, o.Status, StatusDisputed)
	}

	wallets, err := unwindLedger(ctx, ledger.NewSQLTx(tx), o, ledger.TypeDisputeResolve)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, winner = $3, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, orderID, string(StatusCompleted), string(WinnerBuyer))
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.result(ctx, orderID, wallets...)
}

func (p *PostgresStore) Cancel(ctx context.Context, orderID string) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusPending, StatusClaimed, StatusReady:
	default:
		return nil, apperr.Conflictf("order %s is %s and cannot be cancelled", o.ID, o.Status)
	}

	wallets, err := unwindLedger(ctx, ledger.NewSQLTx(tx), o, ledger.TypeCancel)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, orderID, string(StatusCancelled))
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.result(ctx, orderID, wallets...)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("order %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 OR settler_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1
		ORDER BY created_at DESC LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// result re-reads the committed order and pairs it with the wallets the
// operation touched.
func (p *PostgresStore) result(ctx context.Context, orderID string, wallets ...*ledger.Wallet) (*Result, error) {
	o, err := p.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Result{Order: o, Wallets: wallets}, nil
}

// transition performs a funds-free status change under the order row lock.
func (p *PostgresStore) transition(ctx context.Context, orderID string, to Status, op string, from ...Status) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperr.Conflictf("order %s is %s, %s requires %s", o.ID, o.Status, op, from)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, orderID, string(to))
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.Get(ctx, orderID)
}

// getOrderForUpdate locks the order row for the rest of the transaction.
func getOrderForUpdate(ctx context.Context, tx *sql.Tx, id string) (*Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("order %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var status, winner string
	var claimedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SettlerID, &o.Amount, &o.Description,
		&status, &winner, &o.DisputeReason,
		&claimedAt, &resolvedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.Winner = Winner(winner)
	if claimedAt.Valid {
		o.ClaimedAt = &claimedAt.Time
	}
	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
