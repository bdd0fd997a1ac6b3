package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/pagination"
)

// Querier is the subset of *sql.Tx (and *sql.DB) the SQL primitives use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLTx applies the ledger primitives inside a caller-owned database
// transaction. Every primitive locks the target wallet row with
// SELECT ... FOR UPDATE, so the lock is held until the caller commits or
// rolls back. Compose it with order/request row updates to make a whole
// lifecycle operation one atomic unit.
type SQLTx struct {
	q Querier
}

// NewSQLTx wraps a transaction (or plain DB handle) with the ledger
// primitives.
func NewSQLTx(q Querier) *SQLTx {
	return &SQLTx{q: q}
}

func (t *SQLTx) GetOrCreate(ctx context.Context, userID string) (*Wallet, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available_balance, locked_balance, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return t.lock(ctx, userID)
}

// lock acquires the row lock and returns the current wallet state.
func (t *SQLTx) lock(ctx context.Context, userID string) (*Wallet, error) {
	w := &Wallet{UserID: userID}
	err := t.q.QueryRowContext(ctx, `
		SELECT available_balance, locked_balance, updated_at
		FROM wallets WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&w.Available, &w.Locked, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("wallet for user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	return w, nil
}

func (t *SQLTx) update(ctx context.Context, w *Wallet) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE wallets
		SET available_balance = $2, locked_balance = $3, updated_at = NOW()
		WHERE user_id = $1
	`, w.UserID, w.Available, w.Locked)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", w.UserID, err)
	}
	return nil
}

func (t *SQLTx) MoveAvailableToLocked(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("lock amount must be positive, got %s", amount)
	}
	w, err := t.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.Available.LessThan(amount) {
		return nil, apperr.InsufficientFundsf("user %s has %s available, needs %s", userID, w.Available, amount)
	}
	w.Available = w.Available.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	if err := t.update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *SQLTx) MoveLockedToAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("unlock amount must be positive, got %s", amount)
	}
	w, err := t.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.Locked.LessThan(amount) {
		// Locked funds smaller than what we are releasing is a ledger
		// bookkeeping bug, not a user error.
		return nil, apperr.Conflictf("user %s has %s locked, releasing %s", userID, w.Locked, amount)
	}
	w.Locked = w.Locked.Sub(amount)
	w.Available = w.Available.Add(amount)
	if err := t.update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *SQLTx) CreditAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("credit amount must be positive, got %s", amount)
	}
	w, err := t.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.Available = w.Available.Add(amount)
	if err := t.update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *SQLTx) DebitAvailable(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validationf("debit amount must be positive, got %s", amount)
	}
	w, err := t.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.Available.LessThan(amount) {
		return nil, apperr.InsufficientFundsf("user %s has %s available, debiting %s", userID, w.Available, amount)
	}
	w.Available = w.Available.Sub(amount)
	if err := t.update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *SQLTx) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("txn_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var orderID any
	if e.OrderID != "" {
		orderID = e.OrderID
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO transactions
			(id, user_id, order_id, type, amount, balance_before, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, orderID, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter, e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// PostgresStore implements Reader against PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger reader.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	w := &Wallet{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT available_balance, locked_balance, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.Available, &w.Locked, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Wallet{
			UserID:    userID,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			UpdatedAt: time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	return w, nil
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	query := `
		SELECT id, user_id, COALESCE(order_id, ''), type, amount,
		       balance_before, balance_after, COALESCE(description, ''), created_at
		FROM transactions
		WHERE user_id = $1`
	args := []any{userID}

	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &typ, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) ReplaySum(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1
	`, userID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay sum: %w", err)
	}
	return sum, nil
}
