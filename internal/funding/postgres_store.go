package funding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, user_id, type, amount, COALESCE(currency, ''), status,
	COALESCE(gateway_ref, ''), metadata, COALESCE(reviewed_by, ''),
	COALESCE(review_note, ''), reviewed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *TransactionRequest) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return err
	}
	var currency any
	if r.Currency != "" {
		currency = r.Currency
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO transaction_requests
			(id, user_id, type, amount, currency, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, string(r.Type), r.Amount, currency, string(r.Status), metadata, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*TransactionRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM transaction_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("request %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return r, nil
}

func (p *PostgresStore) GetByGatewayRef(ctx context.Context, ref string) (*TransactionRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM transaction_requests WHERE gateway_ref = $1`, ref)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("request with gateway ref %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get request by ref %s: %w", ref, err)
	}
	return r, nil
}

func (p *PostgresStore) SetGatewayRef(ctx context.Context, id, ref string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transaction_requests SET gateway_ref = $2, updated_at = NOW() WHERE id = $1
	`, id, ref)
	if err != nil {
		return fmt.Errorf("set gateway ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("request %s", id)
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*TransactionRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM transaction_requests
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*TransactionRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM transaction_requests
		WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) Review(ctx context.Context, params ReviewParams) (*TransactionRequest, *ledger.Wallet, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM transaction_requests WHERE id = $1 FOR UPDATE
	`, params.RequestID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil, apperr.NotFoundf("request %s", params.RequestID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock request %s: %w", params.RequestID, err)
	}
	if r.Status != StatusPending {
		return nil, nil, apperr.Conflictf("request %s already %s", r.ID, r.Status)
	}

	status := StatusRejected
	if params.Approve {
		status = StatusApproved
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE transaction_requests
		SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, r.ID, string(status), params.ReviewerID, params.Note)
	if err != nil {
		return nil, nil, fmt.Errorf("update request: %w", err)
	}

	var wallet *ledger.Wallet
	if params.Approve {
		wallet, err = applyApproval(ctx, ledger.NewSQLTx(tx), r, params.CreditAmount)
		if err != nil {
			// Rollback leaves the request pending.
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	r, err = p.Get(ctx, params.RequestID)
	if err != nil {
		return nil, nil, err
	}
	return r, wallet, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*TransactionRequest, error) {
	r := &TransactionRequest{}
	var typ, status string
	var metadata []byte
	var reviewedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.UserID, &typ, &r.Amount, &r.Currency, &status,
		&r.GatewayRef, &metadata, &r.ReviewedBy, &r.ReviewNote,
		&reviewedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Type = RequestType(typ)
	r.Status = RequestStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, err
		}
	}
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Time
	}
	return r, nil
}

func scanRequests(rows *sql.Rows) ([]*TransactionRequest, error) {
	var requests []*TransactionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
