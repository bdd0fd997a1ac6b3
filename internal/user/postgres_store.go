package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts the user row and their zero-balance wallet row in one
// transaction.
func (p *PostgresStore) Create(ctx context.Context, u *User) (*ledger.Wallet, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, phone, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, u.Phone, string(u.Role), string(u.Status), u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	w, err := ledger.NewSQLTx(tx).GetOrCreate(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var role, status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), role, status, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Phone, &role, &status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Role = Role(role)
	u.Status = Status(status)
	return u, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), role, status, created_at
		FROM users ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		u := &User{}
		var role, status string
		if err := rows.Scan(&u.ID, &u.Name, &u.Phone, &role, &status, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		u.Status = Status(status)
		result = append(result, u)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (*User, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET status = $2 WHERE id = $1
	`, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("user %s", id)
	}
	return p.Get(ctx, id)
}
