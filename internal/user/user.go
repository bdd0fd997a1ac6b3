// Package user holds the user directory: identity, role, and account
// status. Authentication lives upstream; this package owns what a known
// identity is allowed to be.
package user

import (
	"context"
	"time"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/ledger"
)

// Role determines which lifecycle operations a user may invoke.
type Role string

const (
	// RoleAdmin funds and administers orders (the buyer side) and
	// reviews transaction requests.
	RoleAdmin Role = "admin"
	// RoleSettler claims orders and posts collateral.
	RoleSettler Role = "settler"
)

// Status gates every operation before any mutation.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusBlocked  Status = "blocked"
)

// User is a platform account. Exactly one wallet is owned per user,
// created together with the account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists users. Create also creates the user's zero-balance
// wallet in the same atomic unit, so a user row without a wallet row is
// never observable.
type Store interface {
	Create(ctx context.Context, u *User) (*ledger.Wallet, error)
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, limit int) ([]*User, error)
	SetStatus(ctx context.Context, id string, status Status) (*User, error)
}

// Directory is the read-side other services use to re-validate callers.
type Directory interface {
	Get(ctx context.Context, id string) (*User, error)
}

// Service implements user management.
type Service struct {
	store Store
}

// NewService creates a user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateUserWithWallet creates a user and their wallet in one atomic
// unit. This is the explicit factory for what used to be an implicit
// creation hook, so ordering and transactional scope are visible.
func (s *Service) CreateUserWithWallet(ctx context.Context, name, phone string, role Role) (*User, *ledger.Wallet, error) {
	if name == "" {
		return nil, nil, apperr.Validationf("name is required")
	}
	switch role {
	case RoleAdmin, RoleSettler:
	default:
		return nil, nil, apperr.Validationf("role must be %q or %q, got %q", RoleAdmin, RoleSettler, role)
	}

	u := &User{
		ID:        idgen.WithPrefix("usr_"),
		Name:      name,
		Phone:     phone,
		Role:      role,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	w, err := s.store.Create(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, w, nil
}

// Get implements Directory.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit users.
func (s *Service) List(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// SetStatus transitions a user's status (admin operation).
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*User, error) {
	switch status {
	case StatusActive, StatusDisabled, StatusBlocked:
	default:
		return nil, apperr.Validationf("unknown status %q", status)
	}
	return s.store.SetStatus(ctx, id, status)
}

// RequireActive loads a user and rejects disabled or blocked accounts.
// Services call this even though the boundary already did: wallets move
// money, so the check is repeated where the mutation happens.
func RequireActive(ctx context.Context, d Directory, id string) (*User, error) {
	u, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusActive {
		return nil, apperr.Forbiddenf("user %s is %s", id, u.Status)
	}
	return u, nil
}
