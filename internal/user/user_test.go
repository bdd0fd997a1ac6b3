package user

import (
	"context"
	"errors"
	"testing"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
)

func newService() (*Service, *ledger.MemoryLedger) {
	ml := ledger.NewMemoryLedger()
	return NewService(NewMemoryStore(ml)), ml
}

func TestCreateUserWithWallet(t *testing.T) {
	svc, ml := newService()
	ctx := context.Background()

	u, w, err := svc.CreateUserWithWallet(ctx, "Amina", "+254700000001", RoleSettler)
	if err != nil {
		t.Fatalf("CreateUserWithWallet failed: %v", err)
	}
	if u.Status != StatusActive {
		t.Errorf("status = %s, want %s", u.Status, StatusActive)
	}
	if w == nil || w.UserID != u.ID {
		t.Fatalf("wallet = %+v, want one owned by %s", w, u.ID)
	}
	if !w.Available.IsZero() || !w.Locked.IsZero() {
		t.Errorf("new wallet not empty: %+v", w)
	}

	// The wallet is visible through the ledger too.
	got, err := ml.Wallet(ctx, u.ID)
	if err != nil {
		t.Fatalf("ledger wallet: %v", err)
	}
	if got.UserID != u.ID {
		t.Errorf("ledger wallet owner = %s", got.UserID)
	}
}

func TestCreateUserWithWallet_Validation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, _, err := svc.CreateUserWithWallet(ctx, "", "", RoleSettler); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty name: want ErrValidation, got %v", err)
	}
	if _, _, err := svc.CreateUserWithWallet(ctx, "Amina", "", Role("superuser")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad role: want ErrValidation, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Get(context.Background(), "usr_missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, _, err := svc.CreateUserWithWallet(ctx, "Brian", "", RoleSettler)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err = svc.SetStatus(ctx, u.ID, StatusBlocked)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if u.Status != StatusBlocked {
		t.Errorf("status = %s, want %s", u.Status, StatusBlocked)
	}

	if _, err := svc.SetStatus(ctx, u.ID, Status("frozen")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown status: want ErrValidation, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "usr_missing", StatusDisabled); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing user: want ErrNotFound, got %v", err)
	}
}

func TestRequireActive(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, _, err := svc.CreateUserWithWallet(ctx, "Amina", "", RoleAdmin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := RequireActive(ctx, svc, u.ID); err != nil {
		t.Errorf("active user rejected: %v", err)
	}

	for _, status := range []Status{StatusDisabled, StatusBlocked} {
		if _, err := svc.SetStatus(ctx, u.ID, status); err != nil {
			t.Fatalf("SetStatus(%s): %v", status, err)
		}
		if _, err := RequireActive(ctx, svc, u.ID); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s user: want ErrForbidden, got %v", status, err)
		}
	}
}

func TestList(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, name := range []string{"Amina", "Brian", "Wanjiku"} {
		if _, _, err := svc.CreateUserWithWallet(ctx, name, "", RoleSettler); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	users, err := svc.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len = %d, want 2", len(users))
	}
}
