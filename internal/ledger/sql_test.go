//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/testutil"
)

func insertUser(t *testing.T, db *sql.DB) string {
	t.Helper()
	id := idgen.WithPrefix("usr_")
	_, err := db.Exec(
		`INSERT INTO users (id, name, phone, role) VALUES ($1, 'Amina', '+254712345678', 'settler')`,
		id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

// inTx runs ledger primitives inside a committed database transaction.
func inTx(t *testing.T, db *sql.DB, fn func(tx *SQLTx) error) error {
	t.Helper()
	dbTx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(NewSQLTx(dbTx)); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return nil
}

func TestPostgresLedger_CreditAndRead(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	userID := insertUser(t, db)

	err := inTx(t, db, func(tx *SQLTx) error {
		w, err := tx.CreditAvailable(ctx, userID, dec("100.00"))
		if err != nil {
			return err
		}
		return tx.Append(ctx, &Entry{
			UserID:        userID,
			Type:          TypeDeposit,
			Amount:        dec("100.00"),
			BalanceBefore: w.Available.Sub(dec("100.00")),
			BalanceAfter:  w.Available,
		})
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	store := NewPostgresStore(db)
	w, err := store.Wallet(ctx, userID)
	if err != nil {
		t.Fatalf("Wallet failed: %v", err)
	}
	if !w.Available.Equal(dec("100.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet: available=%s locked=%s", w.Available, w.Locked)
	}

	entries, err := store.History(ctx, userID, 10, nil)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != TypeDeposit {
		t.Errorf("history: %+v", entries)
	}

	rep, err := CheckReplay(ctx, store, userID)
	if err != nil {
		t.Fatalf("CheckReplay failed: %v", err)
	}
	if !rep.Consistent {
		t.Errorf("replay inconsistent: available=%s sum=%s", rep.Available, rep.ReplaySum)
	}
}

func TestPostgresLedger_RollbackLeavesNothing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	userID := insertUser(t, db)

	boom := errors.New("boom")
	err := inTx(t, db, func(tx *SQLTx) error {
		if _, err := tx.CreditAvailable(ctx, userID, dec("50.00")); err != nil {
			return err
		}
		if err := tx.Append(ctx, &Entry{UserID: userID, Type: TypeDeposit, Amount: dec("50.00")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	store := NewPostgresStore(db)
	w, err := store.Wallet(ctx, userID)
	if err != nil {
		t.Fatalf("Wallet failed: %v", err)
	}
	if !w.Available.IsZero() {
		t.Errorf("rollback leaked balance: %s", w.Available)
	}
	entries, err := store.History(ctx, userID, 10, nil)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rollback leaked %d entries", len(entries))
	}
}

func TestPostgresLedger_LockAndInsufficientFunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	userID := insertUser(t, db)

	err := inTx(t, db, func(tx *SQLTx) error {
		_, err := tx.CreditAvailable(ctx, userID, dec("30.00"))
		return err
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	err = inTx(t, db, func(tx *SQLTx) error {
		_, err := tx.MoveAvailableToLocked(ctx, userID, dec("20.00"))
		return err
	})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	err = inTx(t, db, func(tx *SQLTx) error {
		_, err := tx.DebitAvailable(ctx, userID, dec("10.01"))
		return err
	})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	store := NewPostgresStore(db)
	w, err := store.Wallet(ctx, userID)
	if err != nil {
		t.Fatalf("Wallet failed: %v", err)
	}
	if !w.Available.Equal(dec("10.00")) || !w.Locked.Equal(dec("20.00")) {
		t.Errorf("wallet: available=%s locked=%s", w.Available, w.Locked)
	}
}
