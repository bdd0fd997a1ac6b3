package funding

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/gateway"
	"github.com/jkimani/pesalock/internal/ledger"
	"github.com/jkimani/pesalock/internal/notify"
	"github.com/jkimani/pesalock/internal/user"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubGateway returns a fixed reference or error.
type stubGateway struct {
	ref    string
	err    error
	pushes int
}

func (s *stubGateway) InitiatePush(_ context.Context, msisdn, amount, currency string) (string, error) {
	s.pushes++
	if s.err != nil {
		return "", s.err
	}
	return s.ref, nil
}

type fixture struct {
	ml     *ledger.MemoryLedger
	users  *user.Service
	svc    *Service
	gw     *stubGateway
	member *user.User
	admin  *user.User
}

// newFixture wires a memory-backed funding service at a 1:1 exchange
// rate with a funded member and an admin reviewer.
func newFixture(t *testing.T) *fixture {
	return newFixtureWithRate(t, "1")
}

func newFixtureWithRate(t *testing.T, rate string) *fixture {
	t.Helper()
	ctx := context.Background()

	ml := ledger.NewMemoryLedger()
	users := user.NewService(user.NewMemoryStore(ml))
	gw := &stubGateway{ref: "gw_ref_1"}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := notify.NewEmitter(logger)

	svc := NewService(NewMemoryStore(ml), users, ml, gw, dec(rate), "KES").WithEmitter(emitter)

	member, _, err := users.CreateUserWithWallet(ctx, "Amina", "+254700000001", user.RoleSettler)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	admin, _, err := users.CreateUserWithWallet(ctx, "Wanjiku", "", user.RoleAdmin)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	f := &fixture{ml: ml, users: users, svc: svc, gw: gw, member: member, admin: admin}

	err = ml.Atomic(func(tx ledger.Tx) error {
		w, err := tx.CreditAvailable(ctx, member.ID, dec("100.00"))
		if err != nil {
			return err
		}
		return tx.Append(ctx, &ledger.Entry{
			UserID:        member.ID,
			Type:          ledger.TypeDeposit,
			Amount:        dec("100.00"),
			BalanceBefore: w.Available.Sub(dec("100.00")),
			BalanceAfter:  w.Available,
		})
	})
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return f
}

func (f *fixture) wallet(t *testing.T, userID string) *ledger.Wallet {
	t.Helper()
	w, err := f.ml.Wallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func TestDeposit_ApproveCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeDeposit, Amount: "50.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if r.Status != StatusPending || r.Currency != "KES" {
		t.Errorf("request: status=%s currency=%s", r.Status, r.Currency)
	}

	// Submit alone moves nothing.
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("100.00")) {
		t.Errorf("available after submit = %s, want 100.00", w.Available)
	}

	r, err = f.svc.Review(ctx, r.ID, f.admin.ID, true, "verified receipt")
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if r.Status != StatusApproved || r.ReviewedBy != f.admin.ID {
		t.Errorf("after review: status=%s reviewer=%s", r.Status, r.ReviewedBy)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("150.00")) {
		t.Errorf("available after approve = %s, want 150.00", w.Available)
	}

	rep, err := ledger.CheckReplay(ctx, f.ml, f.member.ID)
	if err != nil || !rep.Consistent {
		t.Errorf("replay after deposit: consistent=%v err=%v", rep.Consistent, err)
	}
}

func TestDeposit_FXConversion(t *testing.T) {
	// 130 gateway units per ledger unit.
	f := newFixtureWithRate(t, "130")
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeDeposit, Amount: "1300.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.svc.Review(ctx, r.ID, f.admin.ID, true, ""); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	// 1300 KES at 130/unit credits 10.00.
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("110.00")) {
		t.Errorf("available = %s, want 110.00", w.Available)
	}
}

func TestWithdrawal_ApproveDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeWithdrawal, Amount: "40.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.svc.Review(ctx, r.ID, f.admin.ID, true, ""); err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("60.00")) {
		t.Errorf("available = %s, want 60.00", w.Available)
	}
}

func TestWithdrawal_SoftCheckAtSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeWithdrawal, Amount: "100.01"})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
}

func TestWithdrawal_InsufficientAtReviewLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Passes the soft check now; drain the wallet before review.
	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeWithdrawal, Amount: "80.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	err = f.ml.Atomic(func(tx ledger.Tx) error {
		w, err := tx.DebitAvailable(ctx, f.member.ID, dec("50.00"))
		if err != nil {
			return err
		}
		return tx.Append(ctx, &ledger.Entry{
			UserID:        f.member.ID,
			Type:          ledger.TypeWithdrawal,
			Amount:        dec("-50.00"),
			BalanceBefore: w.Available.Add(dec("50.00")),
			BalanceAfter:  w.Available,
		})
	})
	if err != nil {
		t.Fatalf("drain wallet: %v", err)
	}

	_, err = f.svc.Review(ctx, r.ID, f.admin.ID, true, "")
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	// The whole review rolled back: request still pending, no debit.
	r, err = f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want %s", r.Status, StatusPending)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("50.00")) {
		t.Errorf("available = %s, want 50.00", w.Available)
	}
}

func TestReview_SecondReviewConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeDeposit, Amount: "10.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.svc.Review(ctx, r.ID, f.admin.ID, false, "unverifiable"); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	// Approving after a rejection must fail, and vice versa.
	_, err = f.svc.Review(ctx, r.ID, f.admin.ID, true, "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second review: want ErrConflict, got %v", err)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("100.00")) {
		t.Errorf("rejected deposit moved funds: available = %s", w.Available)
	}
}

func TestReview_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeDeposit, Amount: "10.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = f.svc.Review(ctx, r.ID, f.member.ID, true, "")
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("member review: want ErrForbidden, got %v", err)
	}
}

func TestPushDeposit_SuccessStoresRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.InitiatePushDeposit(ctx, f.member.ID, PushRequest{MSISDN: "+254700000001", Amount: "25.00"})
	if err != nil {
		t.Fatalf("InitiatePushDeposit failed: %v", err)
	}
	if r.GatewayRef != "gw_ref_1" {
		t.Errorf("gateway ref = %q, want gw_ref_1", r.GatewayRef)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want %s", r.Status, StatusPending)
	}
	if f.gw.pushes != 1 {
		t.Errorf("pushes = %d, want 1", f.gw.pushes)
	}
}

func TestPushDeposit_GatewayFailureLeavesPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.err = apperr.Externalf(nil, "gateway down")

	_, err := f.svc.InitiatePushDeposit(ctx, f.member.ID, PushRequest{MSISDN: "+254700000001", Amount: "25.00"})
	if !errors.Is(err, apperr.ErrExternal) {
		t.Fatalf("want ErrExternal, got %v", err)
	}

	// The staged request survives for manual settlement; no funds moved.
	pending, err := f.svc.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("100.00")) {
		t.Errorf("available = %s, want 100.00", w.Available)
	}
}

func TestCallback_SuccessApprovesDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.InitiatePushDeposit(ctx, f.member.ID, PushRequest{MSISDN: "+254700000001", Amount: "25.00"})
	if err != nil {
		t.Fatalf("InitiatePushDeposit failed: %v", err)
	}

	r, err = f.svc.HandleCallback(ctx, gateway.Callback{RequestRef: r.GatewayRef, Status: gateway.CallbackSuccess})
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if r.Status != StatusApproved || r.ReviewedBy != "gateway" {
		t.Errorf("after callback: status=%s reviewer=%s", r.Status, r.ReviewedBy)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("125.00")) {
		t.Errorf("available = %s, want 125.00", w.Available)
	}
}

func TestCallback_FailureLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.InitiatePushDeposit(ctx, f.member.ID, PushRequest{MSISDN: "+254700000001", Amount: "25.00"})
	if err != nil {
		t.Fatalf("InitiatePushDeposit failed: %v", err)
	}

	r, err = f.svc.HandleCallback(ctx, gateway.Callback{RequestRef: r.GatewayRef, Status: "failed", Reason: "user declined"})
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	// A failed push is not a decision: the request stays open for a
	// retry or a manual admin review, and no funds move.
	if r.Status != StatusPending {
		t.Errorf("status = %s, want %s", r.Status, StatusPending)
	}
	if r.ReviewedBy != "" {
		t.Errorf("reviewedBy = %q, want empty", r.ReviewedBy)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("100.00")) {
		t.Errorf("available = %s, want 100.00", w.Available)
	}

	// An admin can still approve it afterwards.
	r, err = f.svc.Review(ctx, r.ID, f.admin.ID, true, "money arrived late")
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if r.Status != StatusApproved {
		t.Errorf("status after manual review = %s, want %s", r.Status, StatusApproved)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("125.00")) {
		t.Errorf("available = %s, want 125.00", w.Available)
	}
}

func TestCallback_UnknownRefNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleCallback(context.Background(), gateway.Callback{RequestRef: "gw_ghost", Status: gateway.CallbackSuccess})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestReview_BadRateFailsValidationLeavesPending(t *testing.T) {
	f := newFixtureWithRate(t, "0")
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, f.member.ID, SubmitRequest{Type: TypeDeposit, Amount: "50.00"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = f.svc.Review(ctx, r.ID, f.admin.ID, true, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}

	r, err = f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want %s", r.Status, StatusPending)
	}
	if w := f.wallet(t, f.member.ID); !w.Available.Equal(dec("100.00")) {
		t.Errorf("available = %s, want 100.00", w.Available)
	}
}

func TestSubmit_ValidationRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []SubmitRequest{
		{Type: "transfer", Amount: "10.00"},
		{Type: TypeDeposit, Amount: "0"},
		{Type: TypeDeposit, Amount: "-1"},
		{Type: TypeDeposit, Amount: "1.005"},
	}
	for _, req := range cases {
		if _, err := f.svc.Submit(ctx, f.member.ID, req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: want ErrValidation, got %v", req, err)
		}
	}
}
