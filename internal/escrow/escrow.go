// Package escrow implements the order settlement lifecycle.
//
// Flow:
//  1. Buyer creates an order → buyer funds locked
//  2. Settler claims it → settler posts equal collateral
//  3. Settler marks it ready after paying out externally
//  4. Buyer completes → both sides unlocked, settler earns commission
//  5. Either party disputes → arbitration resolves to a winner
//
// Every lifecycle operation is one atomic unit: the order row, the
// wallets it touches, and the audit entries all commit or roll back
// together. None of the operations are idempotent; callers invoke each
// at most once per logical event.
package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/ledger"
	"github.com/jkimani/pesalock/internal/logging"
	"github.com/jkimani/pesalock/internal/metrics"
	"github.com/jkimani/pesalock/internal/money"
	"github.com/jkimani/pesalock/internal/notify"
	"github.com/jkimani/pesalock/internal/traces"
	"github.com/jkimani/pesalock/internal/user"
	"github.com/jkimani/pesalock/internal/validation"
)

// Status represents the state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"           // Created, buyer funds locked
	StatusClaimed   Status = "CLAIMED"           // Settler posted collateral
	StatusReady     Status = "READY_FOR_RELEASE" // Settler reports external payout done
	StatusCompleted Status = "COMPLETED"         // Funds released, commission settled
	StatusCancelled Status = "CANCELLED"         // Called off, locked funds returned
	StatusDisputed  Status = "DISPUTED"          // Frozen pending arbitration
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Winner records which party arbitration sided with.
type Winner string

const (
	WinnerBuyer   Winner = "buyer"
	WinnerSettler Winner = "settler"
)

// Order is one settlement order.
type Order struct {
	ID            string          `json:"id"`
	BuyerID       string          `json:"buyerId"`
	SettlerID     string          `json:"settlerId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Status        Status          `json:"status"`
	Winner        Winner          `json:"winner,omitempty"`
	DisputeReason string          `json:"disputeReason,omitempty"`
	ClaimedAt     *time.Time      `json:"claimedAt,omitempty"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Result is the outcome of a mutating store operation: the updated order
// plus every wallet the operation touched, snapshotted at commit.
type Result struct {
	Order   *Order
	Wallets []*ledger.Wallet
}

// Store persists orders. Each mutating method runs the whole operation
// as one atomic unit: status transition, wallet moves, and audit entries
// commit together or not at all. Status preconditions are re-checked
// inside the unit under the order row lock, so concurrent callers race
// safely and the loser gets apperr.ErrConflict.
type Store interface {
	// Create inserts the order and locks the buyer's funds.
	Create(ctx context.Context, o *Order) (*Result, error)

	// Claim transitions PENDING → CLAIMED and locks the settler's
	// collateral, equal to the order amount.
	Claim(ctx context.Context, orderID, settlerID string) (*Result, error)

	// MarkReady transitions CLAIMED → READY_FOR_RELEASE. No funds move.
	MarkReady(ctx context.Context, orderID string) (*Order, error)

	// Dispute freezes the order pending arbitration. Allowed from
	// CLAIMED and READY_FOR_RELEASE. No funds move.
	Dispute(ctx context.Context, orderID, reason string) (*Order, error)

	// Settle releases both sides and settles the commission: the buyer
	// nets amount-commission, the settler nets amount+commission. With
	// cause TypeComplete it is allowed from CLAIMED and
	// READY_FOR_RELEASE; with cause TypeDisputeResolve it is allowed
	// from DISPUTED and records the settler as winner.
	Settle(ctx context.Context, orderID string, commission decimal.Decimal, cause ledger.EntryType) (*Result, error)

	// ResolveToBuyer ends a DISPUTED order in the buyer's favor: both
	// sides get their full locked funds back, no commission moves.
	ResolveToBuyer(ctx context.Context, orderID string) (*Result, error)

	// Cancel calls the order off and returns all locked funds. Allowed
	// from PENDING, CLAIMED, and READY_FOR_RELEASE.
	Cancel(ctx context.Context, orderID string) (*Result, error)

	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)
}

// CreateRequest contains the parameters for creating an order.
type CreateRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// DisputeRequest contains the parameters for disputing an order.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Service implements order lifecycle business logic.
type Service struct {
	store  Store
	users  user.Directory
	rate   decimal.Decimal
	events *notify.Emitter
}

// NewService creates an order service with the given commission rate.
func NewService(store Store, users user.Directory, rate decimal.Decimal) *Service {
	return &Service{store: store, users: users, rate: rate}
}

// WithEmitter adds an event emitter for lifecycle notifications.
func (s *Service) WithEmitter(e *notify.Emitter) *Service {
	s.events = e
	return s
}

// Create opens a new order funded by the buyer.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.UserID(buyerID),
		traces.Amount(req.Amount),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if errs := validation.Check("order.create", map[string]string{
		"amount":      req.Amount,
		"description": req.Description,
	}); len(errs) > 0 {
		return nil, s.fail("create", apperr.Validationf("%s", errs.Error()))
	}

	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, s.fail("create", err)
	}

	buyer, err := user.RequireActive(ctx, s.users, buyerID)
	if err != nil {
		return nil, s.fail("create", err)
	}
	if buyer.Role != user.RoleAdmin {
		return nil, s.fail("create", apperr.Forbiddenf("only %s users fund orders", user.RoleAdmin))
	}

	now := time.Now().UTC()
	order := &Order{
		ID:          idgen.WithPrefix("ord_"),
		BuyerID:     buyerID,
		Amount:      amount,
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.store.Create(ctx, order)
	if err != nil {
		return nil, s.fail("create", err)
	}

	s.finish(ctx, "create", notify.EventOrderCreated, res, ledger.TypeCreate)
	return res.Order, nil
}

// Claim assigns the order to a settler and locks their collateral.
func (s *Service) Claim(ctx context.Context, orderID, callerID string) (*Order, error) {
	caller, err := user.RequireActive(ctx, s.users, callerID)
	if err != nil {
		return nil, s.fail("claim", err)
	}
	if caller.Role != user.RoleSettler {
		return nil, s.fail("claim", apperr.Forbiddenf("only %s users claim orders", user.RoleSettler))
	}

	res, err := s.store.Claim(ctx, orderID, callerID)
	if err != nil {
		return nil, s.fail("claim", err)
	}

	s.finish(ctx, "claim", notify.EventOrderClaimed, res, ledger.TypeClaim)
	return res.Order, nil
}

// MarkReady reports that the settler completed the external payout.
func (s *Service) MarkReady(ctx context.Context, orderID, callerID string) (*Order, error) {
	if _, err := user.RequireActive(ctx, s.users, callerID); err != nil {
		return nil, s.fail("mark_ready", err)
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.fail("mark_ready", err)
	}
	if order.SettlerID != callerID {
		return nil, s.fail("mark_ready", apperr.Forbiddenf("only the claiming settler marks an order ready"))
	}

	order, err = s.store.MarkReady(ctx, orderID)
	if err != nil {
		return nil, s.fail("mark_ready", err)
	}

	s.finish(ctx, "mark_ready", notify.EventOrderReady, &Result{Order: order}, "")
	return order, nil
}

// Complete releases the order: the buyer's lock and the settler's
// collateral return to their available balances, and the commission
// moves from buyer to settler.
func (s *Service) Complete(ctx context.Context, orderID, callerID string) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Complete",
		traces.OrderID(orderID),
		traces.UserID(callerID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if _, err := user.RequireActive(ctx, s.users, callerID); err != nil {
		return nil, s.fail("complete", err)
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.fail("complete", err)
	}
	if order.BuyerID != callerID {
		return nil, s.fail("complete", apperr.Forbiddenf("only the funding buyer completes an order"))
	}

	commission := money.Commission(order.Amount, s.rate)
	res, err := s.store.Settle(ctx, orderID, commission, ledger.TypeComplete)
	if err != nil {
		return nil, s.fail("complete", err)
	}

	s.finish(ctx, "complete", notify.EventOrderCompleted, res, ledger.TypeComplete)
	return res.Order, nil
}

// Cancel calls the order off and returns every locked balance in full.
func (s *Service) Cancel(ctx context.Context, orderID, callerID string) (*Order, error) {
	if _, err := user.RequireActive(ctx, s.users, callerID); err != nil {
		return nil, s.fail("cancel", err)
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.fail("cancel", err)
	}
	if order.BuyerID != callerID {
		return nil, s.fail("cancel", apperr.Forbiddenf("only the funding buyer cancels an order"))
	}

	res, err := s.store.Cancel(ctx, orderID)
	if err != nil {
		return nil, s.fail("cancel", err)
	}

	s.finish(ctx, "cancel", notify.EventOrderCancelled, res, ledger.TypeCancel)
	return res.Order, nil
}

// Dispute freezes the order for arbitration. Either party may raise it.
func (s *Service) Dispute(ctx context.Context, orderID, callerID, reason string) (*Order, error) {
	if errs := validation.Check("order.dispute", map[string]string{"reason": reason}); len(errs) > 0 {
		return nil, s.fail("dispute", apperr.Validationf("%s", errs.Error()))
	}
	if _, err := user.RequireActive(ctx, s.users, callerID); err != nil {
		return nil, s.fail("dispute", err)
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.fail("dispute", err)
	}
	if order.BuyerID != callerID && order.SettlerID != callerID {
		return nil, s.fail("dispute", apperr.Forbiddenf("only the order's parties may dispute it"))
	}

	order, err = s.store.Dispute(ctx, orderID, validation.SanitizeString(reason, validation.MaxStringLength))
	if err != nil {
		return nil, s.fail("dispute", err)
	}

	s.finish(ctx, "dispute", notify.EventOrderDisputed, &Result{Order: order}, "")
	return order, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns orders the user participates in, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListByStatus returns orders in the given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// fail counts the failed operation and passes the error through.
func (s *Service) fail(operation string, err error) error {
	metrics.OrderOperationsTotal.WithLabelValues(operation, "error").Inc()
	return err
}

// finish counts the operation and emits lifecycle events after commit.
func (s *Service) finish(ctx context.Context, operation string, eventType notify.EventType, res *Result, entryType ledger.EntryType) {
	metrics.OrderOperationsTotal.WithLabelValues(operation, "ok").Inc()
	if entryType != "" {
		metrics.LedgerEntriesTotal.WithLabelValues(string(entryType)).Add(float64(len(res.Wallets)))
	}

	o := res.Order
	logging.L(ctx).Info("order "+operation,
		"order", o.ID, "buyer", o.BuyerID, "settler", o.SettlerID,
		"amount", o.Amount.String(), "status", o.Status)

	s.events.EmitOrderEvent(eventType, o.ID, o.BuyerID, o.SettlerID, o.Amount.String(), string(o.Status))
	for _, w := range res.Wallets {
		s.events.EmitWalletUpdated(w.UserID, w.Available.String(), w.Locked.String())
	}
}
