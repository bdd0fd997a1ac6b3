// Package funding handles money entering and leaving the platform:
// deposit and withdrawal requests, their admin review, and gateway push
// collections.
//
// Requests only stage intent. Funds move exactly once, inside the
// review's transaction, and a request reaches a terminal status at most
// once; a second review fails with a conflict no matter how the first
// one concluded.
package funding

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/gateway"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/ledger"
	"github.com/jkimani/pesalock/internal/logging"
	"github.com/jkimani/pesalock/internal/metrics"
	"github.com/jkimani/pesalock/internal/money"
	"github.com/jkimani/pesalock/internal/notify"
	"github.com/jkimani/pesalock/internal/user"
	"github.com/jkimani/pesalock/internal/validation"
)

// RequestType distinguishes money in from money out.
type RequestType string

const (
	TypeDeposit    RequestType = "deposit"
	TypeWithdrawal RequestType = "withdrawal"
)

// RequestStatus is the review state of a request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// TransactionRequest is one staged deposit or withdrawal.
//
// Deposit amounts are denominated in the gateway currency and converted
// at review time; withdrawal amounts are in ledger units.
type TransactionRequest struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	Type       RequestType       `json:"type"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency,omitempty"`
	Status     RequestStatus     `json:"status"`
	GatewayRef string            `json:"gatewayRef,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReviewedBy string            `json:"reviewedBy,omitempty"`
	ReviewNote string            `json:"reviewNote,omitempty"`
	ReviewedAt *time.Time        `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ReviewParams drives one review operation.
type ReviewParams struct {
	RequestID  string
	ReviewerID string
	Approve    bool
	Note       string
	// CreditAmount is the ledger-unit amount an approved deposit
	// credits, already converted from the request currency.
	CreditAmount decimal.Decimal
}

// Store persists transaction requests. Review runs as one atomic unit:
// the status transition, the wallet move, and the audit entry commit
// together. The request row is locked for the review, so concurrent
// reviews serialize and the loser sees a terminal status.
type Store interface {
	Create(ctx context.Context, r *TransactionRequest) error
	Get(ctx context.Context, id string) (*TransactionRequest, error)
	GetByGatewayRef(ctx context.Context, ref string) (*TransactionRequest, error)
	SetGatewayRef(ctx context.Context, id, ref string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*TransactionRequest, error)
	ListPending(ctx context.Context, limit int) ([]*TransactionRequest, error)

	// Review settles the request. The returned wallet is nil when the
	// request was rejected. A request not in pending status fails with
	// apperr.ErrConflict; an approved withdrawal exceeding the available
	// balance fails with apperr.ErrInsufficientFunds and leaves the
	// request pending.
	Review(ctx context.Context, p ReviewParams) (*TransactionRequest, *ledger.Wallet, error)
}

// SubmitRequest contains the parameters for staging a request.
type SubmitRequest struct {
	Type     RequestType       `json:"type" binding:"required"`
	Amount   string            `json:"amount" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// PushRequest contains the parameters for a gateway push deposit.
type PushRequest struct {
	MSISDN string `json:"msisdn" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// ReviewRequest is the admin review body.
type ReviewRequest struct {
	Action string `json:"action" binding:"required"` // "approve" or "reject"
	Note   string `json:"note"`
}

// Service implements funding business logic.
type Service struct {
	store    Store
	users    user.Directory
	reader   ledger.Reader
	gw       gateway.Client
	fxRate   decimal.Decimal // gateway currency units per ledger unit
	currency string
	events   *notify.Emitter
}

// NewService creates a funding service. gw may be nil when no gateway is
// configured; push deposits then fail with an external error.
func NewService(store Store, users user.Directory, reader ledger.Reader, gw gateway.Client, fxRate decimal.Decimal, currency string) *Service {
	return &Service{store: store, users: users, reader: reader, gw: gw, fxRate: fxRate, currency: currency}
}

// WithEmitter adds an event emitter for review notifications.
func (s *Service) WithEmitter(e *notify.Emitter) *Service {
	s.events = e
	return s
}

// Submit stages a deposit or withdrawal request for review.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (*TransactionRequest, error) {
	if errs := validation.Check("funding.submit", map[string]string{
		"type":   string(req.Type),
		"amount": req.Amount,
	}); len(errs) > 0 {
		return nil, apperr.Validationf("%s", errs.Error())
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, err
	}
	if _, err := user.RequireActive(ctx, s.users, userID); err != nil {
		return nil, err
	}

	// Soft check only: the authoritative balance check happens inside
	// the review transaction.
	if req.Type == TypeWithdrawal {
		w, err := s.reader.Wallet(ctx, userID)
		if err != nil {
			return nil, err
		}
		if w.Available.LessThan(amount) {
			return nil, apperr.InsufficientFundsf("user %s has %s available, requested %s", userID, w.Available, amount)
		}
	}

	now := time.Now().UTC()
	r := &TransactionRequest{
		ID:        idgen.WithPrefix("fr_"),
		UserID:    userID,
		Type:      req.Type,
		Amount:    amount,
		Status:    StatusPending,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Type == TypeDeposit {
		r.Currency = s.currency
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Review approves or rejects a pending request. Approving a deposit
// credits the converted amount; approving a withdrawal debits it.
func (s *Service) Review(ctx context.Context, requestID, reviewerID string, approve bool, note string) (*TransactionRequest, error) {
	reviewer, err := user.RequireActive(ctx, s.users, reviewerID)
	if err != nil {
		return nil, err
	}
	if reviewer.Role != user.RoleAdmin {
		return nil, apperr.Forbiddenf("only %s users review requests", user.RoleAdmin)
	}

	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	p := ReviewParams{
		RequestID:  requestID,
		ReviewerID: reviewerID,
		Approve:    approve,
		Note:       validation.SanitizeString(note, validation.MaxStringLength),
	}
	if approve && r.Type == TypeDeposit {
		credit, err := money.Convert(r.Amount, s.fxRate)
		if err != nil {
			return nil, err
		}
		p.CreditAmount = credit
	}

	return s.review(ctx, r.Type, p)
}

// review runs the store review and handles metrics and notifications.
func (s *Service) review(ctx context.Context, typ RequestType, p ReviewParams) (*TransactionRequest, error) {
	r, w, err := s.store.Review(ctx, p)
	if err != nil {
		metrics.FundingReviewsTotal.WithLabelValues(string(typ), "error").Inc()
		return nil, err
	}

	action := "reject"
	if p.Approve {
		action = "approve"
	}
	metrics.FundingReviewsTotal.WithLabelValues(string(r.Type), action).Inc()
	if w != nil {
		entryType := ledger.TypeDeposit
		if r.Type == TypeWithdrawal {
			entryType = ledger.TypeWithdrawal
		}
		metrics.LedgerEntriesTotal.WithLabelValues(string(entryType)).Inc()
		s.events.EmitWalletUpdated(w.UserID, w.Available.String(), w.Locked.String())
	}

	logging.L(ctx).Info("funding request reviewed",
		"request", r.ID, "user", r.UserID, "type", r.Type, "action", action, "reviewer", p.ReviewerID)
	s.events.EmitFundingReviewed(r.UserID, r.ID, string(r.Type), action, r.Amount.String())
	return r, nil
}

// InitiatePushDeposit stages a deposit request and asks the gateway to
// prompt the user's phone. The gateway call happens strictly after the
// request row is committed and outside any ledger transaction.
func (s *Service) InitiatePushDeposit(ctx context.Context, userID string, req PushRequest) (*TransactionRequest, error) {
	if errs := validation.Check("funding.push", map[string]string{
		"msisdn": req.MSISDN,
		"amount": req.Amount,
	}); len(errs) > 0 {
		return nil, apperr.Validationf("%s", errs.Error())
	}
	if s.gw == nil {
		return nil, apperr.Externalf(nil, "no payment gateway configured")
	}

	r, err := s.Submit(ctx, userID, SubmitRequest{
		Type:     TypeDeposit,
		Amount:   req.Amount,
		Metadata: map[string]string{"msisdn": req.MSISDN, "channel": "push"},
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.gw.InitiatePush(ctx, req.MSISDN, r.Amount.StringFixed(money.Scale), s.currency)
	if err != nil {
		// The staged request stays pending; an admin can still settle it
		// manually once the money shows up.
		metrics.GatewayPushesTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("gateway push failed", "request", r.ID, "error", err)
		return nil, err
	}
	metrics.GatewayPushesTotal.WithLabelValues("ok").Inc()

	if err := s.store.SetGatewayRef(ctx, r.ID, ref); err != nil {
		return nil, err
	}
	r.GatewayRef = ref
	return r, nil
}

// HandleCallback settles the request a gateway callback refers to. Only
// a successful push approves the deposit, attributed to the gateway
// rather than an admin. A failed push leaves the request pending: the
// user may retry, or an admin settles it manually.
func (s *Service) HandleCallback(ctx context.Context, cb gateway.Callback) (*TransactionRequest, error) {
	r, err := s.store.GetByGatewayRef(ctx, cb.RequestRef)
	if err != nil {
		return nil, err
	}

	if cb.Status != gateway.CallbackSuccess {
		metrics.GatewayPushesTotal.WithLabelValues("failed").Inc()
		logging.L(ctx).Warn("gateway push failed, request stays pending",
			"request", r.ID, "user", r.UserID, "ref", cb.RequestRef, "reason", cb.Reason)
		return r, nil
	}

	credit, err := money.Convert(r.Amount, s.fxRate)
	if err != nil {
		return nil, err
	}
	p := ReviewParams{
		RequestID:    r.ID,
		ReviewerID:   "gateway",
		Approve:      true,
		Note:         validation.SanitizeString(cb.Reason, validation.MaxStringLength),
		CreditAmount: credit,
	}
	return s.review(ctx, r.Type, p)
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, id string) (*TransactionRequest, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's requests, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*TransactionRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListPending returns requests awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*TransactionRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPending(ctx, limit)
}
