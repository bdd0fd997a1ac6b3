package escrow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/ledger"
	"github.com/jkimani/pesalock/internal/money"
	"github.com/jkimani/pesalock/internal/notify"
	"github.com/jkimani/pesalock/internal/traces"
	"github.com/jkimani/pesalock/internal/user"
	"github.com/jkimani/pesalock/internal/validation"
)

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Winner Winner `json:"winner" binding:"required"`
}

// Resolve ends arbitration on a DISPUTED order.
//
// Siding with the settler settles the order exactly as a normal
// completion would, commission included; the audit trail records the
// entries as DISPUTE_RESOLVE so the cause stays visible. Siding with the
// buyer returns both parties' locked funds in full and no commission
// moves. Either way the order ends COMPLETED with the winner recorded.
func (s *Service) Resolve(ctx context.Context, orderID, callerID string, winner Winner) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Resolve",
		traces.OrderID(orderID),
		traces.UserID(callerID),
		attribute.String("winner", string(winner)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if errs := validation.Check("order.resolve", map[string]string{"winner": string(winner)}); len(errs) > 0 {
		return nil, s.fail("resolve", apperr.Validationf("%s", errs.Error()))
	}

	caller, err := user.RequireActive(ctx, s.users, callerID)
	if err != nil {
		return nil, s.fail("resolve", err)
	}
	if caller.Role != user.RoleAdmin {
		return nil, s.fail("resolve", apperr.Forbiddenf("only %s users resolve disputes", user.RoleAdmin))
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.fail("resolve", err)
	}
	if order.BuyerID == callerID || order.SettlerID == callerID {
		return nil, s.fail("resolve", apperr.Forbiddenf("a party to the order cannot arbitrate it"))
	}

	var res *Result
	switch winner {
	case WinnerSettler:
		commission := money.Commission(order.Amount, s.rate)
		res, err = s.store.Settle(ctx, orderID, commission, ledger.TypeDisputeResolve)
	case WinnerBuyer:
		res, err = s.store.ResolveToBuyer(ctx, orderID)
	default:
		err = apperr.Validationf("winner must be %q or %q", WinnerBuyer, WinnerSettler)
	}
	if err != nil {
		return nil, s.fail("resolve", err)
	}

	s.finish(ctx, "resolve", notify.EventOrderCompleted, res, ledger.TypeDisputeResolve)
	return res.Order, nil
}
