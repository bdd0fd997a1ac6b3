package escrow

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jkimani/pesalock/internal/ledger"
)

// lockParties acquires both parties' wallet locks in sorted user order,
// so concurrent settlements over overlapping parties cannot deadlock.
func lockParties(ctx context.Context, tx ledger.Tx, ids ...string) error {
	sort.Strings(ids)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := tx.GetOrCreate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// settleLedger applies the release-with-commission wallet moves shared
// by both store implementations: each party's lock returns to available,
// then the commission moves from buyer to settler. One net audit entry
// per party.
func settleLedger(ctx context.Context, tx ledger.Tx, o *Order, commission decimal.Decimal, cause ledger.EntryType) ([]*ledger.Wallet, error) {
	if err := lockParties(ctx, tx, o.BuyerID, o.SettlerID); err != nil {
		return nil, err
	}

	buyerBefore, err := tx.GetOrCreate(ctx, o.BuyerID)
	if err != nil {
		return nil, err
	}
	buyer, err := tx.MoveLockedToAvailable(ctx, o.BuyerID, o.Amount)
	if err != nil {
		return nil, err
	}
	if commission.IsPositive() {
		buyer, err = tx.DebitAvailable(ctx, o.BuyerID, commission)
		if err != nil {
			return nil, err
		}
	}
	err = tx.Append(ctx, &ledger.Entry{
		UserID:        o.BuyerID,
		OrderID:       o.ID,
		Type:          cause,
		Amount:        o.Amount.Sub(commission),
		BalanceBefore: buyerBefore.Available,
		BalanceAfter:  buyer.Available,
		Description:   fmt.Sprintf("order %s settled, commission %s", o.ID, commission),
	})
	if err != nil {
		return nil, err
	}

	settlerBefore, err := tx.GetOrCreate(ctx, o.SettlerID)
	if err != nil {
		return nil, err
	}
	settler, err := tx.MoveLockedToAvailable(ctx, o.SettlerID, o.Amount)
	if err != nil {
		return nil, err
	}
	if commission.IsPositive() {
		settler, err = tx.CreditAvailable(ctx, o.SettlerID, commission)
		if err != nil {
			return nil, err
		}
	}
	err = tx.Append(ctx, &ledger.Entry{
		UserID:        o.SettlerID,
		OrderID:       o.ID,
		Type:          cause,
		Amount:        o.Amount.Add(commission),
		BalanceBefore: settlerBefore.Available,
		BalanceAfter:  settler.Available,
		Description:   fmt.Sprintf("order %s settled, commission %s earned", o.ID, commission),
	})
	if err != nil {
		return nil, err
	}

	return []*ledger.Wallet{buyer, settler}, nil
}

// unwindLedger returns every party's locked funds in full with no
// commission, used by cancellation and buyer-favored resolutions.
func unwindLedger(ctx context.Context, tx ledger.Tx, o *Order, cause ledger.EntryType) ([]*ledger.Wallet, error) {
	if err := lockParties(ctx, tx, o.BuyerID, o.SettlerID); err != nil {
		return nil, err
	}

	buyerBefore, err := tx.GetOrCreate(ctx, o.BuyerID)
	if err != nil {
		return nil, err
	}
	buyer, err := tx.MoveLockedToAvailable(ctx, o.BuyerID, o.Amount)
	if err != nil {
		return nil, err
	}
	err = tx.Append(ctx, &ledger.Entry{
		UserID:        o.BuyerID,
		OrderID:       o.ID,
		Type:          cause,
		Amount:        o.Amount,
		BalanceBefore: buyerBefore.Available,
		BalanceAfter:  buyer.Available,
		Description:   fmt.Sprintf("funds returned for order %s", o.ID),
	})
	if err != nil {
		return nil, err
	}
	wallets := []*ledger.Wallet{buyer}

	if o.SettlerID != "" {
		settlerBefore, err := tx.GetOrCreate(ctx, o.SettlerID)
		if err != nil {
			return nil, err
		}
		settler, err := tx.MoveLockedToAvailable(ctx, o.SettlerID, o.Amount)
		if err != nil {
			return nil, err
		}
		err = tx.Append(ctx, &ledger.Entry{
			UserID:        o.SettlerID,
			OrderID:       o.ID,
			Type:          cause,
			Amount:        o.Amount,
			BalanceBefore: settlerBefore.Available,
			BalanceAfter:  settler.Available,
			Description:   fmt.Sprintf("collateral returned for order %s", o.ID),
		})
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, settler)
	}

	return wallets, nil
}
