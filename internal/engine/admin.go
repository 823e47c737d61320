package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"p2p-exchange/internal/metrics"
	"p2p-exchange/internal/model"
)

// FreezeUser blocks all future wallet-mutating operations for a user.
// It moves no funds and is independent of any dispute.
func (e *Engine) FreezeUser(ctx context.Context, actor model.Actor, userID, reason string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin only", model.ErrNotAuthorized)
	}
	return e.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUserForUpdate(userID); err != nil {
			return err
		}
		if err := tx.SetUserFrozen(userID, true, reason); err != nil {
			return err
		}
		return tx.AppendEvent(nil, "UserFrozen", map[string]any{
			"user_id": userID, "by": actor.ID, "reason": reason,
		})
	})
}

func (e *Engine) UnfreezeUser(ctx context.Context, actor model.Actor, userID string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin only", model.ErrNotAuthorized)
	}
	return e.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUserForUpdate(userID); err != nil {
			return err
		}
		if err := tx.SetUserFrozen(userID, false, ""); err != nil {
			return err
		}
		return tx.AppendEvent(nil, "UserUnfrozen", map[string]any{
			"user_id": userID, "by": actor.ID,
		})
	})
}

// Deposit credits a wallet's available balance. This is the entry point
// the external chain-monitoring feed (or an admin) calls once an
// incoming transfer is confirmed.
func (e *Engine) Deposit(ctx context.Context, actor model.Actor, userID, currency string, amount decimal.Decimal) (*model.Wallet, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", model.ErrNotAuthorized)
	}
	var wallet *model.Wallet
	err := e.store.InTx(ctx, func(tx Tx) error {
		if _, err := requireActive(tx, userID); err != nil {
			return err
		}
		w, err := tx.GetWalletForUpdate(userID, currency)
		if err != nil {
			return err
		}
		if err := credit(tx, w, amount, model.TxDeposit, nil, "external deposit"); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// Withdraw debits the caller's own available balance.
func (e *Engine) Withdraw(ctx context.Context, actor model.Actor, currency string, amount decimal.Decimal) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := e.store.InTx(ctx, func(tx Tx) error {
		if _, err := requireActive(tx, actor.ID); err != nil {
			return err
		}
		w, err := tx.GetWalletForUpdate(actor.ID, currency)
		if err != nil {
			return err
		}
		if err := debit(tx, w, amount, model.TxWithdraw, nil, "withdrawal"); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// AutoReleaseDue force-completes confirmed orders whose auto-release
// deadline has passed, through the same Confirm entry point a buyer
// would use. Returns how many orders were completed.
func (e *Engine) AutoReleaseDue(ctx context.Context, limit int) (int, error) {
	due, err := e.store.ListAutoReleasable(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range due {
		if _, err := e.Confirm(ctx, model.SystemActor(), due[i].ID, ""); err != nil {
			// Guards re-run inside Confirm; a racing buyer confirm or
			// dispute just means this order is no longer ours to touch.
			continue
		}
		released++
		metrics.AutoReleases.Inc()
	}
	return released, nil
}
