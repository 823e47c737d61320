package engine

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"p2p-exchange/internal/model"
)

// Wallet ledger primitives. Each one validates against the locked wallet
// snapshot, applies the balance delta, appends exactly one transaction
// row, and keeps the snapshot current for later steps in the same
// operation. Balances change through these functions only.

func ledgerRow(tx Tx, w *model.Wallet, typ model.TxType, amount decimal.Decimal, orderID *string, desc string) error {
	return tx.InsertTransaction(&model.Transaction{
		UserID:         w.OwnerID,
		WalletID:       w.ID,
		Type:           typ,
		Amount:         amount,
		Currency:       w.Currency,
		RelatedOrderID: orderID,
		Description:    desc,
	})
}

func credit(tx Tx, w *model.Wallet, amount decimal.Decimal, typ model.TxType, orderID *string, desc string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", model.ErrInvalidAmount)
	}
	if err := tx.AddAvailable(w.ID, amount); err != nil {
		return err
	}
	w.Available = w.Available.Add(amount)
	return ledgerRow(tx, w, typ, amount, orderID, desc)
}

func debit(tx Tx, w *model.Wallet, amount decimal.Decimal, typ model.TxType, orderID *string, desc string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: debit amount must be positive", model.ErrInvalidAmount)
	}
	if w.Available.LessThan(amount) {
		return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, amount, w.Available)
	}
	if err := tx.AddAvailable(w.ID, amount.Neg()); err != nil {
		return err
	}
	w.Available = w.Available.Sub(amount)
	return ledgerRow(tx, w, typ, amount, orderID, desc)
}

// moveToEscrow shifts funds from available into the held balance of the
// same wallet.
func moveToEscrow(tx Tx, w *model.Wallet, amount decimal.Decimal, orderID *string, desc string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: escrow amount must be positive", model.ErrInvalidAmount)
	}
	if w.Available.LessThan(amount) {
		return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, amount, w.Available)
	}
	if err := tx.AddAvailable(w.ID, amount.Neg()); err != nil {
		return err
	}
	if err := tx.AddEscrow(w.ID, amount); err != nil {
		return err
	}
	w.Available = w.Available.Sub(amount)
	w.Escrow = w.Escrow.Add(amount)
	return ledgerRow(tx, w, model.TxEscrowHold, amount, orderID, desc)
}

// releaseEscrow removes held funds from the wallet so they can be paid
// out elsewhere. Over-release is a broken precondition, not a user error.
func releaseEscrow(tx Tx, w *model.Wallet, amount decimal.Decimal, orderID *string, desc string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: release amount must be positive", model.ErrInvalidAmount)
	}
	if w.Escrow.LessThan(amount) {
		log.Printf("[ledger] INVARIANT: wallet %s escrow %s < release %s (order %v)", w.ID, w.Escrow, amount, orderID)
		return fmt.Errorf("%w: escrow %s < release %s", model.ErrInvariantViolation, w.Escrow, amount)
	}
	if err := tx.AddEscrow(w.ID, amount.Neg()); err != nil {
		return err
	}
	w.Escrow = w.Escrow.Sub(amount)
	return ledgerRow(tx, w, model.TxEscrowRelease, amount, orderID, desc)
}

// returnEscrow puts held funds back into the same wallet's available
// balance (cancellations and refund resolutions).
func returnEscrow(tx Tx, w *model.Wallet, amount decimal.Decimal, orderID *string, desc string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", model.ErrInvalidAmount)
	}
	if w.Escrow.LessThan(amount) {
		log.Printf("[ledger] INVARIANT: wallet %s escrow %s < refund %s (order %v)", w.ID, w.Escrow, amount, orderID)
		return fmt.Errorf("%w: escrow %s < refund %s", model.ErrInvariantViolation, w.Escrow, amount)
	}
	if err := tx.AddEscrow(w.ID, amount.Neg()); err != nil {
		return err
	}
	if err := tx.AddAvailable(w.ID, amount); err != nil {
		return err
	}
	w.Escrow = w.Escrow.Sub(amount)
	w.Available = w.Available.Add(amount)
	return ledgerRow(tx, w, model.TxRefund, amount, orderID, desc)
}
