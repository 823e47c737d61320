package engine

import (
	"github.com/shopspring/decimal"

	"p2p-exchange/internal/metrics"
	"p2p-exchange/internal/model"
)

// The four money-movement protocols orders are allowed to use. All of
// them run on wallets already locked within the caller's transaction.

// hold reserves amount from the payer's available balance against an
// order or offer. Checked before any status transition is persisted, so
// a failed hold leaves no trace.
func (e *Engine) hold(tx Tx, payerID, currency string, amount decimal.Decimal, orderID *string, desc string) error {
	w, err := tx.GetWalletForUpdate(payerID, currency)
	if err != nil {
		return err
	}
	if err := moveToEscrow(tx, w, amount, orderID, desc); err != nil {
		return err
	}
	metrics.EscrowVolume.WithLabelValues(currency, "hold").Add(amount.InexactFloat64())
	return nil
}

// release moves held funds from payer to payee without a fee.
func (e *Engine) release(tx Tx, payerID, payeeID, currency string, amount decimal.Decimal, orderID *string) error {
	payer, err := tx.GetWalletForUpdate(payerID, currency)
	if err != nil {
		return err
	}
	if err := releaseEscrow(tx, payer, amount, orderID, "escrow released"); err != nil {
		return err
	}
	payee, err := tx.GetWalletForUpdate(payeeID, currency)
	if err != nil {
		return err
	}
	if err := credit(tx, payee, amount, model.TxEscrowRelease, orderID, "escrow payout received"); err != nil {
		return err
	}
	metrics.EscrowVolume.WithLabelValues(currency, "release").Add(amount.InexactFloat64())
	return nil
}

// releaseWithFee pays the seller net of the platform fee and credits the
// fee to the per-currency platform ledger so the books stay balanced.
func (e *Engine) releaseWithFee(tx Tx, payerID, payeeID, currency string, gross decimal.Decimal, orderID *string) (net, fee decimal.Decimal, err error) {
	net, fee = model.CalcFee(gross, e.feeBps)

	payer, err := tx.GetWalletForUpdate(payerID, currency)
	if err != nil {
		return net, fee, err
	}
	if err = releaseEscrow(tx, payer, gross, orderID, "escrow released to seller"); err != nil {
		return net, fee, err
	}
	if fee.Sign() > 0 {
		if err = ledgerRow(tx, payer, model.TxFee, fee, orderID, "platform fee"); err != nil {
			return net, fee, err
		}
		if err = tx.AddPlatformFee(currency, fee); err != nil {
			return net, fee, err
		}
	}
	payee, err := tx.GetWalletForUpdate(payeeID, currency)
	if err != nil {
		return net, fee, err
	}
	if err = credit(tx, payee, net, model.TxEscrowRelease, orderID, "escrow payout received"); err != nil {
		return net, fee, err
	}
	metrics.EscrowVolume.WithLabelValues(currency, "release").Add(gross.InexactFloat64())
	return net, fee, nil
}

// refund returns held funds to the payer's own available balance.
func (e *Engine) refund(tx Tx, payerID, currency string, amount decimal.Decimal, orderID *string, desc string) error {
	w, err := tx.GetWalletForUpdate(payerID, currency)
	if err != nil {
		return err
	}
	if err := returnEscrow(tx, w, amount, orderID, desc); err != nil {
		return err
	}
	metrics.EscrowVolume.WithLabelValues(currency, "refund").Add(amount.InexactFloat64())
	return nil
}
