package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"p2p-exchange/internal/engine"
	"p2p-exchange/internal/model"
)

// storeTx implements engine.Tx over one *sql.Tx. All *ForUpdate reads
// use SELECT ... FOR UPDATE so concurrent escrow mutators serialize on
// the affected rows.
type storeTx struct{ tx *sql.Tx }

var _ engine.Tx = (*storeTx)(nil)

// ── Users ────────────────────────────────────────────

func (t *storeTx) GetUserForUpdate(id string) (*model.User, error) {
	u := &model.User{}
	err := t.tx.QueryRow(`SELECT `+userCols+` FROM users WHERE id=$1 FOR UPDATE`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.KYCStatus,
			&u.StepUpEnabled, &u.TOTPSecret, &u.Frozen, &u.FrozenReason, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	return u, err
}

func (t *storeTx) SetUserFrozen(id string, frozen bool, reason string) error {
	_, err := t.tx.Exec(`UPDATE users SET frozen=$1, frozen_reason=$2 WHERE id=$3`, frozen, reason, id)
	return err
}

// ── Wallets ──────────────────────────────────────────

func (t *storeTx) GetWalletForUpdate(ownerID, currency string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := t.tx.QueryRow(
		`SELECT id, owner_id, currency, available, escrow FROM wallets
		 WHERE owner_id=$1 AND currency=$2 FOR UPDATE`, ownerID, currency,
	).Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Available, &w.Escrow)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: wallet %s/%s", model.ErrNotFound, ownerID, currency)
	}
	return w, err
}

func (t *storeTx) AddAvailable(walletID string, delta decimal.Decimal) error {
	_, err := t.tx.Exec(`UPDATE wallets SET available = available + $1 WHERE id=$2`, delta, walletID)
	return err
}

func (t *storeTx) AddEscrow(walletID string, delta decimal.Decimal) error {
	_, err := t.tx.Exec(`UPDATE wallets SET escrow = escrow + $1 WHERE id=$2`, delta, walletID)
	return err
}

func (t *storeTx) AddPlatformFee(currency string, amount decimal.Decimal) error {
	_, err := t.tx.Exec(
		`INSERT INTO platform_fees (currency, balance) VALUES ($1,$2)
		 ON CONFLICT (currency) DO UPDATE SET balance = platform_fees.balance + $2`,
		currency, amount)
	return err
}

func (t *storeTx) InsertTransaction(tr *model.Transaction) error {
	_, err := t.tx.Exec(
		`INSERT INTO transactions (user_id, wallet_id, type, amount, currency, related_order_id, description)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tr.UserID, tr.WalletID, tr.Type, tr.Amount, tr.Currency, tr.RelatedOrderID, tr.Description)
	return err
}

// ── Offers ───────────────────────────────────────────

func (t *storeTx) InsertOffer(o *model.Offer) error {
	_, err := t.tx.Exec(
		`INSERT INTO offers (`+offerCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.VendorID, o.TradeIntent, o.Currency, o.PricePerUnit, o.MinLimit, o.MaxLimit,
		o.AvailableAmount, o.EscrowHeld, pq.Array(o.PaymentMethods), o.IsActive, o.CreatedAt)
	return err
}

func (t *storeTx) GetOfferForUpdate(id string) (*model.Offer, error) {
	return scanOffer(t.tx.QueryRow(`SELECT `+offerCols+` FROM offers WHERE id=$1 FOR UPDATE`, id))
}

func (t *storeTx) UpdateOffer(o *model.Offer) error {
	_, err := t.tx.Exec(
		`UPDATE offers SET available_amount=$1, escrow_held=$2, is_active=$3 WHERE id=$4`,
		o.AvailableAmount, o.EscrowHeld, o.IsActive, o.ID)
	return err
}

// ── Orders ───────────────────────────────────────────

func (t *storeTx) InsertOrder(o *model.Order) error {
	_, err := t.tx.Exec(
		`INSERT INTO orders (id, offer_id, buyer_id, vendor_id, created_by, trade_intent, currency,
			amount, fiat_amount, price_per_unit, payment_method, status, escrow_amount,
			platform_fee, seller_receives, escrow_held_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.OfferID, o.BuyerID, o.VendorID, o.CreatedBy, o.TradeIntent, o.Currency,
		o.Amount, o.FiatAmount, o.PricePerUnit, o.PaymentMethod, o.Status, o.EscrowAmount,
		o.PlatformFee, o.SellerReceives, o.EscrowHeldAt, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *storeTx) GetOrderForUpdate(id string) (*model.Order, error) {
	return scanOrder(t.tx.QueryRow(`SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *storeTx) UpdateOrder(o *model.Order) error {
	_, err := t.tx.Exec(
		`UPDATE orders SET status=$1, escrow_amount=$2, platform_fee=$3, seller_receives=$4,
			buyer_paid_at=$5, vendor_confirmed_at=$6, completed_at=$7, escrow_held_at=$8,
			escrow_released_at=$9, auto_release_at=$10, cancel_reason=$11, updated_at=$12
		 WHERE id=$13`,
		o.Status, o.EscrowAmount, o.PlatformFee, o.SellerReceives,
		o.BuyerPaidAt, o.VendorConfirmedAt, o.CompletedAt, o.EscrowHeldAt,
		o.EscrowReleasedAt, o.AutoReleaseAt, o.CancelReason, o.UpdatedAt, o.ID)
	return err
}

// ── Disputes ─────────────────────────────────────────

func (t *storeTx) InsertDispute(d *model.Dispute) error {
	_, err := t.tx.Exec(
		`INSERT INTO disputes (id, order_id, opened_by, reason, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.OrderID, d.OpenedBy, d.Reason, d.Status, d.CreatedAt)
	return err
}

func (t *storeTx) GetDisputeByOrder(orderID string) (*model.Dispute, error) {
	return scanDispute(t.tx.QueryRow(`SELECT `+disputeCols+` FROM disputes WHERE order_id=$1`, orderID))
}

func (t *storeTx) GetDisputeForUpdate(id string) (*model.Dispute, error) {
	return scanDispute(t.tx.QueryRow(`SELECT `+disputeCols+` FROM disputes WHERE id=$1 FOR UPDATE`, id))
}

func (t *storeTx) UpdateDispute(d *model.Dispute) error {
	_, err := t.tx.Exec(
		`UPDATE disputes SET status=$1, resolution=$2, resolved_by=$3, resolved_at=$4 WHERE id=$5`,
		d.Status, d.Resolution, d.ResolvedBy, d.ResolvedAt, d.ID)
	return err
}

// ── Sinks ────────────────────────────────────────────

func (t *storeTx) AppendEvent(orderID *string, evType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO event_log (order_id, type, payload_json) VALUES ($1,$2,$3)`,
		orderID, evType, b)
	return err
}

func (t *storeTx) InsertMessage(m *model.OrderMessage) error {
	_, err := t.tx.Exec(
		`INSERT INTO order_messages (order_id, sender_id, body) VALUES ($1,$2,$3)`,
		m.OrderID, m.SenderID, m.Body)
	return err
}

func (t *storeTx) InsertNotification(n *model.Notification) error {
	_, err := t.tx.Exec(
		`INSERT INTO notifications (user_id, type, title, message, link) VALUES ($1,$2,$3,$4,$5)`,
		n.UserID, n.Type, n.Title, n.Message, n.Link)
	return err
}
