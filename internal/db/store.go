package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"p2p-exchange/internal/engine"
	"p2p-exchange/internal/model"
)

type Store struct{ DB *sql.DB }

var _ engine.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// InTx runs fn inside one transaction; every escrow-mutating operation
// goes through here so row locks serialize access per wallet and order.
func (s *Store) InTx(ctx context.Context, fn func(engine.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ── Users ────────────────────────────────────────────

const userCols = `id, email, password_hash, role, kyc_status, step_up_enabled, totp_secret, frozen, frozen_reason, created_at`

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.KYCStatus,
		&u.StepUpEnabled, &u.TOTPSecret, &u.Frozen, &u.FrozenReason, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user", model.ErrNotFound)
	}
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	return scanUser(s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1,$2,$3) RETURNING `+userCols,
		email, hash, role))
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, email))
}

func (s *Store) SetKYCStatus(ctx context.Context, userID string, status model.KYCStatus) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET kyc_status=$1 WHERE id=$2`, status, userID)
	return err
}

func (s *Store) EnrollStepUp(ctx context.Context, userID, secret string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE users SET totp_secret=$1, step_up_enabled=TRUE WHERE id=$2`, secret, userID)
	return err
}

// ── Wallets ──────────────────────────────────────────

func (s *Store) CreateWallet(ctx context.Context, ownerID, currency string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO wallets (owner_id, currency) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		ownerID, currency)
	return err
}

func (s *Store) GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, owner_id, currency, available, escrow FROM wallets WHERE owner_id=$1 AND currency=$2`,
		ownerID, currency,
	).Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Available, &w.Escrow)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: wallet %s/%s", model.ErrNotFound, ownerID, currency)
	}
	return w, err
}

func (s *Store) ListWallets(ctx context.Context, ownerID string) ([]model.Wallet, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, owner_id, currency, available, escrow FROM wallets WHERE owner_id=$1 ORDER BY currency`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Wallet
	for rows.Next() {
		var w model.Wallet
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Available, &w.Escrow); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, walletID string, limit int) ([]model.Transaction, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, wallet_id, type, amount, currency, related_order_id, description, created_at
		 FROM transactions WHERE wallet_id=$1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.Amount, &t.Currency,
			&t.RelatedOrderID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetPlatformFees(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT currency, balance FROM platform_fees ORDER BY currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var cur string
		var bal decimal.Decimal
		if err := rows.Scan(&cur, &bal); err != nil {
			return nil, err
		}
		out[cur] = bal
	}
	return out, rows.Err()
}

// ── Offers ───────────────────────────────────────────

const offerCols = `id, vendor_id, trade_intent, currency, price_per_unit, min_limit, max_limit, available_amount, escrow_held, payment_methods, is_active, created_at`

func scanOffer(sc interface{ Scan(...any) error }) (*model.Offer, error) {
	o := &model.Offer{}
	err := sc.Scan(&o.ID, &o.VendorID, &o.TradeIntent, &o.Currency, &o.PricePerUnit,
		&o.MinLimit, &o.MaxLimit, &o.AvailableAmount, &o.EscrowHeld,
		pq.Array(&o.PaymentMethods), &o.IsActive, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: offer", model.ErrNotFound)
	}
	return o, err
}

func (s *Store) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	return scanOffer(s.DB.QueryRowContext(ctx, `SELECT `+offerCols+` FROM offers WHERE id=$1`, id))
}

func (s *Store) ListOffers(ctx context.Context, activeOnly bool, limit int) ([]model.Offer, error) {
	q := `SELECT ` + offerCols + ` FROM offers`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY created_at DESC LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ── Orders ───────────────────────────────────────────

const orderCols = `id, offer_id, buyer_id, vendor_id, created_by, trade_intent, currency, amount, fiat_amount,
	price_per_unit, payment_method, status, escrow_amount, platform_fee, seller_receives,
	buyer_paid_at, vendor_confirmed_at, completed_at, escrow_held_at, escrow_released_at,
	auto_release_at, cancel_reason, created_at, updated_at`

func scanOrder(sc interface{ Scan(...any) error }) (*model.Order, error) {
	o := &model.Order{}
	err := sc.Scan(&o.ID, &o.OfferID, &o.BuyerID, &o.VendorID, &o.CreatedBy, &o.TradeIntent,
		&o.Currency, &o.Amount, &o.FiatAmount, &o.PricePerUnit, &o.PaymentMethod, &o.Status,
		&o.EscrowAmount, &o.PlatformFee, &o.SellerReceives,
		&o.BuyerPaidAt, &o.VendorConfirmedAt, &o.CompletedAt, &o.EscrowHeldAt,
		&o.EscrowReleasedAt, &o.AutoReleaseAt, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order", model.ErrNotFound)
	}
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(s.DB.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (s *Store) ListOrdersForUser(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE buyer_id=$1 OR vendor_id=$1 OR created_by=$1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status=$1 AND auto_release_at IS NOT NULL AND auto_release_at <= $2
		 ORDER BY auto_release_at LIMIT $3`, model.OrderConfirmed, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ── Disputes ─────────────────────────────────────────

const disputeCols = `id, order_id, opened_by, reason, status, resolution, resolved_by, resolved_at, created_at`

func scanDispute(sc interface{ Scan(...any) error }) (*model.Dispute, error) {
	d := &model.Dispute{}
	err := sc.Scan(&d.ID, &d.OrderID, &d.OpenedBy, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: dispute", model.ErrNotFound)
	}
	return d, err
}

func (s *Store) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	return scanDispute(s.DB.QueryRowContext(ctx, `SELECT `+disputeCols+` FROM disputes WHERE id=$1`, id))
}

func (s *Store) ListDisputes(ctx context.Context, openOnly bool, limit int) ([]model.Dispute, error) {
	q := `SELECT ` + disputeCols + ` FROM disputes`
	if openOnly {
		q += ` WHERE status IN ('open','in_review')`
	}
	q += ` ORDER BY created_at DESC LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ── Messages / Notifications / Events ────────────────

func (s *Store) ListMessages(ctx context.Context, orderID string, limit int) ([]model.OrderMessage, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, order_id, sender_id, body, created_at FROM order_messages
		 WHERE order_id=$1 ORDER BY created_at LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrderMessage
	for rows.Next() {
		var m model.OrderMessage
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, link, read, created_at FROM notifications
		 WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, orderID *string, limit int) ([]model.EventLog, error) {
	q := `SELECT id, order_id, type, payload_json, created_at FROM event_log`
	var args []any
	if orderID != nil {
		q += ` WHERE order_id=$1`
		args = append(args, *orderID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var raw []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = string(raw)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Admin metrics ────────────────────────────────────

func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for name, q := range map[string]string{
		"users":         `SELECT COUNT(*) FROM users`,
		"active_offers": `SELECT COUNT(*) FROM offers WHERE is_active`,
		"open_orders":   `SELECT COUNT(*) FROM orders WHERE status NOT IN ('completed','cancelled')`,
		"open_disputes": `SELECT COUNT(*) FROM disputes WHERE status IN ('open','in_review')`,
	} {
		var n int64
		if err := s.DB.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}
