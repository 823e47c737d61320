package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"p2p-exchange/internal/model"
)

// Tx is the storage handle the engine mutates through. Every money-moving
// operation runs inside exactly one Tx; *ForUpdate reads take row locks so
// at most one escrow-mutating operation is in flight per wallet at a time.
type Tx interface {
	GetUserForUpdate(id string) (*model.User, error)
	SetUserFrozen(id string, frozen bool, reason string) error

	GetWalletForUpdate(ownerID, currency string) (*model.Wallet, error)
	AddAvailable(walletID string, delta decimal.Decimal) error
	AddEscrow(walletID string, delta decimal.Decimal) error
	AddPlatformFee(currency string, amount decimal.Decimal) error
	InsertTransaction(t *model.Transaction) error

	InsertOffer(o *model.Offer) error
	GetOfferForUpdate(id string) (*model.Offer, error)
	UpdateOffer(o *model.Offer) error

	InsertOrder(o *model.Order) error
	GetOrderForUpdate(id string) (*model.Order, error)
	UpdateOrder(o *model.Order) error

	InsertDispute(d *model.Dispute) error
	GetDisputeByOrder(orderID string) (*model.Dispute, error)
	GetDisputeForUpdate(id string) (*model.Dispute, error)
	UpdateDispute(d *model.Dispute) error

	AppendEvent(orderID *string, evType string, payload any) error
	InsertMessage(m *model.OrderMessage) error
	InsertNotification(n *model.Notification) error
}

// Store opens transactions and serves the engine's read paths. Lookups
// return model.ErrNotFound (wrapped) for missing rows.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
	GetDispute(ctx context.Context, id string) (*model.Dispute, error)
	GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error)

	// ListAutoReleasable returns confirmed orders whose auto-release
	// deadline has passed, oldest first.
	ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error)
}
