package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

type TradeIntent string

const (
	SellAd TradeIntent = "sell_ad"
	BuyAd  TradeIntent = "buy_ad"
)

type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderEscrowed  OrderStatus = "escrowed"
	OrderPaid      OrderStatus = "paid"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderDisputed  OrderStatus = "disputed"
	OrderCancelled OrderStatus = "cancelled"
)

type DisputeStatus string

const (
	DisputeOpen            DisputeStatus = "open"
	DisputeInReview        DisputeStatus = "in_review"
	DisputeResolvedRefund  DisputeStatus = "resolved_refund"
	DisputeResolvedRelease DisputeStatus = "resolved_release"
)

type DisputeOutcome string

const (
	OutcomeRefund  DisputeOutcome = "refund"
	OutcomeRelease DisputeOutcome = "release"
)

type TxType string

const (
	TxDeposit       TxType = "deposit"
	TxWithdraw      TxType = "withdraw"
	TxEscrowHold    TxType = "escrow_hold"
	TxEscrowRelease TxType = "escrow_release"
	TxFee           TxType = "fee"
	TxRefund        TxType = "refund"
)

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	KYCStatus     KYCStatus `json:"kyc_status"`
	StepUpEnabled bool      `json:"step_up_enabled"`
	TOTPSecret    string    `json:"-"`
	Frozen        bool      `json:"frozen"`
	FrozenReason  string    `json:"frozen_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Wallet struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Escrow    decimal.Decimal `json:"escrow"`
}

type Transaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	WalletID       string          `json:"wallet_id"`
	Type           TxType          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	RelatedOrderID *string         `json:"related_order_id,omitempty"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Offer struct {
	ID              string          `json:"id"`
	VendorID        string          `json:"vendor_id"`
	TradeIntent     TradeIntent     `json:"trade_intent"`
	Currency        string          `json:"currency"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	MinLimit        decimal.Decimal `json:"min_limit"`
	MaxLimit        decimal.Decimal `json:"max_limit"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	EscrowHeld      decimal.Decimal `json:"escrow_held_amount"`
	PaymentMethods  []string        `json:"payment_methods"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Order struct {
	ID                string          `json:"id"`
	OfferID           string          `json:"offer_id"`
	BuyerID           string          `json:"buyer_id"`
	VendorID          string          `json:"vendor_id"`
	CreatedBy         string          `json:"created_by"`
	TradeIntent       TradeIntent     `json:"trade_intent"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	FiatAmount        decimal.Decimal `json:"fiat_amount"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit"`
	PaymentMethod     string          `json:"payment_method"`
	Status            OrderStatus     `json:"status"`
	EscrowAmount      decimal.Decimal `json:"escrow_amount"`
	PlatformFee       decimal.Decimal `json:"platform_fee"`
	SellerReceives    decimal.Decimal `json:"seller_receives"`
	BuyerPaidAt       *time.Time      `json:"buyer_paid_at,omitempty"`
	VendorConfirmedAt *time.Time      `json:"vendor_confirmed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	EscrowHeldAt      *time.Time      `json:"escrow_held_at,omitempty"`
	EscrowReleasedAt  *time.Time      `json:"escrow_released_at,omitempty"`
	AutoReleaseAt     *time.Time      `json:"auto_release_at,omitempty"`
	CancelReason      string          `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Dispute struct {
	ID         string        `json:"id"`
	OrderID    string        `json:"order_id"`
	OpenedBy   string        `json:"opened_by"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	Resolution string        `json:"resolution,omitempty"`
	ResolvedBy *string       `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type OrderMessage struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	SenderID  *string   `json:"sender_id,omitempty"` // nil = system
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type EventLog struct {
	ID        int64     `json:"id"`
	OrderID   *string   `json:"order_id,omitempty"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the authenticated principal driving an operation. The
// auto-release worker passes the system actor, which carries admin
// privileges through the same transition guards.
type Actor struct {
	ID   string
	Role Role
}

const SystemActorID = "system"

func SystemActor() Actor { return Actor{ID: SystemActorID, Role: RoleAdmin} }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ── API Types ────────────────────────────────────────

type CreateOfferReq struct {
	TradeIntent     TradeIntent     `json:"trade_intent"`
	Currency        string          `json:"currency"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	MinLimit        decimal.Decimal `json:"min_limit"`
	MaxLimit        decimal.Decimal `json:"max_limit"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentMethods  []string        `json:"payment_methods"`
}

type CreateOrderReq struct {
	Amount        decimal.Decimal `json:"amount"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	PaymentMethod string          `json:"payment_method"`
}

// ── Money ────────────────────────────────────────────

// MoneyScale is the fractional precision every balance and amount is
// carried at. Eight digits covers sub-cent crypto denominations.
const MoneyScale = 8

// CalcFee splits a gross escrow amount into the platform fee and the net
// the seller receives. feeBps is the platform rate in basis points
// (2000 = 20%). net + fee always equals gross exactly.
func CalcFee(gross decimal.Decimal, feeBps int) (net, fee decimal.Decimal) {
	fee = gross.Mul(decimal.New(int64(feeBps), 0)).
		Div(decimal.New(10000, 0)).
		RoundBank(MoneyScale)
	net = gross.Sub(fee)
	return net, fee
}
