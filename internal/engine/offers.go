package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"p2p-exchange/internal/model"
)

// CreateOffer lists a vendor ad. A buy_ad reserves the full fiat value of
// the listed amount from the vendor's wallet at listing time; that pool
// is assigned to orders as they come in.
func (e *Engine) CreateOffer(ctx context.Context, actor model.Actor, req model.CreateOfferReq) (*model.Offer, error) {
	if req.TradeIntent != model.SellAd && req.TradeIntent != model.BuyAd {
		return nil, fmt.Errorf("%w: trade_intent must be sell_ad or buy_ad", model.ErrInvalidAmount)
	}
	if req.Currency == "" || len(req.PaymentMethods) == 0 {
		return nil, fmt.Errorf("%w: currency and payment_methods required", model.ErrInvalidAmount)
	}
	if req.PricePerUnit.Sign() <= 0 || req.AvailableAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price and amount must be positive", model.ErrInvalidAmount)
	}
	if req.MinLimit.Sign() <= 0 || req.MinLimit.GreaterThan(req.MaxLimit) {
		return nil, fmt.Errorf("%w: limits must satisfy 0 < min <= max", model.ErrInvalidAmount)
	}

	offer := &model.Offer{
		ID:              uuid.New().String(),
		VendorID:        actor.ID,
		TradeIntent:     req.TradeIntent,
		Currency:        req.Currency,
		PricePerUnit:    req.PricePerUnit,
		MinLimit:        req.MinLimit,
		MaxLimit:        req.MaxLimit,
		AvailableAmount: req.AvailableAmount,
		EscrowHeld:      decimal.Zero,
		PaymentMethods:  req.PaymentMethods,
		IsActive:        true,
		CreatedAt:       e.now(),
	}

	err := e.store.InTx(ctx, func(tx Tx) error {
		u, err := requireActive(tx, actor.ID)
		if err != nil {
			return err
		}
		if u.KYCStatus != model.KYCApproved {
			return fmt.Errorf("%w: vendor %s", model.ErrKYCRequired, actor.ID)
		}
		if req.TradeIntent == model.BuyAd {
			total := req.AvailableAmount.Mul(req.PricePerUnit).RoundBank(model.MoneyScale)
			if err := e.hold(tx, actor.ID, req.Currency, total, nil, "buy ad escrow reserve"); err != nil {
				return err
			}
			offer.EscrowHeld = total
		}
		if err := tx.InsertOffer(offer); err != nil {
			return err
		}
		return tx.AppendEvent(nil, "OfferCreated", map[string]any{
			"offer_id": offer.ID, "vendor_id": actor.ID,
			"trade_intent": offer.TradeIntent, "amount": offer.AvailableAmount,
		})
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// DeactivateOffer takes an ad off the book and refunds any unassigned
// escrow still reserved against a buy_ad.
func (e *Engine) DeactivateOffer(ctx context.Context, actor model.Actor, offerID string) (*model.Offer, error) {
	var offer *model.Offer
	err := e.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOfferForUpdate(offerID)
		if err != nil {
			return err
		}
		if actor.ID != o.VendorID && !actor.IsAdmin() {
			return fmt.Errorf("%w: not the offer vendor", model.ErrNotAuthorized)
		}
		if !o.IsActive {
			return fmt.Errorf("%w: offer already inactive", model.ErrInvalidState)
		}
		if o.TradeIntent == model.BuyAd && o.EscrowHeld.Sign() > 0 {
			if err := e.refund(tx, o.VendorID, o.Currency, o.EscrowHeld, nil, "buy ad escrow returned"); err != nil {
				return err
			}
			o.EscrowHeld = decimal.Zero
		}
		o.IsActive = false
		if err := tx.UpdateOffer(o); err != nil {
			return err
		}
		offer = o
		return tx.AppendEvent(nil, "OfferDeactivated", map[string]any{
			"offer_id": o.ID, "by": actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}
