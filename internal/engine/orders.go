package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"p2p-exchange/internal/metrics"
	"p2p-exchange/internal/model"
)

// Statuses an order can be disputed from. Completed and cancelled are
// terminal; disputed orders are resolved through the admin path only.
var disputableFrom = map[model.OrderStatus]bool{
	model.OrderCreated:   true,
	model.OrderEscrowed:  true,
	model.OrderPaid:      true,
	model.OrderConfirmed: true,
}

var cancellableFrom = map[model.OrderStatus]bool{
	model.OrderCreated:  true,
	model.OrderEscrowed: true,
}

// CreateOrder opens an order against an active offer. For a sell_ad the
// creator's funds move to escrow immediately; for a buy_ad the order is
// carved out of the offer's unassigned escrow pool. Either way the order
// lands in escrowed, fully funded, or not at all.
func (e *Engine) CreateOrder(ctx context.Context, actor model.Actor, offerID string, req model.CreateOrderReq) (*model.Order, error) {
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}

	var order *model.Order
	p := &pushSet{}
	err := e.store.InTx(ctx, func(tx Tx) error {
		if _, err := requireActive(tx, actor.ID); err != nil {
			return err
		}
		offer, err := tx.GetOfferForUpdate(offerID)
		if err != nil {
			return err
		}
		if !offer.IsActive {
			return fmt.Errorf("%w: offer is not active", model.ErrInvalidState)
		}
		if actor.ID == offer.VendorID {
			return fmt.Errorf("%w: cannot take own offer", model.ErrNotAuthorized)
		}
		if req.Amount.GreaterThan(offer.AvailableAmount) {
			return fmt.Errorf("%w: offer has %s available", model.ErrInvalidAmount, offer.AvailableAmount)
		}

		fiat := req.Amount.Mul(offer.PricePerUnit).RoundBank(model.MoneyScale)
		if !req.FiatAmount.IsZero() && !req.FiatAmount.Equal(fiat) {
			return fmt.Errorf("%w: fiat amount mismatch, expected %s", model.ErrInvalidAmount, fiat)
		}
		if fiat.LessThan(offer.MinLimit) || fiat.GreaterThan(offer.MaxLimit) {
			return fmt.Errorf("%w: fiat amount %s outside limits %s-%s",
				model.ErrInvalidAmount, fiat, offer.MinLimit, offer.MaxLimit)
		}

		now := e.now()
		o := &model.Order{
			ID:            uuid.New().String(),
			OfferID:       offer.ID,
			VendorID:      offer.VendorID,
			CreatedBy:     actor.ID,
			TradeIntent:   offer.TradeIntent,
			Currency:      offer.Currency,
			Amount:        req.Amount,
			FiatAmount:    fiat,
			PricePerUnit:  offer.PricePerUnit,
			PaymentMethod: req.PaymentMethod,
			Status:        model.OrderCreated,
			EscrowAmount:  fiat,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		parties := ResolveParties(o)
		o.BuyerID = parties.BuyerID

		// Fund the escrow before any status is persisted.
		switch offer.TradeIntent {
		case model.SellAd:
			if err := e.hold(tx, parties.BuyerID, offer.Currency, fiat, &o.ID, "order escrow hold"); err != nil {
				return err
			}
		case model.BuyAd:
			if offer.EscrowHeld.LessThan(fiat) {
				return fmt.Errorf("%w: offer escrow pool has %s, order needs %s",
					model.ErrInsufficientFunds, offer.EscrowHeld, fiat)
			}
			offer.EscrowHeld = offer.EscrowHeld.Sub(fiat)
		}
		o.Status = model.OrderEscrowed
		o.EscrowHeldAt = &now

		offer.AvailableAmount = offer.AvailableAmount.Sub(req.Amount)
		if offer.AvailableAmount.IsZero() {
			offer.IsActive = false
			if offer.TradeIntent == model.BuyAd && offer.EscrowHeld.Sign() > 0 {
				// Residual rounding dust from the pool goes back to the vendor.
				if err := e.refund(tx, offer.VendorID, offer.Currency, offer.EscrowHeld, nil, "buy ad residual escrow returned"); err != nil {
					return err
				}
				offer.EscrowHeld = decimal.Zero
			}
		}
		if err := tx.UpdateOffer(offer); err != nil {
			return err
		}
		if err := tx.InsertOrder(o); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "OrderEscrowed", map[string]any{
			"order_id": o.ID, "offer_id": offer.ID, "fiat_amount": fiat, "created_by": actor.ID,
		}); err != nil {
			return err
		}
		if err := e.notify(tx, p, o.VendorID, o.ID, "order:created",
			"New order on your offer",
			fmt.Sprintf("Order for %s %s opened and escrowed.", fiat, o.Currency)); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(p)
	metrics.OrderTransitions.WithLabelValues(string(model.OrderEscrowed)).Inc()
	return order, nil
}

// MarkPaid records that the buyer sent the fiat payment off-platform and
// starts the auto-release clock.
func (e *Engine) MarkPaid(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return e.transition(ctx, orderID, func(tx Tx, o *model.Order, p *pushSet) error {
		parties := ResolveParties(o)
		if actor.ID != parties.BuyerID {
			return fmt.Errorf("%w: only the buyer can mark an order paid", model.ErrNotAuthorized)
		}
		if o.Status != model.OrderCreated && o.Status != model.OrderEscrowed {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}
		now := e.now()
		release := now.Add(e.autoRelease)
		o.BuyerPaidAt = &now
		o.AutoReleaseAt = &release
		o.Status = model.OrderPaid
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "OrderPaid", map[string]any{"order_id": o.ID, "by": actor.ID}); err != nil {
			return err
		}
		return e.notify(tx, p, parties.SellerID, o.ID, "order:paid",
			"Buyer marked order as paid",
			"The buyer reports the fiat payment was sent. Verify receipt, then deliver.")
	})
}

// Deliver records the seller handing over the traded asset.
func (e *Engine) Deliver(ctx context.Context, actor model.Actor, orderID, note string) (*model.Order, error) {
	return e.transition(ctx, orderID, func(tx Tx, o *model.Order, p *pushSet) error {
		parties := ResolveParties(o)
		if actor.ID != parties.SellerID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the seller can deliver", model.ErrNotAuthorized)
		}
		if o.Status != model.OrderPaid && o.Status != model.OrderEscrowed {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}
		now := e.now()
		o.VendorConfirmedAt = &now
		o.Status = model.OrderConfirmed
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		payload := map[string]any{"order_id": o.ID, "by": actor.ID}
		if note != "" {
			payload["note"] = note
		}
		if err := tx.AppendEvent(&o.ID, "OrderDelivered", payload); err != nil {
			return err
		}
		msg := "The seller marked the order delivered. Confirm to release escrow."
		if note != "" {
			msg += " Note: " + note
		}
		return e.notify(tx, p, parties.BuyerID, o.ID, "order:delivered", "Order delivered", msg)
	})
}

// Confirm releases escrow to the seller, minus the platform fee, and
// completes the order. The buyer, an admin, or the auto-release worker
// may trigger it; a buyer with step-up enabled must present a token.
func (e *Engine) Confirm(ctx context.Context, actor model.Actor, orderID, stepUpToken string) (*model.Order, error) {
	return e.transition(ctx, orderID, func(tx Tx, o *model.Order, p *pushSet) error {
		parties := ResolveParties(o)
		if actor.ID != parties.BuyerID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the buyer or an admin can confirm", model.ErrNotAuthorized)
		}
		if o.Status != model.OrderConfirmed {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}
		if actor.ID == parties.BuyerID && !actor.IsAdmin() {
			buyer, err := requireActive(tx, parties.BuyerID)
			if err != nil {
				return err
			}
			if err := e.requireStepUp(buyer, stepUpToken, false); err != nil {
				return err
			}
		}

		net, fee, err := e.releaseWithFee(tx, parties.BuyerID, parties.SellerID, o.Currency, o.EscrowAmount, &o.ID)
		if err != nil {
			return err
		}
		now := e.now()
		o.PlatformFee = fee
		o.SellerReceives = net
		o.CompletedAt = &now
		o.EscrowReleasedAt = &now
		o.Status = model.OrderCompleted
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "OrderCompleted", map[string]any{
			"order_id": o.ID, "by": actor.ID, "seller_receives": net, "platform_fee": fee,
		}); err != nil {
			return err
		}
		return e.notify(tx, p, parties.SellerID, o.ID, "order:completed",
			"Order completed",
			fmt.Sprintf("Escrow released: %s %s credited to your wallet.", net, o.Currency))
	})
}

// Cancel aborts an order that has not been paid yet and refunds the
// escrowed funds to the buyer. Paid orders go through disputes instead.
func (e *Engine) Cancel(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	return e.transition(ctx, orderID, func(tx Tx, o *model.Order, p *pushSet) error {
		parties := ResolveParties(o)
		if !IsParticipant(o, actor.ID) && !actor.IsAdmin() {
			return fmt.Errorf("%w: not a participant", model.ErrNotAuthorized)
		}
		if !cancellableFrom[o.Status] {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}
		if o.EscrowAmount.Sign() > 0 {
			if err := e.refund(tx, parties.BuyerID, o.Currency, o.EscrowAmount, &o.ID, "order cancelled"); err != nil {
				return err
			}
		}
		now := e.now()
		o.Status = model.OrderCancelled
		o.CancelReason = reason
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "OrderCancelled", map[string]any{
			"order_id": o.ID, "by": actor.ID, "reason": reason,
		}); err != nil {
			return err
		}
		counterparty := parties.SellerID
		if actor.ID == parties.SellerID {
			counterparty = parties.BuyerID
		}
		return e.notify(tx, p, counterparty, o.ID, "order:cancelled",
			"Order cancelled", "The order was cancelled and escrow refunded.")
	})
}

// transition runs a guarded state change on a locked order row in one
// transaction, then flushes buffered WS pushes and counts the result.
func (e *Engine) transition(ctx context.Context, orderID string, fn func(tx Tx, o *model.Order, p *pushSet) error) (*model.Order, error) {
	var order *model.Order
	p := &pushSet{}
	err := e.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, o, p); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(p)
	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	return order, nil
}
