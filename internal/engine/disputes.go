package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"p2p-exchange/internal/metrics"
	"p2p-exchange/internal/model"
)

// OpenDispute freezes an in-flight order under admin review. One dispute
// per order; the order is forced into disputed so no ordinary transition
// can touch its escrow while the dispute is open.
func (e *Engine) OpenDispute(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", model.ErrInvalidAmount)
	}
	var dispute *model.Dispute
	p := &pushSet{}
	err := e.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(orderID)
		if err != nil {
			return err
		}
		if !IsParticipant(o, actor.ID) {
			return fmt.Errorf("%w: not a participant", model.ErrNotAuthorized)
		}
		// An existing dispute outranks the status guard: a disputed order
		// must report AlreadyDisputed, not InvalidState.
		if existing, err := tx.GetDisputeByOrder(o.ID); err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				return err
			}
		} else if existing != nil {
			return model.ErrAlreadyDisputed
		}
		if !disputableFrom[o.Status] {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}

		now := e.now()
		d := &model.Dispute{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			OpenedBy:  actor.ID,
			Reason:    reason,
			Status:    model.DisputeOpen,
			CreatedAt: now,
		}
		if err := tx.InsertDispute(d); err != nil {
			return err
		}
		o.Status = model.OrderDisputed
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "DisputeOpened", map[string]any{
			"dispute_id": d.ID, "order_id": o.ID, "opened_by": actor.ID, "reason": reason,
		}); err != nil {
			return err
		}
		parties := ResolveParties(o)
		counterparty := parties.SellerID
		if actor.ID == parties.SellerID {
			counterparty = parties.BuyerID
		}
		if err := e.notify(tx, p, counterparty, o.ID, "dispute:opened",
			"Dispute opened on your order", reason); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(p)
	metrics.DisputesOpened.Inc()
	return dispute, nil
}

// ResolveDispute is the admin override: exactly one of two fund
// dispositions, behind a mandatory step-up check because this single
// call moves escrow without either counterparty's consent. The dispute
// row and the escrow movement commit in the same transaction, so a
// partial failure cannot be retried into a double payout.
func (e *Engine) ResolveDispute(ctx context.Context, actor model.Actor, disputeID string, outcome model.DisputeOutcome, notes, stepUpToken string) (*model.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", model.ErrNotAuthorized)
	}
	if outcome != model.OutcomeRefund && outcome != model.OutcomeRelease {
		return nil, fmt.Errorf("%w: outcome must be refund or release", model.ErrInvalidAmount)
	}

	var dispute *model.Dispute
	p := &pushSet{}
	err := e.store.InTx(ctx, func(tx Tx) error {
		admin, err := tx.GetUserForUpdate(actor.ID)
		if err != nil {
			return err
		}
		if err := e.requireStepUp(admin, stepUpToken, true); err != nil {
			return err
		}

		d, err := tx.GetDisputeForUpdate(disputeID)
		if err != nil {
			return err
		}
		if d.Status != model.DisputeOpen && d.Status != model.DisputeInReview {
			return model.ErrAlreadyResolved
		}
		o, err := tx.GetOrderForUpdate(d.OrderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderDisputed {
			return fmt.Errorf("%w: order is %s", model.ErrInvalidState, o.Status)
		}

		parties := ResolveParties(o)
		now := e.now()
		switch outcome {
		case model.OutcomeRefund:
			if err := e.refund(tx, parties.BuyerID, o.Currency, o.EscrowAmount, &o.ID, "dispute resolved: refund"); err != nil {
				return err
			}
			o.Status = model.OrderCancelled
			o.CancelReason = "dispute resolved: refund"
			d.Status = model.DisputeResolvedRefund
		case model.OutcomeRelease:
			net, fee, err := e.releaseWithFee(tx, parties.BuyerID, parties.SellerID, o.Currency, o.EscrowAmount, &o.ID)
			if err != nil {
				return err
			}
			o.PlatformFee = fee
			o.SellerReceives = net
			o.CompletedAt = &now
			o.EscrowReleasedAt = &now
			o.Status = model.OrderCompleted
			d.Status = model.DisputeResolvedRelease
		}
		o.UpdatedAt = now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		d.Resolution = notes
		d.ResolvedBy = &actor.ID
		d.ResolvedAt = &now
		if err := tx.UpdateDispute(d); err != nil {
			return err
		}
		if err := tx.AppendEvent(&o.ID, "DisputeResolved", map[string]any{
			"dispute_id": d.ID, "order_id": o.ID, "outcome": outcome, "resolved_by": actor.ID,
		}); err != nil {
			return err
		}
		msg := fmt.Sprintf("An admin resolved the dispute: %s. %s", outcome, notes)
		if err := e.notify(tx, p, parties.BuyerID, o.ID, "dispute:resolved", "Dispute resolved", msg); err != nil {
			return err
		}
		if err := e.notify(tx, p, parties.SellerID, o.ID, "dispute:resolved", "Dispute resolved", msg); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.flush(p)
	metrics.DisputesResolved.WithLabelValues(string(outcome)).Inc()
	return dispute, nil
}
