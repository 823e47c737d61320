package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"p2p-exchange/internal/model"
)

func TestCreateOfferRequiresKYC(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()

	u := ms.addUser("newbie", model.KYCPending)
	ms.addWallet(u.ID, "USD", dec("100"))

	_, err := e.CreateOffer(ctx, actorFor(u), model.CreateOfferReq{
		TradeIntent:     model.SellAd,
		Currency:        "USD",
		PricePerUnit:    dec("1"),
		MinLimit:        dec("1"),
		MaxLimit:        dec("10"),
		AvailableAmount: dec("10"),
		PaymentMethods:  []string{"bank_transfer"},
	})
	require.ErrorIs(t, err, model.ErrKYCRequired)
}

func TestCreateOfferValidation(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()
	u := ms.addUser("vendor", model.KYCApproved)
	ms.addWallet(u.ID, "USD", dec("100"))

	base := model.CreateOfferReq{
		TradeIntent:     model.SellAd,
		Currency:        "USD",
		PricePerUnit:    dec("1"),
		MinLimit:        dec("1"),
		MaxLimit:        dec("10"),
		AvailableAmount: dec("10"),
		PaymentMethods:  []string{"bank_transfer"},
	}

	req := base
	req.TradeIntent = "swap"
	_, err := e.CreateOffer(ctx, actorFor(u), req)
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	req = base
	req.PaymentMethods = nil
	_, err = e.CreateOffer(ctx, actorFor(u), req)
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	req = base
	req.PricePerUnit = dec("0")
	_, err = e.CreateOffer(ctx, actorFor(u), req)
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	req = base
	req.MinLimit = dec("20")
	_, err = e.CreateOffer(ctx, actorFor(u), req)
	require.ErrorIs(t, err, model.ErrInvalidAmount, "min above max")
}

func TestBuyAdReserveNeedsFunds(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()
	u := ms.addUser("vendor", model.KYCApproved)
	ms.addWallet(u.ID, "USD", dec("10"))

	_, err := e.CreateOffer(ctx, actorFor(u), model.CreateOfferReq{
		TradeIntent:     model.BuyAd,
		Currency:        "USD",
		PricePerUnit:    dec("0.5"),
		MinLimit:        dec("1"),
		MaxLimit:        dec("50"),
		AvailableAmount: dec("100"), // needs 50 USD reserved
		PaymentMethods:  []string{"bank_transfer"},
	})
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	// Rolled back: no offer, wallet untouched.
	require.Empty(t, ms.offers)
	w, _ := ms.GetWallet(ctx, u.ID, "USD")
	require.True(t, w.Available.Equal(dec("10")))
	require.True(t, w.Escrow.IsZero())
}

func TestDeactivateOfferGuards(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()
	vendor, taker, offer := sellAdFixture(t, e, ms)

	_, err := e.DeactivateOffer(ctx, actorFor(taker), offer.ID)
	require.ErrorIs(t, err, model.ErrNotAuthorized)

	got, err := e.DeactivateOffer(ctx, actorFor(vendor), offer.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	_, err = e.DeactivateOffer(ctx, actorFor(vendor), offer.ID)
	require.ErrorIs(t, err, model.ErrInvalidState)

	// Orders cannot be opened against an inactive offer.
	_, err = e.CreateOrder(ctx, actorFor(taker), offer.ID, model.CreateOrderReq{Amount: dec("100")})
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestOfferExhaustionDeactivates(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()
	_, taker, offer := sellAdFixture(t, e, ms)

	// Take the full listed amount: 200 units at 0.5 is 100 USD, at the
	// offer's max limit.
	_, err := e.CreateOrder(ctx, actorFor(taker), offer.ID, model.CreateOrderReq{Amount: dec("200")})
	require.NoError(t, err)

	got, _ := ms.GetOffer(ctx, offer.ID)
	require.True(t, got.AvailableAmount.IsZero())
	require.False(t, got.IsActive)
}
