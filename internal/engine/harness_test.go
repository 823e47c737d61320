package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"p2p-exchange/internal/model"
)

const goodToken = "424242"

type staticVerifier struct{}

func (staticVerifier) Verify(u *model.User, token string) error {
	if token == goodToken {
		return nil
	}
	return errors.New("bad token")
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(t *testing.T) (*Engine, *memStore) {
	t.Helper()
	ms := newMemStore()
	e := New(ms, staticVerifier{}, Options{
		FeeBps:            2000,
		AutoReleaseWindow: 72 * time.Hour,
	})
	return e, ms
}

// totalHoldings sums every wallet balance plus collected platform fees
// for a currency. Escrow held against offers lives inside the vendor's
// wallet escrow, so it is already counted.
func totalHoldings(ms *memStore, currency string) decimal.Decimal {
	total := ms.fees[currency]
	for _, w := range ms.wallets {
		if w.Currency == currency {
			total = total.Add(w.Available).Add(w.Escrow)
		}
	}
	return total
}

// sellAdFixture lists a sell_ad from a funded vendor and funds a taker:
// vendor sells 100 GOLD at 0.5 USD each, taker holds 500 USD.
//
// For a sell_ad the taker is the buyer, so the escrow currency is the
// offer currency and the taker's wallet funds it.
func sellAdFixture(t *testing.T, e *Engine, ms *memStore) (vendor, taker *model.User, offer *model.Offer) {
	t.Helper()
	vendor = ms.addUser("vendor", model.KYCApproved)
	taker = ms.addUser("taker", model.KYCApproved)
	ms.addWallet(vendor.ID, "USD", decimal.Zero)
	ms.addWallet(taker.ID, "USD", dec("500"))

	offer, err := e.CreateOffer(context.Background(), model.Actor{ID: vendor.ID, Role: model.RoleUser}, model.CreateOfferReq{
		TradeIntent:     model.SellAd,
		Currency:        "USD",
		PricePerUnit:    dec("0.5"),
		MinLimit:        dec("10"),
		MaxLimit:        dec("100"),
		AvailableAmount: dec("200"),
		PaymentMethods:  []string{"bank_transfer"},
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return vendor, taker, offer
}

func actorFor(u *model.User) model.Actor {
	return model.Actor{ID: u.ID, Role: u.Role}
}
