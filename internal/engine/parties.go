package engine

import "p2p-exchange/internal/model"

// Parties names the two sides of an order once trade direction has been
// applied. The stored buyer_id/vendor_id columns must never feed payout
// logic directly: for a sell_ad the order creator deposits and the vendor
// is paid, for a buy_ad the vendor deposits and the creator is paid.
type Parties struct {
	BuyerID  string
	SellerID string
}

// ResolveParties derives buyer and seller from the order's trade intent.
// Every transition handler calls this at the top instead of trusting
// field names.
func ResolveParties(o *model.Order) Parties {
	if o.TradeIntent == model.BuyAd {
		return Parties{BuyerID: o.VendorID, SellerID: o.CreatedBy}
	}
	return Parties{BuyerID: o.CreatedBy, SellerID: o.VendorID}
}

// IsParticipant reports whether userID is on either side of the order,
// or its creator. The API layer uses it too, so read endpoints and
// transitions agree on who belongs to an order.
func IsParticipant(o *model.Order, userID string) bool {
	p := ResolveParties(o)
	return userID == p.BuyerID || userID == p.SellerID || userID == o.CreatedBy
}
