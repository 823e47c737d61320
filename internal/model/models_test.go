package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalcFee(t *testing.T) {
	cases := []struct {
		gross   string
		feeBps  int
		wantNet string
		wantFee string
	}{
		{"50", 2000, "40", "10"},
		{"100", 2000, "80", "20"},
		{"0.00000003", 2000, "0.00000002", "0.00000001"},
		{"33.33", 100, "32.9967", "0.3333"},
		{"100", 0, "100", "0"},
	}
	for _, tc := range cases {
		net, fee := CalcFee(d(tc.gross), tc.feeBps)
		if !net.Equal(d(tc.wantNet)) || !fee.Equal(d(tc.wantFee)) {
			t.Errorf("CalcFee(%s, %d) = net %s fee %s, want net %s fee %s",
				tc.gross, tc.feeBps, net, fee, tc.wantNet, tc.wantFee)
		}
		if !net.Add(fee).Equal(d(tc.gross)) {
			t.Errorf("CalcFee(%s, %d): net+fee = %s, gross lost", tc.gross, tc.feeBps, net.Add(fee))
		}
	}
}

func TestSystemActorIsAdmin(t *testing.T) {
	a := SystemActor()
	if !a.IsAdmin() {
		t.Fatal("system actor must pass admin guards")
	}
	if a.ID != SystemActorID {
		t.Fatalf("unexpected id %s", a.ID)
	}
}
