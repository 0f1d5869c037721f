package service

import (
	"math/big"
	"testing"

	"pgregory.net/rapid"

	"stake-arena/internal/model"
)

func sumCredits(p Payout) int64 {
	var total int64
	for _, c := range p.Credits {
		total += c.Amount
	}
	return total
}

// floorFee computes floor(pot*feeBps/10000) in arbitrary precision.
func floorFee(pot, feeBps int64) int64 {
	v := new(big.Int).Mul(big.NewInt(pot), big.NewInt(feeBps))
	return v.Div(v, big.NewInt(10000)).Int64()
}

// TestSplitPotWinProperty checks that a won pot is fully distributed and the
// platform takes exactly the floored fee, up to the largest allowed stake.
func TestSplitPotWinProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stake := rapid.OneOf(
			rapid.Int64Range(1, 1_000_000),
			rapid.Int64Range(1, MaxStake),
			rapid.Int64Range(MaxStake-1_000_000, MaxStake),
		).Draw(t, "stake")
		feeBps := rapid.Int64Range(0, 10000).Draw(t, "feeBps")
		players := []int64{101, 202}
		winner := players[rapid.IntRange(0, 1).Draw(t, "winner")]

		p := SplitPot(stake, players, &winner, feeBps, 1)

		pot := stake * 2
		if p.Pot != pot {
			t.Fatalf("pot = %d, want %d", p.Pot, pot)
		}
		if p.PlatformFee != floorFee(pot, feeBps) {
			t.Fatalf("fee = %d, want floor(%d*%d/10000)", p.PlatformFee, pot, feeBps)
		}
		if p.WinnerAmount+p.PlatformFee != pot {
			t.Fatalf("winner %d + fee %d != pot %d", p.WinnerAmount, p.PlatformFee, pot)
		}
		if sumCredits(p) != pot {
			t.Fatalf("credits sum to %d, want %d", sumCredits(p), pot)
		}
		if p.Draw || p.WinnerID != winner {
			t.Fatalf("unexpected payout %+v", p)
		}
		for _, c := range p.Credits {
			if c.Amount <= 0 {
				t.Fatalf("non-positive credit %+v", c)
			}
			if c.Kind != model.TxKindWin && c.Kind != model.TxKindPlatformFee {
				t.Fatalf("unexpected credit kind %s", c.Kind)
			}
		}
	})
}

// TestSplitPotDrawProperty checks that a draw refunds every stake with no fee.
func TestSplitPotDrawProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stake := rapid.Int64Range(1, MaxStake).Draw(t, "stake")
		feeBps := rapid.Int64Range(0, 10000).Draw(t, "feeBps")
		players := []int64{7, 8}

		p := SplitPot(stake, players, nil, feeBps, 1)

		if !p.Draw || p.PlatformFee != 0 || p.Refund != stake {
			t.Fatalf("unexpected draw payout %+v", p)
		}
		if sumCredits(p) != stake*int64(len(players)) {
			t.Fatalf("credits sum to %d, want %d", sumCredits(p), stake*2)
		}
		for i, c := range p.Credits {
			if c.UserID != players[i] || c.Kind != model.TxKindRefund || c.Amount != stake {
				t.Fatalf("unexpected refund %+v", c)
			}
		}
	})
}
