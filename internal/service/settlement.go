package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stake-arena/internal/config"
	"stake-arena/internal/metrics"
	"stake-arena/internal/model"
	"stake-arena/internal/notify"
	"stake-arena/internal/repository"
)

// Credit is one ledger credit made by a settlement.
type Credit struct {
	UserID int64
	Amount int64
	Kind   model.TxKind
}

// Payout describes how a match pot was distributed.
type Payout struct {
	MatchID      int64
	Draw         bool
	WinnerID     int64
	Pot          int64
	WinnerAmount int64
	PlatformFee  int64
	// Refund is the amount returned to each participant on a draw.
	Refund  int64
	Credits []Credit
	// AlreadySettled is set when the match had been paid out before this
	// call. No credits were made by it.
	AlreadySettled bool
}

// Summary converts p for event delivery.
func (p *Payout) Summary() *notify.Payout {
	return &notify.Payout{
		Draw:           p.Draw,
		WinnerID:       p.WinnerID,
		WinnerAmount:   p.WinnerAmount,
		PlatformFee:    p.PlatformFee,
		Refund:         p.Refund,
		AlreadySettled: p.AlreadySettled,
	}
}

// MaxPlayers is the number of seats in a match.
const MaxPlayers = 2

// MaxStake is the largest stake whose full pot fits in an int64.
const MaxStake int64 = math.MaxInt64 / MaxPlayers

// feeOf returns floor(pot*feeBps/10000) without forming pot*feeBps.
func feeOf(pot, feeBps int64) int64 {
	return pot/10000*feeBps + pot%10000*feeBps/10000
}

// SplitPot computes the distribution of a pot. A nil winnerID refunds every
// participant their stake with no fee. Otherwise the platform takes
// floor(pot*feeBps/10000) and the winner receives the rest, including any
// remainder. Zero-amount credits are omitted.
func SplitPot(stake int64, participants []int64, winnerID *int64, feeBps, platformID int64) Payout {
	pot := stake * int64(len(participants))
	p := Payout{Pot: pot}

	if winnerID == nil {
		p.Draw = true
		p.Refund = stake
		for _, uid := range participants {
			p.Credits = append(p.Credits, Credit{UserID: uid, Amount: stake, Kind: model.TxKindRefund})
		}
		return p
	}

	p.WinnerID = *winnerID
	p.PlatformFee = feeOf(pot, feeBps)
	p.WinnerAmount = pot - p.PlatformFee
	if p.WinnerAmount > 0 {
		p.Credits = append(p.Credits, Credit{UserID: p.WinnerID, Amount: p.WinnerAmount, Kind: model.TxKindWin})
	}
	if p.PlatformFee > 0 {
		p.Credits = append(p.Credits, Credit{UserID: platformID, Amount: p.PlatformFee, Kind: model.TxKindPlatformFee})
	}
	return p
}

// Settlement pays out finished matches exactly once.
type Settlement struct {
	db         Transactor
	ledger     *Ledger
	matches    *repository.MatchRepository
	games      *repository.GameRepository
	pub        notify.Publisher
	platformID int64
	feeBps     int64
}

// NewSettlement creates a new Settlement instance.
func NewSettlement(
	db Transactor,
	ledger *Ledger,
	matches *repository.MatchRepository,
	games *repository.GameRepository,
	pub notify.Publisher,
	cfg config.SettlementConfig,
) *Settlement {
	if pub == nil {
		pub = notify.Nop
	}
	return &Settlement{
		db:         db,
		ledger:     ledger,
		matches:    matches,
		games:      games,
		pub:        pub,
		platformID: cfg.PlatformAccountID,
		feeBps:     cfg.FeeBps,
	}
}

// Settle distributes the pot of a finished match. The credits and the
// paid-out flag commit together. Settling a match that was already paid
// out returns its payout with AlreadySettled set and changes nothing.
func (s *Settlement) Settle(ctx context.Context, matchID int64) (*Payout, error) {
	var (
		payout Payout
		match  *model.Match
		result *model.GameResult
	)

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		matches := s.matches.WithTx(tx)

		var err error
		match, err = matches.GetByIDForUpdate(ctx, matchID)
		if err != nil {
			if errors.Is(err, repository.ErrMatchNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		if match.Status != model.MatchFinished {
			return ErrNotFinished
		}

		result, err = s.games.WithTx(tx).GetResult(ctx, matchID)
		if err != nil {
			if errors.Is(err, repository.ErrResultNotFound) {
				return ErrNoResult
			}
			return err
		}

		payout = SplitPot(match.Stake, participantIDs(match), result.WinnerID, s.feeBps, s.platformID)
		payout.MatchID = match.ID

		if match.PaidOut {
			payout.AlreadySettled = true
			return nil
		}

		ref := MatchReference(match.ID)
		if payout.Draw {
			ref = DrawReference(match.ID)
		}
		// Ascending user id keeps wallet lock order stable across settlements.
		credits := append([]Credit(nil), payout.Credits...)
		sort.Slice(credits, func(i, j int) bool { return credits[i].UserID < credits[j].UserID })
		for _, c := range credits {
			if _, err := s.ledger.ApplyInTx(ctx, tx, c.UserID, c.Amount, c.Kind, ref); err != nil {
				return fmt.Errorf("credit user %d: %w", c.UserID, err)
			}
		}

		flipped, err := matches.MarkPaidOut(ctx, match.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return fmt.Errorf("match %d was paid out concurrently", match.ID)
		}
		return nil
	})
	if err != nil {
		metrics.RecordSettlement(metrics.SettlementFailed, 0)
		if _, ok := AsError(err); !ok {
			log.Error().Err(err).Int64("match_id", matchID).Msg("Settlement failed")
		}
		return nil, wrap("failed to settle match", err)
	}

	if payout.AlreadySettled {
		metrics.RecordSettlement(metrics.SettlementAlreadySettled, 0)
		log.Debug().Int64("match_id", matchID).Msg("Match already settled")
		return &payout, nil
	}

	if payout.Draw {
		metrics.RecordSettlement(metrics.SettlementDraw, 0)
	} else {
		metrics.RecordSettlement(metrics.SettlementWin, payout.PlatformFee)
	}
	log.Info().
		Int64("match_id", matchID).
		Bool("draw", payout.Draw).
		Int64("winner_id", payout.WinnerID).
		Int64("winner_amount", payout.WinnerAmount).
		Int64("platform_fee", payout.PlatformFee).
		Msg("Match settled")

	ev := notify.NewEvent(notify.EventSettled, match.ID)
	ev.Code = match.Code
	ev.Participants = participantIDs(match)
	ev.Status = string(match.Status)
	ev.WinnerID = result.WinnerID
	ev.Outcome = result.Outcome
	ev.Payout = payout.Summary()
	publish(ctx, s.pub, ev)

	return &payout, nil
}

// PendingMatches lists finished matches that still await payout.
func (s *Settlement) PendingMatches(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.matches.ListUnsettled(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	return ids, nil
}

// SettlePending settles up to limit pending matches and reports how many
// were paid out. A failing match does not stop the others.
func (s *Settlement) SettlePending(ctx context.Context, limit int) (int, error) {
	ids, err := s.PendingMatches(ctx, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		p, err := s.Settle(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !p.AlreadySettled {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

func participantIDs(m *model.Match) []int64 {
	ids := make([]int64, len(m.Participants))
	for i, p := range m.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// publish delivers ev without letting a sink failure reach the caller.
func publish(ctx context.Context, pub notify.Publisher, ev notify.Event) {
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("type", string(ev.Type)).
			Int64("match_id", ev.MatchID).
			Msg("Failed to publish match event")
	}
}
