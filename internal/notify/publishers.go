package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes every event to the global logger.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, ev Event) error {
	e := log.Info().
		Str("event_id", ev.ID.String()).
		Str("type", string(ev.Type)).
		Int64("match_id", ev.MatchID).
		Str("status", ev.Status)
	if ev.Board != "" {
		e = e.Str("board", ev.Board).Str("turn", ev.Turn)
	}
	if ev.WinnerID != nil {
		e = e.Int64("winner_id", *ev.WinnerID)
	}
	if ev.Payout != nil {
		e = e.Bool("draw", ev.Payout.Draw).
			Int64("winner_amount", ev.Payout.WinnerAmount).
			Int64("platform_fee", ev.Payout.PlatformFee)
	}
	e.Msg("Match event")
	return nil
}
