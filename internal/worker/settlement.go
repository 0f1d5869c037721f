// Package worker runs background jobs for the arena.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// PendingSettler settles finished matches that have not been paid out.
type PendingSettler interface {
	SettlePending(ctx context.Context, limit int) (int, error)
}

// SettlementSweeper periodically retries settlement for matches whose payout
// did not complete on the move path.
type SettlementSweeper struct {
	settler  PendingSettler
	interval time.Duration
	batch    int
	timeout  time.Duration

	sched gocron.Scheduler
}

// NewSettlementSweeper creates a sweeper that settles up to batch matches
// every interval.
func NewSettlementSweeper(settler PendingSettler, interval time.Duration, batch int) *SettlementSweeper {
	return &SettlementSweeper{
		settler:  settler,
		interval: interval,
		batch:    batch,
		timeout:  interval,
	}
}

// Start schedules the sweep. The first run happens immediately.
func (w *SettlementSweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.sweep),
		gocron.WithName("settlement-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule settlement sweep: %w", err)
	}

	sched.Start()
	w.sched = sched
	log.Info().
		Dur("interval", w.interval).
		Int("batch", w.batch).
		Msg("Settlement sweeper started")
	return nil
}

func (w *SettlementSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	settled, err := w.settler.SettlePending(ctx, w.batch)
	if err != nil {
		log.Error().Err(err).Int("settled", settled).Msg("Settlement sweep finished with errors")
		return
	}
	if settled > 0 {
		log.Info().Int("settled", settled).Msg("Settled pending matches")
	}
}

// Stop waits for a running sweep and shuts the scheduler down.
func (w *SettlementSweeper) Stop() error {
	if w.sched == nil {
		return nil
	}
	err := w.sched.Shutdown()
	w.sched = nil
	log.Info().Msg("Settlement sweeper stopped")
	return err
}
