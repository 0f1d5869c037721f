package service

import (
	"context"
	"fmt"

	"stake-arena/internal/repository"
)

// PlayerStats summarizes a user's match history.
type PlayerStats struct {
	UserID int64
	Played int
	InPlay int
	Wins   int
	Losses int
	Draws  int
	// Net is the sum of the user's stakes, wins and refunds.
	Net           int64
	CurrentStreak int
	BestStreak    int
}

// WinRate returns wins over finished matches, or 0 with none finished.
func (p *PlayerStats) WinRate() float64 {
	if p.Played == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Played)
}

// Stats computes player statistics.
type Stats struct {
	matches *repository.MatchRepository
	txs     *repository.TransactionRepository
}

// NewStats creates a new Stats instance.
func NewStats(matches *repository.MatchRepository, txs *repository.TransactionRepository) *Stats {
	return &Stats{matches: matches, txs: txs}
}

// PlayerStats returns the statistics of userID.
func (s *Stats) PlayerStats(ctx context.Context, userID int64) (*PlayerStats, error) {
	records, err := s.matches.ListPlayerRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player stats: %w", err)
	}
	net, err := s.txs.SumMatchFlows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player stats: %w", err)
	}

	st := computeStats(userID, records)
	st.Net = net
	return st, nil
}

// computeStats folds records, ordered newest first, into PlayerStats.
func computeStats(userID int64, records []repository.PlayerRecord) *PlayerStats {
	st := &PlayerStats{UserID: userID}

	run := 0
	current := true
	for _, r := range records {
		if !r.Finished {
			st.InPlay++
			continue
		}
		st.Played++

		won := r.WinnerID != nil && *r.WinnerID == userID
		switch {
		case r.WinnerID == nil:
			st.Draws++
		case won:
			st.Wins++
		default:
			st.Losses++
		}

		if won {
			run++
		} else {
			if current {
				st.CurrentStreak = run
				current = false
			}
			run = 0
		}
		if run > st.BestStreak {
			st.BestStreak = run
		}
	}
	if current {
		st.CurrentStreak = run
	}
	return st
}
