package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stake-arena/internal/config"
	"stake-arena/internal/game/tictactoe"
	"stake-arena/internal/metrics"
	"stake-arena/internal/model"
	"stake-arena/internal/notify"
	"stake-arena/internal/repository"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 8
)

// GenerateCode returns a random join code of length n drawn from A-Z and 0-9.
func GenerateCode(n int) (string, error) {
	radix := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", fmt.Errorf("failed to generate match code: %w", err)
		}
		b[i] = codeAlphabet[v.Int64()]
	}
	return string(b), nil
}

// Matchmaking creates matches and seats the second player.
type Matchmaking struct {
	db      Transactor
	ledger  *Ledger
	matches *repository.MatchRepository
	games   *repository.GameRepository
	pub     notify.Publisher
	cfg     config.MatchmakingConfig
	newCode func(n int) (string, error)
}

// NewMatchmaking creates a new Matchmaking instance.
func NewMatchmaking(
	db Transactor,
	ledger *Ledger,
	matches *repository.MatchRepository,
	games *repository.GameRepository,
	pub notify.Publisher,
	cfg config.MatchmakingConfig,
) *Matchmaking {
	if pub == nil {
		pub = notify.Nop
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	return &Matchmaking{
		db:      db,
		ledger:  ledger,
		matches: matches,
		games:   games,
		pub:     pub,
		cfg:     cfg,
		newCode: GenerateCode,
	}
}

func (s *Matchmaking) checkStake(stake int64) error {
	if stake <= 0 {
		return ErrInvalidStake
	}
	if stake < s.cfg.MinStake {
		return ErrStakeTooLow
	}
	if stake > MaxStake || (s.cfg.MaxStake > 0 && stake > s.cfg.MaxStake) {
		return ErrStakeTooHigh
	}
	return nil
}

// CreateMatch opens a waiting match with the creator seated as X and their
// stake debited. Nothing is written unless all three steps succeed.
func (s *Matchmaking) CreateMatch(ctx context.Context, userID, stake int64) (*model.Match, error) {
	if err := s.checkStake(stake); err != nil {
		return nil, err
	}

	var match *model.Match
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		matches := s.matches.WithTx(tx)

		for attempt := 0; attempt < codeAttempts && match == nil; attempt++ {
			code, err := s.newCode(s.cfg.CodeLength)
			if err != nil {
				return err
			}
			if match, err = matches.Create(ctx, code, stake, userID); err != nil {
				return err
			}
		}
		if match == nil {
			return errors.New("could not allocate a unique match code")
		}

		p, err := matches.AddParticipant(ctx, match.ID, userID, tictactoe.X.String())
		if err != nil {
			return err
		}
		match.Participants = []model.Participant{*p}

		_, err = s.ledger.ApplyInTx(ctx, tx, userID, -stake, model.TxKindStake, MatchReference(match.ID))
		return err
	})
	if err != nil {
		return nil, wrap("failed to create match", err)
	}

	metrics.RecordMatchCreated()
	log.Info().
		Int64("match_id", match.ID).
		Str("code", match.Code).
		Int64("user_id", userID).
		Int64("stake", stake).
		Msg("Match created")

	return match, nil
}

// JoinMatch seats userID as O in the match with the given code, debiting the
// stake. The second seat moves the match to ready and creates its board.
// A user who is already seated gets the current match back unchanged.
func (s *Matchmaking) JoinMatch(ctx context.Context, userID int64, code string) (*model.Match, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCode
	}

	var (
		match  *model.Match
		joined bool
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		matches := s.matches.WithTx(tx)

		var err error
		match, err = matches.GetByCodeForUpdate(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrMatchNotFound) {
				return ErrMatchNotFound
			}
			return err
		}

		if _, ok := match.Participant(userID); ok {
			return nil
		}
		if len(match.Participants) >= 2 {
			return ErrMatchFull
		}
		if match.Status != model.MatchWaiting {
			return ErrNotWaiting
		}

		p, err := matches.AddParticipant(ctx, match.ID, userID, tictactoe.O.String())
		if err != nil {
			return err
		}
		if _, err := s.ledger.ApplyInTx(ctx, tx, userID, -match.Stake, model.TxKindStake, MatchReference(match.ID)); err != nil {
			return err
		}
		match.Participants = append(match.Participants, *p)

		if len(match.Participants) == 2 {
			if err := matches.UpdateStatus(ctx, match.ID, model.MatchReady); err != nil {
				return err
			}
			board := tictactoe.NewBoard()
			if _, err := s.games.WithTx(tx).CreateState(ctx, match.ID, board.String(), tictactoe.X.String(), model.GameReady); err != nil {
				return err
			}
			match.Status = model.MatchReady
		}
		joined = true
		return nil
	})
	if err != nil {
		return nil, wrap("failed to join match", err)
	}

	if joined {
		metrics.RecordMatchJoined()
		log.Info().
			Int64("match_id", match.ID).
			Int64("user_id", userID).
			Str("status", string(match.Status)).
			Msg("Player joined match")

		ev := notify.NewEvent(notify.EventJoined, match.ID)
		ev.Code = match.Code
		ev.ActorID = userID
		ev.Participants = participantIDs(match)
		ev.Status = string(match.Status)
		publish(ctx, s.pub, ev)
	}

	return match, nil
}

// ListOpenMatches returns matches in the lobby: waiting or ready, oldest first.
func (s *Matchmaking) ListOpenMatches(ctx context.Context) ([]*model.Match, error) {
	matches, err := s.matches.ListByStatus(ctx, model.MatchWaiting, model.MatchReady)
	if err != nil {
		return nil, fmt.Errorf("failed to list open matches: %w", err)
	}
	return matches, nil
}

// Rematch opens a new match with the same stake as a finished match the
// user played in. The new stake is debited like any other CreateMatch.
func (s *Matchmaking) Rematch(ctx context.Context, userID, matchID int64) (*model.Match, error) {
	prev, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if _, ok := prev.Participant(userID); !ok {
		return nil, ErrNotParticipant
	}
	if prev.Status != model.MatchFinished {
		return nil, ErrNotFinished
	}
	return s.CreateMatch(ctx, userID, prev.Stake)
}
