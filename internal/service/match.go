package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stake-arena/internal/game/tictactoe"
	"stake-arena/internal/metrics"
	"stake-arena/internal/model"
	"stake-arena/internal/notify"
	"stake-arena/internal/pkg/lock"
	"stake-arena/internal/repository"
)

// matchLockTimeout bounds how long a request queues behind another request
// for the same match in this process.
const matchLockTimeout = 5 * time.Second

// MoveOutcome is the result of SubmitMove: MoveAccepted, MoveFinished or
// MoveRejected.
type MoveOutcome interface {
	moveOutcome()
}

// MoveAccepted means the move was applied and the game continues.
type MoveAccepted struct {
	Board tictactoe.Board
	Turn  tictactoe.Symbol
}

// MoveFinished means the move ended the game. The result is durable even when
// SettlementErr is set; settlement is retried later.
type MoveFinished struct {
	Board         tictactoe.Board
	Result        *model.GameResult
	Payout        *Payout
	SettlementErr error
}

// MoveRejected means nothing changed. Reason says why.
type MoveRejected struct {
	Reason *Error
}

func (MoveAccepted) moveOutcome() {}
func (MoveFinished) moveOutcome() {}
func (MoveRejected) moveOutcome() {}

// MatchView is a participant's view of a match.
type MatchView struct {
	Match *model.Match
	Board tictactoe.Board
	// Turn is Empty and GameStatus is blank until a second player joins.
	Turn       tictactoe.Symbol
	GameStatus model.GameStatus
	Result     *model.GameResult
}

// MatchResult is the settled or pending outcome of a finished match.
type MatchResult struct {
	Result  *model.GameResult
	Payout  Payout
	PaidOut bool
}

// Matches drives the match lifecycle after matchmaking: start, moves and the
// terminal transition. It is the only writer of game states and results.
type Matches struct {
	db         Transactor
	matches    *repository.MatchRepository
	games      *repository.GameRepository
	settlement *Settlement
	pub        notify.Publisher
	locks      *lock.Keyed
}

// NewMatches creates a new Matches instance.
func NewMatches(
	db Transactor,
	matches *repository.MatchRepository,
	games *repository.GameRepository,
	settlement *Settlement,
	pub notify.Publisher,
	locks *lock.Keyed,
) *Matches {
	if pub == nil {
		pub = notify.Nop
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Matches{
		db:         db,
		matches:    matches,
		games:      games,
		settlement: settlement,
		pub:        pub,
		locks:      locks,
	}
}

// StartMatch moves a ready match to ongoing. Starting a match that is already
// ongoing succeeds without changing anything.
func (s *Matches) StartMatch(ctx context.Context, userID, matchID int64) (*MatchView, error) {
	var (
		view    *MatchView
		started bool
	)
	err := s.locks.WithLockContext(ctx, matchID, matchLockTimeout, func() error {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			matches := s.matches.WithTx(tx)
			games := s.games.WithTx(tx)

			m, err := lockParticipantMatch(ctx, matches, userID, matchID)
			if err != nil {
				return err
			}

			state, err := games.GetState(ctx, matchID)
			if err != nil && !errors.Is(err, repository.ErrGameStateNotFound) {
				return err
			}

			switch {
			case m.Status == model.MatchOngoing:
			case m.Status == model.MatchReady && len(m.Participants) == 2 && state != nil:
				if err := matches.UpdateStatus(ctx, m.ID, model.MatchOngoing); err != nil {
					return err
				}
				if err := games.UpdateState(ctx, m.ID, state.Board, state.Turn, model.GameOngoing); err != nil {
					return err
				}
				m.Status = model.MatchOngoing
				state.Status = model.GameOngoing
				started = true
			default:
				return ErrCannotStart
			}

			view, err = buildView(m, state, nil)
			return err
		})
	})
	if err != nil {
		return nil, wrap("failed to start match", err)
	}

	if started {
		log.Info().
			Int64("match_id", matchID).
			Int64("user_id", userID).
			Msg("Match started")

		ev := s.event(notify.EventStarted, view)
		ev.ActorID = userID
		publish(ctx, s.pub, ev)
	}
	return view, nil
}

// SubmitMove places the user's symbol at position. A rejected move is
// reported as MoveRejected with a nil error; the error return is reserved for
// infrastructure failures. When the move ends the game the result is
// committed first and the match is then settled in a separate transaction.
func (s *Matches) SubmitMove(ctx context.Context, userID, matchID int64, position int) (MoveOutcome, error) {
	if position < 0 || position >= tictactoe.Cells {
		metrics.RecordMove(metrics.MoveRejected)
		return MoveRejected{Reason: ErrInvalidPosition}, nil
	}

	var (
		match   *model.Match
		board   tictactoe.Board
		next    tictactoe.Symbol
		outcome tictactoe.Outcome
		result  *model.GameResult
	)
	err := s.locks.WithLockContext(ctx, matchID, matchLockTimeout, func() error {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			matches := s.matches.WithTx(tx)
			games := s.games.WithTx(tx)

			m, err := lockParticipantMatch(ctx, matches, userID, matchID)
			if err != nil {
				return err
			}
			match = m
			if m.Status != model.MatchOngoing {
				return ErrNotOngoing
			}

			state, err := games.GetState(ctx, matchID)
			if err != nil {
				return err
			}
			current, err := tictactoe.ParseBoard(state.Board)
			if err != nil {
				return fmt.Errorf("corrupt board for match %d: %w", matchID, err)
			}
			turn, err := tictactoe.ParseSymbol(state.Turn)
			if err != nil {
				return fmt.Errorf("corrupt turn for match %d: %w", matchID, err)
			}

			p, _ := m.Participant(userID)
			if p.Symbol != turn.String() {
				return ErrNotYourTurn
			}

			board, err = current.Apply(position, turn)
			if err != nil {
				if errors.Is(err, tictactoe.ErrOccupied) {
					return ErrCellOccupied
				}
				return err
			}
			if _, err := games.AppendMove(ctx, matchID, userID, position, turn.String()); err != nil {
				return err
			}

			outcome = tictactoe.Evaluate(board)
			if !outcome.Terminal() {
				next = turn.Opponent()
				return games.UpdateState(ctx, matchID, board.String(), next.String(), model.GameOngoing)
			}

			next = turn
			gameStatus := model.GameFinished
			resultOutcome := outcome.Winner.String()
			var winnerID *int64
			if outcome.State == tictactoe.Draw {
				gameStatus = model.GameDraw
				resultOutcome = model.OutcomeDraw
			} else {
				winnerID = winnerOf(m, outcome.Winner)
			}

			if err := games.UpdateState(ctx, matchID, board.String(), next.String(), gameStatus); err != nil {
				return err
			}
			if result, err = games.CreateResult(ctx, matchID, winnerID, resultOutcome); err != nil {
				return err
			}
			if err := matches.UpdateStatus(ctx, matchID, model.MatchFinished); err != nil {
				return err
			}
			m.Status = model.MatchFinished
			return nil
		})
	})
	if err != nil {
		if e, ok := AsError(err); ok {
			metrics.RecordMove(metrics.MoveRejected)
			log.Debug().
				Int64("match_id", matchID).
				Int64("user_id", userID).
				Int("position", position).
				Str("reason", e.Reason).
				Msg("Move rejected")
			return MoveRejected{Reason: e}, nil
		}
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, fmt.Errorf("match %d is busy: %w", matchID, err)
		}
		return nil, fmt.Errorf("failed to submit move: %w", err)
	}

	ev := notify.NewEvent(notify.EventMoved, matchID)
	ev.Code = match.Code
	ev.ActorID = userID
	ev.Participants = participantIDs(match)
	ev.Status = string(match.Status)
	ev.Board = board.String()
	ev.Turn = next.String()

	if !outcome.Terminal() {
		metrics.RecordMove(metrics.MoveAccepted)
		publish(ctx, s.pub, ev)
		return MoveAccepted{Board: board, Turn: next}, nil
	}

	metrics.RecordMove(metrics.MoveFinished)
	log.Info().
		Int64("match_id", matchID).
		Str("outcome", result.Outcome).
		Msg("Match finished")

	ev.Type = notify.EventFinished
	ev.WinnerID = result.WinnerID
	ev.Outcome = result.Outcome
	publish(ctx, s.pub, ev)

	finished := MoveFinished{Board: board, Result: result}
	if s.settlement != nil {
		finished.Payout, finished.SettlementErr = s.settlement.Settle(ctx, matchID)
		if finished.SettlementErr != nil {
			log.Warn().
				Err(finished.SettlementErr).
				Int64("match_id", matchID).
				Msg("Settlement deferred to sweeper")
		}
	}
	return finished, nil
}

// GetMatchView returns the match as seen by one of its participants.
func (s *Matches) GetMatchView(ctx context.Context, userID, matchID int64) (*MatchView, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if _, ok := m.Participant(userID); !ok {
		return nil, ErrNotParticipant
	}

	state, err := s.games.GetState(ctx, matchID)
	if err != nil && !errors.Is(err, repository.ErrGameStateNotFound) {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}

	var result *model.GameResult
	if m.Status == model.MatchFinished {
		result, err = s.games.GetResult(ctx, matchID)
		if err != nil && !errors.Is(err, repository.ErrResultNotFound) {
			return nil, fmt.Errorf("failed to get game result: %w", err)
		}
	}

	return buildView(m, state, result)
}

// Moves returns the ordered move log of a match.
func (s *Matches) Moves(ctx context.Context, matchID int64) ([]*model.Move, error) {
	if _, err := s.matches.GetByID(ctx, matchID); err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return s.games.Moves(ctx, matchID)
}

// GetMatchResult returns the result of a finished match together with the
// payout it earns, whether or not it has been paid yet.
func (s *Matches) GetMatchResult(ctx context.Context, matchID int64) (*MatchResult, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	res, err := s.games.GetResult(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrResultNotFound) {
			return nil, ErrNoResult
		}
		return nil, fmt.Errorf("failed to get game result: %w", err)
	}

	var feeBps, platformID int64
	if s.settlement != nil {
		feeBps, platformID = s.settlement.feeBps, s.settlement.platformID
	}
	payout := SplitPot(m.Stake, participantIDs(m), res.WinnerID, feeBps, platformID)
	payout.MatchID = m.ID
	payout.AlreadySettled = m.PaidOut

	return &MatchResult{Result: res, Payout: payout, PaidOut: m.PaidOut}, nil
}

func (s *Matches) event(typ notify.EventType, v *MatchView) notify.Event {
	ev := notify.NewEvent(typ, v.Match.ID)
	ev.Code = v.Match.Code
	ev.Participants = participantIDs(v.Match)
	ev.Status = string(v.Match.Status)
	ev.Board = v.Board.String()
	if v.Turn != tictactoe.Empty {
		ev.Turn = v.Turn.String()
	}
	return ev
}

// lockParticipantMatch locks the match row and checks that userID plays in it.
func lockParticipantMatch(ctx context.Context, matches *repository.MatchRepository, userID, matchID int64) (*model.Match, error) {
	m, err := matches.GetByIDForUpdate(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if _, ok := m.Participant(userID); !ok {
		return nil, ErrNotParticipant
	}
	return m, nil
}

func winnerOf(m *model.Match, sym tictactoe.Symbol) *int64 {
	for _, p := range m.Participants {
		if p.Symbol == sym.String() {
			id := p.UserID
			return &id
		}
	}
	return nil
}

func buildView(m *model.Match, state *model.GameState, result *model.GameResult) (*MatchView, error) {
	v := &MatchView{Match: m, Board: tictactoe.NewBoard(), Turn: tictactoe.Empty, Result: result}
	if state == nil {
		return v, nil
	}
	board, err := tictactoe.ParseBoard(state.Board)
	if err != nil {
		return nil, fmt.Errorf("corrupt board for match %d: %w", m.ID, err)
	}
	turn, err := tictactoe.ParseSymbol(state.Turn)
	if err != nil {
		return nil, fmt.Errorf("corrupt turn for match %d: %w", m.ID, err)
	}
	v.Board, v.Turn, v.GameStatus = board, turn, state.Status
	return v, nil
}
