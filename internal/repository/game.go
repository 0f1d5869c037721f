package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stake-arena/internal/model"
	"stake-arena/internal/pkg/db"
)

// GameRepository handles game states, the move log and results.
type GameRepository struct {
	q db.Querier
}

// NewGameRepository creates a new GameRepository instance.
func NewGameRepository(q db.Querier) *GameRepository {
	return &GameRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *GameRepository) WithTx(tx pgx.Tx) *GameRepository {
	return &GameRepository{q: tx}
}

// CreateState inserts the game state row for a match.
func (r *GameRepository) CreateState(ctx context.Context, matchID int64, board, turn string, status model.GameStatus) (*model.GameState, error) {
	const query = `
		INSERT INTO game_states (match_id, board, turn, status, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING match_id, board, turn, status, updated_at
	`
	var gs model.GameState
	err := r.q.QueryRow(ctx, query, matchID, board, turn, string(status)).Scan(
		&gs.MatchID, &gs.Board, &gs.Turn, &gs.Status, &gs.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create game state: %w", err)
	}
	return &gs, nil
}

// GetState retrieves the game state of a match.
func (r *GameRepository) GetState(ctx context.Context, matchID int64) (*model.GameState, error) {
	const query = `
		SELECT match_id, board, turn, status, updated_at
		FROM game_states
		WHERE match_id = $1
	`
	var gs model.GameState
	err := r.q.QueryRow(ctx, query, matchID).Scan(
		&gs.MatchID, &gs.Board, &gs.Turn, &gs.Status, &gs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameStateNotFound
		}
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return &gs, nil
}

// UpdateState overwrites board, turn and status.
func (r *GameRepository) UpdateState(ctx context.Context, matchID int64, board, turn string, status model.GameStatus) error {
	const query = `
		UPDATE game_states
		SET board = $2, turn = $3, status = $4, updated_at = NOW()
		WHERE match_id = $1
	`
	result, err := r.q.Exec(ctx, query, matchID, board, turn, string(status))
	if err != nil {
		return fmt.Errorf("failed to update game state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrGameStateNotFound
	}
	return nil
}

// AppendMove records an accepted move.
func (r *GameRepository) AppendMove(ctx context.Context, matchID, userID int64, position int, symbol string) (*model.Move, error) {
	const query = `
		INSERT INTO game_moves (match_id, user_id, position, symbol, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, match_id, user_id, position, symbol, created_at
	`
	var m model.Move
	err := r.q.QueryRow(ctx, query, matchID, userID, position, symbol).Scan(
		&m.ID, &m.MatchID, &m.UserID, &m.Position, &m.Symbol, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append move: %w", err)
	}
	return &m, nil
}

// Moves returns the move log of a match in the order moves were accepted.
func (r *GameRepository) Moves(ctx context.Context, matchID int64) ([]*model.Move, error) {
	const query = `
		SELECT id, match_id, user_id, position, symbol, created_at
		FROM game_moves
		WHERE match_id = $1
		ORDER BY id
	`
	rows, err := r.q.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get moves: %w", err)
	}
	defer rows.Close()

	var moves []*model.Move
	for rows.Next() {
		var m model.Move
		if err := rows.Scan(&m.ID, &m.MatchID, &m.UserID, &m.Position, &m.Symbol, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}
		moves = append(moves, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moves: %w", err)
	}
	return moves, nil
}

// CreateResult records the terminal outcome of a match.
func (r *GameRepository) CreateResult(ctx context.Context, matchID int64, winnerID *int64, outcome string) (*model.GameResult, error) {
	const query = `
		INSERT INTO game_results (match_id, winner_id, outcome, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, match_id, winner_id, outcome, created_at
	`
	var res model.GameResult
	err := r.q.QueryRow(ctx, query, matchID, winnerID, outcome).Scan(
		&res.ID, &res.MatchID, &res.WinnerID, &res.Outcome, &res.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create game result: %w", err)
	}
	return &res, nil
}

// GetResult retrieves the result of a match.
// Returns ErrResultNotFound while the match is still in play.
func (r *GameRepository) GetResult(ctx context.Context, matchID int64) (*model.GameResult, error) {
	const query = `
		SELECT id, match_id, winner_id, outcome, created_at
		FROM game_results
		WHERE match_id = $1
	`
	var res model.GameResult
	err := r.q.QueryRow(ctx, query, matchID).Scan(
		&res.ID, &res.MatchID, &res.WinnerID, &res.Outcome, &res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get game result: %w", err)
	}
	return &res, nil
}
