package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stake-arena/internal/model"
	"stake-arena/internal/pkg/db"
)

const matchColumns = `id, code, stake, status, paid_out, creator_id, created_at, updated_at, finished_at`

// MatchRepository handles matches and their participants.
type MatchRepository struct {
	q db.Querier
}

// NewMatchRepository creates a new MatchRepository instance.
func NewMatchRepository(q db.Querier) *MatchRepository {
	return &MatchRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *MatchRepository) WithTx(tx pgx.Tx) *MatchRepository {
	return &MatchRepository{q: tx}
}

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	err := row.Scan(
		&m.ID,
		&m.Code,
		&m.Stake,
		&m.Status,
		&m.PaidOut,
		&m.CreatorID,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a waiting match. It returns (nil, nil) when code is already
// taken so the caller can pick another code without aborting its transaction.
func (r *MatchRepository) Create(ctx context.Context, code string, stake, creatorID int64) (*model.Match, error) {
	query := `
		INSERT INTO matches (code, stake, status, paid_out, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, NOW(), NOW())
		ON CONFLICT (code) DO NOTHING
		RETURNING ` + matchColumns

	m, err := scanMatch(r.q.QueryRow(ctx, query, code, stake, string(model.MatchWaiting), creatorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return m, nil
}

func (r *MatchRepository) getOne(ctx context.Context, query string, arg any) (*model.Match, error) {
	m, err := scanMatch(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, r.loadParticipants(ctx, m)
}

// GetByID retrieves a match with its participants.
func (r *MatchRepository) GetByID(ctx context.Context, id int64) (*model.Match, error) {
	return r.getOne(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a match and locks its row until the
// surrounding transaction ends.
func (r *MatchRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Match, error) {
	return r.getOne(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id)
}

// GetByCode retrieves a match by its join code.
func (r *MatchRepository) GetByCode(ctx context.Context, code string) (*model.Match, error) {
	return r.getOne(ctx, `SELECT `+matchColumns+` FROM matches WHERE code = $1`, code)
}

// GetByCodeForUpdate retrieves a match by join code and locks its row.
func (r *MatchRepository) GetByCodeForUpdate(ctx context.Context, code string) (*model.Match, error) {
	return r.getOne(ctx, `SELECT `+matchColumns+` FROM matches WHERE code = $1 FOR UPDATE`, code)
}

// ListByStatus retrieves matches in any of the given statuses, oldest first,
// with participants loaded.
func (r *MatchRepository) ListByStatus(ctx context.Context, statuses ...model.MatchStatus) ([]*model.Match, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE status = ANY($1)
		ORDER BY created_at, id
	`
	rows, err := r.q.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	byID := make(map[int64]*model.Match)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	rows.Close()

	if len(matches) == 0 {
		return matches, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	participants, err := r.participants(ctx, `WHERE match_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if m, ok := byID[p.MatchID]; ok {
			m.Participants = append(m.Participants, p)
		}
	}

	return matches, nil
}

// ListUnsettled returns ids of finished matches that have a result but have
// not been paid out, oldest first.
func (r *MatchRepository) ListUnsettled(ctx context.Context, limit int) ([]int64, error) {
	const query = `
		SELECT m.id
		FROM matches m
		JOIN game_results gr ON gr.match_id = m.id
		WHERE m.status = 'finished' AND m.paid_out = FALSE
		ORDER BY m.finished_at NULLS FIRST, m.id
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled matches: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unsettled matches: %w", err)
	}
	return ids, nil
}

// UpdateStatus sets a match's status. Moving to finished also stamps finished_at.
func (r *MatchRepository) UpdateStatus(ctx context.Context, id int64, status model.MatchStatus) error {
	const query = `
		UPDATE matches
		SET status = $2,
		    updated_at = NOW(),
		    finished_at = CASE WHEN $2 = 'finished' THEN NOW() ELSE finished_at END
		WHERE id = $1
	`
	result, err := r.q.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update match status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMatchNotFound
	}
	return nil
}

// MarkPaidOut flips paid_out from false to true. It returns false when the
// flag was already set, leaving the row unchanged.
func (r *MatchRepository) MarkPaidOut(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE matches
		SET paid_out = TRUE, updated_at = NOW()
		WHERE id = $1 AND paid_out = FALSE
	`
	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark match paid out: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// AddParticipant inserts a participant row.
func (r *MatchRepository) AddParticipant(ctx context.Context, matchID, userID int64, symbol string) (*model.Participant, error) {
	const query = `
		INSERT INTO match_participants (match_id, user_id, symbol, joined_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING match_id, user_id, symbol, joined_at
	`
	var p model.Participant
	err := r.q.QueryRow(ctx, query, matchID, userID, symbol).Scan(&p.MatchID, &p.UserID, &p.Symbol, &p.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	return &p, nil
}

// Participants returns the participants of a match in join order.
func (r *MatchRepository) Participants(ctx context.Context, matchID int64) ([]model.Participant, error) {
	return r.participants(ctx, `WHERE match_id = $1`, matchID)
}

func (r *MatchRepository) loadParticipants(ctx context.Context, m *model.Match) error {
	ps, err := r.Participants(ctx, m.ID)
	if err != nil {
		return err
	}
	m.Participants = ps
	return nil
}

func (r *MatchRepository) participants(ctx context.Context, where string, arg any) ([]model.Participant, error) {
	query := `
		SELECT match_id, user_id, symbol, joined_at
		FROM match_participants
		` + where + `
		ORDER BY match_id, joined_at, symbol
	`
	rows, err := r.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var ps []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.MatchID, &p.UserID, &p.Symbol, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return ps, nil
}

// PlayerRecord is one match a user took part in, with its result if any.
type PlayerRecord struct {
	MatchID   int64
	Stake     int64
	CreatedAt time.Time
	Finished  bool
	WinnerID  *int64
}

// ListPlayerRecords returns every match the user joined, newest first.
func (r *MatchRepository) ListPlayerRecords(ctx context.Context, userID int64) ([]PlayerRecord, error) {
	const query = `
		SELECT m.id, m.stake, m.created_at, gr.id IS NOT NULL, gr.winner_id
		FROM match_participants mp
		JOIN matches m ON m.id = mp.match_id
		LEFT JOIN game_results gr ON gr.match_id = m.id
		WHERE mp.user_id = $1
		ORDER BY m.created_at DESC, m.id DESC
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player records: %w", err)
	}
	defer rows.Close()

	var records []PlayerRecord
	for rows.Next() {
		var rec PlayerRecord
		if err := rows.Scan(&rec.MatchID, &rec.Stake, &rec.CreatedAt, &rec.Finished, &rec.WinnerID); err != nil {
			return nil, fmt.Errorf("failed to scan player record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating player records: %w", err)
	}
	return records, nil
}
