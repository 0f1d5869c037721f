// Package model defines the persistent records of the stake arena.
package model

import "time"

// Wallet holds a user's token balance. One wallet exists per owner.
type Wallet struct {
	ID        int64     `db:"id"`
	OwnerID   int64     `db:"owner_id"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Transaction is an immutable balance change record.
// Debits carry a negative amount, credits a positive one.
type Transaction struct {
	ID        int64     `db:"id"`
	WalletID  int64     `db:"wallet_id"`
	UserID    int64     `db:"user_id"`
	Amount    int64     `db:"amount"`
	Kind      TxKind    `db:"kind"`
	Reference string    `db:"reference"`
	CreatedAt time.Time `db:"created_at"`
}

// TxKind categorizes a ledger transaction.
type TxKind string

// Transaction kinds.
const (
	TxKindStake       TxKind = "STAKE"
	TxKindRefund      TxKind = "REFUND"
	TxKindWin         TxKind = "WIN"
	TxKindDeposit     TxKind = "DEPOSIT"
	TxKindWithdrawal  TxKind = "WITHDRAWAL"
	TxKindPlatformFee TxKind = "PLATFORM_FEE"
)

// Valid reports whether k is a known transaction kind.
func (k TxKind) Valid() bool {
	switch k {
	case TxKindStake, TxKindRefund, TxKindWin, TxKindDeposit, TxKindWithdrawal, TxKindPlatformFee:
		return true
	}
	return false
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match lifecycle states.
const (
	MatchWaiting  MatchStatus = "waiting"
	MatchReady    MatchStatus = "ready"
	MatchOngoing  MatchStatus = "ongoing"
	MatchFinished MatchStatus = "finished"
)

// Match is a staked two-player game.
type Match struct {
	ID         int64       `db:"id"`
	Code       string      `db:"code"`
	Stake      int64       `db:"stake"`
	Status     MatchStatus `db:"status"`
	PaidOut    bool        `db:"paid_out"`
	CreatorID  int64       `db:"creator_id"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
	FinishedAt *time.Time  `db:"finished_at"`

	Participants []Participant `db:"-"`
}

// Participant returns the participant row for userID, if any.
func (m *Match) Participant(userID int64) (Participant, bool) {
	for _, p := range m.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant joins a user to a match with a fixed symbol.
type Participant struct {
	MatchID  int64     `db:"match_id"`
	UserID   int64     `db:"user_id"`
	Symbol   string    `db:"symbol"`
	JoinedAt time.Time `db:"joined_at"`
}

// GameStatus mirrors the playable subset of match status on the game state row.
type GameStatus string

// Game state statuses.
const (
	GameReady    GameStatus = "ready"
	GameOngoing  GameStatus = "ongoing"
	GameFinished GameStatus = "finished"
	GameDraw     GameStatus = "draw"
)

// GameState is the current board of a match.
type GameState struct {
	MatchID   int64      `db:"match_id"`
	Board     string     `db:"board"`
	Turn      string     `db:"turn"`
	Status    GameStatus `db:"status"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// OutcomeDraw is the GameResult outcome recorded for a drawn match.
const OutcomeDraw = "draw"

// GameResult records how a match ended. WinnerID is nil for a draw.
type GameResult struct {
	ID        int64     `db:"id"`
	MatchID   int64     `db:"match_id"`
	WinnerID  *int64    `db:"winner_id"`
	Outcome   string    `db:"outcome"`
	CreatedAt time.Time `db:"created_at"`
}

// IsDraw reports whether the result has no winner.
func (r *GameResult) IsDraw() bool {
	return r.WinnerID == nil
}

// Move is an append-only audit record of an accepted move.
type Move struct {
	ID        int64     `db:"id"`
	MatchID   int64     `db:"match_id"`
	UserID    int64     `db:"user_id"`
	Position  int       `db:"position"`
	Symbol    string    `db:"symbol"`
	CreatedAt time.Time `db:"created_at"`
}
