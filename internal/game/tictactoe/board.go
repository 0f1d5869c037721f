// Package tictactoe validates moves on a 3x3 board and reports the outcome.
// Everything here is pure: no I/O and no shared state.
package tictactoe

import (
	"errors"
	"fmt"
	"strings"
)

// Cells is the number of cells on the board.
const Cells = 9

// Symbol is the content of a cell.
type Symbol byte

// Cell contents. X always moves first.
const (
	Empty Symbol = '-'
	X     Symbol = 'X'
	O     Symbol = 'O'
)

// String returns the single-character form of s.
func (s Symbol) String() string {
	return string(s)
}

// Opponent returns the other player's symbol.
func (s Symbol) Opponent() Symbol {
	if s == X {
		return O
	}
	return X
}

// ParseSymbol converts "X" or "O" into a Symbol.
func ParseSymbol(v string) (Symbol, error) {
	switch v {
	case "X":
		return X, nil
	case "O":
		return O, nil
	}
	return Empty, fmt.Errorf("invalid symbol %q", v)
}

// Errors returned by Apply.
var (
	ErrOutOfRange = errors.New("position must be between 0 and 8")
	ErrOccupied   = errors.New("cell already occupied")
	ErrBadSymbol  = errors.New("symbol must be X or O")
)

// Board is a row-major 3x3 grid.
type Board [Cells]Symbol

// NewBoard returns an empty board.
func NewBoard() Board {
	var b Board
	for i := range b {
		b[i] = Empty
	}
	return b
}

// ParseBoard decodes the nine-character storage form ("X-O------").
func ParseBoard(v string) (Board, error) {
	var b Board
	if len(v) != Cells {
		return b, fmt.Errorf("board must have %d cells, got %d", Cells, len(v))
	}
	for i := 0; i < Cells; i++ {
		s := Symbol(v[i])
		if s != Empty && s != X && s != O {
			return b, fmt.Errorf("invalid cell %q at %d", v[i], i)
		}
		b[i] = s
	}
	return b, nil
}

// String encodes the board in its storage form.
func (b Board) String() string {
	var sb strings.Builder
	sb.Grow(Cells)
	for _, s := range b {
		sb.WriteByte(byte(s))
	}
	return sb.String()
}

// Full reports whether no empty cell remains.
func (b Board) Full() bool {
	for _, s := range b {
		if s == Empty {
			return false
		}
	}
	return true
}

// Apply places sym at pos and returns the new board. The receiver is not modified.
func (b Board) Apply(pos int, sym Symbol) (Board, error) {
	if pos < 0 || pos >= Cells {
		return b, ErrOutOfRange
	}
	if sym != X && sym != O {
		return b, ErrBadSymbol
	}
	if b[pos] != Empty {
		return b, ErrOccupied
	}
	b[pos] = sym
	return b, nil
}

// lines lists the three rows, three columns and two diagonals.
var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// State is the status component of an Outcome.
type State int

// Outcome states.
const (
	Ongoing State = iota
	Win
	Draw
)

func (s State) String() string {
	switch s {
	case Win:
		return "win"
	case Draw:
		return "draw"
	default:
		return "ongoing"
	}
}

// Outcome is the result of evaluating a board.
// Winner is only meaningful when State is Win.
type Outcome struct {
	State  State
	Winner Symbol
}

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool {
	return o.State != Ongoing
}

// Evaluate reports whether the board has a winner, is drawn, or is still in play.
func Evaluate(b Board) Outcome {
	for _, l := range lines {
		s := b[l[0]]
		if s != Empty && s == b[l[1]] && s == b[l[2]] {
			return Outcome{State: Win, Winner: s}
		}
	}
	if b.Full() {
		return Outcome{State: Draw, Winner: Empty}
	}
	return Outcome{State: Ongoing, Winner: Empty}
}
