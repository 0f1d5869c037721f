package handler

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/game/tictactoe"
)

// CallbackPrefix is the prefix for all board callback data.
const CallbackPrefix = "ttt_"

// EncodeMoveCallback encodes a move on cell pos (0-8) of a match.
func EncodeMoveCallback(matchID int64, pos int) string {
	return fmt.Sprintf("%smove_%d_%d", CallbackPrefix, matchID, pos)
}

// DecodeMoveCallback parses data produced by EncodeMoveCallback. Telebot may
// prefix callback data with \f.
func DecodeMoveCallback(data string) (matchID int64, pos int, ok bool) {
	data = strings.TrimPrefix(data, "\f")
	if !strings.HasPrefix(data, CallbackPrefix+"move_") {
		return 0, 0, false
	}

	parts := strings.Split(strings.TrimPrefix(data, CallbackPrefix+"move_"), "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	matchID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || matchID <= 0 {
		return 0, 0, false
	}
	pos, err = strconv.Atoi(parts[1])
	if err != nil || pos < 0 || pos >= tictactoe.Cells {
		return 0, 0, false
	}
	return matchID, pos, true
}

// BuildBoardKeyboard builds a 3x3 inline keyboard for an ongoing match.
// Empty cells carry a move callback; occupied ones show their mark.
func BuildBoardKeyboard(matchID int64, board tictactoe.Board) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	rows := make([][]tele.InlineButton, 0, 3)
	for r := 0; r < 3; r++ {
		row := make([]tele.InlineButton, 0, 3)
		for col := 0; col < 3; col++ {
			pos := r*3 + col
			btn := tele.InlineButton{Text: "·", Data: EncodeMoveCallback(matchID, pos)}
			if sym := board[pos]; sym != tictactoe.Empty {
				btn.Text = sym.String()
			}
			row = append(row, btn)
		}
		rows = append(rows, row)
	}
	markup.InlineKeyboard = rows

	return markup
}
