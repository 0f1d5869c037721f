package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"stake-arena/internal/game/tictactoe"
)

func TestMoveCallbackRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.Int64Range(1, 1<<40).Draw(t, "matchID")
		pos := rapid.IntRange(0, tictactoe.Cells-1).Draw(t, "pos")

		gotID, gotPos, ok := DecodeMoveCallback(EncodeMoveCallback(id, pos))
		if !ok || gotID != id || gotPos != pos {
			t.Fatalf("decode(encode(%d, %d)) = %d, %d, %v", id, pos, gotID, gotPos, ok)
		}
	})
}

func TestDecodeMoveCallback(t *testing.T) {
	id, pos, ok := DecodeMoveCallback("\fttt_move_42_4")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 4, pos)

	for _, data := range []string{
		"",
		"sicbo_big",
		"ttt_move_42",
		"ttt_move_42_9",
		"ttt_move_0_1",
		"ttt_move_x_1",
		"ttt_move_1_2_3",
	} {
		_, _, ok := DecodeMoveCallback(data)
		assert.False(t, ok, data)
	}
}

func TestBuildBoardKeyboard(t *testing.T) {
	board, err := tictactoe.ParseBoard("X---O----")
	require.NoError(t, err)

	markup := BuildBoardKeyboard(7, board)
	require.Len(t, markup.InlineKeyboard, 3)
	for _, row := range markup.InlineKeyboard {
		require.Len(t, row, 3)
	}

	assert.Equal(t, "X", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "O", markup.InlineKeyboard[1][1].Text)
	assert.Equal(t, "·", markup.InlineKeyboard[2][2].Text)
	assert.Equal(t, EncodeMoveCallback(7, 8), markup.InlineKeyboard[2][2].Data)
}
