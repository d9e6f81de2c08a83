package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boardOf(cells string) Board {
	var b Board
	for i, r := range cells {
		switch r {
		case 'X':
			b[i] = CellX
		case 'O':
			b[i] = CellO
		}
	}
	return b
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		board string
		want  Winner
	}{
		{"empty board", ".........", WinnerNone},
		{"top row X", "XXXOO....", WinnerX},
		{"middle row O", "XX.OOOX..", WinnerO},
		{"bottom row X", "OO.O..XXX", WinnerX},
		{"left column O", "OXXO..OX.", WinnerO},
		{"center column X", "OXO.X..X.", WinnerX},
		{"right column O", "XXO..OX.O", WinnerO},
		{"main diagonal X", "XO.OX...X", WinnerX},
		{"anti diagonal O", "XXO.O.OX.", WinnerO},
		{"full board draw", "XOXXOOOXX", WinnerDraw},
		{"in progress", "XO..X..O.", WinnerNone},
		{"win on full board beats draw", "XXXOOXOXO", WinnerX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(boardOf(tt.board)))
		})
	}
}

func TestValidPosition(t *testing.T) {
	assert.True(t, ValidPosition(0))
	assert.True(t, ValidPosition(8))
	assert.False(t, ValidPosition(-1))
	assert.False(t, ValidPosition(9))
}

func TestBoardString(t *testing.T) {
	b := boardOf("XO..X...O")
	assert.Equal(t, "XO--X---O", b.String())

	parsed, err := ParseBoard(b.String())
	assert.NoError(t, err)
	assert.Equal(t, b, parsed)

	_, err = ParseBoard("XO")
	assert.Error(t, err)
	_, err = ParseBoard("XO--X---Z")
	assert.Error(t, err)
}
