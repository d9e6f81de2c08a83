package domain

// winningLines lists the row, column and diagonal triples in evaluation order.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Evaluate inspects a board and reports the outcome.
// The first completed line decides; a full board without one is a draw.
func Evaluate(b Board) Winner {
	for _, line := range winningLines {
		c := b[line[0]]
		if c != CellEmpty && c == b[line[1]] && c == b[line[2]] {
			return WinnerOf(c)
		}
	}
	if b.Marks() == len(b) {
		return WinnerDraw
	}
	return WinnerNone
}

// ValidPosition reports whether pos addresses a board cell.
func ValidPosition(pos int) bool {
	return pos >= 0 && pos < len(Board{})
}
