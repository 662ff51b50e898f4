package engine

import "fmt"

// Standard US bingo card geometry: 5x5 row-major grid, letter columns
// B 1-15, I 16-30, N 31-45, G 46-60, O 61-75, free center cell.
const (
	BoardCells = 25
	FreeCell   = 0
	FreeIndex  = 12
	MaxNumber  = 75

	colSpan = 15
)

// Board is an immutable 5x5 card. Cells are row-major, the center cell
// holds FreeCell. Issued once to a player and never modified.
type Board struct {
	cells [BoardCells]int
}

func (b *Board) Cells() [BoardCells]int {
	return b.cells
}

func (b *Board) Cell(i int) int {
	return b.cells[i]
}

// Has reports whether the value appears on the card. The free cell is
// not a number and never matches.
func (b *Board) Has(v int) bool {
	if v == FreeCell {
		return false
	}
	for _, c := range b.cells {
		if c == v {
			return true
		}
	}
	return false
}

// Letter returns the column letter a call is announced under, e.g. 7 -> B.
func Letter(n int) string {
	switch {
	case n <= 15:
		return "B"
	case n <= 30:
		return "I"
	case n <= 45:
		return "N"
	case n <= 60:
		return "G"
	default:
		return "O"
	}
}

// FormatCall renders a call the way it is announced to players, e.g. "N-34".
func FormatCall(n int) string {
	return fmt.Sprintf("%s-%d", Letter(n), n)
}
