package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testBoard() *Board {
	return &Board{cells: [BoardCells]int{
		1, 16, 31, 46, 61,
		2, 17, 32, 47, 62,
		3, 18, FreeCell, 48, 63,
		4, 19, 33, 49, 64,
		5, 20, 34, 50, 65,
	}}
}

func set(values ...int) map[int]bool {
	m := make(map[int]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func TestCheckWinRow(t *testing.T) {
	b := testBoard()
	row0 := []int{1, 16, 31, 46, 61}

	marked := set(row0...)
	called := set(row0...)
	assert.True(t, CheckWin(b, marked, called))

	// dropping any single call breaks the row
	for _, missing := range row0 {
		partial := make(map[int]bool)
		for v := range called {
			if v != missing {
				partial[v] = true
			}
		}
		assert.False(t, CheckWin(b, marked, partial), "row should not win without %d", missing)
	}
}

func TestCheckWinIgnoresUncalledMarks(t *testing.T) {
	b := testBoard()
	row0 := []int{1, 16, 31, 46, 61}

	// player marks a full row but one number was never called
	marked := set(row0...)
	called := set(1, 16, 31, 46)
	assert.False(t, CheckWin(b, marked, called), "mark on an uncalled number must not count")
}

func TestCheckWinRequiresMarks(t *testing.T) {
	b := testBoard()
	row0 := []int{1, 16, 31, 46, 61}

	// everything called but the player never marked one cell
	marked := set(1, 16, 31, 46)
	called := set(row0...)
	assert.False(t, CheckWin(b, marked, called))
}

func TestCheckWinColumn(t *testing.T) {
	b := testBoard()
	colB := []int{1, 2, 3, 4, 5}
	assert.True(t, CheckWin(b, set(colB...), set(colB...)))
}

func TestCheckWinDiagonalsUseFreeCenter(t *testing.T) {
	b := testBoard()

	main := []int{1, 17, 49, 65} // indices 0,6,18,24; center is free
	assert.True(t, CheckWin(b, set(main...), set(main...)))

	anti := []int{61, 47, 19, 5} // indices 4,8,16,20; center is free
	assert.True(t, CheckWin(b, set(anti...), set(anti...)))

	assert.False(t, CheckWin(b, set(61, 47, 19), set(61, 47, 19)))
}

func TestCheckWinDeterministic(t *testing.T) {
	b := testBoard()
	row := []int{3, 18, 48, 63}

	// map iteration order varies; repeated evaluation must not
	for i := 0; i < 50; i++ {
		assert.True(t, CheckWin(b, set(row...), set(row...)))
	}
}

func TestCheckWinEmpty(t *testing.T) {
	b := testBoard()
	assert.False(t, CheckWin(b, set(), set()))
}
