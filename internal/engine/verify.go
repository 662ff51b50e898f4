package engine

// CheckWin reports whether the marked cells on a board complete a row,
// a column or a diagonal. A cell is covered when it is the free cell or
// when its value was both marked by the player and actually called;
// marks on numbers that were never called are ignored, so a forged mark
// can never produce a win. Pure and deterministic for identical inputs.
func CheckWin(board *Board, marked, called map[int]bool) bool {
	var grid [5][5]bool
	for i := 0; i < BoardCells; i++ {
		r, c := i/5, i%5
		if i == FreeIndex {
			grid[r][c] = true
			continue
		}
		v := board.cells[i]
		if marked[v] && called[v] {
			grid[r][c] = true
		}
	}

	for i := 0; i < 5; i++ {
		rowComplete, colComplete := true, true
		for j := 0; j < 5; j++ {
			if !grid[i][j] {
				rowComplete = false
			}
			if !grid[j][i] {
				colComplete = false
			}
		}
		if rowComplete || colComplete {
			return true
		}
	}

	diag1, diag2 := true, true
	for i := 0; i < 5; i++ {
		if !grid[i][i] {
			diag1 = false
		}
		if !grid[i][4-i] {
			diag2 = false
		}
	}
	return diag1 || diag2
}
