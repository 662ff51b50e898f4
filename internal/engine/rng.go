package engine

import (
	"crypto/rand"
	"math/big"
)

// Board layouts and call order must be unpredictable to players and
// uncorrelated across concurrent sessions, so every draw goes to the
// kernel entropy source. No shared or seedable generator is involved.
func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// only possible when the platform randomness source is broken
		panic("engine: randomness source unavailable: " + err.Error())
	}
	return int(v.Int64())
}

// sample draws n distinct values from [lo,hi] in random order.
func sample(lo, hi, n int) []int {
	pool := make([]int, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		pool = append(pool, v)
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		j := randInt(len(pool))
		out = append(out, pool[j])
		pool[j] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out
}

// GenerateBoard builds a fresh card: five distinct values per letter
// column, free center, no value repeated anywhere.
func GenerateBoard() *Board {
	var b Board
	for col := 0; col < 5; col++ {
		lo := col*colSpan + 1
		vals := sample(lo, lo+colSpan-1, 5)
		for row := 0; row < 5; row++ {
			b.cells[row*5+col] = vals[row]
		}
	}
	b.cells[FreeIndex] = FreeCell
	return &b
}

// NextCall draws uniformly from 1..MaxNumber excluding already called
// numbers. ok is false once the universe is exhausted.
func NextCall(called map[int]bool) (n int, ok bool) {
	remaining := make([]int, 0, MaxNumber-len(called))
	for v := 1; v <= MaxNumber; v++ {
		if !called[v] {
			remaining = append(remaining, v)
		}
	}
	if len(remaining) == 0 {
		return 0, false
	}
	return remaining[randInt(len(remaining))], true
}
