package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesfam/bingo-engine/internal/ledger"
)

type recordingNotifier struct {
	mu        sync.Mutex
	numbers   []int
	histories [][]int
	outcomes  []Outcome
}

func (r *recordingNotifier) NumberCalled(sessionID string, number int, history []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers = append(r.numbers, number)
	r.histories = append(r.histories, history)
}

func (r *recordingNotifier) SessionFinished(sessionID string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func fund(t *testing.T, lg ledger.Ledger, userID, amount int64) {
	t.Helper()
	_, err := lg.Apply(context.Background(), ledger.Entry{
		Ref:    fmt.Sprintf("dep:test:%d:%d", userID, amount),
		UserID: userID,
		Kind:   ledger.Deposit,
		Amount: dec(amount),
	})
	require.NoError(t, err)
}

func newTestSession(lg ledger.Ledger, n Notifier) *Session {
	return NewSession("room-under-test", Config{
		EntryPrice:   dec(10),
		MinPlayers:   2,
		CallInterval: time.Hour, // ticks driven manually in tests
	}, lg, n)
}

// markCalled injects call history directly, bypassing the loop, so
// claims can be exercised deterministically.
func markCalled(s *Session, values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		if !s.called[v] {
			s.called[v] = true
			s.calls = append(s.calls, v)
		}
	}
}

// rigWin marks a player's first row and injects those numbers as called.
func rigWin(t *testing.T, s *Session, userID int64) {
	t.Helper()
	board, err := s.PlayerBoard(userID)
	require.NoError(t, err)

	cells := board.Cells()
	row := cells[:5]
	markCalled(s, row...)
	for _, v := range row {
		require.NoError(t, s.Mark(userID, v))
	}
}

func TestJoinCollectsFeeAndGrowsPool(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3} {
		fund(t, lg, uid, 100)
		board, err := s.Join(ctx, uid)
		require.NoError(t, err)
		require.NotNil(t, board)
	}

	snap := s.Snapshot()
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Len(t, snap.Players, 3)
	assert.True(t, snap.Pool.Equal(dec(30)), "pool = entry price x players, got %s", snap.Pool)

	for _, uid := range []int64{1, 2, 3} {
		balance, err := lg.Balance(ctx, uid)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(90)), "entry fee debited once, got %s", balance)
	}
}

func TestJoinInsufficientBalance(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx := context.Background()

	fund(t, lg, 7, 5) // entry price is 10

	_, err := s.Join(ctx, 7)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	snap := s.Snapshot()
	assert.Empty(t, snap.Players)
	assert.True(t, snap.Pool.IsZero(), "failed join must not grow the pool")

	balance, err := lg.Balance(ctx, 7)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(5)), "failed debit must not change balance")
}

func TestJoinTwiceChargesOnce(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx := context.Background()

	fund(t, lg, 1, 100)
	_, err := s.Join(ctx, 1)
	require.NoError(t, err)

	_, err = s.Join(ctx, 1)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	balance, err := lg.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(90)))
	assert.True(t, s.Snapshot().Pool.Equal(dec(10)))
}

func TestStartRequiresMinPlayers(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fund(t, lg, 1, 100)
	_, err := s.Join(ctx, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(ctx), ErrInvalidState)
	assert.Equal(t, StatusWaiting, s.Status())
}

func TestJoinAfterStartRejected(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	fund(t, lg, 3, 100)
	_, err := s.Join(ctx, 3)
	assert.ErrorIs(t, err, ErrInvalidState)

	// double start is rejected too
	assert.ErrorIs(t, s.Start(ctx), ErrInvalidState)
}

func TestRejoinWhileActiveRecoversBoard(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var issued *Board
	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		board, err := s.Join(ctx, uid)
		require.NoError(t, err)
		if uid == 1 {
			issued = board
		}
	}
	require.NoError(t, s.Start(ctx))

	// a reconnecting player re-sends join-room mid-game: the session
	// reports the enrollment, not a state error, and the original board
	// stays recoverable
	_, err := s.Join(ctx, 1)
	require.ErrorIs(t, err, ErrAlreadyJoined)

	board, err := s.PlayerBoard(1)
	require.NoError(t, err)
	assert.Equal(t, issued.Cells(), board.Cells())

	// no second charge, no pool growth
	balance, err := lg.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(90)))
	assert.True(t, s.Snapshot().Pool.Equal(dec(20)))
}

func TestTickRecordsAndBroadcastsCalls(t *testing.T) {
	lg := ledger.NewMemory()
	rec := &recordingNotifier{}
	s := newTestSession(lg, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		n, err := s.Tick(ctx)
		require.NoError(t, err)
		require.False(t, seen[n], "call %d repeated", n)
		seen[n] = true
	}

	snap := s.Snapshot()
	assert.Len(t, snap.Calls, 5)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.numbers, 5)
	for i, h := range rec.histories {
		assert.Len(t, h, i+1, "history grows by one per call")
	}
}

func TestTickBeforeStartRejected(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestClaimWinPaysPoolOnce(t *testing.T) {
	lg := ledger.NewMemory()
	rec := &recordingNotifier{}
	s := newTestSession(lg, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))
	rigWin(t, s, 1)

	out, err := s.ClaimWin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.WinnerID)
	assert.True(t, out.Payout.Equal(dec(20)), "payout equals the pool")

	snap := s.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Equal(t, int64(1), snap.WinnerID)

	balance, err := lg.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(110)), "90 after fee + 20 pool, got %s", balance)

	// a later claim observes the finished session
	_, err = s.ClaimWin(ctx, 2)
	assert.ErrorIs(t, err, ErrSessionAlreadyWon)

	// no calls after the win
	_, err = s.Tick(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, s.Snapshot().Calls, len(snap.Calls))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, int64(1), rec.outcomes[0].WinnerID)
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	// both boards are winners; only the first verified claim may pay
	rigWin(t, s, 1)
	rigWin(t, s, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	outs := make([]Outcome, 2)
	for i, uid := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, uid int64) {
			defer wg.Done()
			outs[i], errs[i] = s.ClaimWin(ctx, uid)
		}(i, uid)
	}
	wg.Wait()

	winners := 0
	for i := range errs {
		if errs[i] == nil {
			winners++
			assert.True(t, outs[i].Payout.Equal(dec(20)))
		} else {
			assert.ErrorIs(t, errs[i], ErrSessionAlreadyWon)
		}
	}
	require.Equal(t, 1, winners, "exactly one claim wins")

	// total credit issued equals the pool exactly once
	b1, err := lg.Balance(ctx, 1)
	require.NoError(t, err)
	b2, err := lg.Balance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, b1.Add(b2).Equal(dec(200)), "fees 20 out, pool 20 back in")
}

func TestClaimRejectedWithoutPattern(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	_, err := s.ClaimWin(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimRejected)
	assert.Equal(t, StatusActive, s.Status(), "rejected claim leaves session active")

	_, err = s.ClaimWin(ctx, 99)
	assert.ErrorIs(t, err, ErrPlayerNotEnrolled)
}

func TestClaimIgnoresMarksOnUncalledNumbers(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	// player marks a full row, but nothing was ever called
	board, err := s.PlayerBoard(1)
	require.NoError(t, err)
	cells := board.Cells()
	for _, v := range cells[:5] {
		require.NoError(t, s.Mark(1, v))
	}

	_, err = s.ClaimWin(ctx, 1)
	assert.ErrorIs(t, err, ErrClaimRejected, "forged marks must not win")
}

func TestExhaustionRefundsEntryFees(t *testing.T) {
	lg := ledger.NewMemory()
	rec := &recordingNotifier{}
	s := newTestSession(lg, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range []int64{1, 2, 3} {
		fund(t, lg, uid, 100)
		_, err := s.Join(ctx, uid)
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))

	all := make([]int, 0, MaxNumber)
	for v := 1; v <= MaxNumber; v++ {
		all = append(all, v)
	}
	markCalled(s, all...)

	_, err := s.Tick(ctx)
	assert.ErrorIs(t, err, ErrRandomnessExhausted)

	snap := s.Snapshot()
	assert.Equal(t, StatusFinished, snap.Status)
	assert.Zero(t, snap.WinnerID)

	total := decimal.Zero
	for _, uid := range []int64{1, 2, 3} {
		balance, err := lg.Balance(ctx, uid)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(100)), "entry fee refunded, got %s", balance)
		total = total.Add(balance)
	}
	assert.True(t, total.Equal(dec(300)))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.outcomes, 1)
	require.Len(t, rec.outcomes[0].Refunds, 3)
	refunded := decimal.Zero
	for _, amt := range rec.outcomes[0].Refunds {
		refunded = refunded.Add(amt)
	}
	assert.True(t, refunded.Equal(dec(30)), "refunds sum to the pool")

	// claiming a finished no-winner session is invalid, not "already won"
	_, err = s.ClaimWin(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkValidation(t *testing.T) {
	lg := ledger.NewMemory()
	s := newTestSession(lg, nil)
	ctx := context.Background()

	fund(t, lg, 1, 100)
	_, err := s.Join(ctx, 1)
	require.NoError(t, err)

	assert.Error(t, s.Mark(1, 0))
	assert.Error(t, s.Mark(1, 76))
	assert.ErrorIs(t, s.Mark(99, 5), ErrPlayerNotEnrolled)

	require.NoError(t, s.Mark(1, 5))
	require.NoError(t, s.Unmark(1, 5))
}
