package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tesfam/bingo-engine/internal/ledger"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Player is a session-side view of one enrolled user: the board issued
// to them and the cell values they declare as marked. Marks are
// player-declared; only marks on numbers actually called count toward
// a win.
type Player struct {
	UserID int64
	Board  *Board
	marked map[int]bool
}

// Notifier receives session events for broadcast to enrolled players.
// Calls arrive outside the session lock, with snapshot data.
type Notifier interface {
	NumberCalled(sessionID string, number int, history []int)
	SessionFinished(sessionID string, outcome Outcome)
}

// Outcome describes a terminal session: either a single winner paid the
// pool, or an exhausted call universe with entry fees refunded.
type Outcome struct {
	WinnerID int64
	Payout   decimal.Decimal
	Refunds  map[int64]decimal.Decimal
}

// Config carries per-room tunables. Zero values fall back to defaults.
type Config struct {
	EntryPrice   decimal.Decimal
	MinPlayers   int
	CallInterval time.Duration
}

const (
	defaultMinPlayers   = 2
	defaultCallInterval = 5 * time.Second
)

// Session owns one room's lifecycle: waiting -> active -> finished.
// Every state-changing operation runs under one mutex, so joins, calls
// and claims on the same room are mutually exclusive; independent rooms
// never contend.
type Session struct {
	mu sync.Mutex

	id         string
	cfg        Config
	status     Status
	players    map[int64]*Player
	calls      []int
	called     map[int]bool
	pool       decimal.Decimal
	winnerID   int64
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	ledger   ledger.Ledger
	notifier Notifier
	stop     chan struct{}
}

func NewSession(id string, cfg Config, lg ledger.Ledger, notifier Notifier) *Session {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = defaultMinPlayers
	}
	if cfg.CallInterval <= 0 {
		cfg.CallInterval = defaultCallInterval
	}
	return &Session{
		id:        id,
		cfg:       cfg,
		status:    StatusWaiting,
		players:   make(map[int64]*Player),
		called:    make(map[int]bool),
		createdAt: time.Now().UTC(),
		ledger:    lg,
		notifier:  notifier,
		stop:      make(chan struct{}),
	}
}

// Join enrolls a player while the session is waiting: debits the entry
// fee, issues a fresh board and grows the pool. The debit is keyed per
// session and player, so a retried join never charges twice. An already
// enrolled player gets ErrAlreadyJoined even after the room goes active,
// so a reconnecting client can recover its board.
func (s *Session) Join(ctx context.Context, userID int64) (*Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[userID]; ok && s.status != StatusFinished {
		return nil, ErrAlreadyJoined
	}
	if s.status != StatusWaiting {
		return nil, ErrInvalidState
	}

	fee := ledger.Entry{
		Ref:    fmt.Sprintf("fee:%s:%d", s.id, userID),
		UserID: userID,
		Kind:   ledger.GameFee,
		Amount: s.cfg.EntryPrice.Neg(),
	}
	if _, err := s.ledger.Apply(ctx, fee); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, err
		}
		return nil, fmt.Errorf("debit entry fee: %w", err)
	}

	p := &Player{
		UserID: userID,
		Board:  GenerateBoard(),
		marked: make(map[int]bool),
	}
	s.players[userID] = p
	s.pool = s.pool.Add(s.cfg.EntryPrice)
	return p.Board, nil
}

// Start transitions waiting -> active once enough players enrolled and
// launches the call loop. The loop runs until the session finishes or
// ctx is canceled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusWaiting || len(s.players) < s.cfg.MinPlayers {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.status = StatusActive
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// run is the per-session call loop: one draw per interval, canceled the
// instant the session finishes. The tick and any concurrent claim
// synchronize on the session mutex, so no call can land after a win.
func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				switch {
				case errors.Is(err, ErrRandomnessExhausted), errors.Is(err, ErrInvalidState):
					return
				default:
					// transient (e.g. ledger store hiccup during the
					// refund flow); the next tick retries with the
					// same idempotency keys
					log.Errorf("session %s tick: %v", s.id, err)
				}
			}
		}
	}
}

// Tick draws and records the next call, broadcasting it to players.
// When the 75-number universe is exhausted with no winner it refunds
// every entry fee, finishes the session and reports
// ErrRandomnessExhausted.
func (s *Session) Tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return 0, ErrInvalidState
	}

	n, ok := NextCall(s.called)
	if !ok {
		out, err := s.finishExhaustedLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if s.notifier != nil {
			s.notifier.SessionFinished(s.id, out)
		}
		return 0, ErrRandomnessExhausted
	}

	s.calls = append(s.calls, n)
	s.called[n] = true
	history := append([]int(nil), s.calls...)
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.NumberCalled(s.id, n, history)
	}
	return n, nil
}

// finishExhaustedLocked refunds each player's entry fee and records the
// terminal transition. Caller holds s.mu. A refund failure leaves the
// session active so the next tick retries under the same refs.
func (s *Session) finishExhaustedLocked(ctx context.Context) (Outcome, error) {
	refunds := make(map[int64]decimal.Decimal, len(s.players))
	for uid := range s.players {
		refund := ledger.Entry{
			Ref:    fmt.Sprintf("refund:%s:%d", s.id, uid),
			UserID: uid,
			Kind:   ledger.Payout,
			Amount: s.cfg.EntryPrice,
		}
		if _, err := s.ledger.Apply(ctx, refund); err != nil {
			return Outcome{}, fmt.Errorf("refund player %d: %w", uid, err)
		}
		refunds[uid] = s.cfg.EntryPrice
	}

	s.status = StatusFinished
	s.finishedAt = time.Now().UTC()
	close(s.stop)
	return Outcome{Refunds: refunds}, nil
}

// Mark records a cell value the player declares as marked. Declared
// marks are untrusted; verification intersects them with the call
// history.
func (s *Session) Mark(userID int64, number int) error {
	return s.setMark(userID, number, true)
}

// Unmark removes a previously declared mark.
func (s *Session) Unmark(userID int64, number int) error {
	return s.setMark(userID, number, false)
}

func (s *Session) setMark(userID int64, number int, on bool) error {
	if number < 1 || number > MaxNumber {
		return fmt.Errorf("mark %d: number out of range", number)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusFinished {
		return ErrInvalidState
	}
	p, ok := s.players[userID]
	if !ok {
		return ErrPlayerNotEnrolled
	}
	if on {
		p.marked[number] = true
	} else {
		delete(p.marked, number)
	}
	return nil
}

// ClaimWin resolves a win claim. Verification, the payout entry and the
// active -> finished transition form one critical section under the
// session mutex: the first valid claim wins, every later claim observes
// finished and fails with ErrSessionAlreadyWon, and the pool is paid
// exactly once. The payout is applied before the transition so a ledger
// failure leaves the claim retryable under the same idempotency key.
func (s *Session) ClaimWin(ctx context.Context, userID int64) (Outcome, error) {
	s.mu.Lock()

	switch s.status {
	case StatusWaiting:
		s.mu.Unlock()
		return Outcome{}, ErrInvalidState
	case StatusFinished:
		won := s.winnerID != 0
		s.mu.Unlock()
		if won {
			return Outcome{}, ErrSessionAlreadyWon
		}
		return Outcome{}, ErrInvalidState
	}

	p, ok := s.players[userID]
	if !ok {
		s.mu.Unlock()
		return Outcome{}, ErrPlayerNotEnrolled
	}

	if !CheckWin(p.Board, p.marked, s.called) {
		s.mu.Unlock()
		return Outcome{}, ErrClaimRejected
	}

	payout := ledger.Entry{
		Ref:    "payout:" + s.id,
		UserID: userID,
		Kind:   ledger.Payout,
		Amount: s.pool,
	}
	if _, err := s.ledger.Apply(ctx, payout); err != nil {
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("record payout: %w", err)
	}

	s.status = StatusFinished
	s.winnerID = userID
	s.finishedAt = time.Now().UTC()
	close(s.stop)
	out := Outcome{WinnerID: userID, Payout: s.pool}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.SessionFinished(s.id, out)
	}
	return out, nil
}

// Snapshot is a read-only view of session state for presentation and
// archival. Copies everything, shares nothing.
type Snapshot struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Pool       decimal.Decimal `json:"pool"`
	Players    []int64         `json:"players"`
	Calls      []int           `json:"calls"`
	WinnerID   int64           `json:"winner_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]int64, 0, len(s.players))
	for uid := range s.players {
		players = append(players, uid)
	}
	return Snapshot{
		ID:         s.id,
		Status:     s.status,
		EntryPrice: s.cfg.EntryPrice,
		Pool:       s.pool,
		Players:    players,
		Calls:      append([]int(nil), s.calls...),
		WinnerID:   s.winnerID,
		CreatedAt:  s.createdAt,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PlayerBoard returns the board issued to a player.
func (s *Session) PlayerBoard(userID int64) (*Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return nil, ErrPlayerNotEnrolled
	}
	return p.Board, nil
}

// terminalRefs lists the ledger refs that must be completed before the
// session may be reclaimed: the payout for a won session, the per-player
// refunds for an exhausted one.
func (s *Session) terminalRefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusFinished {
		return nil
	}
	if s.winnerID != 0 {
		return []string{"payout:" + s.id}
	}
	refs := make([]string, 0, len(s.players))
	for uid := range s.players {
		refs = append(refs, fmt.Sprintf("refund:%s:%d", s.id, uid))
	}
	return refs
}

// SettlementComplete reports whether every terminal ledger entry for a
// finished session is durably completed.
func (s *Session) SettlementComplete(ctx context.Context) (bool, error) {
	if s.Status() != StatusFinished {
		return false, nil
	}
	for _, ref := range s.terminalRefs() {
		e, err := s.ledger.Lookup(ctx, ref)
		if err != nil {
			return false, err
		}
		if e == nil || e.Status != ledger.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *Session) finishedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusFinished && s.finishedAt.Before(cutoff)
}
