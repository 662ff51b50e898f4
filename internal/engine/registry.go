package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tesfam/bingo-engine/internal/ledger"
)

// Archiver persists a finished session before the registry forgets it.
type Archiver interface {
	SaveSession(ctx context.Context, snap Snapshot) error
}

// Registry tracks every live session and routes player actions to the
// right one. It holds handles only; each session owns its internal
// state and concurrency.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Session

	ledger   ledger.Ledger
	notifier Notifier
	archiver Archiver
	defaults Config
}

func NewRegistry(lg ledger.Ledger, notifier Notifier, archiver Archiver, defaults Config) *Registry {
	return &Registry{
		rooms:    make(map[string]*Session),
		ledger:   lg,
		notifier: notifier,
		archiver: archiver,
		defaults: defaults,
	}
}

// CreateRoom opens a new waiting session at the given entry price.
func (r *Registry) CreateRoom(entryPrice decimal.Decimal) *Session {
	cfg := r.defaults
	cfg.EntryPrice = entryPrice

	s := NewSession(uuid.New().String(), cfg, r.ledger, r.notifier)

	r.mu.Lock()
	r.rooms[s.ID()] = s
	r.mu.Unlock()

	log.Infof("room %s created, entry price %s", s.ID(), entryPrice.StringFixed(2))
	return s
}

func (r *Registry) GetRoom(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.rooms[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Rooms returns snapshots of every live session.
func (r *Registry) Rooms() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms))
	for _, s := range r.rooms {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// ReapFinished removes finished sessions older than the retention
// window. A session whose payout or refunds are not yet recorded
// completed is never reclaimed; it stays for the next sweep.
func (r *Registry) ReapFinished(ctx context.Context, retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)

	r.mu.RLock()
	candidates := make([]*Session, 0)
	for _, s := range r.rooms {
		if s.finishedBefore(cutoff) {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()

	reaped := 0
	for _, s := range candidates {
		settled, err := s.SettlementComplete(ctx)
		if err != nil {
			log.Errorf("room %s settlement check: %v", s.ID(), err)
			continue
		}
		if !settled {
			log.Warnf("room %s finished but not settled, keeping", s.ID())
			continue
		}
		if r.archiver != nil {
			if err := r.archiver.SaveSession(ctx, s.Snapshot()); err != nil {
				log.Errorf("room %s archive: %v", s.ID(), err)
				continue
			}
		}

		r.mu.Lock()
		delete(r.rooms, s.ID())
		r.mu.Unlock()
		reaped++
		log.Infof("room %s reaped", s.ID())
	}
	return reaped
}

// StartEligible starts every waiting room that reached the minimum
// player count and has been open at least minAge. Returns the started
// session IDs.
func (r *Registry) StartEligible(ctx context.Context, minAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-minAge)

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms))
	for _, s := range r.rooms {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var started []string
	for _, s := range sessions {
		snap := s.Snapshot()
		if snap.Status != StatusWaiting || snap.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.Start(ctx); err != nil {
			// not enough players yet
			continue
		}
		started = append(started, s.ID())
		log.Infof("room %s started with %d players", s.ID(), len(snap.Players))
	}
	return started
}

// RunSweeper periodically auto-starts eligible waiting rooms and reaps
// settled finished ones, until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context, interval, minAge, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.StartEligible(ctx, minAge)
			r.ReapFinished(ctx, retention)
		}
	}
}
