package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cliccoins/internal/clock"
	"cliccoins/internal/game"
)

var ErrSessionClosed = errors.New("session closed")

// Store is the persistence a session needs. *store.Players satisfies it.
type Store interface {
	Load(ctx context.Context, playerID string) (game.State, error)
	Save(ctx context.Context, st game.State) error
	Delete(ctx context.Context, playerID string) error
	ClaimIdempotency(ctx context.Context, playerID, key, action string) error
}

// Session owns one player's state. Every mutation runs game.Reduce under mu and never
// waits on I/O; persistence snapshots the state under mu and writes outside it.
type Session struct {
	catalog *game.Catalog
	clock   clock.Clock
	store   Store
	log     *slog.Logger
	opts    Options
	// requestFlush asks for an early save without blocking the caller.
	requestFlush func(*Session)

	mu           sync.Mutex
	state        game.State
	version      uint64
	savedVersion uint64
	clicks       int
	lastActive   time.Time
	closed       bool
	discarded    bool

	flushMu sync.Mutex
}

func newSession(st game.State, m *Manager) *Session {
	return &Session{
		catalog:      m.catalog,
		clock:        m.clock,
		store:        m.store,
		log:          m.log.With("player_id", st.PlayerID),
		opts:         m.opts,
		requestFlush: m.requestFlush,
		state:        st,
		lastActive:   m.clock.Now(),
	}
}

func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PlayerID
}

func (s *Session) Click(ctx context.Context) (game.Snapshot, error) {
	return s.apply(ctx, game.Click{})
}

func (s *Session) PurchaseBuilding(ctx context.Context, buildingID string) (game.Snapshot, error) {
	return s.apply(ctx, game.BuyBuilding{BuildingID: buildingID})
}

func (s *Session) PurchaseUpgrade(ctx context.Context, upgradeID string) (game.Snapshot, error) {
	return s.apply(ctx, game.BuyUpgrade{UpgradeID: upgradeID})
}

// Snapshot accrues up to now and returns a copy of the player's state.
func (s *Session) Snapshot() game.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(s.clock.Now())
	return s.state.Snapshot(s.catalog)
}

func (s *Session) Storefront() game.Storefront {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(s.clock.Now())
	return s.state.Storefront(s.catalog)
}

// Dirty reports whether there are changes that have not been persisted.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.savedVersion
}

func (s *Session) apply(ctx context.Context, ev game.Event) (game.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return game.Snapshot{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return game.Snapshot{}, ErrSessionClosed
	}
	now := s.clock.Now()
	s.advanceLocked(now)
	s.lastActive = now

	next, out, err := game.Reduce(s.state, s.catalog, ev)
	if err != nil {
		s.mu.Unlock()
		return game.Snapshot{}, err
	}
	s.state = next
	s.version++

	flush := out.Persist
	if _, ok := ev.(game.Click); ok {
		s.clicks++
		if s.opts.ClickFlushEvery > 0 && s.clicks >= s.opts.ClickFlushEvery {
			s.clicks = 0
			flush = true
		}
	}
	snap := s.state.Snapshot(s.catalog)
	s.mu.Unlock()

	if flush && s.requestFlush != nil {
		s.requestFlush(s)
	}
	return snap, nil
}

// Tick accrues production for the time since the last tick.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.advanceLocked(now)
}

func (s *Session) advanceLocked(now time.Time) {
	next, earned := game.Advance(s.state, now)
	s.state = next
	if earned.IsPositive() {
		s.version++
	}
}

// Flush persists the current state if it changed since the last successful save.
// A failed save keeps the session dirty so the next autosave retries it.
func (s *Session) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.discarded || s.version == s.savedVersion {
		s.mu.Unlock()
		return nil
	}
	s.advanceLocked(s.clock.Now())
	st := s.state.Clone()
	version := s.version
	s.mu.Unlock()

	if s.opts.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SaveTimeout)
		defer cancel()
	}
	if err := s.store.Save(ctx, st); err != nil {
		s.log.Warn("save failed, will retry", "err", err)
		return err
	}

	s.mu.Lock()
	if version > s.savedVersion {
		s.savedVersion = version
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) setClosed(closed bool) {
	s.mu.Lock()
	s.closed = closed
	s.mu.Unlock()
}

// discard stops the session from ever saving again. It waits for an in-flight flush.
func (s *Session) discard() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.discarded = true
	s.mu.Unlock()
}

func (s *Session) markDirty() {
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
}
