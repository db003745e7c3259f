package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cliccoins/internal/clock"
	"cliccoins/internal/game"
	"cliccoins/internal/store"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	TickEvery       time.Duration
	AutosaveEvery   time.Duration
	ClickFlushEvery int
	IdleTimeout     time.Duration
	SaveTimeout     time.Duration
	FlushWorkers    int
}

func DefaultOptions() Options {
	return Options{
		TickEvery:       100 * time.Millisecond,
		AutosaveEvery:   5 * time.Second,
		ClickFlushEvery: 10,
		IdleTimeout:     15 * time.Minute,
		SaveTimeout:     5 * time.Second,
		FlushWorkers:    4,
	}
}

// Manager owns the active sessions. It drives the tick loop, the autosave and
// eviction cron jobs, and a small pool of workers serving early flush requests.
type Manager struct {
	catalog *game.Catalog
	store   Store
	clock   clock.Clock
	log     *slog.Logger
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
	closing  map[string]chan struct{}
	// resets counts Reset calls per player; a load that sees it change is stale.
	resets  map[string]uint64
	opening singleflight.Group
	stopped bool

	flushQ  chan *Session
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewManager(catalog *game.Catalog, st Store, clk clock.Clock, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	def := DefaultOptions()
	if opts.TickEvery <= 0 {
		opts.TickEvery = def.TickEvery
	}
	if opts.AutosaveEvery <= 0 {
		opts.AutosaveEvery = def.AutosaveEvery
	}
	if opts.FlushWorkers <= 0 {
		opts.FlushWorkers = def.FlushWorkers
	}
	return &Manager{
		catalog:  catalog,
		store:    st,
		clock:    clk,
		log:      logger,
		opts:     opts,
		sessions: make(map[string]*Session),
		closing:  make(map[string]chan struct{}),
		resets:   make(map[string]uint64),
		flushQ:   make(chan *Session, 256),
		cron:     cron.New(),
	}
}

func (m *Manager) Catalog() *game.Catalog {
	return m.catalog
}

// Start launches the tick loop, flush workers and cron jobs. They run until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.started = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if _, err := m.cron.AddFunc("@every "+m.opts.AutosaveEvery.String(), func() {
		m.SaveAll(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule autosave: %w", err)
	}
	if m.opts.IdleTimeout > 0 {
		if _, err := m.cron.AddFunc("@every 1m", func() {
			m.EvictIdle(ctx)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule eviction: %w", err)
		}
	}

	m.wg.Add(1)
	go m.tickLoop(ctx)
	for i := 0; i < m.opts.FlushWorkers; i++ {
		m.wg.Add(1)
		go m.flushWorker(ctx)
	}
	m.cron.Start()
	m.log.Info("session manager started",
		"tick_every", m.opts.TickEvery.String(),
		"autosave_every", m.opts.AutosaveEvery.String(),
		"click_flush_every", m.opts.ClickFlushEvery,
	)
	return nil
}

// Stop halts background work and closes every session with a final save.
// Once Stop begins, Open and Reset fail with ErrSessionClosed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	cronCtx := m.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var errs []error
	for _, id := range m.ids() {
		if err := m.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Info("session manager stopped")
	return errors.Join(errs...)
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TickAll()
		}
	}
}

func (m *Manager) flushWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.flushQ:
			_ = s.Flush(ctx)
		}
	}
}

func (m *Manager) requestFlush(s *Session) {
	select {
	case m.flushQ <- s:
	default:
		// Queue full: the next autosave picks the session up.
	}
}

// Open returns the player's active session, loading the save and applying catch-up accrual
// on first use. A corrupted save is logged and replaced by a fresh state.
func (m *Manager) Open(ctx context.Context, playerID, username string) (*Session, error) {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if s, ok := m.sessions[playerID]; ok {
			m.mu.Unlock()
			s.touch()
			return s, nil
		}
		wait, closing := m.closing[playerID]
		m.mu.Unlock()
		if closing {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		v, err, _ := m.opening.Do(playerID, func() (any, error) {
			return m.openOnce(ctx, playerID, username)
		})
		if errors.Is(err, errStaleLoad) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*Session), nil
	}
}

// errStaleLoad means a Close or Reset overlapped the load; Open starts over.
var errStaleLoad = errors.New("player changed during load")

func (m *Manager) openOnce(ctx context.Context, playerID, username string) (*Session, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s, ok := m.sessions[playerID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if _, busy := m.closing[playerID]; busy {
		m.mu.Unlock()
		return nil, errStaleLoad
	}
	gen := m.resets[playerID]
	m.mu.Unlock()

	s, err := m.load(ctx, playerID, username)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, busy := m.closing[playerID]
	stale := busy || m.resets[playerID] != gen
	if !stale && !m.stopped {
		m.sessions[playerID] = s
	}
	stopped := m.stopped
	m.mu.Unlock()

	switch {
	case stale:
		s.discard()
		return nil, errStaleLoad
	case stopped:
		s.discard()
		return nil, ErrSessionClosed
	}
	if s.Dirty() {
		m.requestFlush(s)
	}
	return s, nil
}

func (m *Manager) load(ctx context.Context, playerID, username string) (*Session, error) {
	now := m.clock.Now()
	st, err := m.store.Load(ctx, playerID)
	fresh := false
	switch {
	case err == nil:
		next, earned := game.Advance(st, now)
		m.log.Info("session opened",
			"player_id", playerID,
			"elapsed", now.Sub(st.LastSyncedAt).String(),
			"catch_up", earned.String(),
		)
		st = next
	case errors.Is(err, store.ErrNotFound):
		fresh = true
		m.log.Info("new player", "player_id", playerID)
	case errors.Is(err, store.ErrCorruptedState):
		fresh = true
		m.log.Warn("corrupted save, starting fresh", "player_id", playerID, "err", err)
	default:
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}
	if fresh {
		if username == "" {
			username = game.SanitizeUsername(playerID)
		}
		st = game.NewState(playerID, username, now)
	}

	s := newSession(st, m)
	if fresh {
		s.markDirty()
	}
	return s, nil
}

func (m *Manager) Get(playerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[playerID]
	return s, ok
}

// Do runs fn against the player's session, reopening once if the session closed underneath it.
func (m *Manager) Do(ctx context.Context, playerID, username string, fn func(*Session) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := m.Open(ctx, playerID, username)
		if err != nil {
			return err
		}
		err = fn(s)
		if !errors.Is(err, ErrSessionClosed) {
			return err
		}
	}
	return ErrSessionClosed
}

// Close flushes and evicts the session. If the final save fails the session stays active.
func (m *Manager) Close(ctx context.Context, playerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[playerID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, playerID)
	done := make(chan struct{})
	m.closing[playerID] = done
	m.mu.Unlock()

	s.setClosed(true)
	err := s.Flush(ctx)

	m.mu.Lock()
	if err != nil {
		s.setClosed(false)
		m.sessions[playerID] = s
	}
	delete(m.closing, playerID)
	m.mu.Unlock()
	close(done)

	if err != nil {
		return fmt.Errorf("close session %s: %w", playerID, err)
	}
	m.log.Info("session closed", "player_id", playerID)
	return nil
}

// Reset deletes the player's save and starts a fresh session. A load already in flight
// for the player is discarded rather than handed back.
func (m *Manager) Reset(ctx context.Context, playerID, username string) (*Session, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	m.resets[playerID]++
	s, ok := m.sessions[playerID]
	delete(m.sessions, playerID)
	done := make(chan struct{})
	m.closing[playerID] = done
	m.mu.Unlock()
	m.opening.Forget(playerID)

	if ok {
		s.discard()
	}
	err := m.store.Delete(ctx, playerID)

	m.mu.Lock()
	delete(m.closing, playerID)
	m.mu.Unlock()
	close(done)
	if err != nil {
		return nil, fmt.Errorf("reset player %s: %w", playerID, err)
	}
	m.log.Info("player reset", "player_id", playerID)
	return m.Open(ctx, playerID, username)
}

func (m *Manager) ClaimIdempotency(ctx context.Context, playerID, key, action string) error {
	return m.store.ClaimIdempotency(ctx, playerID, key, action)
}

func (m *Manager) TickAll() {
	now := m.clock.Now()
	for _, s := range m.active() {
		s.Tick(now)
	}
}

// SaveAll flushes every dirty session. Failures are logged by the session and retried next cycle.
func (m *Manager) SaveAll(ctx context.Context) {
	failed := 0
	for _, s := range m.active() {
		if err := s.Flush(ctx); err != nil {
			failed++
		}
	}
	if failed > 0 {
		m.log.Warn("autosave incomplete", "failed", failed)
	}
}

func (m *Manager) EvictIdle(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	cutoff := m.clock.Now().Add(-m.opts.IdleTimeout)
	for _, s := range m.active() {
		if s.idleSince().Before(cutoff) {
			if err := m.Close(ctx, s.PlayerID()); err != nil {
				m.log.Warn("evict idle session", "player_id", s.PlayerID(), "err", err)
			}
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) active() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
