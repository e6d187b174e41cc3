// Package auth implements the AuthManager: the rotating, lockable,
// timing-safe short-code generator that drives QR-code authentication
// for the messaging router (spec §4.C).
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/codegen"
	"github.com/BYU-PCCL/footron-api/internal/lock"
	"github.com/BYU-PCCL/footron-api/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// placardWatchdogInterval is the cadence at which the manager checks
// for (and repairs) a cleared placard URL, per spec §4.C.
const placardWatchdogInterval = 1 * time.Second

// Controller is the subset of controllerclient.Client the manager
// depends on, abstracted so tests can swap in a fake.
type Controller interface {
	PatchPlacardURL(ctx context.Context, url *string) error
	PatchCurrentExperience(ctx context.Context, fields map[string]any) error
	GetPlacard(ctx context.Context) (map[string]any, error)
}

// Listener is notified with the new current code after any rotation
// or lock-driven code change.
type Listener func(current codegen.Code)

// ListenerHandle identifies a registered Listener for later removal.
type ListenerHandle int

// Manager owns current_code, next_code, lock, and the auto-cycle timer.
type Manager struct {
	controller  Controller
	baseURL     string
	authTimeout time.Duration
	clock       clockwork.Clock
	log         zerolog.Logger

	mu      sync.Mutex
	current codegen.Code
	next    codegen.Code
	lock    lock.Lock
	timer   clockwork.Timer

	listeners      map[ListenerHandle]Listener
	nextListenerID ListenerHandle

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock overrides the manager's clock, primarily for tests that
// want to drive the auto-cycle timer deterministically with a
// clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager constructs a Manager, generates its initial codes, and
// starts the placard watchdog and auto-cycle timer background tasks,
// per spec §4.C's construction sequence.
func NewManager(controller Controller, baseURL string, authTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		controller:   controller,
		baseURL:      baseURL,
		authTimeout:  authTimeout,
		clock:        clockwork.NewRealClock(),
		log:          log.With().Str("component", "auth").Logger(),
		current:      codegen.New(),
		next:         codegen.New(),
		lock:         lock.NewOpen(),
		listeners:    make(map[ListenerHandle]Listener),
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.mu.Lock()
	m.armTimerLocked()
	current, next, lk := m.current, m.next, m.lock
	m.mu.Unlock()

	go m.updatePlacardURL(context.Background(), next, lk)
	go m.placardWatchdog()

	m.log.Info().Str("current", string(current)).Msg("auth manager initialized")
	return m
}

// Close stops the background tasks. Intended for tests and graceful
// shutdown; it does not invalidate outstanding codes.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.mu.Unlock()

	close(m.watchdogStop)
	<-m.watchdogDone
}

// Check performs a timing-safe comparison against current_code.
func (m *Manager) Check(code codegen.Code) bool {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	return codegen.Equal(code, current)
}

// CheckNext performs a timing-safe comparison against next_code,
// returning false when next_code is unset (lock = Closed).
func (m *Manager) CheckNext(code codegen.Code) bool {
	m.mu.Lock()
	next := m.next
	m.mu.Unlock()
	if next == codegen.Empty {
		return false
	}
	return codegen.Equal(code, next)
}

// Snapshot returns an atomically-consistent view of (current, next, lock).
func (m *Manager) Snapshot() (current, next codegen.Code, l lock.Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.next, m.lock
}

// Lock returns the current lock state.
func (m *Manager) Lock() lock.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lock
}

// AddListener registers f to be called with the new current code after
// every rotation or lock-driven code change. Returns a handle for
// RemoveListener.
func (m *Manager) AddListener(f Listener) ListenerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = f
	return id
}

// RemoveListener unregisters a listener previously returned by AddListener.
func (m *Manager) RemoveListener(h ListenerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, h)
}

// Advance is the idempotent code-rotation algorithm of spec §4.C. It is
// invoked both by external first-use-of-next_code admission and by the
// auto-cycle timer; both call through this single mutation lane so the
// algorithm is safe to run concurrently with itself.
func (m *Manager) Advance(ctx context.Context) {
	m.mu.Lock()
	rotated := m.lock.Kind == lock.Open
	var current codegen.Code
	if rotated {
		m.current = m.next
		m.next = codegen.New()
		current = m.current
	}

	m.cancelTimerLocked()
	if m.lock.Kind == lock.Open {
		m.armTimerLocked()
	}

	var listeners []Listener
	next, lk := m.next, m.lock
	if rotated {
		listeners = m.snapshotListenersLocked()
	}
	m.mu.Unlock()

	if !rotated {
		return
	}

	metrics.RecordCodeAdvance()
	m.log.Info().Str("current", string(current)).Msg("auth code advanced")
	m.notifyListeners(current, listeners)
	m.updatePlacardURL(ctx, next, lk)
}

// SetLock applies the lock state machine of spec §4.C. A no-op if new
// already equals the current lock.
//
// Note on Open->Closed: the distilled spec's transition table says this
// edge "rotates current_code", but that contradicts its own scenario
// S3 ("existing bound client continues uninterrupted" under Closed) --
// rotating current_code would fail every bound client's next auth
// check and have the router evict them. The original Python
// implementation (footron_api/data/auth.py:_handle_lock_change) never
// touches current_code on a transition into Closed, only next_code.
// This implementation follows the original and S3: current_code is
// left untouched when entering Closed.
func (m *Manager) SetLock(ctx context.Context, new lock.Lock) {
	m.mu.Lock()
	if new.Equal(m.lock) {
		m.mu.Unlock()
		return
	}
	m.lock = new

	switch new.Kind {
	case lock.Capacity:
		m.next = m.current
	case lock.Closed:
		m.next = codegen.Empty
	case lock.Open:
		m.current = codegen.New()
		m.next = codegen.New()
	}

	m.cancelTimerLocked()
	if new.Kind == lock.Open {
		m.armTimerLocked()
	}

	current, next := m.current, m.next
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.log.Info().Str("lock", new.String()).Msg("lock changed")

	if err := m.controller.PatchCurrentExperience(ctx, map[string]any{"lock": new}); err != nil {
		m.log.Error().Err(err).Msg("failed to push lock change to controller")
	}

	m.notifyListeners(current, listeners)
	m.updatePlacardURL(ctx, next, new)
}

func (m *Manager) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for _, f := range m.listeners {
		out = append(out, f)
	}
	return out
}

func (m *Manager) notifyListeners(current codegen.Code, listeners []Listener) {
	var wg sync.WaitGroup
	for _, f := range listeners {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(current)
		}()
	}
	wg.Wait()
}

func (m *Manager) armTimerLocked() {
	m.timer = m.clock.AfterFunc(m.authTimeout, func() {
		m.Advance(context.Background())
	})
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) placardURL(next codegen.Code) *string {
	url := fmt.Sprintf("%s/c/%s", m.baseURL, next)
	return &url
}

func (m *Manager) updatePlacardURL(ctx context.Context, next codegen.Code, lk lock.Lock) {
	var url *string
	if next != codegen.Empty {
		url = m.placardURL(next)
	}
	if err := m.controller.PatchPlacardURL(ctx, url); err != nil {
		m.log.Error().Err(err).Msg("failed to update placard url")
	}
}

func (m *Manager) placardWatchdog() {
	defer close(m.watchdogDone)
	ticker := m.clock.NewTicker(placardWatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.watchdogStop:
			return
		case <-ticker.Chan():
			m.checkPlacard(context.Background())
		}
	}
}

func (m *Manager) checkPlacard(ctx context.Context) {
	placard, err := m.controller.GetPlacard(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("placard watchdog: transport error, ignoring")
		return
	}
	if placard["url"] != nil {
		return
	}

	m.mu.Lock()
	next, lk := m.next, m.lock
	m.mu.Unlock()
	m.updatePlacardURL(ctx, next, lk)
}
