// Package router implements the bidirectional messaging broker: the
// registry of connected apps and clients, admission, heartbeats, and
// the auth-rotation eviction path (spec §4.D/§4.E).
package router

import (
	"context"
	"sync"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/auth"
	"github.com/BYU-PCCL/footron-api/internal/codegen"
	"github.com/BYU-PCCL/footron-api/internal/metrics"
	"github.com/BYU-PCCL/footron-api/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func newClientID() string {
	return uuid.New().String()
}

const (
	// sendQueueSize bounds a connection's outbound backlog. A producer
	// that fills the queue (a stalled peer) gets the connection closed
	// rather than blocking the hub, per spec §5's backpressure choice.
	sendQueueSize = 32

	// heartbeatInterval is the cadence of the liveness heartbeat sent to
	// every app (enumerating its bound clients) and every bound client
	// (reporting whether its app is still connected), per spec §4.D.
	heartbeatInterval = 500 * time.Millisecond

	textMessageType = websocket.TextMessage
)

// Controller is the subset of controllerclient.Client the router
// depends on directly, to keep its dependency on the controller
// narrow and mockable.
type Controller interface {
	PatchCurrentExperience(ctx context.Context, fields map[string]any) error
}

// Hub is the connection manager: the registry of live app and client
// connections plus the background heartbeat and eviction tasks.
type Hub struct {
	auth       *auth.Manager
	controller Controller
	clock      clockwork.Clock
	log        zerolog.Logger

	mu      sync.RWMutex
	apps    map[string]*AppConn
	clients map[string]*ClientConn

	authListener auth.ListenerHandle

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithClock overrides the hub's clock, for deterministic heartbeat
// ticker tests.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// NewHub builds a Hub wired to authManager and controller, and starts
// its heartbeat ticker and auth-rotation eviction listener.
func NewHub(authManager *auth.Manager, controller Controller, opts ...Option) *Hub {
	h := &Hub{
		auth:          authManager,
		controller:    controller,
		clock:         clockwork.NewRealClock(),
		log:           log.With().Str("component", "router").Logger(),
		apps:          make(map[string]*AppConn),
		clients:       make(map[string]*ClientConn),
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.authListener = authManager.AddListener(func(codegen.Code) { h.evictStaleClients() })
	go h.runHeartbeat()

	return h
}

// Close stops the heartbeat ticker and unregisters the auth listener.
// Does not forcibly disconnect existing connections.
func (h *Hub) Close() {
	h.auth.RemoveListener(h.authListener)
	close(h.heartbeatStop)
	<-h.heartbeatDone
}

// ConnectApp registers a new app connection, evicting any prior
// connection under the same id (a reconnecting app wins).
func (h *Hub) ConnectApp(id string, sock socket) *AppConn {
	conn := newAppConn(id, sock, h)

	h.mu.Lock()
	if prior, ok := h.apps[id]; ok {
		h.mu.Unlock()
		prior.Close()
		h.mu.Lock()
	}
	h.apps[id] = conn
	count := len(h.apps)
	h.mu.Unlock()

	metrics.SetConnectionsActive("app", count)
	h.log.Info().Str("app", id).Msg("app connected")
	return conn
}

// ConnectClient validates code and, if valid, registers a new client
// connection. On rejection it writes a negative AccessMessage and
// closes sock itself, returning nil.
func (h *Hub) ConnectClient(code string, sock socket) *ClientConn {
	authCode := codegen.Code(code)
	usedNext := false
	accepted := h.auth.Check(authCode)
	if !accepted {
		usedNext = h.auth.CheckNext(authCode)
		accepted = usedNext
	}
	if !accepted {
		reject(sock, "expired or invalid code")
		return nil
	}
	if usedNext {
		h.auth.Advance(context.Background())
	}

	id := newClientID()
	conn := newClientConn(id, authCode, sock, h)

	h.mu.Lock()
	h.clients[id] = conn
	count := len(h.clients)
	h.mu.Unlock()

	metrics.SetConnectionsActive("client", count)
	h.log.Info().Str("client", id).Msg("client connected")
	return conn
}

func reject(sock socket, reason string) {
	msg := protocol.NewAccess("", "", false, reason)
	if data, err := protocol.Encode(msg); err == nil {
		_ = sock.WriteMessage(textMessageType, data)
	}
	sock.Close()
}

func (h *Hub) disconnectApp(a *AppConn) {
	h.mu.Lock()
	if h.apps[a.id] == a {
		delete(h.apps, a.id)
	}
	count := len(h.apps)
	h.mu.Unlock()

	metrics.SetConnectionsActive("app", count)
	h.log.Info().Str("app", a.id).Msg("app disconnected")
}

func (h *Hub) disconnectClient(c *ClientConn) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.SetConnectionsActive("client", count)
	h.log.Info().Str("client", c.id).Msg("client disconnected")

	if appID := c.boundAppID(); appID != "" {
		if app := h.lookupApp(appID); app != nil {
			app.removeClient(c.id)
		}
	}
}

func (h *Hub) lookupApp(id string) *AppConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.apps[id]
}

func (h *Hub) lookupClient(id string) *ClientConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *Hub) appConnected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.apps[id]
	return ok
}

// evictStaleClients is called after every auth code rotation. Any
// connected client whose admitting code is no longer current is
// deauthed and disconnected in parallel, per spec §4.E.
func (h *Hub) evictStaleClients() {
	h.mu.RLock()
	snapshot := make([]*ClientConn, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range snapshot {
		if h.auth.Check(c.authCode) {
			continue
		}
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.deauth("auth code rotated")
			metrics.RecordClientEvicted()
		}()
	}
	wg.Wait()
}

func (h *Hub) runHeartbeat() {
	defer close(h.heartbeatDone)
	ticker := h.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.heartbeatStop:
			return
		case <-ticker.Chan():
			h.tick()
		}
	}
}

func (h *Hub) tick() {
	h.mu.RLock()
	apps := make([]*AppConn, 0, len(h.apps))
	for _, a := range h.apps {
		apps = append(apps, a)
	}
	clients := make([]*ClientConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, a := range apps {
		a.enqueueHeartbeat()
	}
	for _, c := range clients {
		boundApp := c.boundAppID()
		if boundApp == "" {
			continue
		}
		c.enqueueFromApp(protocol.NewHeartbeatApp(h.appConnected(boundApp)))
	}
}

// runConnection runs receive and send concurrently and blocks until
// both exit, canceling whichever is still running as soon as either
// one returns (by error or by a closed socket).
func runConnection(ctx context.Context, receive, send func(context.Context) error) {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return receive(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return send(ctx)
	})
	_ = g.Wait()
}
