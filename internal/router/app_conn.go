package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/BYU-PCCL/footron-api/internal/lock"
	"github.com/BYU-PCCL/footron-api/internal/protocol"
	"github.com/rs/zerolog"
)

// appOutItem is an entry in an AppConn's send queue. Items enqueued by
// a client carry the originating client's id so AppConn.runSend can
// stamp it onto the frame at send time; items the hub builds directly
// (heartbeats) are already fully formed and sent as-is.
type appOutItem struct {
	msg      protocol.Message
	clientID string
	direct   bool
}

// AppConn is one connected application's side of the router, owning
// the set of clients currently bound to it (spec §4.D).
type AppConn struct {
	id     string
	socket socket
	hub    *Hub
	log    zerolog.Logger

	send chan appOutItem

	mu      sync.Mutex
	clients map[string]*ClientConn
}

func newAppConn(id string, sock socket, hub *Hub) *AppConn {
	return &AppConn{
		id:      id,
		socket:  sock,
		hub:     hub,
		log:     hub.log.With().Str("app", id).Logger(),
		send:    make(chan appOutItem, sendQueueSize),
		clients: make(map[string]*ClientConn),
	}
}

func (a *AppConn) clientIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	return ids
}

// addClient registers client as bound to this app and enqueues an
// updated client-set heartbeat, per spec §4.D ("add_client").
func (a *AppConn) addClient(c *ClientConn) {
	a.mu.Lock()
	a.clients[c.id] = c
	a.mu.Unlock()
	a.enqueueHeartbeat()
}

// removeClient unbinds client, if bound, and enqueues a negative
// per-client heartbeat so the app can tear down its side.
func (a *AppConn) removeClient(clientID string) {
	a.mu.Lock()
	_, bound := a.clients[clientID]
	delete(a.clients, clientID)
	a.mu.Unlock()
	if !bound {
		return
	}
	a.enqueueDirect(protocol.NewHeartbeatClient(false, []string{clientID}))
}

func (a *AppConn) enqueueHeartbeat() {
	a.enqueueDirect(protocol.NewHeartbeatClient(true, a.clientIDs()))
}

func (a *AppConn) enqueueDirect(msg protocol.Message) {
	a.enqueue(appOutItem{msg: msg, direct: true})
}

func (a *AppConn) enqueueFromClient(clientID string, msg protocol.Message) {
	a.enqueue(appOutItem{msg: msg, clientID: clientID})
}

func (a *AppConn) enqueue(item appOutItem) {
	select {
	case a.send <- item:
	default:
		a.log.Warn().Msg("send queue full, closing app connection")
		a.Close()
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (a *AppConn) Close() {
	a.socket.Close()
}

// Run drives the app connection until either direction fails or ctx is
// canceled, then removes it from the hub's registry.
func (a *AppConn) Run(ctx context.Context) {
	defer a.hub.disconnectApp(a)
	runConnection(ctx, a.runReceive, a.runSend)
}

func (a *AppConn) runReceive(ctx context.Context) error {
	for {
		_, data, err := a.socket.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			a.log.Warn().Err(err).Msg("discarding malformed frame from app")
			continue
		}
		a.handleInbound(ctx, msg)
	}
}

func (a *AppConn) handleInbound(ctx context.Context, msg protocol.Message) {
	if msg.HasClient() {
		a.handleClientAddressed(msg)
		return
	}

	switch msg.Type {
	case protocol.KindDisplaySettings:
		if msg.Lock != nil {
			a.hub.auth.SetLock(ctx, *msg.Lock)
		}
		if msg.EndTime != nil {
			if err := a.hub.controller.PatchCurrentExperience(ctx, map[string]any{"end_time": *msg.EndTime}); err != nil {
				a.log.Error().Err(err).Msg("failed to push end_time")
			}
		}
	case protocol.KindInteraction:
		if err := a.hub.controller.PatchCurrentExperience(ctx, map[string]any{"last_interaction": msg.At}); err != nil {
			a.log.Error().Err(err).Msg("failed to push last_interaction")
		}
	default:
		a.log.Warn().Str("kind", string(msg.Type)).Msg("unhandled app-originated message")
	}
}

func (a *AppConn) handleClientAddressed(msg protocol.Message) {
	a.mu.Lock()
	_, bound := a.clients[msg.Client]
	a.mu.Unlock()

	// An AccessMessage is how the app admits a client it does not own
	// yet, so it only requires the client to be connected.
	known := a.hub.lookupClient(msg.Client)
	if known == nil || (!bound && msg.Type != protocol.KindAccess) {
		a.enqueueDirect(protocol.NewHeartbeatClient(false, []string{msg.Client}))
		return
	}
	msg.App = a.id

	if msg.Type == protocol.KindAccess {
		if msg.Accepted {
			a.addClient(known)
		} else {
			a.removeClient(msg.Client)
		}
	}

	known.enqueueFromApp(msg)
}

func (a *AppConn) runSend(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-a.send:
			if !ok {
				return nil
			}
			if err := a.send1(item); err != nil {
				return err
			}
		}
	}
}

func (a *AppConn) send1(item appOutItem) error {
	msg := item.msg

	if !item.direct && msg.Type == protocol.KindConnect {
		if a.hub.auth.Lock().Kind == lock.Open {
			if client := a.hub.lookupClient(item.clientID); client != nil {
				a.addClient(client)
				access := protocol.NewAccess(a.id, item.clientID, true, "")
				client.enqueueFromApp(access)
			}
		}
	}

	if !item.direct {
		msg.Client = item.clientID
	}
	return a.writeFrame(msg)
}

func (a *AppConn) writeFrame(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("router: encode app frame: %w", err)
	}
	return a.socket.WriteMessage(textMessageType, data)
}
