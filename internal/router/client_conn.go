package router

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/BYU-PCCL/footron-api/internal/codegen"
	"github.com/BYU-PCCL/footron-api/internal/protocol"
	"github.com/rs/zerolog"
)

// clientWhitelist is the set of kinds a client is permitted to send,
// per spec §4.F's direction constraints. Anything else is a protocol
// violation.
var clientWhitelist = map[protocol.Kind]bool{
	protocol.KindConnect:          true,
	protocol.KindLifecycle:        true,
	protocol.KindApplicationClient: true,
}

// ClientConn is one connected client's side of the router (spec §4.D).
type ClientConn struct {
	id       string
	authCode codegen.Code
	socket   socket
	hub      *Hub
	log      zerolog.Logger

	send chan protocol.Message

	boundApp atomic.Value // string
}

func newClientConn(id string, code codegen.Code, sock socket, hub *Hub) *ClientConn {
	c := &ClientConn{
		id:       id,
		authCode: code,
		socket:   sock,
		hub:      hub,
		log:      hub.log.With().Str("client", id).Logger(),
		send:     make(chan protocol.Message, sendQueueSize),
	}
	c.boundApp.Store("")
	return c
}

func (c *ClientConn) boundAppID() string {
	return c.boundApp.Load().(string)
}

// enqueueFromApp queues a message an app originated for delivery to
// this client, preserving per-connection send order.
func (c *ClientConn) enqueueFromApp(msg protocol.Message) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send queue full, closing client connection")
		c.Close()
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (c *ClientConn) Close() {
	c.socket.Close()
}

// deauth attempts to deliver an immediate negative AccessMessage ahead
// of closing, so a well-behaved client knows to re-scan rather than
// silently reconnect with a now-expired code.
func (c *ClientConn) deauth(reason string) {
	msg := protocol.NewAccess(c.boundAppID(), c.id, false, reason)
	data, err := protocol.Encode(msg)
	if err == nil {
		_ = c.socket.WriteMessage(textMessageType, data)
	}
	c.Close()
}

// Run drives the client connection until either direction fails or ctx
// is canceled, then removes it from the hub's registry.
func (c *ClientConn) Run(ctx context.Context) {
	defer c.hub.disconnectClient(c)
	runConnection(ctx, c.runReceive, c.runSend)
}

func (c *ClientConn) runReceive(ctx context.Context) error {
	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed frame from client")
			continue
		}
		if violation := c.validate(msg); violation != "" {
			c.log.Warn().Str("kind", string(msg.Type)).Msg("protocol violation, closing")
			c.deauth(violation)
			return fmt.Errorf("router: client protocol violation: %s", violation)
		}
		c.handleInbound(msg)
	}
}

// validate reports a non-empty violation reason if msg may not
// legally originate from a client, per spec §4.F/§8 scenario S6.
func (c *ClientConn) validate(msg protocol.Message) string {
	if !clientWhitelist[msg.Type] {
		return fmt.Sprintf("protocol violation: %s not allowed from client", msg.Type)
	}
	if msg.Type != protocol.KindConnect && c.boundAppID() == "" {
		return "protocol violation: message before app binding"
	}
	return ""
}

func (c *ClientConn) handleInbound(msg protocol.Message) {
	appID := msg.App
	if msg.Type != protocol.KindConnect {
		appID = c.boundAppID()
	}

	app := c.hub.lookupApp(appID)
	if app == nil {
		c.enqueueFromApp(protocol.NewHeartbeatApp(false))
		return
	}

	msg.Client = c.id
	app.enqueueFromClient(c.id, msg)
}

// runSend delivers queued outbound frames. A negative AccessMessage
// closes the socket immediately after it's sent, such as an app
// rejecting the client in-band (forwarded by app_conn.go's
// handleClientAddressed) -- the client is never left bound with no way
// in. deauth does not use this queue: it writes its own negative
// AccessMessage directly and closes the socket itself.
func (c *ClientConn) runSend(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.send1(msg); err != nil {
				return err
			}
			if msg.Type == protocol.KindAccess && !msg.Accepted {
				c.Close()
				return nil
			}
		}
	}
}

func (c *ClientConn) send1(msg protocol.Message) error {
	if msg.Type == protocol.KindAccess && msg.Accepted {
		c.boundApp.Store(msg.App)
	}
	msg.Client = ""
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("router: encode client frame: %w", err)
	}
	return c.socket.WriteMessage(textMessageType, data)
}
