// Package protocol implements the tagged-union JSON message codec
// shared by the client and application websocket endpoints. Direction
// constraints (who may send what) are enforced by the router and
// connection types, not here -- this package only knows how to
// serialize and deserialize the closed set of message kinds.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/BYU-PCCL/footron-api/internal/lock"
)

// Kind is the wire "type" discriminator.
type Kind string

const (
	KindConnect            Kind = "connect"
	KindAccess              Kind = "access"
	KindLifecycle           Kind = "lifecycle"
	KindDisplaySettings     Kind = "display-settings"
	KindInteraction         Kind = "interaction"
	KindApplicationApp      Kind = "application-app"
	KindApplicationClient   Kind = "app-client"
	KindHeartbeatClient     Kind = "heartbeat-client"
	KindHeartbeatApp        Kind = "heartbeat-app"
	KindError               Kind = "error"
)

// Message is the parsed form of any frame on the wire. Not every field
// applies to every Kind; see the per-kind constructors and accessors
// below. Client and App are the "identifiable" mixin from spec §4.F,
// present on messages that travel between a client and its app.
type Message struct {
	Type Kind

	// identifiable mixin
	Client string
	App    string

	// ConnectMessage
	// (App reused above)

	// AccessMessage
	Accepted bool
	Reason   string

	// DisplaySettingsMessage
	Lock     *lock.Lock
	EndTime  *int64

	// InteractionMessage
	At int64

	// HeartbeatClientMessage
	Up      bool
	Clients []string

	// ApplicationApp / ApplicationClient / Lifecycle / Error payloads
	// are opaque to the router; Data carries them verbatim.
	Data json.RawMessage
}

// wireMessage is the JSON-level shape; Message is unpacked into/out of
// this before being handed to callers, keeping the public struct free
// of encoding tags for kinds that don't use a given field.
type wireMessage struct {
	Type     Kind             `json:"type"`
	Client   string           `json:"client,omitempty"`
	App      string           `json:"app,omitempty"`
	Accepted *bool            `json:"accepted,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Lock     *lock.Lock       `json:"lock,omitempty"`
	EndTime  *int64           `json:"end_time,omitempty"`
	At       *int64           `json:"at,omitempty"`
	Up       *bool            `json:"up,omitempty"`
	Clients  []string         `json:"clients,omitempty"`
	Data     json.RawMessage  `json:"data,omitempty"`
}

// Decode parses a raw frame, rejecting unknown kinds as specified in
// spec §4.F ("Unknown kinds on the wire raise a decode error").
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if !validKind(w.Type) {
		return Message{}, fmt.Errorf("protocol: unknown message kind %q", w.Type)
	}

	m := Message{
		Type:    w.Type,
		Client:  w.Client,
		App:     w.App,
		Reason:  w.Reason,
		Lock:    w.Lock,
		EndTime: w.EndTime,
		Clients: w.Clients,
		Data:    w.Data,
	}
	if w.Accepted != nil {
		m.Accepted = *w.Accepted
	}
	if w.Up != nil {
		m.Up = *w.Up
	}
	if w.At != nil {
		m.At = *w.At
	}
	return m, nil
}

// Encode serializes a Message back to a wire frame.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{
		Type:    m.Type,
		Client:  m.Client,
		App:     m.App,
		Reason:  m.Reason,
		Lock:    m.Lock,
		EndTime: m.EndTime,
		Clients: m.Clients,
		Data:    m.Data,
	}
	if m.Type == KindAccess {
		w.Accepted = &m.Accepted
	}
	if m.Type == KindHeartbeatApp || m.Type == KindHeartbeatClient {
		w.Up = &m.Up
	}
	if m.Type == KindInteraction {
		w.At = &m.At
	}
	return json.Marshal(w)
}

func validKind(k Kind) bool {
	switch k {
	case KindConnect, KindAccess, KindLifecycle, KindDisplaySettings,
		KindInteraction, KindApplicationApp, KindApplicationClient,
		KindHeartbeatClient, KindHeartbeatApp, KindError:
		return true
	default:
		return false
	}
}

// HasClient reports whether m carries the identifiable "client" mixin,
// i.e. whether it is traveling between a client and its bound app.
func (m Message) HasClient() bool {
	return m.Client != ""
}

// NewAccess builds an AccessMessage, as sent by an app to accept or
// reject a client, or by the router to report an expired/invalid code.
func NewAccess(app, client string, accepted bool, reason string) Message {
	return Message{Type: KindAccess, App: app, Client: client, Accepted: accepted, Reason: reason}
}

// NewHeartbeatClient builds the app-directed heartbeat enumerating the
// client set the router considers live for that app (or, for a
// negative heartbeat, the clients to drop).
func NewHeartbeatClient(up bool, clients []string) Message {
	return Message{Type: KindHeartbeatClient, Up: up, Clients: clients}
}

// NewHeartbeatApp builds the client-directed heartbeat reporting
// whether its bound app is currently connected.
func NewHeartbeatApp(up bool) Message {
	return Message{Type: KindHeartbeatApp, Up: up}
}

// NewError builds a protocol-level error frame to notify a peer of a
// decode or direction violation before closing its connection.
func NewError(reason string) Message {
	return Message{Type: KindError, Reason: reason}
}
