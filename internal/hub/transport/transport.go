// Package transport defines the contract between the hub and the underlying
// chat-protocol implementation. The hub consumes this surface as an opaque
// capability: dial a socket, send a message, receive a typed event stream.
// The wire protocol itself lives behind the Dialer implementation.
package transport

import (
	"context"
	"time"
)

// AuthMethod selects how a new device link is established.
type AuthMethod string

const (
	// AuthMethodQR links the device by scanning a QR code.
	AuthMethodQR AuthMethod = "qr"
	// AuthMethodPhone links the device with a numeric pairing code sent to
	// a phone number.
	AuthMethodPhone AuthMethod = "phone"
)

// DialOptions carries the parameters for establishing a connection.
type DialOptions struct {
	AuthDir     string     // directory holding persisted credential material
	AuthMethod  AuthMethod // qr or phone
	PhoneNumber string     // required for AuthMethodPhone
}

// Dialer establishes transport connections.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is a single live transport socket. Events delivers the inbound event
// stream; the channel is closed when the socket is torn down.
type Conn interface {
	Events() <-chan Event
	// SendMessage sends text to the given jid and returns the delivered
	// message id assigned by the transport.
	SendMessage(ctx context.Context, jid string, text string) (string, error)
	Close() error
}

// EventKind discriminates transport events.
type EventKind int

const (
	// EventOpen signals the connection is established and authenticated.
	EventOpen EventKind = iota
	// EventClosed signals the connection closed; Close carries the reason.
	EventClosed
	// EventQR delivers a fresh QR challenge for device linking.
	EventQR
	// EventPairingCode delivers a numeric pairing code for device linking.
	EventPairingCode
	// EventMessages delivers a batch of inbound raw messages.
	EventMessages
	// EventCredentials signals credential material was updated and persisted.
	EventCredentials
)

// Event is one item on a connection's event stream. Only the fields relevant
// to the Kind are populated.
type Event struct {
	Kind        EventKind
	QRCode      string
	PairingCode string
	Close       *CloseInfo
	Messages    []RawMessage
}

// CloseInfo describes why a connection closed. LoggedOut distinguishes a
// permanent logout (credentials revoked, no retry is useful) from a transient
// failure.
type CloseInfo struct {
	Err       error
	LoggedOut bool
}

// RawMessage is an inbound message as delivered by the transport. Content is
// the transport's raw JSON message payload; text extraction happens in the
// session layer.
type RawMessage struct {
	Sender    string // jid of the sender
	FromSelf  bool   // authored by this account on another device
	ID        string // transport message id, may be empty
	Timestamp time.Time
	Content   []byte // raw JSON message body
}
