package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// credsFile is the marker written under an auth directory once a loopback
// link completes. Its presence stands in for persisted credential material.
const credsFile = "creds.json"

// Loopback is an in-memory Dialer used for development and tests. It never
// touches the network: events are injected through the returned conn's Emit
// hooks, and sent messages are recorded instead of delivered.
//
// With AutoLink enabled, dialing runs a miniature linking flow: a QR code or
// pairing code is emitted when the auth directory holds no credentials, a
// credential marker is written, and the connection opens. With AutoLink off
// (the default), the caller drives every event.
type Loopback struct {
	// AutoLink drives the QR/pairing and open events automatically on Dial.
	AutoLink bool
	// LinkDelay is the pause between linking steps in AutoLink mode.
	LinkDelay time.Duration

	mu      sync.Mutex
	dialErr error
	conns   []*LoopbackConn
	seq     int
}

// NewLoopback returns a Loopback dialer with AutoLink disabled.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// SetDialErr makes subsequent Dial calls fail with err. Passing nil restores
// normal behavior.
func (l *Loopback) SetDialErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dialErr = err
}

// Dial implements Dialer.
func (l *Loopback) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	l.mu.Lock()
	if l.dialErr != nil {
		err := l.dialErr
		l.mu.Unlock()
		return nil, err
	}
	l.seq++
	conn := &LoopbackConn{
		opts:   opts,
		events: make(chan Event, 32),
		seq:    l.seq,
	}
	l.conns = append(l.conns, conn)
	autoLink := l.AutoLink
	delay := l.LinkDelay
	l.mu.Unlock()

	if autoLink {
		go conn.autoLink(delay)
	}
	return conn, nil
}

// Conns returns every connection this dialer has produced, in dial order.
func (l *Loopback) Conns() []*LoopbackConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*LoopbackConn(nil), l.conns...)
}

// LastConn returns the most recently dialed connection, or nil.
func (l *Loopback) LastConn() *LoopbackConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil
	}
	return l.conns[len(l.conns)-1]
}

// SentMessage records one SendMessage call on a LoopbackConn.
type SentMessage struct {
	JID  string
	Text string
	ID   string
}

// LoopbackConn is the Conn produced by Loopback.
type LoopbackConn struct {
	opts   DialOptions
	events chan Event
	seq    int

	mu      sync.Mutex
	closed  bool
	sendErr error
	sent    []SentMessage
	msgSeq  int
}

// Events implements Conn.
func (c *LoopbackConn) Events() <-chan Event {
	return c.events
}

// SendMessage implements Conn. The message is recorded and assigned a
// synthetic delivered id.
func (c *LoopbackConn) SendMessage(ctx context.Context, jid string, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	if c.closed {
		return "", fmt.Errorf("connection closed")
	}
	c.msgSeq++
	id := fmt.Sprintf("lb-%d-%d", c.seq, c.msgSeq)
	c.sent = append(c.sent, SentMessage{JID: jid, Text: text, ID: id})
	return id, nil
}

// Close implements Conn. Closing stops the event stream.
func (c *LoopbackConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

// Closed reports whether Close was called.
func (c *LoopbackConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Options returns the DialOptions this connection was dialed with.
func (c *LoopbackConn) Options() DialOptions {
	return c.opts
}

// Sent returns the messages recorded by SendMessage, in send order.
func (c *LoopbackConn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

// SetSendErr makes subsequent SendMessage calls fail with err.
func (c *LoopbackConn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Emit injects an event into the stream. Returns false when the connection
// is already closed, or when the event buffer is full with no reader
// draining it; blocking here would hold the lock against Close.
func (c *LoopbackConn) Emit(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// EmitOpen injects a connection-open event.
func (c *LoopbackConn) EmitOpen() bool {
	return c.Emit(Event{Kind: EventOpen})
}

// EmitQR injects a QR challenge event.
func (c *LoopbackConn) EmitQR(qr string) bool {
	return c.Emit(Event{Kind: EventQR, QRCode: qr})
}

// EmitPairingCode injects a pairing-code event.
func (c *LoopbackConn) EmitPairingCode(code string) bool {
	return c.Emit(Event{Kind: EventPairingCode, PairingCode: code})
}

// EmitClosed injects a connection-closed event and closes the stream.
func (c *LoopbackConn) EmitClosed(err error, loggedOut bool) bool {
	ok := c.Emit(Event{Kind: EventClosed, Close: &CloseInfo{Err: err, LoggedOut: loggedOut}})
	if ok {
		c.Close()
	}
	return ok
}

// EmitInbound injects a batch of inbound raw messages.
func (c *LoopbackConn) EmitInbound(msgs ...RawMessage) bool {
	return c.Emit(Event{Kind: EventMessages, Messages: msgs})
}

// HasCredentials reports whether the auth directory holds a credential
// marker.
func (c *LoopbackConn) HasCredentials() bool {
	_, err := os.Stat(filepath.Join(c.opts.AuthDir, credsFile))
	return err == nil
}

// autoLink runs the miniature linking flow for AutoLink mode.
func (c *LoopbackConn) autoLink(delay time.Duration) {
	if !c.HasCredentials() {
		if c.opts.AuthMethod == AuthMethodPhone {
			c.EmitPairingCode(fmt.Sprintf("%04d-%04d", c.seq, c.seq))
		} else {
			c.EmitQR(fmt.Sprintf("LOOPBACK-QR-%d", c.seq))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if err := os.MkdirAll(c.opts.AuthDir, 0700); err == nil {
			_ = os.WriteFile(filepath.Join(c.opts.AuthDir, credsFile), []byte("{}"), 0600)
		}
		c.Emit(Event{Kind: EventCredentials})
	}
	c.EmitOpen()
}
