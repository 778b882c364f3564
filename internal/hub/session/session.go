// Package session implements the connection session state machine and the
// manager that owns the pool of sessions. Each session wraps one transport
// socket, tracks its own status and QR/pairing artifacts, and fans events out
// to its registries; sessions reconnect independently without interfering
// with each other.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/apperrors"
	"github.com/chatwire/chatwire/internal/common/uuid"
	"github.com/chatwire/chatwire/internal/hub/registry"
	"github.com/chatwire/chatwire/internal/hub/transport"
)

// Status is the connection state of a session. Exactly one holds at any
// instant.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Direction marks a message as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is the normalized message record delivered to subscribers.
type Message struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Content   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId,omitempty"`
	Direction Direction `json:"direction"`
}

// DisconnectReason tells disconnected-callback subscribers why the session
// went down.
type DisconnectReason string

const (
	// ReasonManual: explicit Disconnect call.
	ReasonManual DisconnectReason = "manual"
	// ReasonConnectionLost: transient transport close; an automatic
	// reconnect is scheduled.
	ReasonConnectionLost DisconnectReason = "connection_lost"
	// ReasonLoggedOut: permanent logout; only GenerateNewCredentials
	// restarts the flow.
	ReasonLoggedOut DisconnectReason = "logged_out"
)

// ConnectOptions selects the authentication mode for Connect.
type ConnectOptions struct {
	AuthMethod  transport.AuthMethod
	PhoneNumber string
}

// Session is one logical account connection. All exported methods are safe
// for concurrent use.
type Session struct {
	instanceID        string
	authDir           string
	dialer            transport.Dialer
	reconnectDelay    time.Duration
	reconnectAttempts uint
	logger            zerolog.Logger

	mu             sync.Mutex
	status         Status
	conn           transport.Conn
	gen            uint64 // connection generation; bumped whenever the active socket changes
	currentQR      string
	currentPairing string
	lastOpts       ConnectOptions

	messages     *registry.Registry[Message]
	inbound      *registry.Registry[Message]
	outbound     *registry.Registry[Message]
	qr           *registry.Registry[string]
	pairing      *registry.Registry[string]
	connected    *registry.Registry[struct{}]
	disconnected *registry.Registry[DisconnectReason]
}

func newSession(instanceID, authDir string, dialer transport.Dialer, reconnectDelay time.Duration, reconnectAttempts uint) *Session {
	return &Session{
		instanceID:        instanceID,
		authDir:           authDir,
		dialer:            dialer,
		reconnectDelay:    reconnectDelay,
		reconnectAttempts: reconnectAttempts,
		logger:            log.With().Str("instance_id", instanceID).Logger(),
		status:            StatusDisconnected,
		messages:          registry.New[Message]("message"),
		inbound:           registry.New[Message]("inbound"),
		outbound:          registry.New[Message]("outbound"),
		qr:                registry.New[string]("qr"),
		pairing:           registry.New[string]("pairing"),
		connected:         registry.New[struct{}]("connected"),
		disconnected:      registry.New[DisconnectReason]("disconnected"),
	}
}

// InstanceID returns the session's identifier.
func (s *Session) InstanceID() string {
	return s.instanceID
}

// AuthDir returns the path to the session's persisted credential material.
func (s *Session) AuthDir() string {
	return s.authDir
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentQRCode returns the most recent QR challenge, or empty.
func (s *Session) CurrentQRCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentQR
}

// CurrentPairingCode returns the most recent pairing code, or empty.
func (s *Session) CurrentPairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPairing
}

// Connect establishes the transport connection. A no-op when already
// connected. Status moves to connecting before the dial; QR/pairing artifacts
// arrive asynchronously on the event stream.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) apperrors.Error {
	if opts.AuthMethod == "" {
		opts.AuthMethod = transport.AuthMethodQR
	}
	if opts.AuthMethod != transport.AuthMethodQR && opts.AuthMethod != transport.AuthMethodPhone {
		return ErrInvalidAuthOptions.Msg(fmt.Sprintf("unknown auth method %q", opts.AuthMethod))
	}
	if opts.AuthMethod == transport.AuthMethodPhone && opts.PhoneNumber == "" {
		return ErrInvalidAuthOptions.Msg("phoneNumber is required when authMethod is phone")
	}

	s.mu.Lock()
	if s.status == StatusConnected {
		s.mu.Unlock()
		return nil
	}
	// a new attempt supersedes any prior socket before it is considered
	// authoritative
	prior := s.conn
	s.conn = nil
	s.gen++
	myGen := s.gen
	s.status = StatusConnecting
	s.currentQR = ""
	s.currentPairing = ""
	s.lastOpts = opts
	s.mu.Unlock()

	if prior != nil {
		prior.Close()
	}

	conn, err := s.dialer.Dial(ctx, transport.DialOptions{
		AuthDir:     s.authDir,
		AuthMethod:  opts.AuthMethod,
		PhoneNumber: opts.PhoneNumber,
	})
	if err != nil {
		s.mu.Lock()
		if s.gen == myGen {
			s.status = StatusError
		}
		s.mu.Unlock()
		return ErrTransportFailure.MsgErr("failed to establish connection", err)
	}

	s.mu.Lock()
	if s.gen != myGen {
		// superseded while dialing; the result is stale
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	go s.pump(conn, myGen)
	return nil
}

// pump drains the connection's event stream until it closes. Events from a
// superseded generation are discarded.
func (s *Session) pump(conn transport.Conn, gen uint64) {
	for ev := range conn.Events() {
		s.mu.Lock()
		stale := s.gen != gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.handleEvent(ev, gen)
	}
}

func (s *Session) handleEvent(ev transport.Event, gen uint64) {
	switch ev.Kind {
	case transport.EventOpen:
		s.mu.Lock()
		s.status = StatusConnected
		s.currentQR = ""
		s.currentPairing = ""
		s.mu.Unlock()
		s.logger.Info().Msg("connected")
		s.connected.Fire(struct{}{})

	case transport.EventQR:
		s.mu.Lock()
		s.currentQR = ev.QRCode
		s.mu.Unlock()
		s.logger.Debug().Msg("qr code issued")
		s.qr.Fire(ev.QRCode)

	case transport.EventPairingCode:
		s.mu.Lock()
		s.currentPairing = ev.PairingCode
		s.mu.Unlock()
		s.logger.Debug().Msg("pairing code issued")
		s.pairing.Fire(ev.PairingCode)

	case transport.EventCredentials:
		s.logger.Debug().Msg("credentials updated")

	case transport.EventMessages:
		for _, raw := range ev.Messages {
			s.handleInbound(raw)
		}

	case transport.EventClosed:
		s.handleClosed(ev.Close, gen)
	}
}

func (s *Session) handleInbound(raw transport.RawMessage) {
	if raw.FromSelf {
		return
	}
	text := transport.ExtractText(raw.Content)
	if text == "" {
		return
	}
	id := raw.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := Message{
		From:      raw.Sender,
		Content:   text,
		Timestamp: ts,
		MessageID: id,
		Direction: DirectionInbound,
	}
	s.inbound.Fire(msg)
	s.messages.Fire(msg)
}

func (s *Session) handleClosed(info *transport.CloseInfo, gen uint64) {
	loggedOut := info != nil && info.LoggedOut

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.status = StatusDisconnected
	s.currentQR = ""
	s.currentPairing = ""
	s.mu.Unlock()

	if loggedOut {
		s.logger.Warn().Msg("logged out; call GenerateNewCredentials to relink")
		s.disconnected.Fire(ReasonLoggedOut)
		return
	}

	var closeErr error
	if info != nil {
		closeErr = info.Err
	}
	s.logger.Info().AnErr("cause", closeErr).Msg("connection lost, scheduling reconnect")
	s.disconnected.Fire(ReasonConnectionLost)
	s.scheduleReconnect(gen)
}

// scheduleReconnect retries Connect on its own goroutine with bounded
// exponential backoff. The attempt aborts as soon as the generation moves:
// a successful reconnect, an explicit Disconnect, or a newer Connect all
// supersede it.
func (s *Session) scheduleReconnect(fromGen uint64) {
	go func() {
		// each Connect attempt advances the generation by one; anything else
		// moving it means an external actor superseded this retry loop
		expected := fromGen
		err := retry.Do(
			func() error {
				s.mu.Lock()
				superseded := s.gen != expected
				opts := s.lastOpts
				s.mu.Unlock()
				if superseded {
					return nil
				}
				expected++
				return s.Connect(context.Background(), opts)
			},
			retry.Attempts(s.reconnectAttempts),
			retry.Delay(s.reconnectDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				s.logger.Warn().Uint("attempt", n+1).Err(err).Msg("reconnect attempt failed")
			}),
		)
		if err != nil {
			s.logger.Error().Err(err).Msg("reconnect attempts exhausted")
		}
	}()
}

// SendMessage sends text to the given recipient. Fails with ErrNotConnected
// unless the session is connected; bare identifiers are normalized into the
// transport's addressing form.
func (s *Session) SendMessage(ctx context.Context, to string, text string) apperrors.Error {
	s.mu.Lock()
	conn := s.conn
	status := s.status
	s.mu.Unlock()

	if status != StatusConnected || conn == nil {
		return ErrNotConnected
	}

	jid := transport.NormalizeJID(to)
	deliveredID, err := conn.SendMessage(ctx, jid, text)
	if err != nil {
		return ErrTransportFailure.MsgErr(fmt.Sprintf("failed to send message to %s", jid), err)
	}

	s.outbound.Fire(Message{
		To:        jid,
		Content:   text,
		Timestamp: time.Now(),
		MessageID: deliveredID,
		Direction: DirectionOutbound,
	})
	return nil
}

// Disconnect closes the underlying transport, moves the session to
// disconnected, and fires the disconnected registry with reason manual.
// Bumping the generation cancels any in-flight reconnect. A no-op when no
// transport is active.
func (s *Session) Disconnect(ctx context.Context) apperrors.Error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.status = StatusDisconnected
	s.currentQR = ""
	s.currentPairing = ""
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Close()
	s.logger.Info().Msg("disconnected")
	s.disconnected.Fire(ReasonManual)
	return nil
}

// GenerateNewCredentials purges the session's persisted credential material
// and restarts the linking flow from a fresh QR/pairing challenge. This is
// the only path back after a permanent logout.
func (s *Session) GenerateNewCredentials(ctx context.Context) apperrors.Error {
	if err := s.Disconnect(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.authDir); err != nil {
		return ErrHubError.MsgErr("failed to remove credential material", err)
	}

	s.mu.Lock()
	opts := s.lastOpts
	s.mu.Unlock()
	return s.Connect(ctx, opts)
}

// destroy tears down the session: socket closed, all registries cleared.
// Called by the manager on removal.
func (s *Session) destroy(ctx context.Context) {
	s.Disconnect(ctx)
	s.messages.Clear()
	s.inbound.Clear()
	s.outbound.Clear()
	s.qr.Clear()
	s.pairing.Clear()
	s.connected.Clear()
	s.disconnected.Clear()
}
