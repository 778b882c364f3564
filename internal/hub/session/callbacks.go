package session

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Registry surface for the session's event categories. Each category follows
// the same shape: On returns a subscriber id (caller-supplied or generated),
// Off removes by id and reports whether it existed, Clear removes all.

// OnMessage registers a generic message handler; it receives every inbound
// message after the inbound-specific callbacks.
func (s *Session) OnMessage(cb func(Message), id ...string) string {
	return s.messages.On(cb, id...)
}

// OffMessage removes a generic message handler by id.
func (s *Session) OffMessage(id string) bool {
	return s.messages.Off(id)
}

// ClearMessageHandlers removes all generic message handlers.
func (s *Session) ClearMessageHandlers() {
	s.messages.Clear()
}

// MessageHandlerCount returns the number of generic message handlers.
func (s *Session) MessageHandlerCount() int {
	return s.messages.Count()
}

// MessageHandlerIDs returns generic message handler ids in registration order.
func (s *Session) MessageHandlerIDs() []string {
	return s.messages.IDs()
}

// OnInboundMessage registers a callback for inbound messages.
func (s *Session) OnInboundMessage(cb func(Message), id ...string) string {
	return s.inbound.On(cb, id...)
}

// OffInboundMessage removes an inbound-message callback by id.
func (s *Session) OffInboundMessage(id string) bool {
	return s.inbound.Off(id)
}

// ClearInboundMessageCallbacks removes all inbound-message callbacks.
func (s *Session) ClearInboundMessageCallbacks() {
	s.inbound.Clear()
}

// InboundMessageCallbackCount returns the number of inbound-message callbacks.
func (s *Session) InboundMessageCallbackCount() int {
	return s.inbound.Count()
}

// InboundMessageCallbackIDs returns inbound-message callback ids in
// registration order.
func (s *Session) InboundMessageCallbackIDs() []string {
	return s.inbound.IDs()
}

// OnOutboundMessage registers a callback for sent messages.
func (s *Session) OnOutboundMessage(cb func(Message), id ...string) string {
	return s.outbound.On(cb, id...)
}

// OffOutboundMessage removes an outbound-message callback by id.
func (s *Session) OffOutboundMessage(id string) bool {
	return s.outbound.Off(id)
}

// ClearOutboundMessageCallbacks removes all outbound-message callbacks.
func (s *Session) ClearOutboundMessageCallbacks() {
	s.outbound.Clear()
}

// OutboundMessageCallbackCount returns the number of outbound-message
// callbacks.
func (s *Session) OutboundMessageCallbackCount() int {
	return s.outbound.Count()
}

// OutboundMessageCallbackIDs returns outbound-message callback ids in
// registration order.
func (s *Session) OutboundMessageCallbackIDs() []string {
	return s.outbound.IDs()
}

// OnQRCode registers a callback for QR challenges. If a QR artifact is
// already current, the new callback is invoked with it immediately, exactly
// once, so late subscribers never miss the active challenge.
func (s *Session) OnQRCode(cb func(string), id ...string) string {
	subscriberID := s.qr.On(cb, id...)

	s.mu.Lock()
	current := s.currentQR
	s.mu.Unlock()
	if current != "" {
		s.catchUp(subscriberID, cb, current)
	}
	return subscriberID
}

// OffQRCode removes a QR callback by id.
func (s *Session) OffQRCode(id string) bool {
	return s.qr.Off(id)
}

// ClearQRCodeCallbacks removes all QR callbacks.
func (s *Session) ClearQRCodeCallbacks() {
	s.qr.Clear()
}

// QRCodeCallbackCount returns the number of QR callbacks.
func (s *Session) QRCodeCallbackCount() int {
	return s.qr.Count()
}

// QRCodeCallbackIDs returns QR callback ids in registration order.
func (s *Session) QRCodeCallbackIDs() []string {
	return s.qr.IDs()
}

// OnPairingCode registers a callback for pairing codes, with the same
// late-subscriber catch-up as OnQRCode.
func (s *Session) OnPairingCode(cb func(string), id ...string) string {
	subscriberID := s.pairing.On(cb, id...)

	s.mu.Lock()
	current := s.currentPairing
	s.mu.Unlock()
	if current != "" {
		s.catchUp(subscriberID, cb, current)
	}
	return subscriberID
}

// OffPairingCode removes a pairing-code callback by id.
func (s *Session) OffPairingCode(id string) bool {
	return s.pairing.Off(id)
}

// ClearPairingCodeCallbacks removes all pairing-code callbacks.
func (s *Session) ClearPairingCodeCallbacks() {
	s.pairing.Clear()
}

// PairingCodeCallbackCount returns the number of pairing-code callbacks.
func (s *Session) PairingCodeCallbackCount() int {
	return s.pairing.Count()
}

// PairingCodeCallbackIDs returns pairing-code callback ids in registration
// order.
func (s *Session) PairingCodeCallbackIDs() []string {
	return s.pairing.IDs()
}

// OnConnected registers a callback fired when the connection opens.
func (s *Session) OnConnected(cb func(), id ...string) string {
	return s.connected.On(func(struct{}) { cb() }, id...)
}

// OffConnected removes a connected callback by id.
func (s *Session) OffConnected(id string) bool {
	return s.connected.Off(id)
}

// ClearConnectedCallbacks removes all connected callbacks.
func (s *Session) ClearConnectedCallbacks() {
	s.connected.Clear()
}

// ConnectedCallbackCount returns the number of connected callbacks.
func (s *Session) ConnectedCallbackCount() int {
	return s.connected.Count()
}

// ConnectedCallbackIDs returns connected callback ids in registration order.
func (s *Session) ConnectedCallbackIDs() []string {
	return s.connected.IDs()
}

// OnDisconnected registers a callback fired when the connection goes down;
// the reason distinguishes manual disconnects, transient losses, and logouts.
func (s *Session) OnDisconnected(cb func(DisconnectReason), id ...string) string {
	return s.disconnected.On(cb, id...)
}

// OffDisconnected removes a disconnected callback by id.
func (s *Session) OffDisconnected(id string) bool {
	return s.disconnected.Off(id)
}

// ClearDisconnectedCallbacks removes all disconnected callbacks.
func (s *Session) ClearDisconnectedCallbacks() {
	s.disconnected.Clear()
}

// DisconnectedCallbackCount returns the number of disconnected callbacks.
func (s *Session) DisconnectedCallbackCount() int {
	return s.disconnected.Count()
}

// DisconnectedCallbackIDs returns disconnected callback ids in registration
// order.
func (s *Session) DisconnectedCallbackIDs() []string {
	return s.disconnected.IDs()
}

// catchUp invokes a newly registered callback with the current artifact,
// with the same isolation a registry fan-out provides.
func (s *Session) catchUp(id string, cb func(string), artifact string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("instance_id", s.instanceID).
				Str("handler_id", id).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("catch-up callback failed")
		}
	}()
	cb(artifact)
}
