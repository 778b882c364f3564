// Package broadcaster maintains the aggregate status snapshot of all managed
// sessions and pushes it to subscribed observers. The snapshot row for each
// instance has two independently updated halves: status, handler count, and
// artifacts are recomputed on every refresh tick, while lastMessage is sticky
// and only message events overwrite it.
package broadcaster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/uuid"
	"github.com/chatwire/chatwire/internal/hub/session"
)

// LastMessage summarizes the most recent message seen on an instance.
type LastMessage struct {
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Direction session.Direction `json:"direction"`
}

// ConnectionStatus is one instance's row in the broadcast snapshot.
type ConnectionStatus struct {
	InstanceID    string         `json:"instanceId"`
	Status        session.Status `json:"status"`
	HandlersCount int            `json:"handlersCount"`
	QRCode        string         `json:"qrCode,omitempty"`
	PairingCode   string         `json:"pairingCode,omitempty"`
	LastMessage   *LastMessage   `json:"lastMessage,omitempty"`
}

// updatePayload is the wire format pushed to subscribers.
type updatePayload struct {
	Type        string             `json:"type"`
	Connections []ConnectionStatus `json:"connections"`
	Timestamp   time.Time          `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped rather than blocking the push.
const subscriberBuffer = 16

// Broadcaster periodically snapshots session state and pushes the aggregate
// to all subscribers. Message and artifact events update rows immediately,
// outside the periodic refresh.
type Broadcaster struct {
	manager  *session.Manager
	interval time.Duration

	mu          sync.Mutex
	table       map[string]*ConnectionStatus
	order       []string
	subscribers map[string]chan []byte
}

// New creates a broadcaster over the given manager.
func New(manager *session.Manager, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		manager:     manager,
		interval:    interval,
		table:       make(map[string]*ConnectionStatus),
		subscribers: make(map[string]chan []byte),
	}
}

// Run refreshes and pushes on a fixed period until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Refresh()
			b.Push()
		}
	}
}

// Refresh recomputes the tick-refreshed half of every row: status, handler
// count, and current artifacts. The sticky lastMessage field is preserved
// untouched, and rows for instances the manager no longer knows are dropped.
func (b *Broadcaster) Refresh() {
	instances := b.manager.ListInstances()

	b.mu.Lock()
	defer b.mu.Unlock()

	known := make(map[string]bool, len(instances))
	for _, inst := range instances {
		known[inst.ID] = true
		sess, err := b.manager.GetInstance(inst.ID)
		if err != nil {
			// removed between list and get; the next tick drops the row
			continue
		}
		row := b.rowLocked(inst.ID)
		row.Status = inst.Status
		row.HandlersCount = sess.MessageHandlerCount()
		row.QRCode = sess.CurrentQRCode()
		row.PairingCode = sess.CurrentPairingCode()
	}

	for id := range b.table {
		if !known[id] {
			delete(b.table, id)
			b.dropFromOrderLocked(id)
		}
	}
}

// Track registers broadcaster callbacks on a session so message and artifact
// events update the snapshot and push immediately, not only on the next tick.
func (b *Broadcaster) Track(s *session.Session) {
	id := s.InstanceID()

	b.mu.Lock()
	row := b.rowLocked(id)
	row.Status = s.Status()
	b.mu.Unlock()

	s.OnInboundMessage(func(msg session.Message) {
		b.recordMessage(id, msg)
	}, "dashboard-inbound-"+id)

	s.OnOutboundMessage(func(msg session.Message) {
		b.recordMessage(id, msg)
	}, "dashboard-outbound-"+id)

	s.OnQRCode(func(qr string) {
		b.mu.Lock()
		b.rowLocked(id).QRCode = qr
		b.mu.Unlock()
		b.Push()
	}, "dashboard-qrcode-"+id)

	s.OnPairingCode(func(code string) {
		b.mu.Lock()
		b.rowLocked(id).PairingCode = code
		b.mu.Unlock()
		b.Push()
	}, "dashboard-pairing-"+id)
}

// Forget drops an instance's row (after disconnect/removal) and pushes the
// shrunken snapshot.
func (b *Broadcaster) Forget(instanceID string) {
	b.mu.Lock()
	delete(b.table, instanceID)
	b.dropFromOrderLocked(instanceID)
	b.mu.Unlock()
	b.Push()
}

func (b *Broadcaster) recordMessage(instanceID string, msg session.Message) {
	b.mu.Lock()
	row := b.rowLocked(instanceID)
	row.LastMessage = &LastMessage{
		From:      msg.From,
		To:        msg.To,
		Message:   msg.Content,
		Timestamp: msg.Timestamp,
		Direction: msg.Direction,
	}
	b.mu.Unlock()
	b.Push()
}

// Subscribe registers a push channel. The current full snapshot is queued
// before any incremental update, so a new observer is immediately consistent.
func (b *Broadcaster) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)

	// queue the snapshot while the channel is still invisible to Push, so
	// no concurrent update can land ahead of it
	ch <- b.payload()

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a push channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, exists := b.subscribers[id]; exists {
		delete(b.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of live push channels.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Push serializes the full snapshot once and sends it to every subscriber.
// A subscriber that cannot keep up is dropped; delivery failure to one never
// blocks the others.
func (b *Broadcaster) Push() {
	payload := b.payload()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- payload:
		default:
			log.Warn().Str("subscriber_id", id).Msg("subscriber too slow, dropping")
			delete(b.subscribers, id)
			close(ch)
		}
	}
}

// Snapshot returns the current snapshot rows in instance order.
func (b *Broadcaster) Snapshot() []ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectionsLocked()
}

func (b *Broadcaster) payload() []byte {
	b.mu.Lock()
	connections := b.connectionsLocked()
	b.mu.Unlock()

	data, err := json.Marshal(updatePayload{
		Type:        "update",
		Connections: connections,
		Timestamp:   time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("unable to marshal snapshot")
		return []byte(`{"type":"update","connections":[]}`)
	}
	return data
}

func (b *Broadcaster) connectionsLocked() []ConnectionStatus {
	connections := make([]ConnectionStatus, 0, len(b.order))
	for _, id := range b.order {
		if row, exists := b.table[id]; exists {
			connections = append(connections, *row)
		}
	}
	return connections
}

// rowLocked returns the row for an instance, creating it if needed.
// Caller holds b.mu.
func (b *Broadcaster) rowLocked(instanceID string) *ConnectionStatus {
	if row, exists := b.table[instanceID]; exists {
		return row
	}
	row := &ConnectionStatus{InstanceID: instanceID, Status: session.StatusDisconnected}
	b.table[instanceID] = row
	b.order = append(b.order, instanceID)
	return row
}

func (b *Broadcaster) dropFromOrderLocked(instanceID string) {
	for i, id := range b.order {
		if id == instanceID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}
