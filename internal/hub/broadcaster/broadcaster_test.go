package broadcaster

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/hub/config"
	"github.com/chatwire/chatwire/internal/hub/session"
	"github.com/chatwire/chatwire/internal/hub/transport"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestSetup(t *testing.T) (*session.Manager, *transport.Loopback, *Broadcaster) {
	t.Helper()
	cfg := config.Default()
	cfg.AuthBaseDir = filepath.Join(t.TempDir(), "auth")
	cfg.ReconnectTimeoutMS = 10
	cfg.ReconnectMaxAttempts = 2
	dialer := transport.NewLoopback()
	manager := session.NewManager(cfg, dialer)
	return manager, dialer, New(manager, 10*time.Millisecond)
}

func createTracked(t *testing.T, m *session.Manager, b *Broadcaster, id string) *session.Session {
	t.Helper()
	s, err := m.CreateInstance(id)
	require.Nil(t, err)
	b.Track(s)
	return s
}

func decodeUpdate(t *testing.T, payload []byte) updatePayload {
	t.Helper()
	var update updatePayload
	require.NoError(t, json.Unmarshal(payload, &update))
	return update
}

func TestSnapshotTracksStatus(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s := createTracked(t, manager, b, "acct-1")

	snapshot := b.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "acct-1", snapshot[0].InstanceID)
	assert.Equal(t, session.StatusDisconnected, snapshot[0].Status)

	require.Nil(t, s.Connect(context.Background(), session.ConnectOptions{}))
	dialer.LastConn().EmitOpen()
	require.Eventually(t, func() bool {
		return s.Status() == session.StatusConnected
	}, waitFor, tick)

	b.Refresh()
	snapshot = b.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, session.StatusConnected, snapshot[0].Status)
}

func TestRefreshPicksUpHandlerCountAndArtifacts(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s := createTracked(t, manager, b, "acct-1")

	s.OnMessage(func(session.Message) {})
	s.OnMessage(func(session.Message) {})

	require.Nil(t, s.Connect(context.Background(), session.ConnectOptions{}))
	dialer.LastConn().EmitQR("QR123")
	require.Eventually(t, func() bool {
		return s.CurrentQRCode() == "QR123"
	}, waitFor, tick)

	b.Refresh()
	snapshot := b.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].HandlersCount)
	assert.Equal(t, "QR123", snapshot[0].QRCode)
}

func TestLastMessageSticky(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s := createTracked(t, manager, b, "acct-1")

	require.Nil(t, s.Connect(context.Background(), session.ConnectOptions{}))
	conn := dialer.LastConn()
	conn.EmitOpen()
	require.Eventually(t, func() bool {
		return s.Status() == session.StatusConnected
	}, waitFor, tick)

	conn.EmitInbound(transport.RawMessage{
		Sender:  "5511999999999@s.whatsapp.net",
		ID:      "wamid.1",
		Content: []byte(`{"conversation":"hello"}`),
	})
	require.Eventually(t, func() bool {
		snapshot := b.Snapshot()
		return len(snapshot) == 1 && snapshot[0].LastMessage != nil
	}, waitFor, tick)

	// refresh ticks never clear the last message
	b.Refresh()
	b.Refresh()
	snapshot := b.Snapshot()
	require.NotNil(t, snapshot[0].LastMessage)
	assert.Equal(t, "hello", snapshot[0].LastMessage.Message)
	assert.Equal(t, session.DirectionInbound, snapshot[0].LastMessage.Direction)
}

func TestLastMessageScopedToReceivingInstance(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s1 := createTracked(t, manager, b, "acct-1")
	createTracked(t, manager, b, "acct-2")

	require.Nil(t, s1.Connect(context.Background(), session.ConnectOptions{}))
	conn := dialer.LastConn()
	conn.EmitOpen()
	require.Eventually(t, func() bool {
		return s1.Status() == session.StatusConnected
	}, waitFor, tick)

	conn.EmitInbound(transport.RawMessage{
		Sender:  "5511999999999@s.whatsapp.net",
		ID:      "wamid.1",
		Content: []byte(`{"conversation":"hello"}`),
	})
	require.Eventually(t, func() bool {
		snapshot := b.Snapshot()
		return len(snapshot) == 2 && snapshot[0].LastMessage != nil
	}, waitFor, tick)

	// refresh ticks neither clear the receiver's message nor leak it to the
	// sibling row
	b.Refresh()
	b.Refresh()
	snapshot := b.Snapshot()
	require.Len(t, snapshot, 2)
	require.NotNil(t, snapshot[0].LastMessage)
	assert.Equal(t, "acct-1", snapshot[0].InstanceID)
	assert.Equal(t, "hello", snapshot[0].LastMessage.Message)
	assert.Equal(t, "acct-2", snapshot[1].InstanceID)
	assert.Nil(t, snapshot[1].LastMessage)
}

func TestOutboundUpdatesLastMessage(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s := createTracked(t, manager, b, "acct-1")

	require.Nil(t, s.Connect(context.Background(), session.ConnectOptions{}))
	dialer.LastConn().EmitOpen()
	require.Eventually(t, func() bool {
		return s.Status() == session.StatusConnected
	}, waitFor, tick)

	require.Nil(t, s.SendMessage(context.Background(), "5511999999999", "oi"))

	snapshot := b.Snapshot()
	require.Len(t, snapshot, 1)
	require.NotNil(t, snapshot[0].LastMessage)
	assert.Equal(t, "oi", snapshot[0].LastMessage.Message)
	assert.Equal(t, session.DirectionOutbound, snapshot[0].LastMessage.Direction)
	assert.Equal(t, "5511999999999@s.whatsapp.net", snapshot[0].LastMessage.To)
}

func TestSubscribeReceivesInitialSnapshot(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")
	createTracked(t, manager, b, "acct-2")

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	select {
	case payload := <-ch:
		update := decodeUpdate(t, payload)
		assert.Equal(t, "update", update.Type)
		require.Len(t, update.Connections, 2)
		assert.Equal(t, "acct-1", update.Connections[0].InstanceID)
		assert.Equal(t, "acct-2", update.Connections[1].InstanceID)
		assert.False(t, update.Timestamp.IsZero())
	case <-time.After(waitFor):
		t.Fatal("no initial snapshot received")
	}
}

func TestSubscribeSnapshotPrecedesUpdates(t *testing.T) {
	manager, dialer, b := newTestSetup(t)
	s := createTracked(t, manager, b, "acct-1")

	require.Nil(t, s.Connect(context.Background(), session.ConnectOptions{}))
	conn := dialer.LastConn()
	conn.EmitOpen()
	require.Eventually(t, func() bool {
		return s.Status() == session.StatusConnected
	}, waitFor, tick)
	b.Refresh()

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// a message lands right after subscribing
	conn.EmitInbound(transport.RawMessage{
		Sender:  "5511999999999@s.whatsapp.net",
		Content: []byte(`{"conversation":"hello"}`),
	})
	require.Eventually(t, func() bool {
		snapshot := b.Snapshot()
		return len(snapshot) == 1 && snapshot[0].LastMessage != nil
	}, waitFor, tick)

	// the subscribe-time snapshot is delivered first, the update after it
	first := decodeUpdate(t, <-ch)
	require.Len(t, first.Connections, 1)
	assert.Nil(t, first.Connections[0].LastMessage)

	second := decodeUpdate(t, <-ch)
	require.Len(t, second.Connections, 1)
	require.NotNil(t, second.Connections[0].LastMessage)
	assert.Equal(t, "hello", second.Connections[0].LastMessage.Message)
}

func TestPushReachesAllSubscribers(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")

	id1, ch1 := b.Subscribe()
	defer b.Unsubscribe(id1)
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id2)
	<-ch1
	<-ch2

	b.Push()
	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case payload := <-ch:
			update := decodeUpdate(t, payload)
			assert.Len(t, update.Connections, 1)
		case <-time.After(waitFor):
			t.Fatal("push not delivered")
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")

	_, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	// fill the buffer without draining; the next push evicts
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Push()
	}
	require.Equal(t, 0, b.SubscriberCount())

	// the channel is closed so a reader unblocks
	drained := 0
	for range ch {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestForgetRemovesRow(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")
	createTracked(t, manager, b, "acct-2")

	require.Nil(t, manager.DisconnectInstance(context.Background(), "acct-1"))
	b.Forget("acct-1")

	snapshot := b.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "acct-2", snapshot[0].InstanceID)
}

func TestRefreshDropsUnknownInstances(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")

	require.Nil(t, manager.DisconnectInstance(context.Background(), "acct-1"))
	b.Refresh()
	assert.Empty(t, b.Snapshot())
}

func TestRunPushesPeriodically(t *testing.T) {
	manager, _, b := newTestSetup(t)
	createTracked(t, manager, b, "acct-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)
	<-ch // initial snapshot

	select {
	case payload := <-ch:
		update := decodeUpdate(t, payload)
		assert.Equal(t, "update", update.Type)
	case <-time.After(waitFor):
		t.Fatal("no periodic push received")
	}
}
