package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"nudge/internal/agent"
	"nudge/internal/broker"
	"nudge/internal/envelope"
	"nudge/internal/notify"
)

type fakeSession struct {
	events chan broker.Event

	mu           sync.Mutex
	subscribed   []string
	published    []fakePublish
	disconnected bool
}

type fakePublish struct {
	topic    string
	payload  []byte
	retained bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan broker.Event, 16)}
}

func (s *fakeSession) Connect(context.Context) error { return nil }

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
}

func (s *fakeSession) Subscribe(filter string) error {
	s.mu.Lock()
	s.subscribed = append(s.subscribed, filter)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	s.mu.Lock()
	s.published = append(s.published, fakePublish{topic: topic, payload: payload, retained: retained})
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Events() <-chan broker.Event { return s.events }

type memorySink struct {
	mu   sync.Mutex
	seen []agent.Notification
}

func (m *memorySink) Deliver(n agent.Notification) error {
	m.mu.Lock()
	m.seen = append(m.seen, n)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type receiverHarness struct {
	identity *agent.Identity
	session  *fakeSession
	sink     *memorySink
	receiver *agent.Receiver
	done     chan error
	cancel   context.CancelFunc
}

func startReceiver(t *testing.T) *receiverHarness {
	t.Helper()
	identity, err := agent.NewIdentity("alice", "pin-1", 2048)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	h := &receiverHarness{
		identity: identity,
		session:  newFakeSession(),
		sink:     &memorySink{},
		done:     make(chan error, 1),
	}
	h.receiver, err = agent.NewReceiver(identity, h.session, h.sink, nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.receiver.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("receiver did not stop")
		}
	})
	return h
}

func (h *receiverHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}
	h.done <- nil
}

// encryptEnvelope builds a wire envelope encrypted for the harness identity.
func (h *receiverHarness) encryptEnvelope(t *testing.T, itemID, title, subtitle string) []byte {
	t.Helper()
	pubPEM, err := h.identity.NotificationPublicKey()
	if err != nil {
		t.Fatalf("NotificationPublicKey: %v", err)
	}
	enc := func(plain string) string {
		out, err := envelope.EncryptField(pubPEM, plain)
		if err != nil {
			t.Fatalf("EncryptField: %v", err)
		}
		return out
	}
	payload, err := notify.Envelope{ItemID: enc(itemID), Title: enc(title), Subtitle: enc(subtitle)}.Marshal()
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReceiverAnnouncesOnConnect(t *testing.T) {
	h := startReceiver(t)

	h.session.events <- broker.Event{Kind: broker.EventConnected}
	waitFor(t, "connected state", func() bool { return h.receiver.State() == agent.StateConnected })

	h.session.mu.Lock()
	subs := append([]string(nil), h.session.subscribed...)
	pubs := append([]fakePublish(nil), h.session.published...)
	h.session.mu.Unlock()

	if len(subs) != 1 || subs[0] != broker.NotificationTopic(h.identity.UUID) {
		t.Fatalf("subscriptions = %v", subs)
	}
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want 1 status announce", len(pubs))
	}
	if pubs[0].topic != broker.StatusTopic(h.identity.UUID) || !pubs[0].retained {
		t.Fatalf("announce = %+v, want retained status publish", pubs[0])
	}
	statusPub, err := h.identity.StatusPublicKey()
	if err != nil {
		t.Fatalf("StatusPublicKey: %v", err)
	}
	online, ok := notify.VerifyStatus(statusPub, pubs[0].payload)
	if !ok || !online {
		t.Fatalf("announce payload online=%v ok=%v, want signed online", online, ok)
	}
}

func TestReceiverDeliversDecryptedNotification(t *testing.T) {
	h := startReceiver(t)

	h.session.events <- broker.Event{
		Kind:    broker.EventMessage,
		Topic:   broker.NotificationTopic(h.identity.UUID),
		Payload: h.encryptEnvelope(t, "id-1", "hello", "world"),
	}
	waitFor(t, "sink delivery", func() bool { return h.sink.count() == 1 })

	h.sink.mu.Lock()
	got := h.sink.seen[0]
	h.sink.mu.Unlock()
	if got.ItemID != "id-1" || got.Title != "hello" || got.Subtitle != "world" {
		t.Fatalf("delivered = %+v", got)
	}
}

func TestReceiverDropsPartiallyCorruptNotification(t *testing.T) {
	h := startReceiver(t)

	pubPEM, err := h.identity.NotificationPublicKey()
	if err != nil {
		t.Fatalf("NotificationPublicKey: %v", err)
	}
	encrypt := func(plain string) string {
		out, err := envelope.EncryptField(pubPEM, plain)
		if err != nil {
			t.Fatalf("EncryptField: %v", err)
		}
		return out
	}
	payload, err := notify.Envelope{
		ItemID:   encrypt("id-1"),
		Title:    encrypt("hello"),
		Subtitle: "bm90LXJlYWwtY2lwaGVydGV4dA==",
	}.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	h.session.events <- broker.Event{
		Kind:    broker.EventMessage,
		Topic:   broker.NotificationTopic(h.identity.UUID),
		Payload: payload,
	}
	// Follow with a valid notification; its arrival proves the corrupt one
	// was fully processed and dropped.
	h.session.events <- broker.Event{
		Kind:    broker.EventMessage,
		Topic:   broker.NotificationTopic(h.identity.UUID),
		Payload: h.encryptEnvelope(t, "id-2", "ok", "fine"),
	}
	waitFor(t, "valid delivery", func() bool { return h.sink.count() == 1 })

	h.sink.mu.Lock()
	got := h.sink.seen[0]
	h.sink.mu.Unlock()
	if got.ItemID != "id-2" {
		t.Fatalf("delivered = %+v, corrupt notification must not reach the sink", got)
	}
}

func TestReceiverPublishesOfflineOnShutdown(t *testing.T) {
	h := startReceiver(t)
	h.session.events <- broker.Event{Kind: broker.EventConnected}
	waitFor(t, "connected state", func() bool { return h.receiver.State() == agent.StateConnected })

	h.stop(t)
	if h.receiver.State() != agent.StateDisconnected {
		t.Fatalf("state after stop = %q", h.receiver.State())
	}

	h.session.mu.Lock()
	pubs := append([]fakePublish(nil), h.session.published...)
	disconnected := h.session.disconnected
	h.session.mu.Unlock()
	if !disconnected {
		t.Fatal("session not disconnected on shutdown")
	}
	last := pubs[len(pubs)-1]
	if last.topic != broker.StatusTopic(h.identity.UUID) || !last.retained {
		t.Fatalf("final publish = %+v, want retained offline status", last)
	}
	statusPub, err := h.identity.StatusPublicKey()
	if err != nil {
		t.Fatalf("StatusPublicKey: %v", err)
	}
	online, ok := notify.VerifyStatus(statusPub, last.payload)
	if !ok || online {
		t.Fatalf("final status online=%v ok=%v, want signed offline", online, ok)
	}
}
