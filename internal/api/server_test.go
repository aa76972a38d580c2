package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nudge/internal/api"
	"nudge/internal/delivery"
	"nudge/internal/registry"
)

type stubSender struct {
	result  delivery.Result
	lastReq delivery.Request
	calls   int
}

func (s *stubSender) Send(_ context.Context, req delivery.Request) delivery.Result {
	s.calls++
	s.lastReq = req
	return s.result
}

type stubPresence struct {
	connected bool
	online    int
}

func (p *stubPresence) IsConnected() bool { return p.connected }
func (p *stubPresence) OnlineCount() int  { return p.online }

type stubRegistry struct {
	devices   map[string]registry.Device
	snapshots []*registry.Snapshot
	err       error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{devices: make(map[string]registry.Device)}
}

func (r *stubRegistry) Register(_ context.Context, device registry.Device) error {
	if r.err != nil {
		return r.err
	}
	for _, d := range r.devices {
		if d.UUID == device.UUID || d.Address == device.Address {
			return registry.ErrConflict
		}
	}
	r.devices[device.UUID] = device
	return nil
}

func (r *stubRegistry) ListDevices(context.Context) ([]*registry.Device, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*registry.Device, 0, len(r.devices))
	for uuid := range r.devices {
		d := r.devices[uuid]
		out = append(out, &d)
	}
	return out, nil
}

func (r *stubRegistry) RecentSnapshots(context.Context, int) ([]*registry.Snapshot, error) {
	return r.snapshots, r.err
}

type apiHarness struct {
	sender   *stubSender
	presence *stubPresence
	registry *stubRegistry
	server   *api.Server
}

func newAPIHarness(token string) *apiHarness {
	h := &apiHarness{
		sender:   &stubSender{},
		presence: &stubPresence{},
		registry: newStubRegistry(),
	}
	h.server = api.NewServer(api.Options{
		Sender:   h.sender,
		Presence: h.presence,
		Registry: h.registry,
		ValidateKey: func(pem string) error {
			if strings.HasPrefix(pem, "BAD") {
				return errors.New("not a key")
			}
			return nil
		},
		Token:        token,
		Started:      time.Now().Add(-90 * time.Second),
		HistoryLimit: 10,
	})
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func registerBody(uuid, address string) map[string]string {
	return map[string]string{
		"uuid":                    uuid,
		"address":                 address,
		"notification_public_key": "PEM-NOTIF",
		"status_public_key":       "PEM-STATUS",
	}
}

func TestRegisterCreatesDevice(t *testing.T) {
	h := newAPIHarness("")

	rec := h.do(t, http.MethodPost, "/register", registerBody("dev-1", "alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	if _, ok := h.registry.devices["dev-1"]; !ok {
		t.Fatal("device not stored")
	}
}

func TestRegisterConflict(t *testing.T) {
	h := newAPIHarness("")
	h.do(t, http.MethodPost, "/register", registerBody("dev-1", "alice"))

	rec := h.do(t, http.MethodPost, "/register", registerBody("dev-1", "alice-2"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate uuid code = %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/register", registerBody("dev-2", "alice"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate address code = %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newAPIHarness("")

	rec := h.do(t, http.MethodPost, "/register", map[string]string{"uuid": "dev-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields code = %d", rec.Code)
	}

	body := registerBody("dev-1", "alice")
	body["notification_public_key"] = "BAD-KEY"
	rec = h.do(t, http.MethodPost, "/register", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed key code = %d", rec.Code)
	}
	if len(h.registry.devices) != 0 {
		t.Fatal("invalid registration must not be stored")
	}
}

func TestNotifyPassesResultThrough(t *testing.T) {
	h := newAPIHarness("")
	h.sender.result = delivery.Result{Method: delivery.MethodBroker, Status: delivery.StatusSuccess, Code: 202}

	rec := h.do(t, http.MethodPost, "/notify", map[string]any{
		"recipient":        "alice",
		"title":            "hi",
		"body":             "there",
		"queue_if_offline": true,
	})
	if rec.Code != 202 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var res delivery.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Method != delivery.MethodBroker || res.Status != delivery.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if !h.sender.lastReq.QueueIfOffline {
		t.Fatal("queue_if_offline not forwarded")
	}
}

func TestNotifyRejectsOversizeFields(t *testing.T) {
	h := newAPIHarness("")
	long := strings.Repeat("x", 246)

	rec := h.do(t, http.MethodPost, "/notify", map[string]any{
		"recipient": "alice", "title": long, "body": "b",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversize title code = %d", rec.Code)
	}
	if h.sender.calls != 0 {
		t.Fatal("oversize request must not reach the orchestrator")
	}

	// Pre-encrypted fields are base64 ciphertext and legitimately exceed
	// the plaintext bound.
	h.sender.result = delivery.Result{Method: delivery.MethodBroker, Status: delivery.StatusSuccess, Code: 200}
	rec = h.do(t, http.MethodPost, "/notify", map[string]any{
		"recipient": "alice", "title": long, "body": long, "pre_encrypted": true,
	})
	if rec.Code != 200 {
		t.Fatalf("pre-encrypted code = %d", rec.Code)
	}
}

func TestNotifyRequiresFields(t *testing.T) {
	h := newAPIHarness("")

	rec := h.do(t, http.MethodPost, "/notify", map[string]any{"recipient": "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestStatusReportsUptimeAndPresence(t *testing.T) {
	h := newAPIHarness("")
	h.presence.connected = true
	h.presence.online = 3

	rec := h.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var status struct {
		BrokerConnected bool  `json:"broker_connected"`
		OnlineDevices   int   `json:"online_devices"`
		UptimeSeconds   int64 `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.BrokerConnected || status.OnlineDevices != 3 {
		t.Fatalf("status = %+v", status)
	}
	if status.UptimeSeconds < 89 {
		t.Fatalf("uptime = %d, want at least 89", status.UptimeSeconds)
	}
}

func TestHistoryReturnsSnapshots(t *testing.T) {
	h := newAPIHarness("")
	h.registry.snapshots = []*registry.Snapshot{
		{BrokerConnected: true, OnlineDevices: 2, UptimeSeconds: 60, CheckedAt: time.Now().UTC()},
	}

	rec := h.do(t, http.MethodGet, "/status/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var snaps []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
}

func TestDevicesList(t *testing.T) {
	h := newAPIHarness("")
	h.do(t, http.MethodPost, "/register", registerBody("dev-1", "alice"))

	rec := h.do(t, http.MethodGet, "/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var devices []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 || devices[0]["address"] != "alice" {
		t.Fatalf("devices = %v", devices)
	}
	if _, leaked := devices[0]["notification_public_key"]; leaked {
		t.Fatal("key material must not appear in device listings")
	}
}

func TestBearerTokenAuth(t *testing.T) {
	h := newAPIHarness("sekrit")

	rec := h.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token code = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	out := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("valid token code = %d", out.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	out = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token code = %d", out.Code)
	}
}

func TestMonitorRecordsImmediately(t *testing.T) {
	store := &snapStore{recorded: make(chan registry.Snapshot, 1)}
	pres := &stubPresence{connected: true, online: 2}
	mon := api.NewMonitor(store, pres, time.Now().Add(-time.Minute), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	select {
	case snap := <-store.recorded:
		if !snap.BrokerConnected || snap.OnlineDevices != 2 {
			t.Fatalf("snapshot = %+v", snap)
		}
		if snap.UptimeSeconds < 59 {
			t.Fatalf("uptime = %d", snap.UptimeSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot recorded")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

type snapStore struct {
	recorded chan registry.Snapshot
}

func (s *snapStore) RecordSnapshot(_ context.Context, snap registry.Snapshot) error {
	select {
	case s.recorded <- snap:
	default:
	}
	return nil
}
