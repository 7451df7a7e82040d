package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-kg/internal/audit"
	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-kg/internal/kg"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
	_ "github.com/nerrad567/gray-logic-kg/migrations"
)

// noResolver knows no device classes.
type noResolver struct{}

func (noResolver) Resolve(class string) (*sdf.Schema, []sdf.Row, error) {
	return nil, nil, sdf.ErrUnknownClass
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv          *Server
	engine       *kg.Engine
	integrations *audit.SQLiteRepository
	transitions  *device.SQLiteTransitionRepository
	health       map[string]HealthChecker
}

// testServer creates a Server over a real engine, an in-memory graph and
// a temp-file SQLite database.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	engine, err := kg.NewEngine(kg.Config{}, kg.Deps{
		Store:    graph.NewMemoryStore(),
		Resolver: noResolver{},
		Registry: device.NewRegistry(),
		Metrics:  kg.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	env := &testEnv{
		engine:       engine,
		integrations: audit.NewSQLiteRepository(db.DB),
		transitions:  device.NewSQLiteTransitionRepository(db.DB),
		health:       map[string]HealthChecker{"database": db},
	}

	env.srv, err = New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:           config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:       log,
		Engine:       engine,
		Integrations: env.integrations,
		Transitions:  env.transitions,
		Gatherer:     reg,
		Health:       env.health,
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.srv.hub = NewHub(env.srv.wsCfg, log)
	go env.srv.hub.Run(hubCtx)

	return env
}

// addDevice registers a buffering device with one numeric attribute and
// n samples one second apart.
func addDevice(t *testing.T, r *device.Registry, id, class string, n int) {
	t.Helper()
	if err := r.Create(id, class, device.StateSchemaPending); err != nil {
		t.Fatal(err)
	}
	if err := r.SetState(id, device.StateBuffering); err != nil {
		t.Fatal(err)
	}
	if err := r.AddModule(id, "sensor", map[string]graph.ValueType{"temperature": graph.Number}); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range n {
		values := map[string]map[string]graph.Value{"sensor": {"temperature": graph.NumberValue(20 + float64(i))}}
		if _, err := r.Record(id, base.Add(time.Duration(i)*time.Second), values, time.Hour); err != nil {
			t.Fatal(err)
		}
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)
	w := get(t, env.srv.buildRouter(), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("status = %q version = %q", resp.Status, resp.Version)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("components = %v", resp.Components)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t)
	env.health["graph"] = checkerFunc(func(context.Context) error { return errors.New("neo4j unreachable") })

	w := get(t, env.srv.buildRouter(), "/api/v1/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, w, &resp)
	if resp.Status != "degraded" || resp.Components["graph"] != "neo4j unreachable" {
		t.Errorf("resp = %+v", resp)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := testServer(t)
	router := env.srv.buildRouter()

	w := get(t, router, "/api/v1/health")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a uuid", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	if w := get(t, env.srv.buildRouter(), "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := testServer(t)
	router := env.srv.buildRouter()
	registry := env.engine.Registry()

	addDevice(t, registry, "U2", "Thermostat", 3)
	addDevice(t, registry, "U1", "AirQuality", 2)
	if err := registry.Load("W1", "AirQuality"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"U1", "U2", "W1"}},
		{"by state", "?state=integrated", []string{"W1"}},
		{"by class", "?class=AirQuality", []string{"U1", "W1"}},
		{"by state and class", "?state=buffering&class=Thermostat", []string{"U2"}},
		{"no match", "?class=Nope", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/api/v1/devices"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			var resp struct {
				Devices []DeviceSummary `json:"devices"`
				Count   int             `json:"count"`
			}
			decode(t, w, &resp)

			if resp.Count != len(tt.want) || len(resp.Devices) != len(tt.want) {
				t.Fatalf("count = %d, devices = %d, want %d", resp.Count, len(resp.Devices), len(tt.want))
			}
			for i, id := range tt.want {
				if resp.Devices[i].ID != id {
					t.Errorf("devices[%d] = %s, want %s", i, resp.Devices[i].ID, id)
				}
			}
		})
	}
}

func TestListDevices_Summary(t *testing.T) {
	env := testServer(t)
	addDevice(t, env.engine.Registry(), "U1", "AirQuality", 3)

	var resp struct {
		Devices []DeviceSummary `json:"devices"`
	}
	decode(t, get(t, env.srv.buildRouter(), "/api/v1/devices"), &resp)

	s := resp.Devices[0]
	if s.Samples != 3 || s.PeriodMS != 1000 || s.State != device.StateBuffering {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Modules) != 1 || s.Modules[0] != "sensor" {
		t.Errorf("modules = %v", s.Modules)
	}
	if s.LastSeen == nil || !s.LastSeen.Equal(time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)) {
		t.Errorf("last_seen = %v", s.LastSeen)
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)
	addDevice(t, env.engine.Registry(), "U1", "AirQuality", 2)

	w := get(t, env.srv.buildRouter(), "/api/v1/devices/U1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID      string `json:"id"`
		Modules map[string]struct {
			Attributes map[string]struct {
				Type   string `json:"type"`
				Values []any  `json:"values"`
			} `json:"attributes"`
		} `json:"modules"`
		Timestamps []time.Time `json:"timestamps"`
	}
	decode(t, w, &resp)

	values := resp.Modules["sensor"].Attributes["temperature"].Values
	if resp.ID != "U1" || len(resp.Timestamps) != 2 || len(values) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if values[1] != 21.0 {
		t.Errorf("values = %v, want [20 21]", values)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := testServer(t)
	w := get(t, env.srv.buildRouter(), "/api/v1/devices/missing")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestListTransitions(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	steps := []struct {
		from, to device.State
		reason   string
	}{
		{device.StateUnseen, device.StateSchemaPending, "first message"},
		{device.StateSchemaPending, device.StateBuffering, "schema synchronised"},
		{device.StateBuffering, device.StateIntegrated, "matched W1"},
	}
	for _, s := range steps {
		if err := env.transitions.RecordTransition(ctx, "U1", s.from, s.to, s.reason); err != nil {
			t.Fatal(err)
		}
	}

	router := env.srv.buildRouter()
	var resp struct {
		DeviceID    string              `json:"device_id"`
		Transitions []device.Transition `json:"transitions"`
		Count       int                 `json:"count"`
	}
	decode(t, get(t, router, "/api/v1/devices/U1/transitions?limit=2"), &resp)

	if resp.DeviceID != "U1" || resp.Count != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Transitions[0].To != device.StateIntegrated {
		t.Errorf("newest transition = %+v, want to=integrated", resp.Transitions[0])
	}

	if w := get(t, router, "/api/v1/devices/U1/transitions?limit=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	decode(t, get(t, router, "/api/v1/devices/never-seen/transitions"), &resp)
	if resp.Count != 0 || resp.Transitions == nil {
		t.Errorf("unknown device = %+v, want empty list", resp)
	}
}

func TestOptionalFeaturesUnavailable(t *testing.T) {
	env := testServer(t)
	env.srv.integrations = nil
	env.srv.transitions = nil
	router := env.srv.buildRouter()

	for _, target := range []string{"/api/v1/integrations", "/api/v1/devices/U1/transitions"} {
		if w := get(t, router, target); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want %d", target, w.Code, http.StatusServiceUnavailable)
		}
	}
}

// ─── Integration Log Tests ─────────────────────────────────────────

func TestListIntegrations(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	dist := 0.5
	records := []*audit.Record{
		{DeviceID: "U1", Class: "AirQuality", Outcome: audit.OutcomeMatched, WinnerID: "W1", Distance: &dist},
		{DeviceID: "U2", Class: "Thermostat", Outcome: audit.OutcomeUnmatched},
		{DeviceID: "U3", Class: "Thermostat", Outcome: audit.OutcomeDeferred},
	}
	for _, rec := range records {
		if err := env.integrations.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	router := env.srv.buildRouter()
	tests := []struct {
		query string
		total int
		count int
	}{
		{"", 3, 3},
		{"?outcome=matched", 1, 1},
		{"?device_id=U2", 1, 1},
		{"?limit=2", 3, 2},
		{"?limit=2&offset=2", 3, 1},
	}

	for _, tt := range tests {
		t.Run("query"+tt.query, func(t *testing.T) {
			w := get(t, router, "/api/v1/integrations"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			var result audit.ListResult
			decode(t, w, &result)
			if result.Total != tt.total || len(result.Records) != tt.count {
				t.Errorf("total = %d, records = %d, want %d/%d", result.Total, len(result.Records), tt.total, tt.count)
			}
		})
	}
}

// ─── Stats and Classes Tests ───────────────────────────────────────

func TestStats(t *testing.T) {
	env := testServer(t)
	addDevice(t, env.engine.Registry(), "U1", "AirQuality", 4)

	w := get(t, env.srv.buildRouter(), "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp StatsResponse
	decode(t, w, &resp)
	if resp.Devices.TotalDevices != 1 || resp.Devices.TotalSamples != 4 {
		t.Errorf("devices = %+v", resp.Devices)
	}
	if resp.CurrentState != "idle" {
		t.Errorf("current_state = %q, want idle", resp.CurrentState)
	}
	for _, name := range []string{"idle", "processing", "querying"} {
		if _, ok := resp.StateSeconds[name]; !ok {
			t.Errorf("state_seconds missing %q: %v", name, resp.StateSeconds)
		}
	}
	if resp.Version != "test" || resp.Runtime.Goroutines == 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListClasses(t *testing.T) {
	env := testServer(t)
	env.engine.Corpus().Add(
		&sdf.Schema{Class: "AirQuality", Modules: map[string]sdf.Module{}},
		[]sdf.Row{{Class: "AirQuality", Module: "sensor", Attribute: "temperature", ValueType: sdf.TypeNumber}},
	)

	var resp struct {
		Classes []string `json:"classes"`
		Count   int      `json:"count"`
		Rows    int      `json:"rows"`
	}
	decode(t, get(t, env.srv.buildRouter(), "/api/v1/classes"), &resp)

	if resp.Count != 1 || resp.Classes[0] != "AirQuality" || resp.Rows != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	w := get(t, env.srv.buildRouter(), "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "kgagent_queue_depth") {
		t.Errorf("metrics output missing kgagent_queue_depth:\n%s", w.Body.String())
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{kg.EventDeviceIntegrated: {}},
	}
	hub.Register(client)

	hub.Broadcast(kg.EventDeviceIntegrated, map[string]any{"device_id": "U1"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != kg.EventDeviceIntegrated {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{kg.EventDeviceRetired: {}},
	}
	hub.Register(client)

	hub.Broadcast(kg.EventDeviceCreated, map[string]any{"device_id": "U1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_WildcardSubscription(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{WSChannelAll: {}},
	}
	hub.Register(client)

	hub.Broadcast(kg.EventDeviceCreated, nil)
	hub.Broadcast(kg.EventDeviceRetired, nil)

	for range 2 {
		select {
		case <-client.send:
		case <-time.After(time.Second):
			t.Fatal("wildcard client missed an event")
		}
	}
}

func TestHub_SlowClientMissesEvents(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{WSChannelAll: {}},
	}
	hub.Register(client)

	hub.Broadcast(kg.EventDeviceCreated, nil)
	hub.Broadcast(kg.EventDeviceIntegrated, nil)
	hub.Broadcast(kg.EventDeviceRetired, nil)

	if got := hub.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	var first WSMessage
	if err := json.Unmarshal(<-client.send, &first); err != nil {
		t.Fatal(err)
	}
	if first.Seq != 1 || first.EventType != kg.EventDeviceCreated {
		t.Errorf("first event = %+v, want seq 1 device.created", first)
	}

	hub.Broadcast(kg.EventDeviceRetired, nil)
	var next WSMessage
	if err := json.Unmarshal(<-client.send, &next); err != nil {
		t.Fatal(err)
	}
	if next.Seq != 4 {
		t.Errorf("seq = %d after two drops, want 4", next.Seq)
	}
}

// subscribeReply feeds one request to a client and returns its reply.
func subscribeReply(t *testing.T, c *WSClient, msgType string, channels ...string) WSMessage {
	t.Helper()
	data, err := json.Marshal(WSMessage{Type: msgType, ID: "req", Payload: WSSubscribePayload{Channels: channels}})
	if err != nil {
		t.Fatal(err)
	}
	c.handleMessage(data)

	select {
	case raw := <-c.send:
		var reply WSMessage
		if err := json.Unmarshal(raw, &reply); err != nil {
			t.Fatal(err)
		}
		return reply
	case <-time.After(time.Second):
		t.Fatal("no reply")
		return WSMessage{}
	}
}

func TestWSClient_SubscribeValidatesChannels(t *testing.T) {
	hub := newTestHub(t)
	c := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: make(map[string]struct{})}

	reply := subscribeReply(t, c, WSTypeSubscribe, kg.EventDeviceCreated, "device.exploded")
	if reply.Type != WSTypeError || reply.ID != "req" {
		t.Fatalf("reply = %+v, want error", reply)
	}
	if body, _ := reply.Payload.(map[string]any); body["message"] != "unknown channel: device.exploded" {
		t.Errorf("error payload = %v", reply.Payload)
	}
	if c.isSubscribed(kg.EventDeviceCreated) {
		t.Error("a rejected request must not subscribe any channel")
	}

	if reply := subscribeReply(t, c, WSTypeSubscribe); reply.Type != WSTypeError {
		t.Errorf("empty subscribe reply = %+v, want error", reply)
	}

	reply = subscribeReply(t, c, WSTypeSubscribe, kg.EventDeviceRetired, kg.EventDeviceIntegrated)
	if reply.Type != WSTypeResponse {
		t.Fatalf("reply = %+v, want response", reply)
	}
	body, _ := reply.Payload.(map[string]any)
	active, _ := body["active"].([]any)
	if len(active) != 2 || active[0] != kg.EventDeviceIntegrated || active[1] != kg.EventDeviceRetired {
		t.Errorf("active = %v, want integrated and retired sorted", body["active"])
	}

	reply = subscribeReply(t, c, WSTypeUnsubscribe, kg.EventDeviceRetired)
	if reply.Type != WSTypeResponse || !c.isSubscribed(kg.EventDeviceIntegrated) || c.isSubscribed(kg.EventDeviceRetired) {
		t.Errorf("after unsubscribe reply = %+v", reply)
	}

	reply = subscribeReply(t, c, WSTypeSubscribe, WSChannelAll)
	if reply.Type != WSTypeResponse || !c.isSubscribed(kg.EventDeviceCreated) {
		t.Errorf("wildcard reply = %+v", reply)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: make(map[string]struct{})}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_FullConnection(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-0",
		Payload: WSSubscribePayload{Channels: []string{"devices"}},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rejected WSMessage
	if err := ws.ReadJSON(&rejected); err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	if rejected.Type != WSTypeError || rejected.ID != "sub-0" {
		t.Fatalf("unknown channel reply = %+v, want error", rejected)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{kg.EventDeviceCreated}},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var response WSMessage
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if response.Type != WSTypeResponse || response.ID != "sub-1" {
		t.Fatalf("response = %+v", response)
	}

	env.srv.hub.Broadcast(kg.EventDeviceCreated, map[string]string{"device_id": "U1"})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != kg.EventDeviceCreated {
		t.Errorf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["device_id"] != "U1" {
		t.Errorf("payload = %v", event.Payload)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if _, err := New(Deps{Engine: &kg.Engine{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestServer_StartClose(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.Port = 0

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv := env.srv.server; srv.ReadTimeout != 5*time.Second || srv.WriteTimeout != 5*time.Second || srv.IdleTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v/%v, want 5s from config", srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
