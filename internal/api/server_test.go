package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-roku/internal/bridges/roku"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/imagecache"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/metrics"
)

const testSerial = "YN00H5555555"

// stubClient implements roku.Client, serving icons from iconBase.
type stubClient struct {
	mu       sync.Mutex
	device   *roku.Device
	calls    []string
	iconBase string
}

func (c *stubClient) Update(context.Context, bool) (*roku.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, nil
}

func (c *stubClient) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return nil
}

func (c *stubClient) Remote(_ context.Context, key string) error { return c.record("remote:" + key) }
func (c *stubClient) Tune(_ context.Context, ch string) error    { return c.record("tune:" + ch) }
func (c *stubClient) Search(_ context.Context, kw string) error  { return c.record("search:" + kw) }

func (c *stubClient) Launch(_ context.Context, appID string, _ map[string]string) error {
	return c.record("launch:" + appID)
}

func (c *stubClient) AppIconURL(appID string) string {
	return c.iconBase + "/query/icon/" + appID
}

func (c *stubClient) setDevice(d *roku.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = d
}

func (c *stubClient) getCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// stubMQTT implements roku.MQTTClient.
type stubMQTT struct {
	mu        sync.Mutex
	connected bool
}

func (m *stubMQTT) Publish(string, []byte, byte, bool) error                  { return nil }
func (m *stubMQTT) Subscribe(string, byte, func(topic string, payload []byte)) error { return nil }

func (m *stubMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *stubMQTT) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func livingRoomTV() *roku.Device {
	return &roku.Device{
		Info: roku.Info{
			Name:           "Living Room TV",
			SerialNumber:   testSerial,
			DeviceType:     roku.DeviceTypeTV,
			Brand:          "TCL",
			ModelName:      "55R635",
			Version:        "11.0.0",
			DeviceLocation: "Living Room",
		},
		App: &roku.Application{AppID: "12", Name: "Netflix"},
		Apps: []roku.Application{
			{AppID: "12", Name: "Netflix"},
			{AppID: "2285", Name: "Hulu"},
		},
		Channels: []roku.Channel{
			{Number: "14.1", Name: "WNYW"},
		},
	}
}

type testEnv struct {
	srv    *Server
	router http.Handler
	client *stubClient
	entry  *roku.Entry
	mqtt   *stubMQTT
	icons  *iconServer
}

// iconServer stands in for the device's icon endpoint.
type iconServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits int
}

func newIconServer(t *testing.T) *iconServer {
	t.Helper()
	s := &iconServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()

		if !strings.HasPrefix(r.URL.Path, "/query/icon/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		//nolint:errcheck // Test server
		w.Write([]byte("png-" + path.Base(r.URL.Path)))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *iconServer) getHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	icons := newIconServer(t)
	client := &stubClient{device: livingRoomTV(), iconBase: icons.URL}

	coord := roku.NewCoordinator(roku.CoordinatorConfig{Client: client, Name: "lounge"})
	if err := coord.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh: %v", err)
	}

	images := imagecache.NewFetcher(icons.Client(), imagecache.NewFreeCache(4<<20, time.Minute), nil)
	entry, err := roku.NewEntry(roku.EntryOptions{
		ID:          "lounge",
		Host:        "192.168.1.40",
		Coordinator: coord,
		Images:      images,
	})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}

	mqtt := &stubMQTT{connected: true}
	bridge, err := roku.NewBridge(roku.BridgeOptions{BridgeID: "roku-test", MQTTClient: mqtt})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(bridge.Stop)
	if err := bridge.AddEntry(entry); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:  logging.Discard(),
		Devices: bridge,
		Metrics: metrics.NewProvider("roku_test"),
		MQTT:    mqtt,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		client: client,
		entry:  entry,
		mqtt:   mqtt,
		icons:  icons,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ─── Server Tests ──────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Devices: &roku.Bridge{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without devices should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["devices"] != float64(1) || resp["devices_available"] != float64(1) {
		t.Errorf("devices = %v/%v, want 1/1", resp["devices_available"], resp["devices"])
	}
}

func TestHealth_DegradedWhenMQTTDown(t *testing.T) {
	env := newTestEnv(t)
	env.mqtt.setConnected(false)

	var resp map[string]any
	decodeBody(t, env.do(t, http.MethodGet, "/api/v1/health", ""), &resp)

	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	if resp["mqtt_connected"] != false {
		t.Errorf("mqtt_connected = %v, want false", resp["mqtt_connected"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://core.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics_Exposition(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/v1/health", "")
	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "roku_test_http_requests_total") {
		t.Error("metrics missing http_requests_total")
	}
	if !strings.Contains(body, `endpoint="/api/v1/health"`) {
		t.Error("metrics missing health endpoint label")
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Devices []roku.StateMessage `json:"devices"`
		Count   int                 `json:"count"`
	}
	decodeBody(t, w, &resp)

	if resp.Count != 1 || len(resp.Devices) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	dev := resp.Devices[0]
	if dev.Address != testSerial {
		t.Errorf("address = %q, want %q", dev.Address, testSerial)
	}
	if dev.MediaPlayer.State != roku.StateOn {
		t.Errorf("state = %q, want %q", dev.MediaPlayer.State, roku.StateOn)
	}
	if dev.MediaPlayer.Source != "Netflix" {
		t.Errorf("source = %q, want Netflix", dev.MediaPlayer.Source)
	}
}

func TestListDevices_AvailableFilter(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, env.do(t, http.MethodGet, "/api/v1/devices?available=false", ""), &resp)
	if resp.Count != 0 {
		t.Errorf("available=false count = %d, want 0", resp.Count)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices?available=maybe", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid filter status = %d, want 400", w.Code)
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var state roku.StateMessage
	decodeBody(t, w, &state)
	if state.DeviceInfo.Manufacturer != "TCL" {
		t.Errorf("manufacturer = %q, want TCL", state.DeviceInfo.Manufacturer)
	}
	if !state.Remote.IsOn {
		t.Error("remote should be on")
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/UNKNOWN", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var apiErr Error
	decodeBody(t, w, &apiErr)
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantCalls  []string
	}{
		{
			name:       "play media",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{"command":"play_media","parameters":{"media_type":"channel","media_id":"14.1"}}`,
			wantStatus: http.StatusAccepted,
			wantCalls:  []string{"tune:14.1"},
		},
		{
			name:       "remote keys",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{"command":"send_command","entity":"remote","parameters":{"command":["up","select"],"num_repeats":2}}`,
			wantStatus: http.StatusAccepted,
			wantCalls:  []string{"remote:up", "remote:select", "remote:up", "remote:select"},
		},
		{
			name:       "unknown device",
			target:     "/api/v1/devices/UNKNOWN/commands",
			body:       `{"command":"turn_on"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown command",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{"command":"self_destruct"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing parameter",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{"command":"search"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing command",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{"parameters":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON",
			target:     "/api/v1/devices/" + testSerial + "/commands",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(t, http.MethodPost, tt.target, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}

			calls := env.client.getCalls()
			if strings.Join(calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestCommand_AcceptedResponse(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/"+testSerial+"/commands", `{"command":"turn_off"}`)

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", resp["status"])
	}
	if id, _ := resp["command_id"].(string); len(id) != 36 {
		t.Errorf("command_id = %v, want a UUID", resp["command_id"])
	}
}

// ─── Browse Tests ──────────────────────────────────────────────────

func TestBrowse_Root(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial+"/browse", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var node roku.BrowseMedia
	decodeBody(t, w, &node)
	if node.Title != "Media Library" {
		t.Errorf("title = %q", node.Title)
	}
	if len(node.Children) != 2 {
		t.Errorf("children = %d, want 2 (apps and channels)", len(node.Children))
	}
}

func TestBrowse_AppsUseImageProxy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial+"/browse?content_type=apps&content_id=apps", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var node roku.BrowseMedia
	decodeBody(t, w, &node)
	if len(node.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(node.Children))
	}

	want := "/api/v1/devices/" + testSerial + "/browse/image?content_id=12&content_type=app"
	if got := node.Children[0].Thumbnail; got != want {
		t.Errorf("thumbnail = %q, want %q", got, want)
	}
}

func TestBrowse_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial+"/browse?content_type=music&content_id=1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/UNKNOWN/browse", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestBrowseImage(t *testing.T) {
	env := newTestEnv(t)
	target := "/api/v1/devices/" + testSerial + "/browse/image?content_type=app&content_id=2285"

	w := env.do(t, http.MethodGet, target, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if body := w.Body.String(); body != "png-2285" {
		t.Errorf("body = %q, want png-2285", body)
	}

	// Second request is served from the image cache.
	env.do(t, http.MethodGet, target, "")
	if hits := env.icons.getHits(); hits != 1 {
		t.Errorf("upstream hits = %d, want 1", hits)
	}
}

func TestBrowseImage_NoImage(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial+"/browse/image?content_type=channel&content_id=14.1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if hits := env.icons.getHits(); hits != 0 {
		t.Errorf("upstream hits = %d, want 0", hits)
	}
}

func TestBrowseImage_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.client.iconBase = env.icons.URL + "/missing"

	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testSerial+"/browse/image?content_type=app&content_id=12", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	subscribed := newWSClient(hub, nil)
	other := newWSClient(hub, nil)
	other.subscriptions = map[string]struct{}{}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(EventStateChanged, map[string]string{"address": testSerial})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != EventStateChanged {
			t.Errorf("message = %+v", msg)
		}
	default:
		t.Error("subscribed client received nothing")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client received a message")
	default:
	}

	if n := hub.ClientCount(); n != 2 {
		t.Errorf("ClientCount = %d, want 2", n)
	}
	hub.Unregister(other)
	hub.Unregister(other)
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
}

func TestHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	if hub.cfg.PingInterval != defaultWSPingInterval {
		t.Errorf("PingInterval = %d", hub.cfg.PingInterval)
	}
	if hub.cfg.MaxMessageSize != defaultWSMaxMessageSize {
		t.Errorf("MaxMessageSize = %d", hub.cfg.MaxMessageSize)
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

// startServer starts env's server and serves its router over a test listener.
func startServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		//nolint:errcheck // Test cleanup
		env.srv.Close()
	})

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()

	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func writeWS(t *testing.T, ws *websocket.Conn, msg WSMessage) {
	t.Helper()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_StatePush(t *testing.T) {
	env := newTestEnv(t)
	ts := startServer(t, env)
	ws := dialWS(t, ts)
	waitForClients(t, env.srv.hub, 1)

	paused := livingRoomTV()
	paused.Media = &roku.MediaState{Paused: true, Duration: 100, Position: 10}
	env.client.setDevice(paused)
	if err := env.entry.Coordinator.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}

	msg := readWS(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != EventStateChanged {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	mp, _ := payload["media_player"].(map[string]any)
	if mp["state"] != string(roku.StatePaused) {
		t.Errorf("pushed state = %v, want paused", mp["state"])
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t)
	ts := startServer(t, env)
	ws := dialWS(t, ts)

	writeWS(t, ws, WSMessage{Type: WSTypePing, ID: "p-1"})

	msg := readWS(t, ws)
	if msg.Type != WSTypePong || msg.ID != "p-1" {
		t.Errorf("response = %+v, want pong p-1", msg)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := newTestEnv(t)
	ts := startServer(t, env)
	ws := dialWS(t, ts)

	writeWS(t, ws, WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u-1",
		Payload: WSSubscribePayload{Channels: []string{EventStateChanged}},
	})

	msg := readWS(t, ws)
	if msg.Type != WSTypeResponse || msg.ID != "u-1" {
		t.Fatalf("response = %+v", msg)
	}

	env.srv.hub.Broadcast(EventStateChanged, map[string]string{"address": testSerial})
	writeWS(t, ws, WSMessage{Type: WSTypePing, ID: "p-2"})

	// The ping reply arrives with no state event before it.
	msg = readWS(t, ws)
	if msg.Type != WSTypePong {
		t.Errorf("message = %+v, want pong", msg)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	env := newTestEnv(t)
	ts := startServer(t, env)
	ws := dialWS(t, ts)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("type = %q, want error", msg.Type)
	}

	writeWS(t, ws, WSMessage{Type: "dance", ID: "d-1"})
	if msg := readWS(t, ws); msg.Type != WSTypeError || msg.ID != "d-1" {
		t.Errorf("response = %+v, want error d-1", msg)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
