package roku

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClient implements Client, recording every call in order.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	updates []bool // full flag per Update call
	errs    map[string]error

	// device is returned by Update; nil with a nil error is allowed.
	device    *Device
	updateErr error

	// updateHook, when set, runs inside Update before it returns.
	updateHook func()
}

func newFakeClient(d *Device) *fakeClient {
	return &fakeClient{device: d, errs: make(map[string]error)}
}

func (c *fakeClient) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	method, _, _ := strings.Cut(call, ":")
	return c.errs[method]
}

func (c *fakeClient) Update(ctx context.Context, full bool) (*Device, error) {
	c.mu.Lock()
	c.updates = append(c.updates, full)
	hook := c.updateHook
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, c.updateErr
}

func (c *fakeClient) Remote(_ context.Context, key string) error {
	return c.record("remote:" + key)
}

func (c *fakeClient) Launch(_ context.Context, appID string, params map[string]string) error {
	call := "launch:" + appID
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			call += fmt.Sprintf(":%s=%s", k, params[k])
		}
	}
	return c.record(call)
}

func (c *fakeClient) Tune(_ context.Context, channel string) error {
	return c.record("tune:" + channel)
}

func (c *fakeClient) Search(_ context.Context, keyword string) error {
	return c.record("search:" + keyword)
}

func (c *fakeClient) AppIconURL(appID string) string {
	return "http://192.168.1.40:8060/query/icon/" + appID
}

func (c *fakeClient) setError(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[method] = err
}

func (c *fakeClient) setDevice(d *Device, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = d
	c.updateErr = err
}

func (c *fakeClient) getCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.calls))
	copy(result, c.calls)
	return result
}

func (c *fakeClient) getUpdates() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]bool, len(c.updates))
	copy(result, c.updates)
	return result
}

// fakeSource implements DataSource with a fixed snapshot.
type fakeSource struct {
	data      atomic.Pointer[Device]
	available atomic.Bool
	refreshes atomic.Int32
}

func newFakeSource(d *Device) *fakeSource {
	s := &fakeSource{}
	s.data.Store(d)
	s.available.Store(true)
	return s
}

func (s *fakeSource) Data() *Device           { return s.data.Load() }
func (s *fakeSource) LastUpdateSuccess() bool { return s.available.Load() }

func (s *fakeSource) RequestRefresh(context.Context) error {
	s.refreshes.Add(1)
	return nil
}

// logEntry is one recorded log call.
type logEntry struct {
	level string
	msg   string
	kv    []any
}

// recordingLogger implements Logger, keeping every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.log("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.log("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.log("error", msg, kv) }

// errors returns the messages logged at error level.
func (l *recordingLogger) errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.entries {
		if e.level == "error" {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs
}

// countMessages returns how many entries carry msg.
func (l *recordingLogger) countMessages(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.msg == msg {
			n++
		}
	}
	return n
}

// fakeRecorder implements CommandRecorder and PollRecorder.
type fakeRecorder struct {
	mu        sync.Mutex
	commands  []string
	errorKind []string
	polls     int
	available map[string]bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{available: make(map[string]bool)}
}

func (r *fakeRecorder) IncCommand(command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
}

func (r *fakeRecorder) IncCommandError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorKind = append(r.errorKind, kind)
}

func (r *fakeRecorder) ObservePoll(string, bool, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
}

func (r *fakeRecorder) SetAvailable(deviceID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[deviceID] = available
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)

	// publishErr, when set, fails every Publish without recording it.
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublish, len(m.published))
	copy(result, m.published)
	return result
}

// SetPublishError makes Publish fail with err until cleared with nil.
func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

// PublishedOn returns the messages published to topic.
func (m *MockMQTTClient) PublishedOn(topic string) []mockPublish {
	var result []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			result = append(result, p)
		}
	}
	return result
}

func (m *MockMQTTClient) GetSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.subscriptions))
	copy(result, m.subscriptions)
	return result
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// fakeTelemetry implements TelemetryWriter.
type fakeTelemetry struct {
	mu     sync.Mutex
	points []telemetryPoint
}

type telemetryPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
}

func (f *fakeTelemetry) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, telemetryPoint{measurement: measurement, tags: tags, fields: fields})
}

func (f *fakeTelemetry) getPoints() []telemetryPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]telemetryPoint, len(f.points))
	copy(result, f.points)
	return result
}

// fakeImages implements ImageFetcher.
type fakeImages struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return []byte("icon"), "image/png", nil
}

// Snapshot builders

func rokuTV() *Device {
	return &Device{
		Info: Info{
			Name:           "Living Room TV",
			SerialNumber:   "YN00H5555555",
			DeviceType:     DeviceTypeTV,
			Brand:          "TCL",
			ModelName:      "55R635",
			ModelNumber:    "7121X",
			Version:        "11.0.0",
			DeviceLocation: "Living Room",
		},
		App: &Application{AppID: "562859", Name: "Roku"},
		Apps: []Application{
			{AppID: "12", Name: "Netflix"},
			{AppID: "2285", Name: "Hulu"},
			{AppID: "74519", Name: "Pluto TV"},
			{AppID: "tvinput.dtv", Name: "Antenna TV"},
		},
		Channels: []Channel{
			{Number: "1.1", Name: "WhatsOn"},
			{Number: "1.3", Name: "getTV"},
			{Number: "14.1", Name: "WNYW"},
		},
	}
}

func rokuStick() *Device {
	return &Device{
		Info: Info{
			Name:         "Bedroom Roku",
			SerialNumber: "1GU48T017973",
			DeviceType:   "box",
			Brand:        "Roku",
			ModelName:    "Roku Express",
		},
		App: &Application{AppID: "562859", Name: "Roku"},
		Apps: []Application{
			{AppID: "12", Name: "Netflix"},
			{AppID: "2285", Name: "Hulu"},
		},
	}
}

// withApp returns a copy of d running app with optional media.
func withApp(d *Device, app *Application, media *MediaState) *Device {
	c := *d
	c.App = app
	c.Media = media
	return &c
}

func newTestMediaPlayer(src DataSource, client Client, logger Logger) *MediaPlayer {
	return newMediaPlayer(entityOptions{
		UniqueID: "YN00H5555555",
		Source:   src,
		Client:   client,
		Logger:   logger,
	}, nil)
}

func newTestRemote(src DataSource, client Client, logger Logger) *Remote {
	return newRemote(entityOptions{
		UniqueID: "YN00H5555555",
		Source:   src,
		Client:   client,
		Logger:   logger,
	})
}
