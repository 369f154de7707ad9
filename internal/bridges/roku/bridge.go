package roku

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// topicParts is the number of parts in a command or request topic:
// graylogic/{category}/roku/{address}.
const topicParts = 4

// telemetryMeasurement is the InfluxDB measurement for playback state.
const telemetryMeasurement = "media_player"

// Logger is the structured logger the package writes to.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// TelemetryWriter records playback state over time.
// Satisfied by *influxdb.Client. Optional.
type TelemetryWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// Bridge connects set-up Roku entries to Gray Logic Core over MQTT.
// It handles:
//   - Receiving commands from Core and dispatching them to entities
//   - Publishing derived state whenever a poll changes it
//   - Request/response operations (state reads, refresh, browse)
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID  string
	mqtt      MQTTClient
	health    *HealthReporter
	telemetry TelemetryWriter

	// Entries keyed by device serial number
	entries   map[string]*Entry
	entriesMu sync.RWMutex

	// Last published state per device, for change detection
	stateCache   map[string][]byte
	stateCacheMu sync.Mutex

	stateListeners   map[int]func(StateMessage)
	nextListenerID   int
	stateListenersMu sync.RWMutex

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64

	// started is set once Start has announced the initial devices.
	started atomic.Bool

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health and discovery messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Telemetry is optional; when set, every published state is also
	// written as a point.
	Telemetry TelemetryWriter

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Add entries with AddEntry, then call Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:       opts.BridgeID,
		mqtt:           opts.MQTTClient,
		telemetry:      opts.Telemetry,
		entries:        make(map[string]*Entry),
		stateCache:     make(map[string][]byte),
		stateListeners: make(map[int]func(StateMessage)),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// AddEntry registers a set-up device. Its state is published after every
// poll from then on.
func (b *Bridge) AddEntry(e *Entry) error {
	id := e.UniqueID()

	b.entriesMu.Lock()
	if _, exists := b.entries[id]; exists {
		b.entriesMu.Unlock()
		return fmt.Errorf("device %s already set up", id)
	}
	e.removeListener = e.Coordinator.AddListener(func() {
		b.publishState(e)
		if err := b.health.PublishOnChange(); err != nil {
			b.logError("failed to publish health change", err)
		}
	})
	b.entries[id] = e
	b.entriesMu.Unlock()

	b.logInfo("device added",
		"entry", e.ID,
		"serial", id,
		"name", e.MediaPlayer.Name())

	// Devices set up after Start are announced straight away.
	if b.started.Load() {
		b.publishDiscovery()
		b.publishState(e)
		if err := b.health.PublishOnChange(); err != nil {
			b.logError("failed to publish health change", err)
		}
	}
	return nil
}

// RemoveEntry unregisters a device and stops publishing its state.
func (b *Bridge) RemoveEntry(uniqueID string) {
	b.entriesMu.Lock()
	e, ok := b.entries[uniqueID]
	delete(b.entries, uniqueID)
	b.entriesMu.Unlock()

	if !ok {
		return
	}
	if e.removeListener != nil {
		e.removeListener()
	}

	b.stateCacheMu.Lock()
	delete(b.stateCache, uniqueID)
	b.stateCacheMu.Unlock()
}

// Entry returns the entry for a device serial number.
func (b *Bridge) Entry(uniqueID string) (*Entry, bool) {
	b.entriesMu.RLock()
	defer b.entriesMu.RUnlock()
	e, ok := b.entries[uniqueID]
	return e, ok
}

// Entries returns all entries ordered by serial number.
func (b *Bridge) Entries() []*Entry {
	b.entriesMu.RLock()
	entries := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.entriesMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UniqueID() < entries[j].UniqueID()
	})
	return entries
}

// Start begins bridge operation.
// This subscribes to MQTT topics, announces the devices, publishes their
// current state and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.publishDiscovery()

	entries := b.Entries()
	for _, e := range entries {
		b.publishState(e)
	}

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}
	b.started.Store(true)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"devices", len(entries))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		for _, e := range b.Entries() {
			if e.removeListener != nil {
				e.removeListener()
			}
		}

		// Publishes "stopping" status
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Execute dispatches a command to a device. It is the entry point shared
// by MQTT commands and the HTTP API.
func (b *Bridge) Execute(ctx context.Context, uniqueID string, cmd Command) error {
	b.commandsReceived.Add(1)

	e, ok := b.Entry(uniqueID)
	if !ok {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, uniqueID)
	}

	if err := e.Execute(ctx, cmd); err != nil {
		b.commandsFailed.Add(1)
		return err
	}
	return nil
}

// State derives the current state message of a device.
func (b *Bridge) State(uniqueID string) (StateMessage, bool) {
	e, ok := b.Entry(uniqueID)
	if !ok {
		return StateMessage{}, false
	}
	return NewStateMessage(e), true
}

// AddStateListener registers fn to receive every published state message.
// The returned function removes the listener.
func (b *Bridge) AddStateListener(fn func(StateMessage)) func() {
	b.stateListenersMu.Lock()
	id := b.nextListenerID
	b.nextListenerID++
	b.stateListeners[id] = fn
	b.stateListenersMu.Unlock()

	return func() {
		b.stateListenersMu.Lock()
		delete(b.stateListeners, id)
		b.stateListenersMu.Unlock()
	}
}

// UnavailableDevices implements DeviceStatusSource.
func (b *Bridge) UnavailableDevices() ([]string, int) {
	entries := b.Entries()
	var unavailable []string
	for _, e := range entries {
		if !e.Coordinator.LastUpdateSuccess() {
			unavailable = append(unavailable, e.UniqueID())
		}
	}
	return unavailable, len(entries)
}

// Statistics implements DeviceStatusSource.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[0] != TopicPrefix || parts[2] != Protocol {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"address", address,
		"command", cmd.Command)

	err := b.Execute(b.ctx, address, Command{
		Name:       cmd.Command,
		Entity:     cmd.Entity,
		Parameters: cmd.Parameters,
	})
	if err != nil {
		b.publishAckError(cmd, address, errorCode(err), err.Error())
		return
	}

	b.publishAck(cmd, address, AckAccepted)
}

// errorCode maps dispatch errors to wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrMediaNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeDeviceUnreachable
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.publishAckMessage(NewAckMessage(cmd, status, address))
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.publishAckMessage(NewAckError(cmd, address, code, message))
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(ack.Address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "refresh":
		resp = b.handleRefresh(req)
	case "browse_media":
		resp = b.handleBrowseMedia(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// requestEntry resolves the device of a device-specific request.
func (b *Bridge) requestEntry(req RequestMessage) (*Entry, *ResponseMessage) {
	if req.DeviceID == "" {
		resp := errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
		return nil, &resp
	}
	e, ok := b.Entry(req.DeviceID)
	if !ok {
		resp := errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %s not configured", req.DeviceID))
		return nil, &resp
	}
	return e, nil
}

// handleReadState handles a read_state request.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	e, errResp := b.requestEntry(req)
	if errResp != nil {
		return *errResp
	}
	return successResponse(req, map[string]any{"state": NewStateMessage(e)})
}

// handleReadAll handles a read_all request.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	entries := b.Entries()
	states := make([]StateMessage, 0, len(entries))
	for _, e := range entries {
		states = append(states, NewStateMessage(e))
	}
	return successResponse(req, map[string]any{"devices": states})
}

// handleRefresh polls the device now and returns the resulting state.
func (b *Bridge) handleRefresh(req RequestMessage) ResponseMessage {
	e, errResp := b.requestEntry(req)
	if errResp != nil {
		return *errResp
	}
	if err := e.Coordinator.RequestRefresh(b.ctx); err != nil {
		return errorResponse(req, ErrCodeDeviceUnreachable, err.Error())
	}
	return successResponse(req, map[string]any{"state": NewStateMessage(e)})
}

// handleBrowseMedia returns a browse tree node. Thumbnails are direct
// device icon URLs.
func (b *Bridge) handleBrowseMedia(req RequestMessage) ResponseMessage {
	e, errResp := b.requestEntry(req)
	if errResp != nil {
		return *errResp
	}

	contentType, _ := req.Parameters["content_type"].(string)
	contentID, _ := req.Parameters["content_id"].(string)

	node, err := e.MediaPlayer.BrowseMedia(contentType, contentID, nil)
	if err != nil {
		return errorResponse(req, errorCode(err), err.Error())
	}
	return successResponse(req, map[string]any{"media": node})
}

// comparableState is the part of a StateMessage checked for changes.
type comparableState struct {
	MediaPlayer MediaPlayerState `json:"media_player"`
	Remote      RemoteState      `json:"remote"`
	DeviceInfo  DeviceInfo       `json:"device_info"`
}

// publishState publishes the entry's derived state if it changed since the
// last publish.
func (b *Bridge) publishState(e *Entry) {
	select {
	case <-b.done:
		return
	default:
	}

	msg := NewStateMessage(e)
	key, err := json.Marshal(comparableState{
		MediaPlayer: msg.MediaPlayer,
		Remote:      msg.Remote,
		DeviceInfo:  msg.DeviceInfo,
	})
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if b.stateUnchanged(msg.Address, key) {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(msg.Address), payload, 1, true); err != nil {
		// The next poll retries the same state.
		b.forgetState(msg.Address, key)
		b.logError("failed to publish state "+msg.Address, err)
		return
	}
	b.statesPublished.Add(1)

	b.logDebug("published state",
		"serial", msg.Address,
		"state", string(msg.MediaPlayer.State),
		"available", msg.MediaPlayer.Available)

	b.writeTelemetry(msg)
	b.notifyStateListeners(msg)
}

// stateUnchanged records key for uniqueID and reports whether it equals
// the previously recorded one.
func (b *Bridge) stateUnchanged(uniqueID string, key []byte) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[uniqueID]; ok && bytes.Equal(prev, key) {
		return true
	}
	b.stateCache[uniqueID] = key
	return false
}

// forgetState drops the recorded key for uniqueID if it is still key.
func (b *Bridge) forgetState(uniqueID string, key []byte) {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[uniqueID]; ok && bytes.Equal(prev, key) {
		delete(b.stateCache, uniqueID)
	}
}

// ClearStateCache forgets published states so the next poll republishes
// every device.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.stateCache = make(map[string][]byte)
}

func (b *Bridge) notifyStateListeners(msg StateMessage) {
	b.stateListenersMu.RLock()
	fns := make([]func(StateMessage), 0, len(b.stateListeners))
	for _, fn := range b.stateListeners {
		fns = append(fns, fn)
	}
	b.stateListenersMu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// writeTelemetry records the playback state as a time-series point.
func (b *Bridge) writeTelemetry(msg StateMessage) {
	if b.telemetry == nil {
		return
	}

	mp := msg.MediaPlayer
	tags := map[string]string{
		"device_id": msg.Address,
		"entry":     msg.DeviceID,
	}
	fields := map[string]any{
		"state":     string(mp.State),
		"available": mp.Available,
		"is_on":     msg.Remote.IsOn,
	}
	if mp.AppID != "" {
		fields["app_id"] = mp.AppID
		fields["app_name"] = mp.AppName
	}
	if mp.MediaChannel != "" {
		fields["channel"] = mp.MediaChannel
	}
	if mp.MediaPosition != nil {
		fields["position"] = *mp.MediaPosition
		fields["duration"] = *mp.MediaDuration
	}

	b.telemetry.WritePoint(telemetryMeasurement, tags, fields)
}

// publishDiscovery announces every set-up device.
func (b *Bridge) publishDiscovery() {
	entries := b.Entries()
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.bridgeID,
		Devices:   make([]DiscoveredDevice, 0, len(entries)),
	}
	for _, e := range entries {
		info := e.MediaPlayer.DeviceInfo()
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			Protocol:      Protocol,
			Address:       e.UniqueID(),
			Type:          EntityMediaPlayer,
			Capabilities:  SupportedFeatures,
			Manufacturer:  info.Manufacturer,
			Product:       info.Model,
			SuggestedName: info.Name,
			SuggestedArea: info.SuggestedArea,
			Host:          e.Host,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
