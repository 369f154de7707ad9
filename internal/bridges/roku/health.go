package roku

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. Usually the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceStatusSource reports device availability and bridge counters.
// Implemented by Bridge.
type DeviceStatusSource interface {
	// UnavailableDevices returns the serials of devices whose last poll
	// failed, and the total number of devices.
	UnavailableDevices() (unavailable []string, total int)

	Statistics() BridgeStatistics
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often health is republished. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Devices provides device availability. Optional.
	Devices DeviceStatusSource
}

// HealthReporter publishes the retained bridge health message: on start,
// every interval, whenever the status changes, and once more on stop.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	devices   DeviceStatusSource

	// last is the most recently published status; "" before the first.
	last   HealthStatus
	lastMu sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		devices:   cfg.Devices,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				if err := h.PublishNow(); err != nil {
					h.logError("failed to publish health", err)
				}
			}
		}
	}()
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.currentStatus()
	return h.publishStatus(status, reason)
}

// PublishOnChange publishes the current status if it differs from the last
// one published. It does nothing before the first periodic status or after
// Stop.
func (h *HealthReporter) PublishOnChange() error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.lastMu.Lock()
	last := h.last
	h.lastMu.Unlock()
	if last == "" || last == HealthStarting {
		return nil
	}

	status, reason := h.currentStatus()
	if status == last {
		return nil
	}
	return h.publishStatus(status, reason)
}

// currentStatus is degraded while MQTT is down or any device is
// unavailable, healthy otherwise.
func (h *HealthReporter) currentStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.devices != nil {
		if unavailable, _ := h.devices.UnavailableDevices(); len(unavailable) > 0 {
			return HealthDegraded, "devices unavailable: " + strings.Join(unavailable, ", ")
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var (
		stats            BridgeStatistics
		total, available int
	)
	if h.devices != nil {
		stats = h.devices.Statistics()
		var unavailable []string
		unavailable, total = h.devices.UnavailableDevices()
		available = total - len(unavailable)
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, total, available, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(HealthTopic(), payload, 1, true); err != nil {
		return err
	}

	h.lastMu.Lock()
	h.last = status
	h.lastMu.Unlock()
	return nil
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
