package roku

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coordinator polling defaults.
const (
	// DefaultScanInterval is how often a device is polled.
	DefaultScanInterval = 15 * time.Second

	// DefaultFullUpdateInterval is how often a poll also refreshes device
	// info, installed apps and channels.
	DefaultFullUpdateInterval = 15 * time.Minute
)

// PollRecorder receives poll outcomes. Satisfied by metrics.Recorder.
type PollRecorder interface {
	ObservePoll(deviceID string, full bool, duration time.Duration, err error)
	SetAvailable(deviceID string, available bool)
}

// Coordinator owns the snapshot of one device. It polls the Client on a
// fixed interval and on request, and notifies listeners after every poll.
//
// Thread Safety: all methods are safe for concurrent use. Polls never
// overlap. Refresh requests made while a poll is in flight share the next
// Client.Update call, which starts after the in-flight one finishes.
type Coordinator struct {
	client       Client
	name         string
	interval     time.Duration
	fullInterval time.Duration
	metrics      PollRecorder

	data    atomic.Pointer[Device]
	success atomic.Bool
	group   singleflight.Group

	// pollMu serialises polls. nextPoll is the sequence number of the next
	// poll to start; it is the singleflight key requests join.
	pollMu   sync.Mutex
	nextPoll uint64
	seqMu    sync.Mutex

	// lastFull is only touched while pollMu is held.
	lastFull time.Time
	now      func() time.Time

	// failing suppresses repeated failure logs within one outage.
	failing bool

	listeners   map[int]func()
	nextID      int
	listenersMu sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// CoordinatorConfig holds configuration for a coordinator.
type CoordinatorConfig struct {
	// Client talks to the device.
	Client Client

	// Name identifies the device in logs and metrics before its serial
	// number is known (the configured entry ID).
	Name string

	// Interval is the poll interval. Default: 15 seconds.
	Interval time.Duration

	// FullInterval is the full update interval. Default: 15 minutes.
	FullInterval time.Duration

	// Metrics is optional.
	Metrics PollRecorder

	// Logger is optional.
	Logger Logger
}

// NewCoordinator creates a coordinator. Call FirstRefresh before creating
// entities, then Start to begin polling.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	fullInterval := cfg.FullInterval
	if fullInterval <= 0 {
		fullInterval = DefaultFullUpdateInterval
	}

	return &Coordinator{
		client:       cfg.Client,
		name:         cfg.Name,
		interval:     interval,
		fullInterval: fullInterval,
		metrics:      cfg.Metrics,
		now:          time.Now,
		listeners:    make(map[int]func()),
		done:         make(chan struct{}),
		logger:       cfg.Logger,
	}
}

// Client returns the device client.
func (c *Coordinator) Client() Client {
	return c.client
}

// Name returns the configured device name.
func (c *Coordinator) Name() string {
	return c.name
}

// Data returns the current snapshot, or nil before the first successful poll.
func (c *Coordinator) Data() *Device {
	return c.data.Load()
}

// LastUpdateSuccess reports whether the most recent poll succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	return c.success.Load()
}

// FirstRefresh performs the blocking initial poll. A failure is wrapped in
// ErrNotReady so setup can abort for this device.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.RequestRefresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotReady, c.name, err)
	}
	return nil
}

// RequestRefresh polls the device and returns once a poll that started
// after the call has finished. Concurrent requests share that poll. The poll
// is not cancelled with ctx; a cancelled caller returns ctx.Err() while the
// poll completes for the others.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.seqMu.Lock()
	key := strconv.FormatUint(c.nextPoll, 10)
	c.seqMu.Unlock()

	pollCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.pollMu.Lock()
		defer c.pollMu.Unlock()

		// Later requests queue behind this poll.
		c.seqMu.Lock()
		c.nextPoll++
		c.seqMu.Unlock()

		return nil, c.poll(pollCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddListener registers fn to be called after every poll, successful or
// not. The returned function removes the listener.
func (c *Coordinator) AddListener(fn func()) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Start begins periodic polling. Call Stop to shut down.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.pollLoop(ctx)
}

// Stop stops periodic polling and waits for the loop to exit.
// Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			//nolint:errcheck // Failures are logged and tracked by poll
			c.RequestRefresh(ctx)
		}
	}
}

// poll fetches a snapshot and swaps it in. On failure the previous snapshot
// is kept and LastUpdateSuccess turns false.
func (c *Coordinator) poll(ctx context.Context) error {
	full := c.lastFull.IsZero() || !c.now().Before(c.lastFull.Add(c.fullInterval))

	start := time.Now()
	device, err := c.client.Update(ctx, full)
	if err == nil && device == nil {
		err = fmt.Errorf("%w: empty snapshot", ErrResponse)
	}
	elapsed := time.Since(start)

	if err == nil {
		if full {
			c.lastFull = c.now()
		}
		c.data.Store(device)
	}
	c.success.Store(err == nil)

	if c.metrics != nil {
		c.metrics.ObservePoll(c.name, full, elapsed, err)
		c.metrics.SetAvailable(c.name, err == nil)
	}

	c.logOutcome(full, err)
	c.notify()

	return err
}

// logOutcome logs the first failure of an outage and the recovery that
// ends it.
func (c *Coordinator) logOutcome(full bool, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if err != nil {
		if !c.failing && logger != nil {
			logger.Error("error fetching roku data", "device", c.name, "error", err)
		}
		c.failing = true
		return
	}

	if c.failing && logger != nil {
		logger.Info("fetching roku data recovered", "device", c.name)
	}
	c.failing = false

	if logger != nil {
		logger.Debug("polled device", "device", c.name, "full", full)
	}
}

func (c *Coordinator) notify() {
	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
