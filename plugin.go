// Package grayroku integrates Roku streaming devices with Gray Logic Core.
//
// A host loads the plugin with Setup, supplying a factory for the vendor
// ECP client of each configured device, and tears it down with Unload:
//
//	p, err := grayroku.Setup(ctx, grayroku.Options{
//		ConfigPath:    "configs/roku.yaml",
//		ClientFactory: newECPClient,
//		Version:       version,
//	})
//	if err != nil {
//		return err
//	}
//	defer p.Unload()
//
// Setup connects to the MQTT broker, polls every device once, registers a
// media player and a remote entity per device keyed by serial number, and
// starts the bridge, the poll loops and the HTTP API. A device that cannot
// be reached during setup does not hold up the others: it is retried with
// backoff until it answers or the plugin is unloaded.
package grayroku

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-roku/internal/api"
	"github.com/nerrad567/gray-logic-roku/internal/bridges/roku"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/imagecache"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/mqtt"
)

// Types a host needs to implement a vendor client.
type (
	Client      = roku.Client
	Device      = roku.Device
	Info        = roku.Info
	State       = roku.State
	Application = roku.Application
	Channel     = roku.Channel
	MediaState  = roku.MediaState

	// MQTTClient is the bus a host may share with the plugin.
	MQTTClient = roku.MQTTClient

	// Config is the plugin configuration.
	Config = config.Config
)

// Errors a vendor client wraps, and setup failures.
var (
	ErrConnection = roku.ErrConnection
	ErrResponse   = roku.ErrResponse
	ErrNotReady   = roku.ErrNotReady
)

// ErrNoClientFactory is returned by Setup when Options.ClientFactory is nil.
var ErrNoClientFactory = errors.New("grayroku: client factory is required")

// DeviceTypeTV is Info.DeviceType for Roku TVs.
const DeviceTypeTV = roku.DeviceTypeTV

// maxSetupRetryInterval caps the backoff between setup retries.
const maxSetupRetryInterval = 2 * time.Minute

// ClientFactory builds the vendor client for the device at host:port.
type ClientFactory func(host string, port int) (Client, error)

// Options configures Setup.
type Options struct {
	// ConfigPath is the YAML configuration file. Ignored when Config is set.
	ConfigPath string

	// Config is an already-loaded configuration.
	Config *Config

	// ClientFactory builds one vendor client per configured device. Required.
	ClientFactory ClientFactory

	// MQTT is a bus connection owned by the host. When nil the plugin
	// connects to the broker named in the configuration and owns that
	// connection.
	MQTT MQTTClient

	// LogOutput overrides the configured log destination.
	LogOutput io.Writer

	// Version is reported in health messages and logs.
	Version string

	// SetupRetryInterval overrides bridge.setup_retry_interval.
	SetupRetryInterval time.Duration
}

// Plugin is a running Roku integration. Create with Setup and release with
// Unload.
type Plugin struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics metrics.Recorder

	mqttConn *mqtt.Client // nil when the host supplied the bus
	bus      MQTTClient
	influx   *influxdb.Client
	bridge   *roku.Bridge
	api      *api.Server
	images   roku.ImageFetcher

	entries   []*roku.Entry
	entriesMu sync.Mutex

	// Retries of devices that were unreachable during setup.
	retryInterval time.Duration
	retryCancel   context.CancelFunc
	retries       sync.WaitGroup

	cancel     context.CancelFunc
	unloadOnce sync.Once
}

// Setup loads the configuration, sets up every configured device and starts
// the plugin. ctx bounds setup and the lifetime of the poll loops; Unload
// stops them explicitly.
func Setup(ctx context.Context, opts Options) (*Plugin, error) {
	if opts.ClientFactory == nil {
		return nil, ErrNoClientFactory
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg, opts)
	log.Info("starting Roku integration",
		"version", opts.Version,
		"devices", len(cfg.Devices),
	)

	runCtx, cancel := context.WithCancel(ctx)
	retryCtx, retryCancel := context.WithCancel(runCtx)
	p := &Plugin{
		cfg:           cfg,
		log:           log,
		metrics:       metrics.New(cfg.Metrics),
		retryInterval: cfg.GetSetupRetryInterval(),
		retryCancel:   retryCancel,
		cancel:        cancel,
	}
	if opts.SetupRetryInterval > 0 {
		p.retryInterval = opts.SetupRetryInterval
	}

	pending, err := p.setup(runCtx, opts)
	if err != nil {
		p.Unload()
		return nil, err
	}

	// Retries start once the bridge is running so late devices are
	// announced as they come up.
	for _, d := range pending {
		p.retries.Add(1)
		go p.retrySetup(retryCtx, runCtx, d)
	}

	log.Info("Roku integration ready",
		"devices", len(p.Serials()),
		"pending", len(pending),
	)
	return p, nil
}

// pendingDevice is a configured device whose first poll failed.
type pendingDevice struct {
	cfg   config.DeviceConfig
	coord *roku.Coordinator
}

// setup brings components up in dependency order. Unload releases whatever
// it managed to start. Devices that did not answer their first poll are
// returned for retrying.
func (p *Plugin) setup(ctx context.Context, opts Options) ([]pendingDevice, error) {
	if err := p.connectMQTT(opts); err != nil {
		return nil, err
	}

	if err := p.connectInfluxDB(); err != nil {
		return nil, err
	}

	bridgeOpts := roku.BridgeOptions{
		BridgeID:       p.cfg.Bridge.ID,
		Version:        opts.Version,
		HealthInterval: p.cfg.GetHealthInterval(),
		MQTTClient:     p.bus,
		Logger:         p.log.Component("bridge"),
	}
	if p.influx != nil {
		bridgeOpts.Telemetry = p.influx
	}
	bridge, err := roku.NewBridge(bridgeOpts)
	if err != nil {
		return nil, fmt.Errorf("creating Roku bridge: %w", err)
	}
	p.bridge = bridge

	p.images = imagecache.New(p.cfg.ImageCache, p.cfg.GetImageCacheTTL(), p.cfg.GetImageFetchTimeout(), p.metrics)

	var pending []pendingDevice
	for _, dev := range p.cfg.Devices {
		coord, err := p.newCoordinator(dev, opts.ClientFactory)
		if err != nil {
			return nil, err
		}

		if err := coord.FirstRefresh(ctx); err != nil {
			if !errors.Is(err, roku.ErrNotReady) || ctx.Err() != nil {
				return nil, err
			}
			p.log.Warn("Roku device not ready, will retry",
				"device", dev.ID,
				"host", dev.Host,
				"error", err,
			)
			pending = append(pending, pendingDevice{cfg: dev, coord: coord})
			continue
		}

		if err := p.registerDevice(ctx, dev, coord); err != nil {
			return nil, err
		}
	}

	if err := p.bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting Roku bridge: %w", err)
	}

	if p.mqttConn != nil {
		p.mqttConn.SetOnConnect(func() {
			p.log.Info("MQTT reconnected, republishing state")
			p.bridge.ClearStateCache()
		})
		p.mqttConn.SetOnDisconnect(func(err error) {
			p.log.Warn("MQTT disconnected", "error", err)
		})
	}

	if p.cfg.API.Enabled {
		if err := p.startAPI(ctx, opts.Version); err != nil {
			return nil, err
		}
	}

	return pending, p.healthCheck(ctx)
}

// newCoordinator builds the vendor client and coordinator for one device.
func (p *Plugin) newCoordinator(dev config.DeviceConfig, factory ClientFactory) (*roku.Coordinator, error) {
	client, err := factory(dev.Host, dev.Port)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", dev.ID, err)
	}

	return roku.NewCoordinator(roku.CoordinatorConfig{
		Client:       client,
		Name:         dev.ID,
		Interval:     p.cfg.GetScanInterval(),
		FullInterval: p.cfg.GetFullUpdateInterval(),
		Metrics:      p.metrics,
		Logger:       p.log.With("device", dev.ID),
	}), nil
}

// registerDevice creates the entities of a polled device, registers them
// with the bridge and starts polling.
func (p *Plugin) registerDevice(ctx context.Context, dev config.DeviceConfig, coord *roku.Coordinator) error {
	log := p.log.With("device", dev.ID)

	entry, err := roku.NewEntry(roku.EntryOptions{
		ID:          dev.ID,
		Host:        dev.Host,
		Coordinator: coord,
		Images:      p.images,
		Metrics:     p.metrics,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	if err := p.bridge.AddEntry(entry); err != nil {
		return fmt.Errorf("registering %s: %w", dev.ID, err)
	}

	p.entriesMu.Lock()
	p.entries = append(p.entries, entry)
	p.entriesMu.Unlock()

	coord.Start(ctx)

	log.Info("Roku device set up",
		"serial", entry.UniqueID(),
		"host", dev.Host,
		"port", dev.Port,
	)
	return nil
}

// retrySetup repeats the first poll of d with backoff until it succeeds,
// then registers the device. retryCtx ends the attempts on Unload; runCtx
// bounds the device's poll loop.
func (p *Plugin) retrySetup(retryCtx, runCtx context.Context, d pendingDevice) {
	defer p.retries.Done()

	log := p.log.With("device", d.cfg.ID)
	backoff := p.retryInterval

	for attempt := 1; ; attempt++ {
		select {
		case <-retryCtx.Done():
			return
		case <-time.After(backoff):
		}

		err := d.coord.FirstRefresh(retryCtx)
		if err == nil {
			if err := p.registerDevice(runCtx, d.cfg, d.coord); err != nil {
				log.Error("Roku device setup failed", "error", err)
			}
			return
		}
		if retryCtx.Err() != nil {
			return
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxSetupRetryInterval {
			backoff = maxSetupRetryInterval
		}
		log.Debug("Roku device still not ready",
			"attempt", attempt,
			"next_retry", backoff.String(),
			"error", err,
		)
	}
}

// connectMQTT uses the host's bus or dials the configured broker with the
// bridge's last will.
func (p *Plugin) connectMQTT(opts Options) error {
	if opts.MQTT != nil {
		p.bus = opts.MQTT
		return nil
	}

	lwt, err := roku.LWTPayload(p.cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}

	conn, err := mqtt.Connect(p.cfg.MQTT, mqtt.Will{Topic: roku.HealthTopic(), Payload: lwt})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	conn.SetLogger(p.log.Component("mqtt"))

	p.mqttConn = conn
	p.bus = &mqttAdapter{client: conn}
	p.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", p.cfg.MQTT.Broker.Host, p.cfg.MQTT.Broker.Port),
		"client_id", p.cfg.MQTT.Broker.ClientID,
	)
	return nil
}

// connectInfluxDB opens the telemetry writer when enabled.
func (p *Plugin) connectInfluxDB() error {
	if !p.cfg.InfluxDB.Enabled {
		p.log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(p.cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		p.log.Error("InfluxDB write error", "error", err)
	})

	p.influx = client
	p.log.Info("InfluxDB connected",
		"url", p.cfg.InfluxDB.URL,
		"org", p.cfg.InfluxDB.Org,
		"bucket", p.cfg.InfluxDB.Bucket,
	)
	return nil
}

func (p *Plugin) startAPI(ctx context.Context, version string) error {
	srv, err := api.New(api.Deps{
		Config:  p.cfg.API,
		WS:      p.cfg.WebSocket,
		Logger:  p.log.Component("api"),
		Devices: p.bridge,
		Metrics: p.metrics,
		MQTT:    p.bus,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	p.api = srv
	return nil
}

// healthCheck verifies the connections the plugin owns.
func (p *Plugin) healthCheck(ctx context.Context) error {
	if p.mqttConn != nil {
		if err := p.mqttConn.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if p.influx != nil {
		if err := p.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if p.api != nil {
		if err := p.api.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}

// Unload stops the plugin in the reverse order of Setup. Safe to call
// multiple times.
func (p *Plugin) Unload() {
	p.unloadOnce.Do(func() {
		p.retryCancel()
		p.retries.Wait()

		if p.api != nil {
			p.log.Info("stopping API server")
			if err := p.api.Close(); err != nil {
				p.log.Error("error stopping API server", "error", err)
			}
		}

		if p.bridge != nil {
			p.log.Info("stopping Roku bridge")
			p.bridge.Stop()
		}

		p.entriesMu.Lock()
		entries := p.entries
		p.entriesMu.Unlock()
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			e.Coordinator.Stop()
			p.bridge.RemoveEntry(e.UniqueID())
		}

		if p.influx != nil {
			p.log.Info("closing InfluxDB connection")
			if err := p.influx.Close(); err != nil {
				p.log.Error("error closing InfluxDB", "error", err)
			}
		}

		if p.mqttConn != nil {
			p.log.Info("disconnecting from MQTT")
			if err := p.mqttConn.Close(); err != nil {
				p.log.Error("error closing MQTT", "error", err)
			}
		}

		p.cancel()
		p.log.Info("Roku integration stopped")
	})
}

// Serials returns the serial numbers of the set-up devices in the order
// they came up.
func (p *Plugin) Serials() []string {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	serials := make([]string, len(p.entries))
	for i, e := range p.entries {
		serials[i] = e.UniqueID()
	}
	return serials
}

// Execute dispatches a media player or remote command to a device. It is
// the path used by MQTT commands and the HTTP API.
func (p *Plugin) Execute(ctx context.Context, serial, entity, command string, params map[string]any) error {
	return p.bridge.Execute(ctx, serial, roku.Command{
		Name:       command,
		Entity:     entity,
		Parameters: params,
	})
}

// loadConfig returns the configuration from opts, validated.
func loadConfig(opts Options) (*config.Config, error) {
	if opts.Config == nil {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	cfg := *opts.Config
	cfg.Devices = append([]config.DeviceConfig(nil), opts.Config.Devices...)
	for i := range cfg.Devices {
		if cfg.Devices[i].Port == 0 {
			cfg.Devices[i].Port = config.DefaultDevicePort
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func newLogger(cfg *config.Config, opts Options) *logging.Logger {
	if opts.LogOutput != nil {
		return logging.NewWithWriter(cfg.Logging, opts.Version, opts.LogOutput)
	}
	return logging.New(cfg.Logging, opts.Version)
}

// mqttAdapter adapts the infrastructure MQTT client to roku.MQTTClient.
// Bridge handlers return nothing; the infrastructure client expects an error.
type mqttAdapter struct {
	client *mqtt.Client
}

// Publish implements roku.MQTTClient.
func (a *mqttAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements roku.MQTTClient.
func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, payload []byte) error {
		handler(t, payload)
		return nil
	})
}

// IsConnected implements roku.MQTTClient.
func (a *mqttAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
