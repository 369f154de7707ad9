package roku

import "context"

// DataSource is what entities need from their coordinator.
type DataSource interface {
	Data() *Device
	LastUpdateSuccess() bool
	RequestRefresh(ctx context.Context) error
}

// DeviceInfo describes the physical device an entity belongs to.
type DeviceInfo struct {
	Identifier    string `json:"identifier"`
	Name          string `json:"name"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	Model         string `json:"model,omitempty"`
	SWVersion     string `json:"sw_version,omitempty"`
	SuggestedArea string `json:"suggested_area,omitempty"`
}

// entityOptions holds what both entity kinds are built from.
type entityOptions struct {
	UniqueID string
	Source   DataSource
	Client   Client
	Logger   Logger
	Metrics  CommandRecorder
}

// entity is the shared base of MediaPlayer and Remote.
type entity struct {
	uniqueID string
	name     string
	source   DataSource
	client   Client
	logger   Logger
	metrics  CommandRecorder
}

func newEntity(opts entityOptions) entity {
	e := entity{
		uniqueID: opts.UniqueID,
		source:   opts.Source,
		client:   opts.Client,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if d := opts.Source.Data(); d != nil {
		e.name = d.Info.Name
	}
	return e
}

// UniqueID returns the device serial number the entity is keyed by.
func (e *entity) UniqueID() string {
	return e.uniqueID
}

// Name returns the device name captured when the entity was created.
func (e *entity) Name() string {
	return e.name
}

// Available reports whether the coordinator's last poll succeeded.
func (e *entity) Available() bool {
	return e.source.LastUpdateSuccess()
}

// DeviceInfo returns the device description from the current snapshot.
func (e *entity) DeviceInfo() DeviceInfo {
	return deviceInfo(e.uniqueID, e.source.Data())
}

func deviceInfo(uniqueID string, d *Device) DeviceInfo {
	info := DeviceInfo{Identifier: uniqueID}
	if d == nil {
		return info
	}
	info.Name = d.Info.Name
	info.Manufacturer = d.Info.Brand
	info.Model = d.Info.ModelName
	info.SWVersion = d.Info.Version
	info.SuggestedArea = d.Info.DeviceLocation
	return info
}

// run counts command and executes op under guard.
func (e *entity) run(command string, op func() error) {
	if e.metrics != nil {
		e.metrics.IncCommand(command)
	}
	guard(e.logger, e.metrics, e.Available, op)
}

// remoteAndRefresh returns an op sending key and then requesting a refresh.
func (e *entity) remoteAndRefresh(ctx context.Context, key string) func() error {
	return func() error {
		if err := e.client.Remote(ctx, key); err != nil {
			return err
		}
		e.requestRefresh(ctx)
		return nil
	}
}

// requestRefresh asks the coordinator for a new snapshot. Poll failures are
// logged and tracked by the coordinator, not by the command that caused them.
func (e *entity) requestRefresh(ctx context.Context) {
	//nolint:errcheck // Coordinator tracks poll failures
	e.source.RequestRefresh(ctx)
}

func (e *entity) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *entity) logError(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}
