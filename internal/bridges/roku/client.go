package roku

import "context"

// Client is the vendor device-control client for one Roku device.
//
// Implementations speak Roku ECP and are supplied by the host. Network
// failures should wrap ErrConnection; any other failure is treated as a
// response error.
type Client interface {
	// Update fetches a fresh snapshot. A full update also refreshes device
	// info, installed apps and channels; a partial one may reuse them from
	// the previous full update.
	Update(ctx context.Context, full bool) (*Device, error)

	// Remote sends a single remote key (e.g. "play", "home", "poweron").
	Remote(ctx context.Context, key string) error

	// Launch starts an app, optionally with deep-link parameters.
	Launch(ctx context.Context, appID string, params map[string]string) error

	// Tune switches the TV tuner to a channel number (e.g. "14.1").
	Tune(ctx context.Context, channel string) error

	// Search opens the search screen with keyword entered.
	Search(ctx context.Context, keyword string) error

	// AppIconURL returns the device URL serving an app's icon.
	AppIconURL(appID string) string
}

// Remote key names sent through Client.Remote.
const (
	KeyPowerOn    = "poweron"
	KeyPowerOff   = "poweroff"
	KeyPlay       = "play"
	KeyReverse    = "reverse"
	KeyForward    = "forward"
	KeyHome       = "home"
	KeyVolumeMute = "volume_mute"
	KeyVolumeUp   = "volume_up"
	KeyVolumeDown = "volume_down"
)
