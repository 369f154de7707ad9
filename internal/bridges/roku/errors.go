package roku

import "errors"

// Domain errors for the Roku bridge package.
var (
	// ErrConnection marks a transport failure talking to the device.
	// Client implementations wrap their network errors with it so guard
	// can tell them apart from response errors.
	ErrConnection = errors.New("roku: error communicating with device")

	// ErrResponse marks a malformed or unexpected device response.
	ErrResponse = errors.New("roku: invalid response from device")

	// ErrNotReady is returned when a device cannot be set up because its
	// first refresh failed.
	ErrNotReady = errors.New("roku: device not ready")

	// ErrMediaNotFound is returned when a browse path does not resolve.
	ErrMediaNotFound = errors.New("roku: media not found")

	// ErrDeviceNotFound is returned when a command or request names a
	// device this bridge has not set up.
	ErrDeviceNotFound = errors.New("roku: device not configured")

	// ErrUnknownCommand is returned for commands neither entity supports.
	ErrUnknownCommand = errors.New("roku: unknown command")

	// ErrInvalidParameters is returned when a command is missing a required
	// parameter or carries one of the wrong type.
	ErrInvalidParameters = errors.New("roku: invalid parameters")
)
