package roku

import "time"

// Device is one poll's snapshot of a Roku device.
//
// A Device is never modified after the Client returns it; the coordinator
// replaces it wholesale on the next poll.
type Device struct {
	Info  Info
	State State

	// App is the foreground app, nil when the device did not report one.
	App *Application

	// Apps lists installed apps.
	Apps []Application

	// Channel is the tuned TV channel, nil outside the TV tuner input.
	Channel *Channel

	// Channels lists TV channels known to the tuner (TV devices only).
	Channels []Channel

	// Media describes the active playback session, nil when idle.
	Media *MediaState
}

// Info is the static device description.
type Info struct {
	Name           string
	SerialNumber   string
	DeviceType     string
	Brand          string
	ModelName      string
	ModelNumber    string
	Version        string
	DeviceLocation string
}

// DeviceTypeTV is Info.DeviceType for Roku TVs (as opposed to sticks and boxes).
const DeviceTypeTV = "tv"

// State is the device power state.
type State struct {
	Standby bool
	At      time.Time
}

// Application is an installed or running app.
type Application struct {
	AppID       string
	Name        string
	Version     string
	Screensaver bool
}

// Channel is a TV tuner channel.
type Channel struct {
	Number       string
	Name         string
	ProgramTitle string
}

// MediaState is the active playback session. Duration and Position are in
// seconds; At is when Position was sampled.
type MediaState struct {
	Paused   bool
	Live     bool
	Duration int
	Position int
	At       time.Time
}
