package roku

import "fmt"

// Entry is one set-up Roku device: its coordinator and both entities.
type Entry struct {
	// ID is the configured entry name.
	ID   string
	Host string

	Coordinator *Coordinator
	MediaPlayer *MediaPlayer
	Remote      *Remote

	removeListener func()
}

// EntryOptions holds what an Entry is built from.
type EntryOptions struct {
	ID   string
	Host string

	// Coordinator must have completed FirstRefresh.
	Coordinator *Coordinator

	// Images fetches browse images. Optional.
	Images ImageFetcher

	// Metrics counts commands. Optional.
	Metrics CommandRecorder

	// Logger is optional.
	Logger Logger
}

// NewEntry creates the entities of a device after its first refresh. The
// entities are keyed by the serial number from that snapshot.
func NewEntry(opts EntryOptions) (*Entry, error) {
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	d := opts.Coordinator.Data()
	if d == nil {
		return nil, fmt.Errorf("%w: %s has no data", ErrNotReady, opts.ID)
	}
	if d.Info.SerialNumber == "" {
		return nil, fmt.Errorf("%w: %s reported no serial number", ErrNotReady, opts.ID)
	}

	eo := entityOptions{
		UniqueID: d.Info.SerialNumber,
		Source:   opts.Coordinator,
		Client:   opts.Coordinator.Client(),
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	}

	return &Entry{
		ID:          opts.ID,
		Host:        opts.Host,
		Coordinator: opts.Coordinator,
		MediaPlayer: newMediaPlayer(eo, opts.Images),
		Remote:      newRemote(eo),
	}, nil
}

// UniqueID returns the device serial number.
func (e *Entry) UniqueID() string {
	return e.MediaPlayer.UniqueID()
}
