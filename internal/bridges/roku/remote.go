package roku

import "context"

// RemoteState is the derived remote entity state.
type RemoteState struct {
	IsOn      bool `json:"is_on"`
	Available bool `json:"available"`
}

// Remote is the remote-control entity of one Roku device.
type Remote struct {
	entity
}

func newRemote(opts entityOptions) *Remote {
	return &Remote{entity: newEntity(opts)}
}

// Status derives the remote state from the current snapshot.
func (r *Remote) Status() RemoteState {
	return RemoteState{IsOn: r.IsOn(), Available: r.Available()}
}

// IsOn reports whether the device is out of standby.
func (r *Remote) IsOn() bool {
	d := r.source.Data()
	return d != nil && !d.State.Standby
}

// TurnOn powers the device on.
func (r *Remote) TurnOn(ctx context.Context) {
	r.run("remote_turn_on", r.remoteAndRefresh(ctx, KeyPowerOn))
}

// TurnOff puts the device in standby.
func (r *Remote) TurnOff(ctx context.Context) {
	r.run("remote_turn_off", r.remoteAndRefresh(ctx, KeyPowerOff))
}

// SendCommand sends keys in order, repeats times, then requests one
// refresh. A repeat count below one sends the keys once.
func (r *Remote) SendCommand(ctx context.Context, keys []string, repeats int) {
	if repeats < 1 {
		repeats = 1
	}

	r.run("send_command", func() error {
		for i := 0; i < repeats; i++ {
			for _, key := range keys {
				if err := r.client.Remote(ctx, key); err != nil {
					return err
				}
			}
		}
		r.requestRefresh(ctx)
		return nil
	})
}
