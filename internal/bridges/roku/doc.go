// Package roku implements the Roku media bridge for Gray Logic.
//
// The package exposes each Roku streaming device as two entities, a media
// player and a remote, and connects them to Gray Logic Core over MQTT.
// The Roku ECP protocol itself is not implemented here: the host supplies a
// Client that talks to the device, and this package maps its snapshots to
// entity state and entity commands to Client calls.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  Client  ┌────────────┐
//	│   Gray Logic    │   MQTT   │   Roku Bridge   │◄────────►│ Roku (ECP) │
//	│      Core       │◄────────►│   (this pkg)    │          └────────────┘
//	└─────────────────┘          └─────────────────┘
//
// Per configured device there is one Entry:
//
//   - Coordinator polls Client.Update every scan interval (full update every
//     15 minutes) and swaps the resulting Device snapshot in atomically.
//   - MediaPlayer derives playback state, source list and media metadata
//     from the snapshot and translates media commands into Client calls.
//   - Remote exposes power state and raw remote-key sending.
//
// Every command runs through guard, which classifies Client failures as
// connection or response errors, logs them while the entity is available,
// and swallows them. Commands that change device state finish with a
// coordinator refresh so the new state is published promptly.
//
// # Topics
//
//	graylogic/command/roku/{serial}    Core → bridge commands
//	graylogic/ack/roku/{serial}        command acknowledgments
//	graylogic/state/roku/{serial}      retained derived state, on change
//	graylogic/request/roku/{id}        read_state, read_all, refresh, browse_media
//	graylogic/response/roku/{id}       request responses
//	graylogic/health/roku              retained bridge health (and LWT)
//	graylogic/discovery/roku           devices set up by this bridge
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Overlapping commands for
// the same device are not serialised; their Client calls may interleave.
package roku
