// Package influxdb records Roku playback telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The bridge writes one
// point per observed state change, tagged with the device serial number, so
// viewing history can be charted without the bridge keeping any state.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePoint("media_player", tags, fields)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are reported through
// SetOnError.
package influxdb
