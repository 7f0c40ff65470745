// Package influxdb records camera bridge time series in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library and writes:
//   - camera_availability: online/offline transitions from the health monitor
//   - camera_event: events received from camera event streams
//   - camera_command: outcome and duration of camera API commands
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time-series history is optional
//	}
//	defer client.Close()
//
//	client.WriteAvailability("front-door", false, 6)
//
// Writes are non-blocking and batched (batch_size, flush_interval); failures
// are reported through SetOnError. Connection and health check errors are
// returned directly.
package influxdb
