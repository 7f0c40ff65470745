package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the camera bridge.
const (
	MeasurementAvailability = "camera_availability"
	MeasurementEvent        = "camera_event"
	MeasurementCommand      = "camera_command"
)

// WriteAvailability records a camera availability transition.
//
// Example:
//
//	client.WriteAvailability("front-door", false, 6)
func (c *Client) WriteAvailability(camera string, available bool, errorCount int) {
	c.writePoint(availabilityPoint(camera, available, errorCount, time.Now()))
}

// WriteEvent records an event received from a camera event stream.
func (c *Client) WriteEvent(camera, code string, start bool) {
	c.writePoint(eventPoint(camera, code, start, time.Now()))
}

// WriteCommand records the outcome and duration of a camera API command.
func (c *Client) WriteCommand(camera, command string, duration time.Duration, ok bool) {
	c.writePoint(commandPoint(camera, command, duration, ok, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func availabilityPoint(camera string, available bool, errorCount int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAvailability,
		map[string]string{"camera": camera},
		map[string]any{
			"available": available,
			"errors":    errorCount,
		},
		ts,
	)
}

func eventPoint(camera, code string, start bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEvent,
		map[string]string{"camera": camera, "code": code},
		map[string]any{"start": start},
		ts,
	)
}

func commandPoint(camera, command string, duration time.Duration, ok bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{"camera": camera, "command": command},
		map[string]any{
			"duration_ms": float64(duration) / float64(time.Millisecond),
			"ok":          ok,
		},
		ts,
	)
}
