package amcrest

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/api"
)

// Observer receives telemetry from checkers and event monitors.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// CommandCompleted is called after every camera command.
	CommandCompleted(camera, command string, elapsed time.Duration, err error)

	// ErrorCountChanged is called whenever the consecutive error count is updated.
	ErrorCountChanged(camera string, count int)

	// AvailabilityChanged is called on every availability transition.
	AvailabilityChanged(camera string, available bool, reason string, errorCount int)

	// EventReceived is called for every event read from a camera stream.
	EventReceived(camera, code string, start bool, payload map[string]any)
}

type nopObserver struct{}

func (nopObserver) CommandCompleted(string, string, time.Duration, error) {}
func (nopObserver) ErrorCountChanged(string, int)                         {}
func (nopObserver) AvailabilityChanged(string, bool, string, int)         {}
func (nopObserver) EventReceived(string, string, bool, map[string]any)    {}

// MetricsRecorder is the Prometheus side of Telemetry.
// *metrics.Metrics implements it.
type MetricsRecorder interface {
	ObserveCommand(camera, command string, err error)
	SetErrorCount(camera string, count int)
	SetAvailable(camera string, available bool)
	ObserveTransition(camera string, available bool)
	ObserveEvent(camera, code string)
}

// PointWriter is the InfluxDB side of Telemetry.
// *influxdb.Client implements it.
type PointWriter interface {
	WriteAvailability(camera string, available bool, errorCount int)
	WriteEvent(camera, code string, start bool)
	WriteCommand(camera, command string, duration time.Duration, ok bool)
}

// HistoryWriter is the SQLite side of Telemetry.
// *HistoryRepository implements it.
type HistoryWriter interface {
	RecordAvailability(ctx context.Context, rec *AvailabilityRecord) error
	RecordEvent(ctx context.Context, rec *EventRecord) error
}

// EventStreamer is the live stream side of Telemetry.
// *api.Hub implements it.
type EventStreamer interface {
	Broadcast(channel string, payload any)
}

// historyTimeout bounds a single history insert.
const historyTimeout = 2 * time.Second

// Telemetry fans observations out to Prometheus, InfluxDB, the SQLite
// history and live WebSocket clients. Every sink is optional.
type Telemetry struct {
	Metrics MetricsRecorder
	Points  PointWriter
	History HistoryWriter
	Stream  EventStreamer
	Logger  Logger
}

// CommandCompleted implements Observer.
func (t *Telemetry) CommandCompleted(camera, command string, elapsed time.Duration, err error) {
	if t.Metrics != nil {
		t.Metrics.ObserveCommand(camera, command, err)
	}
	if t.Points != nil {
		t.Points.WriteCommand(camera, command, elapsed, err == nil)
	}
}

// ErrorCountChanged implements Observer.
func (t *Telemetry) ErrorCountChanged(camera string, count int) {
	if t.Metrics != nil {
		t.Metrics.SetErrorCount(camera, count)
	}
}

// AvailabilityChanged implements Observer.
func (t *Telemetry) AvailabilityChanged(camera string, available bool, reason string, errorCount int) {
	if t.Metrics != nil {
		t.Metrics.SetAvailable(camera, available)
		t.Metrics.ObserveTransition(camera, available)
	}
	if t.Points != nil {
		t.Points.WriteAvailability(camera, available, errorCount)
	}
	if t.Stream != nil {
		t.Stream.Broadcast(api.ChannelCameraAvailability, map[string]any{
			"camera":    camera,
			"available": available,
			"reason":    reason,
			"errors":    errorCount,
		})
	}
	if t.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		rec := &AvailabilityRecord{Camera: camera, Available: available, Reason: reason, Errors: errorCount}
		if err := t.History.RecordAvailability(ctx, rec); err != nil {
			t.logWarn("failed to record availability", "camera", camera, "error", err)
		}
	}
}

// EventReceived implements Observer.
func (t *Telemetry) EventReceived(camera, code string, start bool, payload map[string]any) {
	if t.Metrics != nil {
		t.Metrics.ObserveEvent(camera, code)
	}
	if t.Points != nil {
		t.Points.WriteEvent(camera, code, start)
	}
	if t.Stream != nil {
		t.Stream.Broadcast(api.ChannelCameraEvent, map[string]any{
			"camera":  camera,
			"event":   code,
			"start":   start,
			"payload": payload,
		})
	}
	if t.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		rec := &EventRecord{Camera: camera, Code: code, Payload: payload, Start: start}
		if err := t.History.RecordEvent(ctx, rec); err != nil {
			t.logWarn("failed to record event", "camera", camera, "event", code, "error", err)
		}
	}
}

func (t *Telemetry) logWarn(msg string, keysAndValues ...any) {
	if t.Logger != nil {
		t.Logger.Warn(msg, keysAndValues...)
	}
}
