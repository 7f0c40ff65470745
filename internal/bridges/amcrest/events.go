package amcrest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

// cmdEventAttach subscribes to the camera's event stream.
const cmdEventAttach = "eventManager.cgi?action=attach&codes=[%s]"

// maxEventLine bounds a single event record, data included.
const maxEventLine = 256 * 1024

// Event is one record from the camera's event stream.
type Event struct {
	// Code is the event code, e.g. "VideoMotion".
	Code string

	// Payload holds the remaining fields: "action", "index" and, when
	// present, "data" decoded from JSON.
	Payload map[string]any
}

// Start reports whether the event marks the start of an activity, i.e. it
// carries action=start (case-insensitive).
func (e Event) Start() bool {
	for key, val := range e.Payload {
		if strings.EqualFold(key, "action") && strings.EqualFold(fmt.Sprint(val), "start") {
			return true
		}
	}
	return false
}

// EventActions attaches to the camera's event stream for codes ("All" for
// everything) and calls fn for each event until the stream ends, fn
// returns an error, or ctx is cancelled.
func (c *Checker) EventActions(ctx context.Context, codes string, fn func(Event) error) error {
	body, err := c.Stream(ctx, fmt.Sprintf(cmdEventAttach, codes))
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)

	var pending strings.Builder
	depth := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if pending.Len() == 0 {
			if !strings.HasPrefix(line, "Code=") {
				// Multipart boundaries, headers and heartbeats.
				continue
			}
		} else {
			pending.WriteByte('\n')
		}
		pending.WriteString(line)
		depth += braceDepth(line)
		if depth > 0 {
			continue
		}

		event, err := parseEvent(pending.String())
		pending.Reset()
		depth = 0
		if err != nil {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		var de *DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &DeviceError{Camera: c.name, Command: commandName(cmdEventAttach), Err: err}
	}
	return nil
}

// braceDepth returns the net number of JSON objects opened on line.
func braceDepth(line string) int {
	return strings.Count(line, "{") - strings.Count(line, "}")
}

// parseEvent parses "Code=X;action=Start;index=0[;data={...}]".
func parseEvent(record string) (Event, error) {
	head, data, hasData := strings.Cut(record, ";data=")

	event := Event{Payload: make(map[string]any)}
	for _, field := range strings.Split(head, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		if key == "Code" {
			event.Code = val
			continue
		}
		event.Payload[key] = val
	}
	if event.Code == "" {
		return Event{}, fmt.Errorf("%w: event without code: %q", ErrUnexpectedResponse, record)
	}

	if hasData {
		var decoded any
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			event.Payload["data"] = strings.TrimSpace(data)
		} else {
			event.Payload["data"] = decoded
		}
	}
	return event, nil
}

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventMonitorOptions configures an EventMonitor.
type EventMonitorOptions struct {
	Checker    *Checker
	Dispatcher *Dispatcher

	// Codes are the event codes forwarded as ServiceSignal("event", ...).
	// Every event is published on MQTT regardless.
	Codes []string

	Publisher Publisher
	Observer  Observer
	Logger    Logger

	// RetryInterval is the initial pause before re-attaching after the
	// stream ends. Default: 1 second.
	RetryInterval time.Duration
}

// EventMonitor keeps a camera's event stream attached while the camera is
// available and fans its events out to MQTT and the dispatcher.
type EventMonitor struct {
	checker    *Checker
	dispatcher *Dispatcher
	codes      map[string]struct{}
	publisher  Publisher
	observer   Observer
	logger     Logger
	retry      *backoff.ExponentialBackOff
}

// NewEventMonitor creates an EventMonitor. Call Run to start it.
func NewEventMonitor(opts EventMonitorOptions) *EventMonitor {
	codes := make(map[string]struct{}, len(opts.Codes))
	for _, code := range opts.Codes {
		codes[code] = struct{}{}
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	if opts.RetryInterval > 0 {
		retry.InitialInterval = opts.RetryInterval
	}
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &EventMonitor{
		checker:    opts.Checker,
		dispatcher: opts.Dispatcher,
		codes:      codes,
		publisher:  opts.Publisher,
		observer:   observer,
		logger:     opts.Logger,
		retry:      retry,
	}
}

// Run blocks until ctx is cancelled.
func (m *EventMonitor) Run(ctx context.Context) {
	name := m.checker.Name()
	for {
		if err := m.checker.WaitAvailable(ctx); err != nil {
			return
		}

		err := m.checker.EventActions(ctx, "All", func(ev Event) error {
			m.handle(ctx, ev)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil && m.logger != nil {
			m.logger.Warn("error while processing camera events", "camera", name, "error", err)
		}

		timer := time.NewTimer(m.retry.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *EventMonitor) handle(ctx context.Context, ev Event) {
	name := m.checker.Name()
	m.retry.Reset()

	start := ev.Start()
	m.observer.EventReceived(name, ev.Code, start, ev.Payload)

	if m.publisher != nil {
		payload, err := json.Marshal(NewEventMessage(name, ev))
		if err == nil {
			err = m.publisher.Publish(mqtt.Topics{}.CameraEvent(name), payload, 1, false)
		}
		if err != nil && m.logger != nil {
			m.logger.Debug("failed to publish camera event", "camera", name, "event", ev.Code, "error", err)
		}
	}

	if _, ok := m.codes[ev.Code]; !ok {
		return
	}
	signal := ServiceSignal("event", name, ev.Code)
	if m.logger != nil {
		m.logger.Debug("sending signal", "signal", signal, "start", start)
	}
	if err := m.dispatcher.Send(ctx, signal, start); err != nil && m.logger != nil {
		m.logger.Warn("event handler failed", "signal", signal, "error", err)
	}
}
