package amcrest

import (
	"context"
	"encoding/json"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

// Platform is the kind of entity.
type Platform string

const (
	PlatformCamera       Platform = "camera"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSensor       Platform = "sensor"
	PlatformSwitch       Platform = "switch"
)

// EntityID builds "<platform>.<slug>" from a camera name and an optional
// key, e.g. EntityID(PlatformBinarySensor, "Front Door", "motion_detected")
// is "binary_sensor.front_door_motion_detected".
func EntityID(platform Platform, camera, key string) string {
	name := camera
	if key != "" {
		name += " " + key
	}
	return string(platform) + "." + slugify(name)
}

func slugify(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Entity is a camera-backed entity: the camera itself, a binary sensor,
// a sensor or a switch.
type Entity interface {
	EntityID() string
	Platform() Platform

	// Polled reports whether Update runs every scan interval. Entities
	// that are not polled update on events and availability changes only.
	Polled() bool

	// Subscribe connects the entity to its signals and returns the
	// functions that disconnect it.
	Subscribe(d *Dispatcher) []func()

	// Update refreshes state from the camera and publishes it.
	Update(ctx context.Context) error

	// State returns a copy of the last published state.
	State() map[string]any
}

// entityBase holds what every entity shares: identity, the device it
// talks to and the retained state it publishes.
type entityBase struct {
	id        string
	platform  Platform
	device    *Device
	publisher Publisher
	logger    Logger

	mu    sync.Mutex
	state map[string]any
}

func newEntityBase(platform Platform, key string, device *Device, publisher Publisher, logger Logger) *entityBase {
	return &entityBase{
		id:        EntityID(platform, device.Name, key),
		platform:  platform,
		device:    device,
		publisher: publisher,
		logger:    logger,
		state:     map[string]any{},
	}
}

func (e *entityBase) EntityID() string   { return e.id }
func (e *entityBase) Platform() Platform { return e.platform }

func (e *entityBase) State() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.state)
}

// setState merges changes into the state and publishes the result.
func (e *entityBase) setState(changes map[string]any) {
	e.mu.Lock()
	maps.Copy(e.state, changes)
	state := maps.Clone(e.state)
	e.mu.Unlock()

	e.publish(state)
}

// publishState republishes the current state, e.g. after an availability change.
func (e *entityBase) publishState() {
	e.publish(e.State())
}

func (e *entityBase) publish(state map[string]any) {
	if e.publisher == nil {
		return
	}
	msg := NewStateMessage(e.id, e.device.Name, e.device.API.Available(), state)
	payload, err := json.Marshal(msg)
	if err == nil {
		err = e.publisher.Publish(mqtt.Topics{}.CameraState(e.id), payload, 1, true)
	}
	if err != nil && e.logger != nil {
		e.logger.Debug("failed to publish entity state", "entity", e.id, "error", err)
	}
}

// poller refreshes a camera's entities every scan interval and whenever
// the camera's availability changes.
type poller struct {
	device   *Device
	entities []Entity
	interval time.Duration
	refresh  chan struct{}
	logger   Logger
}

func newPoller(device *Device, entities []Entity, interval time.Duration, logger Logger) *poller {
	return &poller{
		device:   device,
		entities: entities,
		interval: interval,
		refresh:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Subscribe requests a full refresh on every availability change.
func (p *poller) Subscribe(d *Dispatcher) func() {
	return d.Subscribe(ServiceSignal("update", p.device.Name), func(context.Context, ...any) error {
		p.requestRefresh()
		return nil
	})
}

func (p *poller) requestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run updates every entity once, then polls until ctx is cancelled.
func (p *poller) Run(ctx context.Context) {
	p.update(ctx, true)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.update(ctx, false)
		case <-p.refresh:
			p.update(ctx, true)
		}
	}
}

func (p *poller) update(ctx context.Context, all bool) {
	for _, e := range p.entities {
		if ctx.Err() != nil {
			return
		}
		if !all && !e.Polled() {
			continue
		}
		if err := e.Update(ctx); err != nil && p.logger != nil && ctx.Err() == nil {
			p.logger.Debug("entity update failed", "entity", e.EntityID(), "error", err)
		}
	}
}
