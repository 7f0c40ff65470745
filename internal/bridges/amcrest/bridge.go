package amcrest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/audit"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// serviceTimeout bounds one service call across all targeted entities.
	serviceTimeout = 30 * time.Second

	// minTopicParts is the minimum number of parts in a service command topic.
	minTopicParts = 4
)

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// AuditRecorder stores one entry per handled service call.
// *audit.SQLiteRepository implements it.
type AuditRecorder interface {
	Create(ctx context.Context, entry *audit.Entry) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded camera configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Permissions decides who may call services. Defaults to
	// Config.Permissions(); nil there allows every call.
	Permissions PermissionChecker

	// Observer receives telemetry. Optional.
	Observer Observer

	// Audit records handled service calls. Optional.
	Audit AuditRecorder

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// RecheckInterval overrides how often unavailable cameras are probed.
	RecheckInterval time.Duration

	// NewAPI builds a camera API. Defaults to an HTTPClient.
	NewAPI func(CameraConfig) API
}

// Bridge connects the configured cameras to MQTT.
// It handles:
//   - Building a health-monitored API, entities and an event monitor per camera
//   - Receiving service calls via MQTT and dispatching them to entities
//   - Publishing events, entity state, availability and bridge health
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg         *Config
	mqtt        MQTTClient
	permissions PermissionChecker
	observer    Observer
	audit       AuditRecorder
	logger      Logger
	newAPI      func(CameraConfig) API
	recheck     time.Duration

	registry   *Registry
	dispatcher *Dispatcher
	services   *ServiceRegistry
	health     *HealthReporter

	entitiesMu sync.RWMutex
	entities   map[string][]Entity
	unsubs     []func()

	// Shutdown coordination
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	permissions := opts.Permissions
	if permissions == nil {
		permissions = opts.Config.Permissions()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	newAPI := opts.NewAPI
	if newAPI == nil {
		newAPI = defaultAPI
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:         opts.Config,
		mqtt:        opts.MQTTClient,
		permissions: permissions,
		observer:    observer,
		audit:       opts.Audit,
		logger:      opts.Logger,
		newAPI:      newAPI,
		recheck:     opts.RecheckInterval,
		registry:    NewRegistry(),
		dispatcher:  NewDispatcher(),
		services:    NewServiceRegistry(),
		entities:    make(map[string][]Entity),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Cameras:   b.cameraCounts,
		Logger:    opts.Logger,
	})

	return b, nil
}

func defaultAPI(cam CameraConfig) API {
	return NewHTTPClient(HTTPClientConfig{
		Name:     cam.Name,
		Host:     cam.Host,
		Port:     cam.Port,
		Username: cam.Username,
		Password: cam.Password,
	})
}

// Start builds every camera, registers the services and subscribes to
// service calls. It fails with ErrNoDevices when no camera is configured.
func (b *Bridge) Start(ctx context.Context) error {
	if len(b.cfg.Cameras) == 0 {
		return ErrNoDevices
	}

	var err error
	b.startOnce.Do(func() { err = b.start(ctx) })
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	for _, cam := range b.cfg.Cameras {
		if err := b.setupCamera(cam); err != nil {
			return fmt.Errorf("setting up camera %q: %w", cam.Name, err)
		}
	}

	sd := NewServiceDispatcher(b.registry, b.dispatcher, b.permissions)
	if err := sd.RegisterAll(b.services); err != nil {
		return fmt.Errorf("registering services: %w", err)
	}

	commandTopic := mqtt.Topics{}.AllServiceCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.HandleServiceCall); err != nil {
		return fmt.Errorf("subscribe to service calls: %w", err)
	}
	b.logInfo("subscribed to service calls", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "cameras", b.registry.Len(), "services", len(b.services.Services()))
	return nil
}

// setupCamera builds the device, its entities, poller and event monitor.
func (b *Bridge) setupCamera(cam CameraConfig) error {
	checker, err := NewChecker(CheckerOptions{
		Name:            cam.Name,
		API:             b.newAPI(cam),
		Notifier:        b.dispatcher,
		Observer:        b.observer,
		Logger:          b.logger,
		RecheckInterval: b.recheck,
	})
	if err != nil {
		return err
	}

	device := &Device{
		Name:            cam.Name,
		API:             checker,
		FFmpegArguments: strings.Fields(cam.FFmpegArguments),
		StreamSource:    cam.StreamSource,
		Resolution:      cam.ResolutionIndex(),
		ControlLight:    cam.ControlLight,
		Channel:         cam.Channel,
		Config:          cam,
	}
	if cam.Authentication == DefaultAuthentication {
		device.Authentication = &BasicAuth{Username: cam.Username, Password: cam.Password}
	}
	if err := b.registry.Add(device); err != nil {
		checker.Close()
		return err
	}

	entities := b.buildEntities(device)
	var unsubs []func()
	for _, e := range entities {
		b.registry.AddEntity(e.Platform(), e.EntityID())
		unsubs = append(unsubs, e.Subscribe(b.dispatcher)...)
	}
	unsubs = append(unsubs, b.dispatcher.Subscribe(ServiceSignal("update", cam.Name), b.availabilityHandler(checker)))

	p := newPoller(device, entities, cam.ScanInterval, b.logger)
	unsubs = append(unsubs, p.Subscribe(b.dispatcher))

	monitor := NewEventMonitor(EventMonitorOptions{
		Checker:    checker,
		Dispatcher: b.dispatcher,
		Codes:      cam.EventCodes(),
		Publisher:  b.mqtt,
		Observer:   b.observer,
		Logger:     b.logger,
	})

	b.entitiesMu.Lock()
	b.entities[cam.Name] = entities
	b.unsubs = append(b.unsubs, unsubs...)
	b.entitiesMu.Unlock()

	b.publishAvailability(cam.Name, true, "", 0)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		p.Run(b.ctx)
	}()
	go func() {
		defer b.wg.Done()
		monitor.Run(b.ctx)
	}()

	b.logInfo("camera configured",
		"camera", cam.Name,
		"host", cam.Host,
		"entities", len(entities),
		"event_codes", cam.EventCodes())
	return nil
}

func (b *Bridge) buildEntities(device *Device) []Entity {
	cam := device.Config
	entities := []Entity{NewCamera(device, b.mqtt, b.logger)}

	for _, desc := range BinarySensorDescriptions {
		if slices.Contains(cam.BinarySensors, desc.Key) {
			entities = append(entities, NewBinarySensor(desc, device, b.mqtt, b.logger))
		}
	}
	for _, desc := range SensorDescriptions {
		if slices.Contains(cam.Sensors, desc.Key) {
			entities = append(entities, NewSensor(desc, device, b.mqtt, b.logger))
		}
	}
	for _, desc := range SwitchDescriptions {
		if slices.Contains(cam.Switches, desc.Key) {
			entities = append(entities, NewSwitch(desc, device, b.mqtt, b.logger))
		}
	}
	return entities
}

// availabilityHandler publishes the camera's availability on every transition.
func (b *Bridge) availabilityHandler(checker *Checker) SignalHandler {
	return func(_ context.Context, args ...any) error {
		available, ok := firstBool(args)
		if !ok {
			available = checker.Available()
		}
		reason := ReasonBackOnline
		if !available {
			reason = ReasonTooManyError
			if checker.LoginFailed() {
				reason = ReasonLoginFailed
			}
		}
		b.publishAvailability(checker.Name(), available, reason, checker.ErrorCount())
		//nolint:errcheck // Health is republished on the next tick if this fails
		b.health.PublishNow()
		return nil
	}
}

func firstBool(args []any) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	v, ok := args[0].(bool)
	return v, ok
}

func (b *Bridge) publishAvailability(camera string, available bool, reason string, errorCount int) {
	payload, err := json.Marshal(NewAvailabilityMessage(camera, available, reason, errorCount))
	if err != nil {
		b.logError("failed to marshal availability", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.CameraAvailability(camera), payload, 1, true); err != nil {
		b.logDebug("failed to publish availability", "camera", camera, "error", err)
	}
}

// Stop cancels event monitors and pollers, closes every camera's health
// monitor and publishes a stopping health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.wg.Wait()

		b.entitiesMu.Lock()
		unsubs := b.unsubs
		b.unsubs = nil
		b.entitiesMu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}

		for _, dev := range b.registry.Devices() {
			dev.API.Close()
		}

		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// HandleServiceCall processes a service call received on
// graylogic/command/amcrest/{service} and publishes its acknowledgement.
func (b *Bridge) HandleServiceCall(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid service topic %q", topic)
	}
	service := parts[len(parts)-1]

	msg, err := ParseServiceCall(payload)
	if err != nil {
		b.finish(msg, NewAckError(msg, service, nil, ErrCodeInvalidParameters, err.Error()))
		return err
	}

	target, err := ParseEntityTarget(msg.EntityID)
	if err != nil {
		b.finish(msg, NewAckError(msg, service, nil, ackCode(err), err.Error()))
		return err
	}

	b.logInfo("received service call", "call_id", msg.ID, "service", service, "user_id", msg.UserID)

	ctx, cancel := context.WithTimeout(b.ctx, serviceTimeout)
	defer cancel()

	entities, err := b.services.Call(ctx, ServiceCall{
		ID:      msg.ID,
		Service: service,
		Target:  target,
		UserID:  msg.UserID,
		Data:    msg.Data,
	})
	if err != nil {
		b.finish(msg, NewAckError(msg, service, entities, ackCode(err), err.Error()))
		return fmt.Errorf("service %s: %w", service, err)
	}

	b.finish(msg, NewAckMessage(msg, service, entities))
	return nil
}

// finish publishes the acknowledgement and records the call in the audit trail.
func (b *Bridge) finish(msg ServiceCallMessage, ack AckMessage) {
	b.publishAck(ack)
	if b.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:    audit.ActionServiceCall,
		Service:   ack.Service,
		EntityIDs: ack.Entities,
		UserID:    msg.UserID,
		Source:    audit.SourceMQTT,
		Result:    string(ack.Status),
		Details:   map[string]any{"call_id": ack.CallID},
	}
	if ack.Error != nil {
		entry.Result = ack.Error.Code
		entry.Details["error"] = ack.Error.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := b.audit.Create(ctx, entry); err != nil {
		b.logError("failed to record service call", err)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.ServiceAck(ack.Service), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// Registry returns the camera registry.
func (b *Bridge) Registry() *Registry { return b.registry }

// Dispatcher returns the bridge's signal bus.
func (b *Bridge) Dispatcher() *Dispatcher { return b.dispatcher }

// Entities returns the entities built for camera.
func (b *Bridge) Entities(camera string) []Entity {
	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()
	return append([]Entity(nil), b.entities[camera]...)
}

// CameraStatuses implements metrics.CameraLister.
func (b *Bridge) CameraStatuses() []metrics.CameraStatus {
	devices := b.registry.Devices()
	statuses := make([]metrics.CameraStatus, 0, len(devices))
	for _, dev := range devices {
		statuses = append(statuses, metrics.CameraStatus{
			Name:        dev.Name,
			Host:        dev.Config.Host,
			Available:   dev.API.Available(),
			Errors:      dev.API.ErrorCount(),
			LoginFailed: dev.API.LoginFailed(),
		})
	}
	return statuses
}

// Ready reports an error unless every camera is available.
func (b *Bridge) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var unavailable []string
	for _, dev := range b.registry.Devices() {
		if !dev.API.Available() {
			unavailable = append(unavailable, dev.Name)
		}
	}
	if len(unavailable) > 0 {
		return fmt.Errorf("%w: unavailable: %s", ErrDevice, strings.Join(unavailable, ", "))
	}
	return nil
}

func (b *Bridge) cameraCounts() (managed, available int) {
	for _, dev := range b.registry.Devices() {
		managed++
		if dev.API.Available() {
			available++
		}
	}
	return managed, available
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}
