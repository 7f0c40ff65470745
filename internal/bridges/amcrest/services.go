package amcrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entity match keywords accepted in entity_id.
const (
	EntityMatchAll  = "all"
	EntityMatchNone = "none"
)

// Service names.
const (
	ServiceEnableRecording        = "enable_recording"
	ServiceDisableRecording       = "disable_recording"
	ServiceEnableAudio            = "enable_audio"
	ServiceDisableAudio           = "disable_audio"
	ServiceEnableMotionRecording  = "enable_motion_recording"
	ServiceDisableMotionRecording = "disable_motion_recording"
	ServiceGotoPreset             = "goto_preset"
	ServiceSetColorBW             = "set_color_bw"
	ServiceStartTour              = "start_tour"
	ServiceStopTour               = "stop_tour"
	ServicePTZControl             = "ptz_control"
	ServiceTurnOn                 = "turn_on"
	ServiceTurnOff                = "turn_off"
)

// Default and bounds for ptz_control travel_time, in seconds.
const (
	DefaultTravelTime = 0.2
	MaxTravelTime     = 1.0
)

// ParamKind is the type a service parameter is coerced to.
type ParamKind int

const (
	// ParamInt coerces to int.
	ParamInt ParamKind = iota
	// ParamString coerces to string.
	ParamString
	// ParamSeconds coerces a number of seconds to time.Duration.
	ParamSeconds
)

// Param describes one service parameter.
type Param struct {
	Name     string
	Kind     ParamKind
	Required bool

	// Default is used when an optional parameter is missing.
	Default any

	// Check validates the coerced value.
	Check func(v any) error
}

// ServiceSpec describes a service: its parameters, in the order they are
// passed to entity handlers, and the entity platforms it targets.
type ServiceSpec struct {
	Name      string
	Params    []Param
	Platforms []Platform
}

var cameraOnly = []Platform{PlatformCamera}

// ServiceSpecs is the table of services the bridge registers.
var ServiceSpecs = map[string]ServiceSpec{
	ServiceEnableRecording:        {Name: ServiceEnableRecording, Platforms: cameraOnly},
	ServiceDisableRecording:       {Name: ServiceDisableRecording, Platforms: cameraOnly},
	ServiceEnableAudio:            {Name: ServiceEnableAudio, Platforms: cameraOnly},
	ServiceDisableAudio:           {Name: ServiceDisableAudio, Platforms: cameraOnly},
	ServiceEnableMotionRecording:  {Name: ServiceEnableMotionRecording, Platforms: cameraOnly},
	ServiceDisableMotionRecording: {Name: ServiceDisableMotionRecording, Platforms: cameraOnly},
	ServiceGotoPreset: {
		Name:      ServiceGotoPreset,
		Platforms: cameraOnly,
		Params: []Param{{
			Name: "preset", Kind: ParamInt, Required: true,
			Check: func(v any) error {
				if v.(int) < 1 {
					return errors.New("must be at least 1")
				}
				return nil
			},
		}},
	},
	ServiceSetColorBW: {
		Name:      ServiceSetColorBW,
		Platforms: cameraOnly,
		Params: []Param{{
			Name: "color_bw", Kind: ParamString, Required: true,
			Check: func(v any) error {
				if !slices.Contains(DayNightColorList, v.(string)) {
					return fmt.Errorf("must be one of %v", DayNightColorList)
				}
				return nil
			},
		}},
	},
	ServiceStartTour: {Name: ServiceStartTour, Platforms: cameraOnly},
	ServiceStopTour:  {Name: ServiceStopTour, Platforms: cameraOnly},
	ServicePTZControl: {
		Name:      ServicePTZControl,
		Platforms: cameraOnly,
		Params: []Param{
			{
				Name: "movement", Kind: ParamString, Required: true,
				Check: func(v any) error {
					if _, ok := PTZMovements[v.(string)]; !ok {
						return fmt.Errorf("must be one of %v", ptzMovementNames())
					}
					return nil
				},
			},
			{
				Name: "travel_time", Kind: ParamSeconds, Default: DefaultTravelTime,
				Check: func(v any) error {
					if d := v.(time.Duration); d < 0 || d > time.Duration(MaxTravelTime*float64(time.Second)) {
						return fmt.Errorf("must be between 0 and %v seconds", MaxTravelTime)
					}
					return nil
				},
			},
		},
	},
	ServiceTurnOn:  {Name: ServiceTurnOn, Platforms: []Platform{PlatformCamera, PlatformSwitch}},
	ServiceTurnOff: {Name: ServiceTurnOff, Platforms: []Platform{PlatformCamera, PlatformSwitch}},
}

func ptzMovementNames() []string {
	names := make([]string, 0, len(PTZMovements))
	for name := range PTZMovements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Args coerces and validates call data into handler arguments, in the
// order of s.Params.
func (s ServiceSpec) Args(data map[string]any) ([]any, error) {
	args := make([]any, 0, len(s.Params))
	for _, p := range s.Params {
		raw, ok := data[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s: %s is required", ErrInvalidParameters, s.Name, p.Name)
			}
			raw = p.Default
		}

		v, err := coerce(p.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %w", ErrInvalidParameters, s.Name, p.Name, err)
		}
		if p.Check != nil {
			if err := p.Check(v); err != nil {
				return nil, fmt.Errorf("%w: %s: %s %w", ErrInvalidParameters, s.Name, p.Name, err)
			}
		}
		args = append(args, v)
	}
	return args, nil
}

func coerce(kind ParamKind, raw any) (any, error) {
	switch kind {
	case ParamInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case ParamString:
		if v, ok := raw.(string); ok {
			return strings.ToLower(strings.TrimSpace(v)), nil
		}
	case ParamSeconds:
		var secs float64
		switch v := raw.(type) {
		case float64:
			secs = v
		case int:
			secs = float64(v)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, err
			}
			secs = f
		default:
			return nil, fmt.Errorf("unexpected type %T", raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return nil, fmt.Errorf("unexpected type %T", raw)
}

// EntityTarget is the parsed entity_id of a service call.
type EntityTarget struct {
	All  bool
	None bool
	IDs  []string
}

// ParseEntityTarget accepts a string ("all", "none", one ID or a
// comma-separated list) or a list of IDs. An empty value targets nothing.
func ParseEntityTarget(raw json.RawMessage) (EntityTarget, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return EntityTarget{}, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		switch strings.ToLower(strings.TrimSpace(single)) {
		case EntityMatchAll:
			return EntityTarget{All: true}, nil
		case EntityMatchNone:
			return EntityTarget{None: true}, nil
		}
		return EntityTarget{IDs: splitEntityIDs(strings.Split(single, ","))}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return EntityTarget{}, fmt.Errorf("%w: entity_id must be a string or a list of strings", ErrInvalidParameters)
	}
	return EntityTarget{IDs: splitEntityIDs(list)}, nil
}

func splitEntityIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ServiceCall is a decoded request to run a service.
type ServiceCall struct {
	ID      string
	Service string
	Target  EntityTarget
	UserID  string
	Data    map[string]any
}

// PermissionChecker decides who may control which entity.
type PermissionChecker interface {
	// UserExists reports whether userID is a known user.
	UserExists(ctx context.Context, userID string) (bool, error)

	// CanControl reports whether userID may control entityID.
	CanControl(ctx context.Context, userID, entityID string) bool
}

// StaticPermissions grants each user the entities matching their glob
// patterns, e.g. {"alice": ["camera.*"]}.
type StaticPermissions map[string][]string

// UserExists implements PermissionChecker.
func (p StaticPermissions) UserExists(_ context.Context, userID string) (bool, error) {
	_, ok := p[userID]
	return ok, nil
}

// CanControl implements PermissionChecker.
func (p StaticPermissions) CanControl(_ context.Context, userID, entityID string) bool {
	for _, pattern := range p[userID] {
		if ok, err := path.Match(pattern, entityID); err == nil && ok {
			return true
		}
	}
	return false
}

// ServiceHandler runs a service call and returns the entity IDs it was
// dispatched to.
type ServiceHandler func(ctx context.Context, call ServiceCall) ([]string, error)

// ServiceRegistry maps service names to handlers. Only services in
// ServiceSpecs may be registered, each once.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type ServiceRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ServiceHandler
}

// NewServiceRegistry creates an empty ServiceRegistry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{handlers: make(map[string]ServiceHandler)}
}

// Register adds a handler for name.
func (r *ServiceRegistry) Register(name string, handler ServiceHandler) error {
	if _, ok := ServiceSpecs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	if handler == nil {
		return fmt.Errorf("amcrest: service %q: handler is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateService, name)
	}
	r.handlers[name] = handler
	return nil
}

// Call runs the handler registered for call.Service.
func (r *ServiceRegistry) Call(ctx context.Context, call ServiceCall) ([]string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[call.Service]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, call.Service)
	}
	return handler(ctx, call)
}

// Services returns the registered service names, sorted.
func (r *ServiceRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceDispatcher turns service calls into entity signals.
type ServiceDispatcher struct {
	registry    *Registry
	dispatcher  *Dispatcher
	permissions PermissionChecker
}

// NewServiceDispatcher creates a ServiceDispatcher. A nil permissions
// checker allows every call.
func NewServiceDispatcher(registry *Registry, dispatcher *Dispatcher, permissions PermissionChecker) *ServiceDispatcher {
	return &ServiceDispatcher{registry: registry, dispatcher: dispatcher, permissions: permissions}
}

// RegisterAll registers a handler for every service in ServiceSpecs.
func (s *ServiceDispatcher) RegisterAll(services *ServiceRegistry) error {
	names := make([]string, 0, len(ServiceSpecs))
	for name := range ServiceSpecs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := services.Register(name, s.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle validates the call's data, resolves its target entities and
// sends ServiceSignal(service, entityID) with the coerced arguments to
// each. Every entity is tried; failures are joined.
func (s *ServiceDispatcher) Handle(ctx context.Context, call ServiceCall) ([]string, error) {
	spec, ok := ServiceSpecs[call.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, call.Service)
	}

	args, err := spec.Args(call.Data)
	if err != nil {
		return nil, err
	}

	entityIDs, err := s.ExtractEntities(ctx, call, spec.Platforms)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, entityID := range entityIDs {
		if err := s.dispatcher.Send(ctx, ServiceSignal(call.Service, entityID), args...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entityID, err))
		}
	}
	return entityIDs, errors.Join(errs...)
}

// ExtractEntities resolves the entities of platforms targeted by call.
//
// "all" selects every entity the user may control; "none" selects
// nothing. Explicit IDs are intersected with the known entities and fail
// with ErrUnauthorized if the user may not control one of them.
// A call naming an unknown user fails with ErrUnknownUser.
func (s *ServiceDispatcher) ExtractEntities(ctx context.Context, call ServiceCall, platforms []Platform) ([]string, error) {
	checkPermissions := call.UserID != "" && s.permissions != nil
	if checkPermissions {
		exists, err := s.permissions.UserExists(ctx, call.UserID)
		if err != nil {
			return nil, fmt.Errorf("looking up user: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %q", ErrUnknownUser, call.UserID)
		}
	}
	allowed := func(entityID string) bool {
		return !checkPermissions || s.permissions.CanControl(ctx, call.UserID, entityID)
	}

	var known []string
	for _, platform := range platforms {
		known = append(known, s.registry.Entities(platform)...)
	}

	switch {
	case call.Target.All:
		var ids []string
		for _, id := range known {
			if allowed(id) {
				ids = append(ids, id)
			}
		}
		return ids, nil
	case call.Target.None:
		return nil, nil
	}

	var ids []string
	for _, id := range known {
		if !slices.Contains(call.Target.IDs, id) {
			continue
		}
		if !allowed(id) {
			return nil, fmt.Errorf("%w: %s may not control %s", ErrUnauthorized, call.UserID, id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
