package amcrest

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// BasicAuth holds credentials for MJPEG stream requests.
type BasicAuth struct {
	Username string
	Password string
}

// Device is one configured camera.
type Device struct {
	Name string

	// API is the health-monitored camera API.
	API *Checker

	// Authentication is set when streams use basic authentication.
	Authentication *BasicAuth

	FFmpegArguments []string
	StreamSource    string

	// Resolution is the stream index (0 high, 1 low).
	Resolution int

	ControlLight bool
	Channel      int

	// Config is the camera's validated configuration.
	Config CameraConfig
}

// Registry holds the bridge's cameras and the entity IDs created for them.
// It is built once at setup and shared by reference.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*Device
	entities map[Platform][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*Device),
		entities: make(map[Platform][]string),
	}
}

// Add registers a device. Names must be unique.
func (r *Registry) Add(dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[dev.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateDevice, dev.Name)
	}
	r.devices[dev.Name] = dev
	return nil
}

// Get returns the named device.
func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[name]
	return dev, ok
}

// Devices returns all devices sorted by name.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// AddEntity records an entity ID under its platform. Duplicates are ignored.
func (r *Registry) AddEntity(platform Platform, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.entities[platform], entityID) {
		r.entities[platform] = append(r.entities[platform], entityID)
	}
}

// Entities returns the entity IDs of a platform in registration order.
func (r *Registry) Entities(platform Platform) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entities[platform])
}

// AddCamera records a camera entity ID.
func (r *Registry) AddCamera(entityID string) { r.AddEntity(PlatformCamera, entityID) }

// Cameras returns the camera entity IDs; service calls target these.
func (r *Registry) Cameras() []string { return r.Entities(PlatformCamera) }
