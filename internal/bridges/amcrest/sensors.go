package amcrest

import (
	"context"
	"fmt"
	"math"
)

// polledSuffix marks the polled variant of an event-driven binary sensor.
const polledSuffix = "_polled"

// BinarySensorDescription describes a binary sensor kind.
type BinarySensorDescription struct {
	Key         string
	Name        string
	DeviceClass string

	// EventCode is the camera event backing the sensor, if any.
	EventCode string

	// Polled sensors query the camera every scan interval instead of
	// following the event stream.
	Polled bool
}

// BinarySensorDescriptions lists the supported binary sensors.
var BinarySensorDescriptions = []BinarySensorDescription{
	{Key: "audio_detected", Name: "Audio Detected", DeviceClass: "sound", EventCode: "AudioMutation"},
	{Key: "audio_detected_polled", Name: "Audio Detected", DeviceClass: "sound", EventCode: "AudioMutation", Polled: true},
	{Key: "crossline_detected", Name: "CrossLine Detected", DeviceClass: "motion", EventCode: "CrossLineDetection"},
	{Key: "crossline_detected_polled", Name: "CrossLine Detected", DeviceClass: "motion", EventCode: "CrossLineDetection", Polled: true},
	{Key: "motion_detected", Name: "Motion Detected", DeviceClass: "motion", EventCode: "VideoMotion"},
	{Key: "motion_detected_polled", Name: "Motion Detected", DeviceClass: "motion", EventCode: "VideoMotion", Polled: true},
	{Key: "online", Name: "Online", DeviceClass: "connectivity", Polled: true},
}

// SensorDescription describes a sensor kind.
type SensorDescription struct {
	Key  string
	Name string
	Unit string
}

// SensorDescriptions lists the supported sensors.
var SensorDescriptions = []SensorDescription{
	{Key: "ptz_preset", Name: "PTZ Preset"},
	{Key: "sdcard", Name: "SD Used", Unit: "%"},
}

// SwitchDescription describes a switch kind.
type SwitchDescription struct {
	Key  string
	Name string
}

// SwitchDescriptions lists the supported switches.
var SwitchDescriptions = []SwitchDescription{
	{Key: "privacy_mode", Name: "Privacy Mode"},
}

func binarySensorKeys() []string {
	keys := make([]string, 0, len(BinarySensorDescriptions))
	for _, d := range BinarySensorDescriptions {
		keys = append(keys, d.Key)
	}
	return keys
}

func sensorKeys() []string {
	keys := make([]string, 0, len(SensorDescriptions))
	for _, d := range SensorDescriptions {
		keys = append(keys, d.Key)
	}
	return keys
}

func switchKeys() []string {
	keys := make([]string, 0, len(SwitchDescriptions))
	for _, d := range SwitchDescriptions {
		keys = append(keys, d.Key)
	}
	return keys
}

// BinarySensor is an on/off camera sensor. Event sensors follow the event
// stream, polled sensors query the camera, and "online" mirrors the
// camera's availability.
type BinarySensor struct {
	*entityBase
	desc BinarySensorDescription
}

// NewBinarySensor creates a binary sensor for device.
func NewBinarySensor(desc BinarySensorDescription, device *Device, publisher Publisher, logger Logger) *BinarySensor {
	base := newEntityBase(PlatformBinarySensor, desc.Key, device, publisher, logger)
	base.state["device_class"] = desc.DeviceClass
	return &BinarySensor{entityBase: base, desc: desc}
}

// Polled implements Entity.
func (s *BinarySensor) Polled() bool { return s.desc.Polled }

// Subscribe implements Entity. Event sensors listen for their event code.
func (s *BinarySensor) Subscribe(d *Dispatcher) []func() {
	if s.desc.Polled || s.desc.EventCode == "" {
		return nil
	}
	signal := ServiceSignal("event", s.device.Name, s.desc.EventCode)
	return []func(){d.Subscribe(signal, func(_ context.Context, args ...any) error {
		if len(args) != 1 {
			return fmt.Errorf("%s: expected 1 argument, got %d", s.id, len(args))
		}
		start, ok := args[0].(bool)
		if !ok {
			return fmt.Errorf("%s: expected bool, got %T", s.id, args[0])
		}
		s.setState(map[string]any{"on": start})
		return nil
	})}
}

// Update implements Entity.
func (s *BinarySensor) Update(ctx context.Context) error {
	api := s.device.API

	if s.desc.EventCode == "" {
		// Online: probe an unavailable camera so a recovery shows up
		// without waiting for the recheck task.
		if !api.Available() {
			//nolint:errcheck // Outcome is reflected by Available
			api.CurrentTime(ctx)
		}
		s.setState(map[string]any{"on": api.Available()})
		return nil
	}

	if !api.Available() {
		s.publishState()
		return nil
	}
	active, err := api.EventActive(ctx, s.desc.EventCode)
	if err != nil {
		return err
	}
	s.setState(map[string]any{"on": active})
	return nil
}

// Sensor is a numeric camera sensor.
type Sensor struct {
	*entityBase
	desc SensorDescription
}

// NewSensor creates a sensor for device.
func NewSensor(desc SensorDescription, device *Device, publisher Publisher, logger Logger) *Sensor {
	base := newEntityBase(PlatformSensor, desc.Key, device, publisher, logger)
	if desc.Unit != "" {
		base.state["unit"] = desc.Unit
	}
	return &Sensor{entityBase: base, desc: desc}
}

// Polled implements Entity.
func (s *Sensor) Polled() bool { return true }

// Subscribe implements Entity.
func (s *Sensor) Subscribe(*Dispatcher) []func() { return nil }

// Update implements Entity.
func (s *Sensor) Update(ctx context.Context) error {
	api := s.device.API
	if !api.Available() {
		s.publishState()
		return nil
	}

	switch s.desc.Key {
	case "ptz_preset":
		count, err := api.PTZPresetCount(ctx, s.device.Channel)
		if err != nil {
			return err
		}
		s.setState(map[string]any{"value": count})
	case "sdcard":
		info, err := api.StorageInfo(ctx)
		if err != nil {
			return err
		}
		s.setState(map[string]any{
			"value":       math.Round(info.UsedPercent()*100) / 100,
			"total_bytes": info.TotalBytes,
			"used_bytes":  info.UsedBytes,
		})
	}
	return nil
}

// Switch is a camera setting that can be turned on and off.
type Switch struct {
	*entityBase
	desc SwitchDescription
}

// NewSwitch creates a switch for device.
func NewSwitch(desc SwitchDescription, device *Device, publisher Publisher, logger Logger) *Switch {
	return &Switch{entityBase: newEntityBase(PlatformSwitch, desc.Key, device, publisher, logger), desc: desc}
}

// Polled implements Entity.
func (s *Switch) Polled() bool { return true }

// Subscribe implements Entity. The switch answers turn_on and turn_off.
func (s *Switch) Subscribe(d *Dispatcher) []func() {
	return []func(){
		d.Subscribe(ServiceSignal(ServiceTurnOn, s.id), func(ctx context.Context, _ ...any) error {
			return s.turn(ctx, true)
		}),
		d.Subscribe(ServiceSignal(ServiceTurnOff, s.id), func(ctx context.Context, _ ...any) error {
			return s.turn(ctx, false)
		}),
	}
}

func (s *Switch) turn(ctx context.Context, on bool) error {
	if err := s.device.API.SetPrivacyMode(ctx, on); err != nil {
		return err
	}
	s.setState(map[string]any{"on": on})
	return nil
}

// Update implements Entity.
func (s *Switch) Update(ctx context.Context) error {
	api := s.device.API
	if !api.Available() {
		s.publishState()
		return nil
	}
	on, err := api.PrivacyMode(ctx)
	if err != nil {
		return err
	}
	s.setState(map[string]any{"on": on})
	return nil
}
