package amcrest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_Devices(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"garage", "back", "front"} {
		if err := r.Add(&Device{Name: name}); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}

	if err := r.Add(&Device{Name: "front"}); !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("duplicate Add() error = %v, want ErrDuplicateDevice", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	var names []string
	for _, d := range r.Devices() {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"back", "front", "garage"}, names); diff != "" {
		t.Errorf("Devices() order mismatch (-want +got):\n%s", diff)
	}

	if dev, ok := r.Get("front"); !ok || dev.Name != "front" {
		t.Errorf("Get(front) = %v, %v", dev, ok)
	}
	if _, ok := r.Get("attic"); ok {
		t.Error("Get(attic) should miss")
	}
}

func TestRegistry_Entities(t *testing.T) {
	r := NewRegistry()
	r.AddCamera("camera.front")
	r.AddCamera("camera.back")
	r.AddCamera("camera.front")
	r.AddEntity(PlatformSensor, "sensor.front_sdcard")

	if diff := cmp.Diff([]string{"camera.front", "camera.back"}, r.Cameras()); diff != "" {
		t.Errorf("Cameras() mismatch (-want +got):\n%s", diff)
	}

	// Returned slices are copies.
	ids := r.Entities(PlatformSensor)
	ids[0] = "mutated"
	if got := r.Entities(PlatformSensor)[0]; got != "sensor.front_sdcard" {
		t.Errorf("registry modified through returned slice: %s", got)
	}
	if len(r.Entities(PlatformSwitch)) != 0 {
		t.Error("unexpected switch entities")
	}
}

func TestEntityID(t *testing.T) {
	tests := []struct {
		platform Platform
		camera   string
		key      string
		want     string
	}{
		{PlatformCamera, "Front Door", "", "camera.front_door"},
		{PlatformBinarySensor, "Front Door", "motion_detected", "binary_sensor.front_door_motion_detected"},
		{PlatformSensor, "garage-2", "sdcard", "sensor.garage_2_sdcard"},
		{PlatformSwitch, "  Back!! ", "privacy_mode", "switch.back_privacy_mode"},
	}
	for _, tt := range tests {
		if got := EntityID(tt.platform, tt.camera, tt.key); got != tt.want {
			t.Errorf("EntityID(%s, %q, %q) = %q, want %q", tt.platform, tt.camera, tt.key, got, tt.want)
		}
	}
}
