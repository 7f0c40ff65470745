package amcrest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

type entityHarness struct {
	*checkerHarness
	device     *Device
	publisher  *recordingPublisher
	dispatcher *Dispatcher
}

func newEntityHarness(t *testing.T) *entityHarness {
	t.Helper()
	h := newCheckerHarness(t, time.Hour)
	cfg := DefaultCameraConfig()
	cfg.Name = "front"
	return &entityHarness{
		checkerHarness: h,
		device: &Device{
			Name:         "front",
			API:          h.checker,
			StreamSource: cfg.StreamSource,
			ControlLight: true,
			Config:       cfg,
		},
		publisher:  newRecordingPublisher(),
		dispatcher: NewDispatcher(),
	}
}

func (h *entityHarness) lastState(t *testing.T, entityID string) StateMessage {
	t.Helper()
	msg, ok := h.publisher.last(mqtt.Topics{}.CameraState(entityID))
	if !ok {
		t.Fatalf("no state published for %s", entityID)
	}
	if !msg.retained {
		t.Errorf("state for %s not retained", entityID)
	}
	var state StateMessage
	if err := json.Unmarshal(msg.payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return state
}

func describeBinarySensor(t *testing.T, key string) BinarySensorDescription {
	t.Helper()
	for _, d := range BinarySensorDescriptions {
		if d.Key == key {
			return d
		}
	}
	t.Fatalf("no binary sensor %s", key)
	return BinarySensorDescription{}
}

func TestBinarySensor_EventDriven(t *testing.T) {
	h := newEntityHarness(t)
	sensor := NewBinarySensor(describeBinarySensor(t, "motion_detected"), h.device, h.publisher, h.logger)

	if sensor.EntityID() != "binary_sensor.front_motion_detected" {
		t.Errorf("EntityID() = %s", sensor.EntityID())
	}
	if sensor.Polled() {
		t.Error("event sensor should not be polled")
	}

	unsubs := sensor.Subscribe(h.dispatcher)
	if len(unsubs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(unsubs))
	}

	signal := ServiceSignal("event", "front", "VideoMotion")
	if err := h.dispatcher.Send(context.Background(), signal, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	state := h.lastState(t, sensor.EntityID())
	if state.State["on"] != true || state.State["device_class"] != "motion" || !state.Available {
		t.Errorf("state = %+v", state)
	}

	if err := h.dispatcher.Send(context.Background(), signal, "yes"); err == nil {
		t.Error("non-bool argument should fail")
	}

	for _, unsub := range unsubs {
		unsub()
	}
	if h.dispatcher.Subscribers(signal) != 0 {
		t.Error("unsubscribe left a handler")
	}
}

func TestBinarySensor_Polled(t *testing.T) {
	h := newEntityHarness(t)
	sensor := NewBinarySensor(describeBinarySensor(t, "crossline_detected_polled"), h.device, h.publisher, h.logger)

	if !sensor.Polled() || sensor.Subscribe(h.dispatcher) != nil {
		t.Fatal("polled sensor should poll and not subscribe")
	}

	h.api.reply(cmdEventIndex+"CrossLineDetection", "channels[0]=0")
	if err := sensor.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := sensor.State()["on"]; got != true {
		t.Errorf("on = %v, want true", got)
	}

	// While unavailable the state is republished without querying.
	h.run(t, loginErr())
	calls := len(h.api.Calls())
	if err := sensor.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(h.api.Calls()) != calls {
		t.Error("polled sensor queried an unavailable camera")
	}
	if state := h.lastState(t, sensor.EntityID()); state.Available {
		t.Error("published state should carry available=false")
	}
}

func TestBinarySensor_Online(t *testing.T) {
	h := newEntityHarness(t)
	sensor := NewBinarySensor(describeBinarySensor(t, "online"), h.device, h.publisher, h.logger)

	if err := sensor.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := sensor.State()["on"]; got != true {
		t.Errorf("on = %v, want true", got)
	}
	if len(h.api.Calls()) != 0 {
		t.Error("online sensor should not probe an available camera")
	}

	// Unavailable: the sensor probes, and a successful probe brings it back.
	h.run(t, loginErr())
	if err := sensor.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := sensor.State()["on"]; got != true {
		t.Errorf("on = %v after successful probe, want true", got)
	}

	h.run(t, loginErr())
	h.api.setErr(loginErr())
	if err := sensor.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := sensor.State()["on"]; got != false {
		t.Errorf("on = %v after failed probe, want false", got)
	}
}

func TestSensor_Update(t *testing.T) {
	h := newEntityHarness(t)
	h.api.reply("ptz.cgi?action=getPresets", "presets[0].Index=1\npresets[1].Index=2\n")
	h.api.reply(cmdStorageInfo, "list.info[0].Detail[0].TotalBytes=3000\nlist.info[0].Detail[0].UsedBytes=1000\n")

	presets := NewSensor(SensorDescriptions[0], h.device, h.publisher, h.logger)
	sdcard := NewSensor(SensorDescriptions[1], h.device, h.publisher, h.logger)

	for _, s := range []*Sensor{presets, sdcard} {
		if err := s.Update(context.Background()); err != nil {
			t.Fatalf("%s Update() error = %v", s.EntityID(), err)
		}
	}

	if got := presets.State()["value"]; got != 2 {
		t.Errorf("ptz_preset value = %v, want 2", got)
	}
	want := map[string]any{"unit": "%", "value": 33.33, "total_bytes": 3000.0, "used_bytes": 1000.0}
	if diff := cmp.Diff(want, sdcard.State()); diff != "" {
		t.Errorf("sdcard state mismatch (-want +got):\n%s", diff)
	}
}

func TestSwitch_TurnOnOff(t *testing.T) {
	h := newEntityHarness(t)
	sw := NewSwitch(SwitchDescriptions[0], h.device, h.publisher, h.logger)
	sw.Subscribe(h.dispatcher)

	if err := h.dispatcher.Send(context.Background(), ServiceSignal(ServiceTurnOn, sw.EntityID())); err != nil {
		t.Fatalf("turn_on error = %v", err)
	}
	if got := sw.State()["on"]; got != true {
		t.Errorf("on = %v, want true", got)
	}
	if h.api.countCalls(cmdSetConfig+"LeLensMask[0].Enable=true") != 1 {
		t.Errorf("calls = %v", h.api.Calls())
	}

	h.api.queue(deviceErr())
	if err := h.dispatcher.Send(context.Background(), ServiceSignal(ServiceTurnOff, sw.EntityID())); !errors.Is(err, ErrDevice) {
		t.Errorf("turn_off error = %v, want ErrDevice", err)
	}
	if got := sw.State()["on"]; got != true {
		t.Errorf("failed turn_off changed state to %v", got)
	}

	h.api.reply(cmdGetConfig+"LeLensMask", "table.LeLensMask[0].Enable=false")
	if err := sw.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := sw.State()["on"]; got != false {
		t.Errorf("on = %v after update, want false", got)
	}
}

func TestCamera_Services(t *testing.T) {
	tests := []struct {
		name    string
		service string
		args    []any
		want    []string
		state   map[string]any
	}{
		{
			name:    "enable recording",
			service: ServiceEnableRecording,
			want:    []string{cmdSetConfig + "RecordMode[0].Mode=1"},
			state:   map[string]any{"recording": true},
		},
		{
			name:    "disable recording",
			service: ServiceDisableRecording,
			want:    []string{cmdSetConfig + "RecordMode[0].Mode=0"},
			state:   map[string]any{"recording": false},
		},
		{
			name:    "enable audio switches the light",
			service: ServiceEnableAudio,
			want: []string{
				cmdSetConfig + "Encode[0].MainFormat[0].AudioEnable=true",
				cmdSetConfig + "LightGlobal[0].Enable=true",
			},
			state: map[string]any{"audio": true},
		},
		{
			name:    "turn off video",
			service: ServiceTurnOff,
			want: []string{
				cmdSetConfig + "Encode[0].MainFormat[0].VideoEnable=false",
				cmdSetConfig + "LightGlobal[0].Enable=false",
			},
			state: map[string]any{"on": false},
		},
		{
			name:    "motion recording",
			service: ServiceEnableMotionRecording,
			want:    []string{cmdSetConfig + "MotionDetect[0].EventHandler.RecordEnable=true"},
			state:   map[string]any{"motion_recording": true},
		},
		{
			name:    "goto preset",
			service: ServiceGotoPreset,
			args:    []any{4},
			want:    []string{"ptz.cgi?action=start&channel=0&code=GotoPreset&arg1=0&arg2=4&arg3=0"},
		},
		{
			name:    "set color",
			service: ServiceSetColorBW,
			args:    []any{"bw"},
			want:    []string{cmdSetConfig + "VideoInOptions[0].DayNightColor=2"},
			state:   map[string]any{"color_bw": "bw"},
		},
		{
			name:    "start tour",
			service: ServiceStartTour,
			want:    []string{"ptz.cgi?action=start&channel=0&code=StartTour&arg1=1&arg2=0&arg3=0"},
		},
		{
			name:    "ptz control",
			service: ServicePTZControl,
			args:    []any{"right", time.Millisecond},
			want: []string{
				"ptz.cgi?action=start&channel=0&code=Right&arg1=0&arg2=5&arg3=0",
				"ptz.cgi?action=stop&channel=0&code=Right&arg1=0&arg2=5&arg3=0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newEntityHarness(t)
			cam := NewCamera(h.device, h.publisher, h.logger)
			unsubs := cam.Subscribe(h.dispatcher)
			if len(unsubs) != 13 {
				t.Fatalf("subscriptions = %d, want 13", len(unsubs))
			}

			if err := h.dispatcher.Send(context.Background(), ServiceSignal(tt.service, "camera.front"), tt.args...); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, h.api.Calls()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
			state := cam.State()
			for k, v := range tt.state {
				if state[k] != v {
					t.Errorf("state[%s] = %v, want %v", k, state[k], v)
				}
			}
		})
	}
}

func TestCamera_RefusesWhileUnavailable(t *testing.T) {
	h := newEntityHarness(t)
	cam := NewCamera(h.device, h.publisher, h.logger)
	cam.Subscribe(h.dispatcher)
	h.run(t, loginErr())
	calls := len(h.api.Calls())

	err := h.dispatcher.Send(context.Background(), ServiceSignal(ServiceEnableRecording, "camera.front"))
	if !errors.Is(err, ErrDevice) {
		t.Errorf("error = %v, want ErrDevice", err)
	}
	if len(h.api.Calls()) != calls {
		t.Error("command sent to unavailable camera")
	}
}

func TestCamera_BadArguments(t *testing.T) {
	h := newEntityHarness(t)
	cam := NewCamera(h.device, h.publisher, h.logger)
	cam.Subscribe(h.dispatcher)

	err := h.dispatcher.Send(context.Background(), ServiceSignal(ServiceGotoPreset, "camera.front"), "three")
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("error = %v, want ErrInvalidParameters", err)
	}
	err = h.dispatcher.Send(context.Background(), ServiceSignal(ServicePTZControl, "camera.front"), "up")
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("error = %v, want ErrInvalidParameters", err)
	}
}

func TestCamera_Update(t *testing.T) {
	h := newEntityHarness(t)
	h.api.reply(cmdGetConfig+"RecordMode", "table.RecordMode[0].Mode=0")
	h.api.reply(cmdGetConfig+"Encode", "table.Encode[0].MainFormat[0].AudioEnable=true\ntable.Encode[0].MainFormat[0].VideoEnable=true")
	h.api.reply(cmdGetConfig+"MotionDetect", "table.MotionDetect[0].EventHandler.RecordEnable=false")
	h.api.reply(cmdGetConfig+"VideoInOptions", "table.VideoInOptions[0].DayNightColor=0")

	cam := NewCamera(h.device, h.publisher, h.logger)
	if err := cam.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := map[string]any{
		"stream_source":    "snapshot",
		"resolution":       "high",
		"on":               true,
		"recording":        false,
		"audio":            true,
		"motion_recording": false,
		"color_bw":         "color",
	}
	if diff := cmp.Diff(want, cam.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if state := h.lastState(t, "camera.front"); state.Camera != "front" || state.Protocol != "amcrest" {
		t.Errorf("state message = %+v", state)
	}
}

// countingEntity records Update calls.
type countingEntity struct {
	id      string
	polled  bool
	updates chan string
}

func (e *countingEntity) EntityID() string { return e.id }
func (e *countingEntity) Platform() Platform { return PlatformSensor }
func (e *countingEntity) Polled() bool { return e.polled }
func (e *countingEntity) Subscribe(*Dispatcher) []func() { return nil }
func (e *countingEntity) State() map[string]any { return nil }
func (e *countingEntity) Update(context.Context) error {
	e.updates <- e.id
	return nil
}

func TestPoller(t *testing.T) {
	h := newEntityHarness(t)
	updates := make(chan string, 100)
	polled := &countingEntity{id: "polled", polled: true, updates: updates}
	event := &countingEntity{id: "event", updates: updates}

	p := newPoller(h.device, []Entity{polled, event}, 20*time.Millisecond, h.logger)
	unsub := p.Subscribe(h.dispatcher)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	counts := func(wait time.Duration) map[string]int {
		got := map[string]int{}
		deadline := time.After(wait)
		for {
			select {
			case id := <-updates:
				got[id]++
			case <-deadline:
				return got
			}
		}
	}

	// Initial full update, then ticks for polled entities only.
	first := counts(70 * time.Millisecond)
	if first["event"] != 1 || first["polled"] < 2 {
		t.Errorf("initial updates = %v", first)
	}

	// An availability change triggers a full refresh.
	//nolint:errcheck // Handler never fails
	h.dispatcher.Send(context.Background(), ServiceSignal("update", "front"), false)
	if !eventually(time.Second, func() bool { return counts(30 * time.Millisecond)["event"] > 0 }) {
		t.Error("availability change did not refresh event entities")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
