package amcrest

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Camera is the camera entity. It executes camera service calls and
// mirrors the camera's recording, audio, motion recording and colour
// settings in its state.
type Camera struct {
	*entityBase
}

// NewCamera creates the camera entity for device.
func NewCamera(device *Device, publisher Publisher, logger Logger) *Camera {
	base := newEntityBase(PlatformCamera, "", device, publisher, logger)
	base.state["stream_source"] = device.StreamSource
	base.state["resolution"] = device.Config.Resolution
	return &Camera{entityBase: base}
}

// Polled implements Entity.
func (c *Camera) Polled() bool { return true }

// Subscribe implements Entity, connecting one handler per camera service.
func (c *Camera) Subscribe(d *Dispatcher) []func() {
	handlers := map[string]SignalHandler{
		ServiceEnableRecording:        c.setting("recording", true, c.setRecording),
		ServiceDisableRecording:       c.setting("recording", false, c.setRecording),
		ServiceEnableAudio:            c.setting("audio", true, c.setAudio),
		ServiceDisableAudio:           c.setting("audio", false, c.setAudio),
		ServiceEnableMotionRecording:  c.setting("motion_recording", true, c.device.API.SetMotionRecording),
		ServiceDisableMotionRecording: c.setting("motion_recording", false, c.device.API.SetMotionRecording),
		ServiceTurnOn:                 c.setting("on", true, c.setVideo),
		ServiceTurnOff:                c.setting("on", false, c.setVideo),
		ServiceStartTour:              c.tour(true),
		ServiceStopTour:               c.tour(false),
		ServiceGotoPreset:             c.gotoPreset,
		ServiceSetColorBW:             c.setColorBW,
		ServicePTZControl:             c.ptzControl,
	}

	unsubs := make([]func(), 0, len(handlers))
	for service, handler := range handlers {
		unsubs = append(unsubs, d.Subscribe(ServiceSignal(service, c.id), handler))
	}
	return unsubs
}

// Update implements Entity.
func (c *Camera) Update(ctx context.Context) error {
	if !c.device.API.Available() {
		c.publishState()
		return nil
	}
	settings, err := c.device.API.Settings(ctx)
	if err != nil {
		return err
	}
	c.setState(map[string]any{
		"on":               settings.VideoEnabled,
		"recording":        settings.Recording,
		"audio":            settings.AudioEnabled,
		"motion_recording": settings.MotionRecording,
		"color_bw":         settings.ColorBW,
	})
	return nil
}

// setting adapts a boolean camera setter to a signal handler that records
// the new value under key on success.
func (c *Camera) setting(key string, enable bool, set func(context.Context, bool) error) SignalHandler {
	return func(ctx context.Context, _ ...any) error {
		if err := c.checkAvailable(); err != nil {
			return err
		}
		if err := set(ctx, enable); err != nil {
			if c.logger != nil {
				c.logger.Error("could not change camera setting", "entity", c.id, "setting", key, "enable", enable, "error", err)
			}
			return err
		}
		c.setState(map[string]any{key: enable})
		return nil
	}
}

func (c *Camera) setRecording(ctx context.Context, enable bool) error {
	mode := RecordModeAuto
	if enable {
		mode = RecordModeManual
	}
	return c.device.API.SetRecordMode(ctx, mode)
}

func (c *Camera) setAudio(ctx context.Context, enable bool) error {
	if err := c.device.API.SetAudio(ctx, enable); err != nil {
		return err
	}
	video, _ := c.State()["on"].(bool)
	return c.changeLight(ctx, enable || video)
}

func (c *Camera) setVideo(ctx context.Context, enable bool) error {
	if err := c.device.API.SetVideo(ctx, enable); err != nil {
		return err
	}
	audio, _ := c.State()["audio"].(bool)
	return c.changeLight(ctx, enable || audio)
}

// changeLight keeps the indicator light on while audio or video is enabled.
func (c *Camera) changeLight(ctx context.Context, on bool) error {
	if !c.device.ControlLight {
		return nil
	}
	return c.device.API.SetIndicatorLight(ctx, on)
}

func (c *Camera) tour(start bool) SignalHandler {
	return func(ctx context.Context, _ ...any) error {
		if err := c.checkAvailable(); err != nil {
			return err
		}
		return c.device.API.Tour(ctx, c.device.Channel, start)
	}
}

func (c *Camera) gotoPreset(ctx context.Context, args ...any) error {
	preset, err := argAt[int](args, 0)
	if err != nil {
		return err
	}
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.device.API.GotoPreset(ctx, c.device.Channel, preset)
}

func (c *Camera) setColorBW(ctx context.Context, args ...any) error {
	color, err := argAt[string](args, 0)
	if err != nil {
		return err
	}
	mode := slices.Index(DayNightColorList, color)
	if mode < 0 {
		return fmt.Errorf("%w: color_bw %q", ErrInvalidParameters, color)
	}
	if err := c.checkAvailable(); err != nil {
		return err
	}
	if err := c.device.API.SetDayNightColor(ctx, mode); err != nil {
		return err
	}
	c.setState(map[string]any{"color_bw": color})
	return nil
}

func (c *Camera) ptzControl(ctx context.Context, args ...any) error {
	movement, err := argAt[string](args, 0)
	if err != nil {
		return err
	}
	travel, err := argAt[time.Duration](args, 1)
	if err != nil {
		return err
	}
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.device.API.PTZ(ctx, c.device.Channel, movement, travel)
}

// checkAvailable refuses commands while the camera is unavailable.
func (c *Camera) checkAvailable() error {
	if c.device.API.Available() {
		return nil
	}
	return fmt.Errorf("%w: %s is unavailable", ErrDevice, c.device.Name)
}

func argAt[T any](args []any, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("%w: missing argument %d", ErrInvalidParameters, i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %d: expected %T, got %T", ErrInvalidParameters, i, zero, args[i])
	}
	return v, nil
}
