package amcrest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CGI commands.
const (
	cmdCurrentTime = "global.cgi?action=getCurrentTime"
	cmdSetConfig   = "configManager.cgi?action=setConfig&"
	cmdGetConfig   = "configManager.cgi?action=getConfig&name="
	cmdPTZ         = "ptz.cgi?action=%s&channel=%d&code=%s&arg1=%d&arg2=%d&arg3=%d"
	cmdPresets     = "ptz.cgi?action=getPresets&channel=%d"
	cmdEventIndex  = "eventManager.cgi?action=getEventIndexes&code="
	cmdStorageInfo = "storageDevice.cgi?action=getDeviceAllInfo"

	timeLayout = "2006-01-02 15:04:05"
)

// RecordMode is the camera's recording mode.
type RecordMode int

const (
	RecordModeAuto   RecordMode = 0
	RecordModeManual RecordMode = 1
	RecordModeStop   RecordMode = 2
)

// DayNightColor values in the order the camera numbers them.
var DayNightColorList = []string{"color", "auto", "bw"}

// PTZMovements maps movement names to camera PTZ codes.
var PTZMovements = map[string]string{
	"up":         "Up",
	"down":       "Down",
	"left":       "Left",
	"right":      "Right",
	"left_up":    "LeftUp",
	"left_down":  "LeftDown",
	"right_up":   "RightUp",
	"right_down": "RightDown",
	"zoom_in":    "ZoomTele",
	"zoom_out":   "ZoomWide",
}

// StorageInfo describes the camera's SD card.
type StorageInfo struct {
	TotalBytes float64
	UsedBytes  float64
}

// UsedPercent returns the used share of the card, or 0 when no card is present.
func (s StorageInfo) UsedPercent() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	return s.UsedBytes / s.TotalBytes * 100
}

// CurrentTime returns the camera's clock. It is also the recheck probe.
func (c *Checker) CurrentTime(ctx context.Context) (time.Time, error) {
	resp, err := c.Execute(ctx, cmdCurrentTime)
	if err != nil {
		return time.Time{}, err
	}
	raw, ok := parseKeyValues(resp.Body)["result"]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: current time: %q", ErrUnexpectedResponse, resp.Text())
	}
	t, err := time.ParseInLocation(timeLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: current time: %w", ErrUnexpectedResponse, err)
	}
	return t, nil
}

// SetRecordMode sets the recording mode of channel 0.
func (c *Checker) SetRecordMode(ctx context.Context, mode RecordMode) error {
	return c.setConfig(ctx, fmt.Sprintf("RecordMode[0].Mode=%d", mode))
}

// SetAudio enables or disables audio on the main stream.
func (c *Checker) SetAudio(ctx context.Context, enable bool) error {
	return c.setConfig(ctx, "Encode[0].MainFormat[0].AudioEnable="+strconv.FormatBool(enable))
}

// SetVideo enables or disables the main video stream.
func (c *Checker) SetVideo(ctx context.Context, enable bool) error {
	return c.setConfig(ctx, "Encode[0].MainFormat[0].VideoEnable="+strconv.FormatBool(enable))
}

// SetMotionRecording enables or disables recording on motion.
func (c *Checker) SetMotionRecording(ctx context.Context, enable bool) error {
	return c.setConfig(ctx, "MotionDetect[0].EventHandler.RecordEnable="+strconv.FormatBool(enable))
}

// SetIndicatorLight switches the camera's status LED.
func (c *Checker) SetIndicatorLight(ctx context.Context, enable bool) error {
	return c.setConfig(ctx, "LightGlobal[0].Enable="+strconv.FormatBool(enable))
}

// SetDayNightColor selects an entry of DayNightColorList.
func (c *Checker) SetDayNightColor(ctx context.Context, mode int) error {
	if mode < 0 || mode >= len(DayNightColorList) {
		return fmt.Errorf("%w: day/night color %d", ErrInvalidParameters, mode)
	}
	return c.setConfig(ctx, fmt.Sprintf("VideoInOptions[0].DayNightColor=%d", mode))
}

// GotoPreset moves the camera to a stored PTZ preset.
func (c *Checker) GotoPreset(ctx context.Context, channel, preset int) error {
	return c.ptz(ctx, "start", channel, "GotoPreset", 0, preset, 0)
}

// Tour starts or stops the preset tour.
func (c *Checker) Tour(ctx context.Context, channel int, start bool) error {
	code := "StopTour"
	if start {
		code = "StartTour"
	}
	return c.ptz(ctx, "start", channel, code, 1, 0, 0)
}

// PTZ moves the camera for travel, then stops it. movement is a key of
// PTZMovements. The stop command is sent even if ctx ends during travel.
func (c *Checker) PTZ(ctx context.Context, channel int, movement string, travel time.Duration) error {
	code, ok := PTZMovements[movement]
	if !ok {
		return fmt.Errorf("%w: movement %q", ErrInvalidParameters, movement)
	}

	if err := c.ptz(ctx, "start", channel, code, 0, 5, 0); err != nil {
		return err
	}

	timer := time.NewTimer(travel)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	return c.ptz(context.WithoutCancel(ctx), "stop", channel, code, 0, 5, 0)
}

// PTZPresetCount returns the number of stored presets.
func (c *Checker) PTZPresetCount(ctx context.Context, channel int) (int, error) {
	resp, err := c.Execute(ctx, fmt.Sprintf(cmdPresets, channel))
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, m := range presetIndex.FindAllSubmatch(resp.Body, -1) {
		seen[string(m[1])] = struct{}{}
	}
	return len(seen), nil
}

var presetIndex = regexp.MustCompile(`presets\[(\d+)\]`)

// EventActive reports whether the camera currently signals event code on
// any channel. Used by polled binary sensors.
func (c *Checker) EventActive(ctx context.Context, code string) (bool, error) {
	resp, err := c.Execute(ctx, cmdEventIndex+code)
	if err != nil {
		return false, err
	}
	return bytes.Contains(resp.Body, []byte("channels[")), nil
}

// PrivacyMode reports whether the lens mask is enabled.
func (c *Checker) PrivacyMode(ctx context.Context) (bool, error) {
	values, err := c.getConfig(ctx, "LeLensMask")
	if err != nil {
		return false, err
	}
	if val := lookupSuffix(values, "LeLensMask[0].Enable"); val != "" {
		return strings.EqualFold(val, "true"), nil
	}
	return false, fmt.Errorf("%w: LeLensMask has no Enable key", ErrUnexpectedResponse)
}

// SetPrivacyMode enables or disables the lens mask.
func (c *Checker) SetPrivacyMode(ctx context.Context, enable bool) error {
	return c.setConfig(ctx, "LeLensMask[0].Enable="+strconv.FormatBool(enable))
}

// StorageInfo returns SD card usage summed across all partitions.
func (c *Checker) StorageInfo(ctx context.Context) (StorageInfo, error) {
	resp, err := c.Execute(ctx, cmdStorageInfo)
	if err != nil {
		return StorageInfo{}, err
	}

	var info StorageInfo
	for key, val := range parseKeyValues(resp.Body) {
		var target *float64
		switch {
		case strings.HasSuffix(key, ".TotalBytes"):
			target = &info.TotalBytes
		case strings.HasSuffix(key, ".UsedBytes"):
			target = &info.UsedBytes
		default:
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return StorageInfo{}, fmt.Errorf("%w: %s=%q", ErrUnexpectedResponse, key, val)
		}
		*target += f
	}
	return info, nil
}

// CameraSettings is the subset of camera configuration mirrored in the
// camera entity's state.
type CameraSettings struct {
	Recording       bool
	AudioEnabled    bool
	VideoEnabled    bool
	MotionRecording bool
	ColorBW         string
}

// Settings reads the camera configuration backing CameraSettings.
func (c *Checker) Settings(ctx context.Context) (CameraSettings, error) {
	var settings CameraSettings

	record, err := c.getConfig(ctx, "RecordMode")
	if err != nil {
		return settings, err
	}
	settings.Recording = lookupSuffix(record, "RecordMode[0].Mode") == strconv.Itoa(int(RecordModeManual))

	encode, err := c.getConfig(ctx, "Encode")
	if err != nil {
		return settings, err
	}
	settings.AudioEnabled = strings.EqualFold(lookupSuffix(encode, "Encode[0].MainFormat[0].AudioEnable"), "true")
	settings.VideoEnabled = strings.EqualFold(lookupSuffix(encode, "Encode[0].MainFormat[0].VideoEnable"), "true")

	motion, err := c.getConfig(ctx, "MotionDetect")
	if err != nil {
		return settings, err
	}
	settings.MotionRecording = strings.EqualFold(lookupSuffix(motion, "MotionDetect[0].EventHandler.RecordEnable"), "true")

	video, err := c.getConfig(ctx, "VideoInOptions")
	if err != nil {
		return settings, err
	}
	if idx, err := strconv.Atoi(lookupSuffix(video, "VideoInOptions[0].DayNightColor")); err == nil && idx >= 0 && idx < len(DayNightColorList) {
		settings.ColorBW = DayNightColorList[idx]
	}

	return settings, nil
}

// lookupSuffix finds the value whose key ends with suffix; getConfig keys
// carry a "table." prefix.
func lookupSuffix(values map[string]string, suffix string) string {
	for key, val := range values {
		if key == suffix || strings.HasSuffix(key, "."+suffix) {
			return val
		}
	}
	return ""
}

func (c *Checker) setConfig(ctx context.Context, assignment string) error {
	resp, err := c.Execute(ctx, cmdSetConfig+assignment)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp.Text(), "OK") {
		return fmt.Errorf("%w: setConfig %s: %q", ErrUnexpectedResponse, assignment, resp.Text())
	}
	return nil
}

func (c *Checker) getConfig(ctx context.Context, name string) (map[string]string, error) {
	resp, err := c.Execute(ctx, cmdGetConfig+name)
	if err != nil {
		return nil, err
	}
	return parseKeyValues(resp.Body), nil
}

func (c *Checker) ptz(ctx context.Context, action string, channel int, code string, arg1, arg2, arg3 int) error {
	resp, err := c.Execute(ctx, fmt.Sprintf(cmdPTZ, action, channel, code, arg1, arg2, arg3))
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp.Text(), "OK") {
		return fmt.Errorf("%w: ptz %s %s: %q", ErrUnexpectedResponse, action, code, resp.Text())
	}
	return nil
}

// parseKeyValues parses the camera's "key=value" per line reply format.
// Lines without '=' are ignored.
func parseKeyValues(body []byte) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return values
}
