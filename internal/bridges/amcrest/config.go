package amcrest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Camera configuration defaults.
const (
	DefaultName            = "Amcrest Camera"
	DefaultPort            = 80
	DefaultAuthentication  = "basic"
	DefaultResolution      = "high"
	DefaultStreamSource    = "snapshot"
	DefaultFFmpegArguments = "-pred 1"
	DefaultScanInterval    = 10 * time.Second

	// passwordEnvPrefix + normalised camera name overrides a camera password.
	passwordEnvPrefix = "GRAYLOGIC_AMCREST_PASSWORD_"
)

// ResolutionList maps resolution names to the camera's stream index.
var ResolutionList = map[string]int{"high": 0, "low": 1}

// StreamSourceList lists the supported stream sources.
var StreamSourceList = []string{"snapshot", "mjpeg", "rtsp"}

// AuthenticationList lists the supported stream authentication schemes.
var AuthenticationList = []string{"basic"}

// Config is the root configuration for the camera bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Cameras []CameraConfig `yaml:"cameras"`

	// Users maps user IDs to glob patterns of the entities they may
	// control through service calls. When empty, every call is allowed.
	Users map[string][]string `yaml:"users"`
}

// Permissions returns the configured permission checker, or nil when no
// users are configured.
func (c *Config) Permissions() PermissionChecker {
	if len(c.Users) == 0 {
		return nil
	}
	return StaticPermissions(c.Users)
}

// CameraConfig describes one camera.
type CameraConfig struct {
	// Name identifies the camera in entity IDs, topics and logs. Must be unique.
	Name string `yaml:"name"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Username string `yaml:"username"`

	// Password for the camera API.
	// WARNING: Never log this value. Use String() for safe logging.
	Password string `yaml:"password"`

	// Authentication is the scheme used for MJPEG streams. Only "basic".
	Authentication string `yaml:"authentication"`

	// Resolution is "high" (main stream) or "low" (sub stream).
	Resolution string `yaml:"resolution"`

	// StreamSource is "snapshot", "mjpeg" or "rtsp".
	StreamSource string `yaml:"stream_source"`

	FFmpegArguments string `yaml:"ffmpeg_arguments"`

	// ScanInterval is how often polled sensors refresh. Default: 10s.
	ScanInterval time.Duration `yaml:"scan_interval"`

	BinarySensors []string `yaml:"binary_sensors"`
	Sensors       []string `yaml:"sensors"`
	Switches      []string `yaml:"switches"`

	// ControlLight switches the indicator light with the camera. Default: true.
	ControlLight bool `yaml:"control_light"`

	// Channel is the video channel used for PTZ commands.
	Channel int `yaml:"channel"`
}

// DefaultCameraConfig returns a CameraConfig with every default applied.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Name:            DefaultName,
		Port:            DefaultPort,
		Authentication:  DefaultAuthentication,
		Resolution:      DefaultResolution,
		StreamSource:    DefaultStreamSource,
		FFmpegArguments: DefaultFFmpegArguments,
		ScanInterval:    DefaultScanInterval,
		ControlLight:    true,
	}
}

// UnmarshalYAML applies defaults before decoding so omitted keys keep them.
func (c *CameraConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain CameraConfig
	decoded := plain(DefaultCameraConfig())
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*c = CameraConfig(decoded)
	return nil
}

// String returns a string representation with the password masked.
func (c CameraConfig) String() string {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("CameraConfig{Name:%q, Host:%q, Port:%d, Username:%q, Password:%s}",
		c.Name, c.Host, c.Port, c.Username, password)
}

// MarshalJSON redacts the password.
func (c CameraConfig) MarshalJSON() ([]byte, error) {
	type redacted CameraConfig
	safe := redacted(c)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// ResolutionIndex returns the stream index for the configured resolution.
func (c CameraConfig) ResolutionIndex() int {
	return ResolutionList[c.Resolution]
}

// EventCodes returns the event codes the camera's event monitor forwards:
// those of configured binary sensors that are driven by events.
func (c CameraConfig) EventCodes() []string {
	var codes []string
	for _, desc := range BinarySensorDescriptions {
		if desc.Polled || desc.EventCode == "" || !slices.Contains(c.BinarySensors, desc.Key) {
			continue
		}
		if !slices.Contains(codes, desc.EventCode) {
			codes = append(codes, desc.EventCode)
		}
	}
	return codes
}

// LoadConfig reads camera configuration from a YAML file.
//
// Example file:
//
//	cameras:
//	  - name: front-door
//	    host: 192.168.1.40
//	    username: admin
//	    password: secret
//	    binary_sensors: [motion_detected, online]
//	    sensors: [sdcard]
//	    switches: [privacy_mode]
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading camera config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses, overrides and validates camera configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing camera config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating camera config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides replaces camera passwords from
// GRAYLOGIC_AMCREST_PASSWORD_<NAME>, e.g. GRAYLOGIC_AMCREST_PASSWORD_FRONT_DOOR.
func applyEnvOverrides(cfg *Config) {
	for i := range cfg.Cameras {
		if v := os.Getenv(PasswordEnvVar(cfg.Cameras[i].Name)); v != "" {
			cfg.Cameras[i].Password = v
		}
	}
}

// PasswordEnvVar returns the environment variable that overrides the
// password of the named camera.
func PasswordEnvVar(name string) string {
	var b strings.Builder
	b.WriteString(passwordEnvPrefix)
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string
	names := make(map[string]bool)

	for i, cam := range c.Cameras {
		errs = append(errs, cam.validate(i)...)
		if names[cam.Name] {
			errs = append(errs, fmt.Sprintf("cameras[%d].name %q is duplicate", i, cam.Name))
		}
		names[cam.Name] = true
	}

	for user, patterns := range c.Users {
		for _, pattern := range patterns {
			if _, err := path.Match(pattern, ""); err != nil {
				errs = append(errs, fmt.Sprintf("users.%s: invalid pattern %q", user, pattern))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c CameraConfig) validate(i int) []string {
	var errs []string
	field := func(name string) string { return fmt.Sprintf("cameras[%d].%s", i, name) }

	if c.Name == "" {
		errs = append(errs, field("name")+" is required")
	}
	if c.Host == "" {
		errs = append(errs, field("host")+" is required")
	}
	if c.Username == "" {
		errs = append(errs, field("username")+" is required")
	}
	if c.Password == "" {
		errs = append(errs, field("password")+" is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, field("port")+" must be between 1 and 65535")
	}
	if !slices.Contains(AuthenticationList, c.Authentication) {
		errs = append(errs, fmt.Sprintf("%s must be one of %v", field("authentication"), AuthenticationList))
	}
	if _, ok := ResolutionList[c.Resolution]; !ok {
		errs = append(errs, field("resolution")+` must be "high" or "low"`)
	}
	if !slices.Contains(StreamSourceList, c.StreamSource) {
		errs = append(errs, fmt.Sprintf("%s must be one of %v", field("stream_source"), StreamSourceList))
	}
	if c.ScanInterval < time.Second {
		errs = append(errs, field("scan_interval")+" must be at least 1s")
	}
	if c.Channel < 0 {
		errs = append(errs, field("channel")+" must not be negative")
	}

	errs = append(errs, validateKeys(field("binary_sensors"), c.BinarySensors, binarySensorKeys())...)
	errs = append(errs, validateKeys(field("sensors"), c.Sensors, sensorKeys())...)
	errs = append(errs, validateKeys(field("switches"), c.Switches, switchKeys())...)

	for _, key := range c.BinarySensors {
		if strings.HasSuffix(key, polledSuffix) {
			continue
		}
		if slices.Contains(c.BinarySensors, key+polledSuffix) {
			errs = append(errs, fmt.Sprintf("%s cannot contain both %s and %s",
				field("binary_sensors"), key, key+polledSuffix))
		}
	}

	return errs
}

func validateKeys(field string, keys, allowed []string) []string {
	var errs []string
	seen := make(map[string]bool)
	for _, key := range keys {
		if !slices.Contains(allowed, key) {
			errs = append(errs, fmt.Sprintf("%s: unknown key %q", field, key))
		}
		if seen[key] {
			errs = append(errs, fmt.Sprintf("%s: duplicate key %q", field, key))
		}
		seen[key] = true
	}
	return errs
}
