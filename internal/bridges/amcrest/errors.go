package amcrest

import (
	"errors"
	"fmt"
)

// Domain errors for the Amcrest bridge package.
var (
	// ErrLogin is the sentinel every LoginError matches.
	// Credentials were rejected by the camera.
	ErrLogin = errors.New("amcrest: login failed")

	// ErrDevice is the sentinel every DeviceError matches.
	// The camera could not be reached or answered with an error.
	ErrDevice = errors.New("amcrest: device error")

	// ErrNoDevices is returned by Bridge.Start when no camera is configured.
	ErrNoDevices = errors.New("amcrest: no cameras configured")

	// ErrUnknownService is returned when a service name is not in the service table.
	ErrUnknownService = errors.New("amcrest: unknown service")

	// ErrDuplicateService is returned when a service is registered twice.
	ErrDuplicateService = errors.New("amcrest: service already registered")

	// ErrInvalidParameters is returned when service call data fails validation.
	ErrInvalidParameters = errors.New("amcrest: invalid service parameters")

	// ErrUnauthorized is returned when the caller may not control a requested entity.
	ErrUnauthorized = errors.New("amcrest: unauthorized")

	// ErrUnknownUser is returned when a service call names a user that doesn't exist.
	ErrUnknownUser = errors.New("amcrest: unknown user")

	// ErrDuplicateDevice is returned when two cameras share a name.
	ErrDuplicateDevice = errors.New("amcrest: duplicate camera name")

	// ErrUnexpectedResponse is returned when a camera reply can't be parsed.
	ErrUnexpectedResponse = errors.New("amcrest: unexpected response")
)

// LoginError reports that the camera rejected the configured credentials.
// It matches ErrLogin with errors.Is.
type LoginError struct {
	Camera string
	Err    error
}

func (e *LoginError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("amcrest: %s: login failed", e.Camera)
	}
	return fmt.Sprintf("amcrest: %s: login failed: %v", e.Camera, e.Err)
}

// Is reports whether target is ErrLogin.
func (e *LoginError) Is(target error) bool { return target == ErrLogin }

// Unwrap returns the underlying cause.
func (e *LoginError) Unwrap() error { return e.Err }

// DeviceError reports a transport failure, timeout or error status from
// the camera. It matches ErrDevice with errors.Is.
type DeviceError struct {
	Camera     string
	Command    string
	StatusCode int
	Err        error
}

func (e *DeviceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("amcrest: %s: %s: HTTP %d: %v", e.Camera, e.Command, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("amcrest: %s: %s: HTTP %d", e.Camera, e.Command, e.StatusCode)
	default:
		return fmt.Sprintf("amcrest: %s: %s: %v", e.Camera, e.Command, e.Err)
	}
}

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }
