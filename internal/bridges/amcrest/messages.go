package amcrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types exchanged between Gray Logic Core and the camera bridge.

// protocolName is the protocol identifier carried in every message.
const protocolName = "amcrest"

// ServiceCallMessage is sent from Core to the bridge to invoke a camera service.
// Topic: graylogic/command/amcrest/{service}
type ServiceCallMessage struct {
	// ID correlates the call with its acknowledgement. Generated when empty.
	ID string `json:"id"`

	// Timestamp is when the call was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// EntityID selects the target entities: a single ID, a list of IDs,
	// a comma-separated string, "all" or "none".
	EntityID json.RawMessage `json:"entity_id,omitempty"`

	// UserID is the user on whose behalf the call runs. Empty for
	// system-initiated calls, which skip permission checks.
	UserID string `json:"user_id,omitempty"`

	// Data holds service parameters, e.g. {"preset": 3}.
	Data map[string]any `json:"data,omitempty"`
}

// AckStatus represents the acknowledgement status of a service call.
type AckStatus string

const (
	// AckAccepted indicates every targeted camera executed the call.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the call was rejected or at least one camera failed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core after a service call.
// Topic: graylogic/ack/amcrest/{service}
type AckMessage struct {
	// CallID is the ID from the service call.
	CallID string `json:"call_id"`

	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Protocol  string    `json:"protocol"`
	Status    AckStatus `json:"status"`

	// Entities lists the entity IDs the call was dispatched to.
	Entities []string `json:"entities,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed service calls.
type AckError struct {
	// Code is the error code (e.g., "UNAUTHORIZED", "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for failed service calls.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeLoginFailed       = "LOGIN_FAILED"
	ErrCodeUnknownService    = "UNKNOWN_SERVICE"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUnknownUser       = "UNKNOWN_USER"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent when an entity's state changes.
// Topic: graylogic/state/amcrest/{entity_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	EntityID  string    `json:"entity_id"`
	Camera    string    `json:"camera"`
	Timestamp time.Time `json:"timestamp"`

	// Available mirrors the camera's availability when the state was taken.
	Available bool `json:"available"`

	// State contains the entity state, e.g. {"on": true} or {"value": 42.5}.
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
}

// AvailabilityMessage is sent when a camera becomes available or unavailable.
// Topic: graylogic/availability/amcrest/{camera}
// QoS: 1, Retained: Yes
type AvailabilityMessage struct {
	Camera    string    `json:"camera"`
	Timestamp time.Time `json:"timestamp"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Errors    int       `json:"errors"`
	Protocol  string    `json:"protocol"`
}

// EventMessage carries one raw event from a camera's event stream.
// Topic: graylogic/event/amcrest/{camera}
type EventMessage struct {
	ID        string         `json:"id"`
	Camera    string         `json:"camera"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Protocol  string         `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates every camera is available.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT is down or some cameras are unavailable.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/amcrest
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge           string       `json:"bridge"`
	Timestamp        time.Time    `json:"timestamp"`
	Status           HealthStatus `json:"status"`
	Version          string       `json:"version"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	CamerasManaged   int          `json:"cameras_managed"`
	CamerasAvailable int          `json:"cameras_available"`
	Reason           string       `json:"reason,omitempty"`
}

// ParseServiceCall decodes a service call payload, filling in a missing ID
// and timestamp.
func ParseServiceCall(payload []byte) (ServiceCallMessage, error) {
	var msg ServiceCallMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal service call: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg, nil
}

// NewAckMessage creates an accepted acknowledgement.
func NewAckMessage(call ServiceCallMessage, service string, entities []string) AckMessage {
	return AckMessage{
		CallID:    call.ID,
		Timestamp: time.Now().UTC(),
		Service:   service,
		Protocol:  protocolName,
		Status:    AckAccepted,
		Entities:  entities,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(call ServiceCallMessage, service string, entities []string, code, message string) AckMessage {
	ack := NewAckMessage(call, service, entities)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for an entity.
func NewStateMessage(entityID, camera string, available bool, state map[string]any) StateMessage {
	return StateMessage{
		EntityID:  entityID,
		Camera:    camera,
		Timestamp: time.Now().UTC(),
		Available: available,
		State:     state,
		Protocol:  protocolName,
	}
}

// NewAvailabilityMessage creates an availability message for a camera.
func NewAvailabilityMessage(camera string, available bool, reason string, errorCount int) AvailabilityMessage {
	return AvailabilityMessage{
		Camera:    camera,
		Timestamp: time.Now().UTC(),
		Available: available,
		Reason:    reason,
		Errors:    errorCount,
		Protocol:  protocolName,
	}
}

// NewEventMessage creates an event message with a fresh ID.
func NewEventMessage(camera string, event Event) EventMessage {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventMessage{
		ID:        uuid.NewString(),
		Camera:    camera,
		Event:     event.Code,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Protocol:  protocolName,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, status HealthStatus, managed, available int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           protocolName,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		CamerasManaged:   managed,
		CamerasAvailable: available,
	}
}

// NewLWTMessage creates the Last Will message published if the bridge dies.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    protocolName,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// ackCode maps an error to an acknowledgement error code.
func ackCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLogin):
		return ErrCodeLoginFailed
	case errors.Is(err, ErrDevice):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrUnknownService):
		return ErrCodeUnknownService
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrUnknownUser):
		return ErrCodeUnknownUser
	default:
		return ErrCodeBridgeError
	}
}
