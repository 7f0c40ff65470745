package mqtt

import "fmt"

// Topic prefixes for the camera bridge.
//
// Bridge topics use the flat Gray Logic scheme: graylogic/{category}/{protocol}/{address}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// Protocol is the protocol segment used by the camera bridge.
	Protocol = "amcrest"
)

// Topics provides builders for the camera bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.CameraEvent("front-door")
//	// Returns: "graylogic/event/amcrest/front-door"
type Topics struct{}

// CameraState returns the retained state topic for a camera entity
// (camera, binary sensor, sensor or switch).
//
// Example: graylogic/state/amcrest/front-door_motion_detected
func (Topics) CameraState(entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, entityID)
}

// CameraAvailability returns the retained availability topic for a camera.
//
// Example: graylogic/availability/amcrest/front-door
func (Topics) CameraAvailability(camera string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, Protocol, camera)
}

// CameraEvent returns the topic raw camera events are fired on.
//
// Example: graylogic/event/amcrest/front-door
func (Topics) CameraEvent(camera string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, Protocol, camera)
}

// ServiceCommand returns the topic a service call is received on.
//
// Example: graylogic/command/amcrest/goto_preset
func (Topics) ServiceCommand(service string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, service)
}

// ServiceAck returns the topic a service call acknowledgement is published on.
//
// Example: graylogic/ack/amcrest/goto_preset
func (Topics) ServiceAck(service string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, service)
}

// BridgeHealth returns the bridge health topic.
//
// Example: graylogic/health/amcrest
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// AllServiceCommands returns a pattern matching every service call.
//
// Pattern: graylogic/command/amcrest/+
func (Topics) AllServiceCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllCameraEvents returns a pattern matching every camera event.
//
// Pattern: graylogic/event/amcrest/+
func (Topics) AllCameraEvents() string {
	return fmt.Sprintf("%s/event/%s/+", TopicPrefix, Protocol)
}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
