// Package amcrest implements the Amcrest/Dahua IP camera bridge for Gray Logic.
//
// The bridge talks to each camera's HTTP CGI API and translates between it
// and Gray Logic's MQTT topics.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP CGI
//	│   Gray Logic    │   MQTT   │  Camera Bridge  │◄────────► Cameras
//	│      Core       │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Wrap every camera API in a Checker that tracks consecutive failures
//     and exposes availability
//   - Keep each camera's event stream attached and fan events out to MQTT
//     and to binary sensors
//   - Dispatch service calls (enable_recording, goto_preset, ptz_control, ...)
//     to camera entities, honouring user permissions
//   - Publish entity state, availability and bridge health
//
// # Availability
//
// A camera stays available while it has at most MaxErrors consecutive device
// errors and its credentials are accepted. One more device error, or any
// login failure, makes it unavailable; a background task then probes it
// every RecheckInterval until a command succeeds.
//
//	checker.WaitAvailable(ctx) // returns at once while available
//
// # Signals
//
// Components are decoupled through a Dispatcher. Signal names are built
// with ServiceSignal:
//
//	ServiceSignal("update", "front")               // availability changed
//	ServiceSignal("event", "front", "VideoMotion") // event for a sensor
//	ServiceSignal("goto_preset", "camera.front")   // service for an entity
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package amcrest
