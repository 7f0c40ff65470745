// Package mqtt provides MQTT client connectivity for the camera bridge.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The camera bridge publishes camera state, availability and events onto the
// Gray Logic bus and receives service calls from it:
//
//	Cameras (HTTP CGI) ↔ Amcrest Bridge ↔ MQTT Broker ↔ Gray Logic Core
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllServiceCommands(), 1, bridge.HandleServiceCall)
//
//	topic := mqtt.Topics{}.CameraAvailability("front-door")
//	client.PublishJSON(topic, map[string]any{"available": true}, true)
//
// TLS is required in production (cfg.Broker.TLS=true). Anonymous access is
// only for local development.
package mqtt
