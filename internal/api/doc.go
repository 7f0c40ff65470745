// Package api provides the live camera event stream served by the status
// server.
//
// Clients connect with a WebSocket upgrade and subscribe to channels:
//
//	camera.event         every event read from a camera event stream
//	camera.availability  every availability transition of a camera
//
// Channels are chosen with ?channels=camera.event,camera.availability on the
// upgrade request or with subscribe/unsubscribe messages:
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["camera.event"]}}
//
// A ping message is answered with a pong. Slow clients drop messages rather
// than block broadcasts.
package api
