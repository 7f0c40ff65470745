// Package metrics exposes the camera bridge's operational state over HTTP.
//
// It owns three things:
//   - Prometheus collectors for camera commands, availability and transitions
//   - Liveness and readiness checks (heptiolabs/healthcheck)
//   - A small chi status server serving /healthz, /ready, /metrics and
//     /api/cameras
//
// The collectors use a private registry so tests can create as many
// instances as they like.
//
//	m := metrics.New()
//	m.ObserveCommand("front-door", "goto_preset", err)
//
//	srv, err := metrics.NewServer(metrics.ServerDeps{...})
//	srv.Start(ctx)
//	defer srv.Close()
package metrics
