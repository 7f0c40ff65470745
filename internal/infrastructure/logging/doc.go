// Package logging provides structured logging for the Gray Logic camera bridge.
//
// It wraps log/slog so every component logs with the same shape:
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Per-camera child loggers via ForCamera
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	camLog := logger.ForCamera("front-door")
//	camLog.Error("camera offline: too many errors")
//
// Camera passwords are never logged; log the camera name instead.
package logging
