// Gray Logic Camera - Amcrest camera bridge
//
// This is the main entry point for the Gray Logic camera bridge. It connects
// Amcrest IP cameras to the Gray Logic MQTT bus:
//   - Per-camera health monitoring (offline after repeated failures, login errors)
//   - Camera events published as they arrive
//   - Camera services (PTZ, recording, privacy, motion detection) via MQTT commands
//
// Configuration is read from GRAYLOGIC_CONFIG (default configs/config.yaml);
// the camera list lives in the file named by protocols.amcrest.config_file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-camera/migrations"

	"github.com/nerrad567/gray-logic-camera/internal/api"
	"github.com/nerrad567/gray-logic-camera/internal/audit"
	"github.com/nerrad567/gray-logic-camera/internal/bridges/amcrest"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C / SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic camera bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (availability and event history)
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	m := metrics.New()
	health := metrics.NewHealth(m)
	health.AddReadinessCheck("database", metrics.Check(db.HealthCheck, 0))
	health.AddReadinessCheck("mqtt", metrics.Check(mqttClient.HealthCheck, 0))
	if influxClient != nil {
		health.AddReadinessCheck("influxdb", metrics.Check(influxClient.HealthCheck, 0))
	}

	// Live event stream for status server clients
	hub := api.NewHub(cfg.Status.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	defer stopHub()

	sinks := telemetrySinks{
		metrics: m,
		influx:  influxClient,
		history: amcrest.NewHistoryRepository(db.DB),
		audit:   audit.NewSQLiteRepository(db.DB),
		hub:     hub,
	}

	// Start the camera bridge
	var bridge *amcrest.Bridge
	if cfg.Protocols.Amcrest.Enabled {
		bridge, err = startAmcrestBridge(ctx, cfg, mqttClient, sinks, log)
		if err != nil {
			return fmt.Errorf("starting Amcrest bridge: %w", err)
		}
		defer func() {
			log.Info("stopping Amcrest bridge")
			bridge.Stop()
		}()
		health.AddReadinessCheck("cameras", metrics.Check(bridge.Ready, 0))
	} else {
		log.Info("Amcrest bridge disabled")
	}

	// Status server (liveness, readiness, metrics, camera list)
	if cfg.Status.Enabled {
		deps := metrics.ServerDeps{
			Config:  cfg.Status,
			Metrics: m,
			Health:  health,
			Logger:  log,
			Events:  hub,
			Audit:   sinks.audit,
			History: cameraHistory(sinks.history),
		}
		if bridge != nil {
			deps.Cameras = bridge
		}
		server, serverErr := metrics.NewServer(deps)
		if serverErr != nil {
			return fmt.Errorf("creating status server: %w", serverErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status server: %w", startErr)
		}
		defer func() {
			log.Info("stopping status server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping status server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: status server, bridge,
	// event stream, InfluxDB, MQTT, database.

	log.Info("Gray Logic camera bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux returns nil without error when InfluxDB is disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Camera availability is not a startup requirement: an offline camera
	// is rechecked in the background and reported via /ready.

	return nil
}

// telemetrySinks are the destinations for camera telemetry and service call audit.
type telemetrySinks struct {
	metrics *metrics.Metrics
	influx  *influxdb.Client // nil when disabled
	history *amcrest.HistoryRepository
	audit   *audit.SQLiteRepository
	hub     *api.Hub
}

// cameraHistory serves /api/cameras/{name}/history from the SQLite history.
func cameraHistory(repo *amcrest.HistoryRepository) metrics.HistoryFunc {
	return func(ctx context.Context, camera string, limit int) (any, error) {
		availability, err := repo.RecentAvailability(ctx, camera, limit)
		if err != nil {
			return nil, err
		}
		events, err := repo.RecentEvents(ctx, camera, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"camera":       camera,
			"availability": availability,
			"events":       events,
		}, nil
	}
}

// startAmcrestBridge loads the camera list and starts the bridge with
// telemetry going to every sink.
func startAmcrestBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	sinks telemetrySinks,
	log *logging.Logger,
) (*amcrest.Bridge, error) {
	camCfg, err := amcrest.LoadConfig(cfg.Protocols.Amcrest.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading camera config: %w", err)
	}
	log.Info("camera config loaded",
		"path", cfg.Protocols.Amcrest.ConfigFile,
		"cameras", len(camCfg.Cameras),
	)

	telemetry := &amcrest.Telemetry{
		Metrics: sinks.metrics,
		History: sinks.history,
		Stream:  sinks.hub,
		Logger:  log,
	}
	if sinks.influx != nil {
		telemetry.Points = sinks.influx
	}

	bridge, err := amcrest.NewBridge(amcrest.BridgeOptions{
		Config:          camCfg,
		MQTTClient:      mqttClient,
		Observer:        telemetry,
		Audit:           sinks.audit,
		Logger:          log,
		Version:         version,
		HealthInterval:  cfg.GetHealthInterval(),
		RecheckInterval: cfg.Protocols.Amcrest.RecheckInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("Amcrest bridge started", "cameras", len(camCfg.Cameras))

	return bridge, nil
}
