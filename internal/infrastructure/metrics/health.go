package metrics

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"
)

// defaultCheckTimeout bounds every readiness check.
const defaultCheckTimeout = 2 * time.Second

// ContextCheck is a health check in the shape used by the infrastructure
// clients (mqtt.Client, database.DB, influxdb.Client).
type ContextCheck func(ctx context.Context) error

// NewHealth creates a health handler whose check results are also exported
// as graylogic_camera_healthcheck_status on m's registry.
func NewHealth(m *Metrics) healthcheck.Handler {
	return healthcheck.NewMetricsHandler(m.registry, namespace)
}

// Check adapts a ContextCheck to healthcheck.Check, bounding it by timeout
// (defaultCheckTimeout when zero).
func Check(fn ContextCheck, timeout time.Duration) healthcheck.Check {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}, timeout)
}
