// Package database provides SQLite storage for the camera bridge.
//
// It holds the availability history written by the health monitor and the
// camera events received from event streams. The package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Health checks for the status endpoint
//
// All queries use parameterised statements and the database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have DEFAULT
// values and every .up.sql has a matching .down.sql.
package database
