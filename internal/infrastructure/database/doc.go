// Package database provides the SQLite connection behind the packet archive.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Embedded schema migrations (registered by the migrations package)
//   - Health checks and transaction helpers
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// # Usage
//
//	import _ "github.com/nerrad567/ssds-ingest/migrations"
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration runs in its own transaction.
package database
