// Package database provides SQLite connection management for Lens Logic Core.
//
// This package manages:
//   - Opening the SQLite database with WAL mode and busy timeout
//   - Embedded schema migrations (applied on startup)
//   - Connection health checks
//   - Lifecycle (open, migrate, close)
//
// SQLite is used as the on-disk configuration store: camera records,
// credentials, device indices, and the last-seen status snapshot live here.
// The database file is created with 0600 permissions because it contains
// camera credentials.
package database
