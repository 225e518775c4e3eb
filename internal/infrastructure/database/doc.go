// Package database provides the SQLite connection and schema migrations
// for the bridge's status history store.
//
// The database is optional: when history is disabled in configuration the
// bridge never opens it. Migrations are embedded into the binary by the
// migrations package and applied at startup.
package database
