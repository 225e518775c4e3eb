// Package history records thermostat status summaries in SQLite so recent
// readings survive bridge restarts and are queryable over HTTP.
package history
