// Package config loads and persists the bridge configuration snapshot.
//
// Configuration lives in a JSON file alongside the other state snapshots
// (tokens, topology, subscriptions). Missing fields fall back to defaults,
// environment variables override file values, and the merged result is
// written back at startup so the snapshot on disk is always complete.
package config
