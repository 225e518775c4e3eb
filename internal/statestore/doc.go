// Package statestore persists the bridge's flat JSON state snapshots:
// authorization tokens, cached plant topology, and the active webhook
// subscription set.
//
// The contract with the rest of the bridge is read-at-startup,
// write-immediately-after-change: every state-changing operation (token
// refresh, subscription register/unregister) persists before or as it
// commits, and writes are atomic so a crash always leaves the most recent
// committed snapshot recoverable.
package statestore
