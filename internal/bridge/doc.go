// Package bridge contains the long-running tasks that tie the Smarther
// cloud platform to the local MQTT broker: token lifecycle management,
// the MQTT command/status bridge, webhook subscription management, and
// the HTTP ingress server that receives cloud push notifications.
//
// Each task is started as its own goroutine and runs until the shared
// context is cancelled. Tasks communicate through the token manager (a
// single-writer credential holder) and a buffered status channel; none
// of them share mutable state directly.
package bridge
