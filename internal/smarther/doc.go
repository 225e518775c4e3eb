// Package smarther is a client for the Legrand/BTicino Smarther v2 cloud
// API: token refresh, plant topology, device status and webhook
// subscription management.
//
// The client is stateless with respect to credentials: every call takes an
// AuthorizationInfo so callers can clone the shared credential immediately
// before use. Credential lifecycle lives in the bridge's token manager, not
// here.
package smarther
