// Package mqtt wraps paho.mqtt.golang for the Smarther bridge.
//
// It provides connection management with automatic reconnection,
// subscription tracking (restored after reconnect), publish with timeout,
// and a Last Will so local subscribers can tell a crashed bridge from a
// stopped one. Topic construction and parsing for the bridge's
// set_status/status scheme lives in topics.go.
package mqtt
