package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// connection attempt. With connect-retry enabled the client keeps
	// trying in the background after this elapses.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish/subscribe
	// acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on
	// disconnect, in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// reconnectInterval is the fixed delay between reconnection attempts.
	// The bridge's reconnect contract is fixed backoff, not exponential.
	reconnectInterval = 5 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// clientIDPrefix prefixes the generated MQTT client identifier.
	clientIDPrefix = "smartherbridge"
)

// Config contains the broker connection settings the wrapper needs.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// BaseTopic anchors the Last Will topic.
	BaseTopic string

	// QoS is the delivery quality for bridge publications. The bridge
	// uses at-least-once (1) in both directions.
	QoS byte
}

// buildClientOptions creates paho MQTT options from bridge config.
//
// This configures:
//   - Broker URL and credentials
//   - A unique client id per run (the broker holds the previous session
//     briefly after a crash; a fixed id would collide with it)
//   - Auto-reconnect with fixed-interval retry
//   - Clean session mode
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("%s-%s", clientIDPrefix, uuid.NewString()[:8]))

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Fixed-interval reconnect: both the initial connect and later
	// reconnects keep retrying until the bridge is cancelled.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.SetMaxReconnectInterval(reconnectInterval)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}

// configureLWT sets up the Last Will so subscribers can detect an
// uncleanly disconnected bridge.
func configureLWT(opts *pahomqtt.ClientOptions, cfg Config) {
	willTopic := Topics{Base: cfg.BaseTopic}.BridgeStatus()
	willPayload := fmt.Sprintf(
		`{"status":"offline","reason":"unexpected_disconnect","timestamp":"%s"}`,
		time.Now().UTC().Format(time.RFC3339),
	)
	opts.SetWill(willTopic, willPayload, 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload() string {
	return fmt.Sprintf(
		`{"status":"online","timestamp":"%s"}`,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload() string {
	return fmt.Sprintf(
		`{"status":"offline","reason":"graceful_shutdown","timestamp":"%s"}`,
		time.Now().UTC().Format(time.RFC3339),
	)
}
