package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/infrastructure/mqtt"
	"smartherbridge/internal/smarther"
)

const (
	// statusBuffer sizes the ingress-to-bridge status channel. Bursts of
	// cloud notifications are absorbed here; on overflow the oldest
	// pending update is dropped in favour of the newer one.
	statusBuffer = 256

	// commandBuffer sizes the broker-to-bridge command channel.
	commandBuffer = 16
)

// Broker is the MQTT surface the bridge task needs. Satisfied by
// *mqtt.Client; tests substitute an in-memory fake.
type Broker interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte) error
}

// HistoryRecorder persists status summaries. Optional.
type HistoryRecorder interface {
	Record(ctx context.Context, plantID, moduleID string, status any) error
}

// TelemetryWriter records numeric readings in a time-series store. Optional.
type TelemetryWriter interface {
	WriteMeasurement(plantID, moduleID, field string, value float64)
}

// command is a validated status-change request received over MQTT.
type command struct {
	plantID  string
	moduleID string
	request  smarther.SetStatusRequest
}

// MQTTBridge relays in both directions between the broker and the cloud:
// set_status commands go up to the platform, status notifications come
// down and are published per module.
//
// All cloud calls happen on the bridge's own goroutine (the Run loop),
// so command ordering per run is the arrival order on the broker.
type MQTTBridge struct {
	broker   Broker
	api      CloudAPI
	tokens   *TokenManager
	topology smarther.CachedTopology
	topics   mqtt.Topics
	logger   *logging.Logger

	statuses chan StatusUpdate
	commands chan command

	// Optional sinks, nil when the subsystem is disabled.
	history   HistoryRecorder
	telemetry TelemetryWriter

	// onStatus is invoked after each successful status publication, used
	// to fan out to websocket clients. Optional.
	onStatus func(update StatusUpdate, summary StatusSummary)
}

// NewMQTTBridge creates the bridge task. The optional sinks may be nil.
func NewMQTTBridge(broker Broker, api CloudAPI, tokens *TokenManager, topology smarther.CachedTopology, topics mqtt.Topics, logger *logging.Logger) *MQTTBridge {
	return &MQTTBridge{
		broker:   broker,
		api:      api,
		tokens:   tokens,
		topology: topology,
		topics:   topics,
		logger:   logger,
		statuses: make(chan StatusUpdate, statusBuffer),
		commands: make(chan command, commandBuffer),
	}
}

// SetHistory attaches the status history store.
func (b *MQTTBridge) SetHistory(h HistoryRecorder) { b.history = h }

// SetTelemetry attaches the time-series sink.
func (b *MQTTBridge) SetTelemetry(t TelemetryWriter) { b.telemetry = t }

// SetOnStatus attaches a callback fired after each published status.
func (b *MQTTBridge) SetOnStatus(fn func(update StatusUpdate, summary StatusSummary)) {
	b.onStatus = fn
}

// PushStatus hands a status update from the ingress server to the bridge.
//
// Never blocks: when the buffer is full the oldest pending update is
// discarded so the freshest state wins.
func (b *MQTTBridge) PushStatus(update StatusUpdate) {
	for {
		select {
		case b.statuses <- update:
			return
		default:
		}
		select {
		case dropped := <-b.statuses:
			b.logger.Warn("status buffer full, dropping oldest update",
				"plant_id", dropped.PlantID,
				"module_id", dropped.ModuleID,
			)
		default:
		}
	}
}

// Run subscribes to every managed module's command topic and processes
// commands and status updates until the context is cancelled.
func (b *MQTTBridge) Run(ctx context.Context) error {
	if err := b.subscribeCommands(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.commands:
			b.handleCommand(ctx, cmd)
		case update := <-b.statuses:
			b.publishStatus(ctx, update)
		}
	}
}

// subscribeCommands registers one subscription per managed module.
func (b *MQTTBridge) subscribeCommands() error {
	for _, plant := range b.topology.Plants {
		for _, module := range plant.Modules {
			topic := b.topics.SetStatus(plant.ID, module.ID)
			if err := b.broker.Subscribe(topic, b.handleCommandMessage); err != nil {
				return err
			}
			b.logger.Debug("subscribed to command topic", "topic", topic)
		}
	}
	return nil
}

// handleCommandMessage parses one message from a set_status topic and
// queues it for the Run loop. Malformed payloads are dropped here; no
// cloud call is ever made for them.
func (b *MQTTBridge) handleCommandMessage(topic string, payload []byte) error {
	plantID, moduleID, ok := b.topics.ParseSetStatus(topic)
	if !ok {
		b.logger.Warn("message on unexpected topic", "topic", topic)
		return nil
	}

	var req smarther.SetStatusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("dropping malformed command payload",
			"topic", topic,
			"error", err,
		)
		return nil
	}
	if err := req.Validate(); err != nil {
		b.logger.Warn("dropping invalid command",
			"topic", topic,
			"type", req.Type,
			"error", err,
		)
		return nil
	}

	select {
	case b.commands <- command{plantID: plantID, moduleID: moduleID, request: req}:
	default:
		b.logger.Warn("command buffer full, dropping command", "topic", topic)
	}
	return nil
}

// handleCommand forwards one command to the platform. A rejected access
// token triggers one out-of-band refresh and a single retry.
func (b *MQTTBridge) handleCommand(ctx context.Context, cmd command) {
	auth, err := b.tokens.RefreshIfNeeded(ctx)
	if err != nil {
		b.logger.Error("command dropped, credential refresh failed",
			"plant_id", cmd.plantID,
			"module_id", cmd.moduleID,
			"error", err,
		)
		return
	}

	err = b.api.SetDeviceStatus(ctx, auth, cmd.plantID, cmd.moduleID, cmd.request)
	if errors.Is(err, smarther.ErrUnauthorized) {
		auth, err = b.tokens.Refresh(ctx, auth)
		if err == nil {
			err = b.api.SetDeviceStatus(ctx, auth, cmd.plantID, cmd.moduleID, cmd.request)
		}
	}
	if err != nil {
		b.logger.Error("status-change command failed",
			"plant_id", cmd.plantID,
			"module_id", cmd.moduleID,
			"type", cmd.request.Type,
			"error", err,
		)
		return
	}

	b.logger.Info("status-change command forwarded",
		"plant_id", cmd.plantID,
		"module_id", cmd.moduleID,
		"type", cmd.request.Type,
	)
}

// publishStatus publishes one thermostat status to its module topic and
// feeds the optional sinks. Sink failures degrade only the sink.
func (b *MQTTBridge) publishStatus(ctx context.Context, update StatusUpdate) {
	summary := Summarize(update.Status)

	payload, err := json.Marshal(summary)
	if err != nil {
		b.logger.Error("encoding status summary", "error", err)
		return
	}

	topic := b.topics.Status(update.PlantID, update.ModuleID)
	if err := b.broker.Publish(topic, payload); err != nil {
		b.logger.Error("publishing status", "topic", topic, "error", err)
		return
	}

	if b.history != nil {
		if err := b.history.Record(ctx, update.PlantID, update.ModuleID, summary); err != nil {
			b.logger.Warn("recording status history", "error", err)
		}
	}

	if b.telemetry != nil {
		if summary.Temperature != nil {
			b.telemetry.WriteMeasurement(update.PlantID, update.ModuleID, "temperature_c", *summary.Temperature)
		}
		if summary.Humidity != nil {
			b.telemetry.WriteMeasurement(update.PlantID, update.ModuleID, "humidity_percent", *summary.Humidity)
		}
		if summary.SetPoint != nil {
			b.telemetry.WriteMeasurement(update.PlantID, update.ModuleID, "set_point_c", *summary.SetPoint)
		}
	}

	if b.onStatus != nil {
		b.onStatus(update, summary)
	}
}
