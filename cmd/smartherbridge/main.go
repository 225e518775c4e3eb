// Smarther Bridge - cloud to MQTT bridge for BTicino Smarther thermostats.
//
// The bridge keeps the OAuth credential fresh, relays set_status commands
// from the local MQTT broker to the Smarther cloud platform, registers
// webhook subscriptions so the platform pushes thermostat status changes
// back, and republishes those statuses per module on the broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "smartherbridge/migrations"

	"smartherbridge/internal/bridge"
	"smartherbridge/internal/history"
	"smartherbridge/internal/infrastructure/config"
	"smartherbridge/internal/infrastructure/database"
	"smartherbridge/internal/infrastructure/influxdb"
	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/infrastructure/mqtt"
	"smartherbridge/internal/smarther"
	"smartherbridge/internal/statestore"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main so errors map
// onto exit codes in one place.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Smarther bridge", "version", version, "commit", commit)

	paths := statestore.DefaultPaths()
	store := statestore.New(paths)

	// Load configuration; write the merged result back so the snapshot
	// always shows every setting with its effective default.
	cfg, err := config.Load(paths.Configuration())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Save(cfg, paths.Configuration()); err != nil {
		log.Warn("could not rewrite configuration snapshot", "error", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "dir", paths.Dir)

	// The credential and topology snapshots are prerequisites: without
	// them the bridge has nothing to talk to and nothing to manage.
	auth, err := store.LoadAuth()
	if err != nil {
		return fmt.Errorf("loading authorization snapshot (run setup first): %w", err)
	}
	topology, err := store.LoadTopology()
	if err != nil {
		return fmt.Errorf("loading topology snapshot (run setup first): %w", err)
	}
	moduleCount := 0
	for _, p := range topology.Plants {
		moduleCount += len(p.Modules)
	}
	log.Info("topology loaded", "plants", len(topology.Plants), "modules", moduleCount)

	api := smarther.New()
	tokens := bridge.NewTokenManager(api, store, auth, log.With("component", "tokens"))

	// Status history (optional). A broken database degrades history only.
	var historyRepo *history.Repository
	var db *database.DB
	if cfg.History.Enabled {
		db, err = database.Open(cfg.History.Path)
		if err != nil {
			log.Error("history disabled, database unavailable", "error", err)
		} else if err := db.Migrate(ctx); err != nil {
			log.Error("history disabled, migrations failed", "error", err)
			_ = db.Close()
			db = nil
		} else {
			defer func() {
				log.Info("closing history database")
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing database", "error", closeErr)
				}
			}()
			historyRepo = history.NewRepository(db)
			log.Info("history database ready", "path", cfg.History.Path)
		}
	}

	// Telemetry sink (optional).
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Error("telemetry disabled, InfluxDB unavailable", "error", err)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	// MQTT broker. Connect keeps retrying in the background, so an
	// unreachable broker at startup is logged, not fatal.
	mqttClient, err := mqtt.Connect(mqtt.Config{
		Host:      cfg.MQTTBroker,
		Port:      cfg.MQTTPort,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		BaseTopic: cfg.MQTTBaseTopic,
		QoS:       1,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected, reconnecting", "error", err)
	})

	topics := mqtt.Topics{Base: cfg.MQTTBaseTopic}
	mqttBridge := bridge.NewMQTTBridge(mqttClient, api, tokens, topology, topics, log.With("component", "bridge"))
	if historyRepo != nil {
		mqttBridge.SetHistory(historyRepo)
	}
	if influxClient != nil {
		mqttBridge.SetTelemetry(influxClient)
	}

	hub := bridge.NewHub(log.With("component", "ws"))
	mqttBridge.SetOnStatus(hub.BroadcastStatus)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mqttBridge.Run(ctx); err != nil {
			log.Error("MQTT bridge stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// The webhook subsystem (cloud-side subscriptions plus the ingress
	// server that receives their notifications) only makes sense with a
	// publicly reachable endpoint configured.
	if cfg.WebhookEndpoint != "" {
		webhooks := bridge.NewWebhookManager(api, tokens, store, topology, cfg.WebhookEndpoint, log.With("component", "webhooks"))

		ingress := bridge.NewIngress(
			fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
			mqttBridge,
			topology,
			log.With("component", "ingress"),
		)
		if historyRepo != nil {
			ingress.SetHistoryReader(historyRepo)
		}
		ingress.SetHub(hub)
		ingress.AddHealthChecker("mqtt", mqttClient)
		if db != nil {
			ingress.AddHealthChecker("database", db)
		}
		if influxClient != nil {
			ingress.AddHealthChecker("influxdb", influxClient)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webhooks.Run(ctx); err != nil {
				log.Error("webhook manager stopped", "error", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			// A failed bind loses push notifications, the rest of the
			// bridge keeps working.
			if err := ingress.Start(ctx); err != nil {
				log.Error("ingress server stopped", "error", err)
			}
		}()
	} else {
		log.Info("webhook subsystem disabled, no endpoint configured")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	wg.Wait()

	log.Info("Smarther bridge stopped")
	return nil
}
