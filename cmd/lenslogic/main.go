// Lens Logic Core - Camera Fleet Controller
//
// This is the main entry point for the Lens Logic Core application. It
// manages a fleet of network production cameras: discovering them,
// opening authenticated sessions, polling their state, and exposing the
// lot over a REST/WebSocket API and an MQTT bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/lens-logic-core/migrations"

	"github.com/nerrad567/lens-logic-core/internal/api"
	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/discovery"
	"github.com/nerrad567/lens-logic-core/internal/eventlog"
	"github.com/nerrad567/lens-logic-core/internal/fleet"
	"github.com/nerrad567/lens-logic-core/internal/fleetbridge"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/config"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/database"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/logging"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// engineCloseTimeout bounds the fleet drain on shutdown. Every live
// camera gets its tally cleared and a status snapshot persisted within
// this window.
const engineCloseTimeout = 20 * time.Second

// discoveryStartDelay lets the API and MQTT bridge finish starting
// before static announcements trigger connection attempts.
const discoveryStartDelay = 500 * time.Millisecond

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lens Logic Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := confstore.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the fleet engine. The event log recorder attaches before the
	// engine starts so no lifecycle event is missed.
	events := eventlog.NewSQLiteRepository(db.DB)
	notifier := fleet.NewNotifier()
	eventlog.NewRecorder(events, log).Attach(notifier)
	engine := fleet.NewEngine(store, fleet.NewDeviceFactory(log), notifier, log, fleet.Options{
		AutoAdd:              cfg.Fleet.AutoAdd,
		ReconnectBackoff:     cfg.Fleet.ReconnectBackoff,
		MaxReconnectAttempts: cfg.Fleet.MaxReconnectAttempts,
		DefaultUsername:      cfg.Fleet.DefaultUsername,
		DefaultPassword:      cfg.Fleet.DefaultPassword,
		CommandWait:          cfg.Fleet.CommandWait,
		RequestTimeout:       cfg.Fleet.RequestTimeout,
		QueueSize:            cfg.Fleet.CommandQueueSize,
	})
	engine.Start()
	defer func() {
		log.Info("closing camera fleet")
		closeCtx, closeCancel := context.WithTimeout(context.Background(), engineCloseTimeout)
		defer closeCancel()
		engine.Close(closeCtx)
	}()
	log.Info("fleet engine started", "auto_add", cfg.Fleet.AutoAdd)

	// Bridge fleet events onto the broker (requires MQTT)
	if mqttClient != nil {
		var telemetry fleetbridge.Telemetry
		if influxClient != nil {
			telemetry = influxClient
		}

		// #nosec G115 -- QoS is validated to 0..2 by config
		bridge := fleetbridge.New(mqttClient, engine, telemetry, log, fleetbridge.Options{
			QoS: byte(cfg.MQTT.QoS),
		})
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting fleet bridge: %w", err)
		}
		defer func() {
			log.Info("stopping fleet bridge")
			bridge.Close()
		}()
		log.Info("fleet bridge started")
	}

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Store:    store,
		Engine:   engine,
		Events:   events,
		MQTT:     mqttClient,
		Influx:   influxClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Announce statically configured cameras
	if cfg.Discovery.Enabled && len(cfg.Discovery.Static) > 0 {
		browser, err := startStaticDiscovery(ctx, cfg, store, engine, log)
		if err != nil {
			return fmt.Errorf("starting discovery: %w", err)
		}
		defer func() {
			log.Info("stopping discovery")
			browser.Stop()
		}()
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// discovery, API, fleet bridge, fleet engine, InfluxDB, MQTT, database.

	log.Info("Lens Logic Core stopped")
	return nil
}

// startStaticDiscovery seeds camera records for statically configured
// cameras that carry their own credentials, then starts the browser that
// announces them to the engine.
func startStaticDiscovery(ctx context.Context, cfg *config.Config, store confstore.Repository, engine *fleet.Engine, log *logging.Logger) (*discovery.StaticBrowser, error) {
	entries := make([]discovery.StaticCamera, 0, len(cfg.Discovery.Static))
	for _, sc := range cfg.Discovery.Static {
		entries = append(entries, discovery.StaticCamera{
			Name:   sc.Name,
			Host:   sc.Host,
			Port:   sc.Port,
			Model:  sc.Model,
			Serial: sc.Serial,
		})

		// Per-camera credentials beat the fleet-wide defaults, but only
		// for records that don't exist yet.
		if sc.Username == "" && sc.Password == "" {
			continue
		}
		id := confstore.Identity(sc.Model, sc.Serial)
		if id == "_" || sc.Model == "" || sc.Serial == "" {
			id = sc.Name
		}
		cam := confstore.Camera{
			ID:       id,
			Name:     sc.Name,
			Model:    sc.Model,
			Serial:   sc.Serial,
			Host:     sc.Host,
			Port:     sc.Port,
			Username: sc.Username,
			Password: sc.Password,
		}
		if err := store.Create(ctx, &cam); err != nil && !errors.Is(err, confstore.ErrDuplicateID) {
			return nil, fmt.Errorf("seeding camera record %s: %w", id, err)
		}
	}

	browser := discovery.NewStaticBrowser(entries, discoveryStartDelay)
	if err := browser.Start(ctx, engine); err != nil {
		return nil, err
	}
	log.Info("static discovery started", "cameras", len(entries))
	return browser, nil
}

// getConfigPath returns the configuration file path.
// Uses LENSLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LENSLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// MQTT and InfluxDB are skipped when not configured.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
