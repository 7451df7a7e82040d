// kgagent keeps a knowledge graph of IoT devices consistent with the
// telemetry they publish on an MQTT bus.
//
// Every DATA message is checked against the device's SDF class description
// and mirrored into the graph. A device seen for the first time is placed
// next to the existing device whose history it most resembles, inheriting
// that device's task and service relations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-kg/migrations"

	"github.com/nerrad567/gray-logic-kg/internal/api"
	"github.com/nerrad567/gray-logic-kg/internal/audit"
	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/neo4j"
	"github.com/nerrad567/gray-logic-kg/internal/kg"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// Transition history older than this is pruned once a day.
	transitionRetention = 30 * 24 * time.Hour
	pruneInterval       = 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting knowledge graph agent",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	health := make(map[string]api.HealthChecker)

	// The SQLite database holds the integration log and transition history,
	// and the graph itself for the sqlite backend.
	var db *database.DB
	if cfg.Database.Path != "" {
		db, err = database.Open(ctx, database.Config{
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
		health["database"] = db
	}

	store, closeStore, err := openStore(ctx, cfg, db, health)
	if err != nil {
		return fmt.Errorf("opening graph store: %w", err)
	}
	defer closeStore()
	log.Info("graph store ready", "backend", cfg.Graph.Backend)

	if cfg.Agent.TopologyFile != "" {
		if seedErr := seedTopology(ctx, store, cfg.Agent.TopologyFile); seedErr != nil {
			return fmt.Errorf("seeding topology: %w", seedErr)
		}
		log.Info("topology seeded", "path", cfg.Agent.TopologyFile)
	}

	var resolverOpts []sdf.Option
	if cfg.Schema.Validate {
		resolverOpts = append(resolverOpts, sdf.WithValidation())
	}
	resolver, err := sdf.NewResolver(cfg.Schema.Dir, resolverOpts...)
	if err != nil {
		return fmt.Errorf("loading schemas: %w", err)
	}
	log.Info("schema resolver ready", "dir", cfg.Schema.Dir, "validate", cfg.Schema.Validate)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := kg.NewMetrics(reg)

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	health["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	deps := kg.Deps{
		Store:    store,
		Resolver: resolver,
		Registry: registry,
		Metrics:  metrics,
		Logger:   log.Component("kg"),
	}
	var (
		integrations *audit.SQLiteRepository
		transitions  *device.SQLiteTransitionRepository
	)
	if db != nil {
		integrations = audit.NewSQLiteRepository(db.DB)
		transitions = device.NewSQLiteTransitionRepository(db.DB)
		deps.Audit = integrations
		deps.Transitions = transitions
	}
	if influxClient != nil {
		deps.Sink = influxClient
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		deps.Hub = kg.Broadcasters{hub, mqttClient}
	} else {
		deps.Hub = mqttClient
	}

	engine, err := kg.NewEngine(engineConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	loaded, err := engine.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("loading existing devices: %w", err)
	}
	log.Info("engine ready", "preexisting_devices", loaded)

	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Engine:      engine,
			Gatherer:    reg,
			Health:      health,
			ExternalHub: hub,
			Version:     version,
		}
		if db != nil {
			apiDeps.Integrations = integrations
			apiDeps.Transitions = transitions
		}
		apiServer, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	agent := kg.NewAgent(engine, mqttClient, kg.AgentConfig{
		Topic:        cfg.Agent.MQTTTopic,
		QoS:          byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		QueueSize:    cfg.Agent.QueueSize,
		SummaryEvery: cfg.Agent.SummaryEvery,
		DumpDir:      cfg.Agent.DumpDir,
		Ignore:       mqtt.Topics{}.IsAgent,
	})
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	if transitions != nil {
		go pruneTransitions(ctx, transitions, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop the agent before dumping so the files reflect a quiet engine.
	agent.Stop()
	if cfg.Agent.DumpDir != "" {
		if dumpErr := engine.Dump(cfg.Agent.DumpDir); dumpErr != nil {
			log.Error("writing final state dump", "dir", cfg.Agent.DumpDir, "error", dumpErr)
		} else {
			log.Info("state dumped", "dir", cfg.Agent.DumpDir)
		}
	}

	log.Info("knowledge graph agent stopped", "processed", agent.Processed())
	return nil
}

// getConfigPath returns the configuration file path.
// Uses KGAGENT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KGAGENT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore builds the graph store selected by graph.backend and registers
// its health checker.
//
// Parameters:
//   - ctx: Context for connection setup
//   - cfg: Application configuration
//   - db: Open SQLite database (nil when database.path is empty)
//   - health: Health checker map the backend adds itself to
//
// Returns:
//   - graph.Store: The selected backend
//   - func(): Releases the backend's resources; never nil
//   - error: If the backend cannot be opened
func openStore(ctx context.Context, cfg *config.Config, db *database.DB, health map[string]api.HealthChecker) (graph.Store, func(), error) {
	noop := func() {}

	switch cfg.Graph.Backend {
	case config.BackendSQLite:
		if db == nil {
			return nil, noop, errors.New("sqlite backend requires database.path")
		}
		return graph.NewSQLiteStore(db.DB), noop, nil

	case config.BackendNeo4j:
		client, err := neo4j.Connect(ctx, cfg.Neo4j)
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to Neo4j: %w", err)
		}
		health["neo4j"] = client
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx) //nolint:errcheck // shutdown path
		}
		return graph.NewNeo4jStore(client), closeFn, nil

	case config.BackendMemory:
		return graph.NewMemoryStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
	}
}

// seedTopology loads a topology file into a store that supports seeding.
func seedTopology(ctx context.Context, store graph.Store, path string) error {
	seeder, ok := store.(graph.Seeder)
	if !ok {
		return fmt.Errorf("graph store %T cannot be seeded", store)
	}
	topo, err := graph.LoadTopology(path)
	if err != nil {
		return err
	}
	return seeder.Seed(ctx, topo)
}

// engineConfig maps the integration and agent sections onto kg.Config.
func engineConfig(cfg *config.Config) kg.Config {
	return kg.Config{
		Threshold:        cfg.Integration.Threshold,
		Retention:        cfg.RetentionHorizon(),
		CandidateClasses: cfg.Integration.CandidateClasses,
		QueryWindow:      cfg.Integration.QueryWindow,
		Workers:          cfg.Integration.Workers,
		StaleFactor:      cfg.Integration.StaleFactor,
		Precision:        cfg.Integration.Precision,
		DeferUnmatched:   cfg.Integration.OnNoMatch == config.NoMatchDefer,
		StoreTimeout:     cfg.StoreTimeout(),
		ReadRetries:      cfg.Agent.ReadRetries,
	}
}

// healthCheck verifies every registered component is healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "neo4j", "mqtt", "influxdb"} {
		c, ok := checks[name]
		if !ok {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// pruneTransitions deletes old transition history once a day until ctx ends.
func pruneTransitions(ctx context.Context, repo *device.SQLiteTransitionRepository, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PruneHistory(ctx, transitionRetention)
			if err != nil {
				log.Warn("pruning transition history failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("transition history pruned", "removed", n)
			}
		}
	}
}
