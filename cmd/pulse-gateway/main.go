// Pulse Gateway - Real-Time Value Gateway
//
// This is the main entry point for the gateway. It serves current point
// values through a cache, store and synthesis cascade, and emulates push
// delivery with subscriptions that clients poll.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/pulse-gateway/internal/api"
	"github.com/nerrad567/pulse-gateway/internal/cache"
	"github.com/nerrad567/pulse-gateway/internal/gateway"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/database"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/engine"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/redis"
	"github.com/nerrad567/pulse-gateway/internal/ingest"
	"github.com/nerrad567/pulse-gateway/internal/store"
	"github.com/nerrad567/pulse-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Pulse Gateway",
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

	// Persistent tier and point directory
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Cache tier. An unreachable Redis is not fatal: the cascade falls
	// through to the store and the breaker keeps retries cheap.
	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		if !errors.Is(err, redis.ErrConnectionFailed) {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Warn("Redis unreachable, starting degraded", "addr", cfg.Redis.Addr, "error", err)
	} else {
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			log.Error("error closing Redis", "error", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sqlStore := store.New(db.DB)
	values := cache.NewValueCache(redisClient)
	values.SetLogger(log.Component("cache"))
	subscriptions := cache.NewSubscriptionStore(redisClient)
	subscriptions.SetLogger(log.Component("cache"))

	components := buildGateway(cfg, sqlStore, values, subscriptions, registry, log)

	// Trend database (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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

	// Value ingest (optional)
	if cfg.MQTT.Enabled {
		stop, ingestErr := startIngest(ctx, cfg, values, sqlStore, influxClient, registry, log)
		if ingestErr != nil {
			return ingestErr
		}
		defer stop()
	} else {
		log.Info("MQTT ingest disabled")
	}

	deps := api.Deps{
		Config:     cfg.API,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Cascade:    components.cascade,
		Expander:   components.expander,
		Registry:   components.registry,
		Poller:     components.poller,
		Stats:      components.stats,
		Devices:    sqlStore,
		Gatherer:   registry,
		Registerer: registry,
		Version:    version,
	}
	if influxClient != nil {
		deps.Trends = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred Close() calls run in reverse order: API, ingest, InfluxDB,
	// Redis, database.
	log.Info("Pulse Gateway stopped")
	return nil
}

// gatewayComponents are the request-path objects shared by the API.
type gatewayComponents struct {
	cascade  *gateway.Cascade
	expander *gateway.Expander
	registry *gateway.Registry
	poller   *gateway.PollEngine
	stats    *gateway.Stats
}

// buildGateway wires the cascade, expander, registry, poll engine and
// stats from configuration.
func buildGateway(cfg *config.Config, sqlStore *store.SQLiteStore, values *cache.ValueCache,
	subscriptions *cache.SubscriptionStore, reg prometheus.Registerer, log *logging.Logger) gatewayComponents {
	g := cfg.Gateway
	metrics := gateway.NewMetrics(reg)

	var synth gateway.Synthesizer
	if g.Synthetic.Enabled {
		synth = gateway.NewHeuristicSynthesizer()
	}

	cascade := gateway.NewCascade(gateway.CascadeConfig{
		BatchLimit:  g.BatchLimit,
		TierTimeout: g.TierTimeout(),
		StaleAfter:  g.StaleAfterDuration(),
		Breaker: gateway.BreakerSettings{
			FailureThreshold: g.Breaker.FailureThreshold,
			OpenTimeout:      g.Breaker.OpenTimeoutDuration(),
			HalfOpenRequests: g.Breaker.HalfOpenRequests,
		},
	}, synth, values, sqlStore)
	cascade.SetLogger(log.Component("cascade"))
	cascade.SetMetrics(metrics)

	expander := gateway.NewExpander(sqlStore, values)
	expander.SetLogger(log.Component("expander"))

	registry := gateway.NewRegistry(subscriptions, expander, gateway.RegistryConfig{
		TTL:               g.SubscriptionTTL(),
		RenewOnPoll:       g.Subscriptions.RenewOnPoll,
		DefaultIntervalMs: g.Subscriptions.DefaultIntervalMs,
		MaxKeys:           g.BatchLimit,
	})
	registry.SetLogger(log.Component("subscriptions"))
	registry.SetMetrics(metrics)

	poller := gateway.NewPollEngine(registry, cascade, g.Poll.BackfillSize)
	poller.SetLogger(log.Component("poll"))
	poller.SetMetrics(metrics)

	statsDeps := gateway.StatsDeps{
		Cache:    values,
		Store:    sqlStore,
		Counter:  values,
		Registry: registry,
		Cascade:  cascade,
	}
	if engineClient := newEngineClient(cfg.Engine, log); engineClient != nil {
		statsDeps.Engine = engineClient
	}
	stats := gateway.NewStats(statsDeps)
	stats.SetLogger(log.Component("stats"))

	return gatewayComponents{
		cascade:  cascade,
		expander: expander,
		registry: registry,
		poller:   poller,
		stats:    stats,
	}
}

// newEngineClient returns the control-engine probe, or nil when it is
// disabled or misconfigured.
func newEngineClient(cfg config.EngineConfig, log *logging.Logger) *engine.Client {
	client, err := engine.New(cfg)
	switch {
	case errors.Is(err, engine.ErrDisabled):
		log.Info("control engine probe disabled")
		return nil
	case err != nil:
		log.Warn("control engine probe not configured", "error", err)
		return nil
	}
	log.Info("control engine probe configured", "url", cfg.URL)
	return client
}

// startIngest connects to MQTT and starts applying value batches to the
// tiers. The returned function stops the ingestor and closes the client.
func startIngest(ctx context.Context, cfg *config.Config, values *cache.ValueCache, sqlStore *store.SQLiteStore,
	influxClient *influxdb.Client, reg prometheus.Registerer, log *logging.Logger) (func(), error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithVersion(version))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	opts := ingest.Options{
		Subscriber: mqttClient,
		Topic:      cfg.MQTT.ValueTopic,
		QoS:        byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		Cache:      values,
		Store:      sqlStore,
		ValueTTL:   cfg.Gateway.ValueTTLDuration(),
		Metrics:    ingest.NewMetrics(reg),
		Logger:     log.Component("ingest"),

		Status:         mqttClient,
		StatusInterval: cfg.MQTT.StatusIntervalDuration(),
	}
	if influxClient != nil {
		opts.Trends = influxClient
	}

	ingestor, err := ingest.New(opts)
	if err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}
	if err := ingestor.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("starting ingestor: %w", err)
	}
	log.Info("value ingest started", "topic", cfg.MQTT.ValueTopic)

	return func() {
		log.Info("stopping value ingest")
		ingestor.Stop()
		c := ingestor.Counters()
		log.Info("value ingest stopped",
			"messages", c.Messages,
			"messages_dropped", c.MessagesDropped,
			"points", c.Points,
			"points_dropped", c.PointsDropped,
		)
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses PULSEGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PULSEGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
