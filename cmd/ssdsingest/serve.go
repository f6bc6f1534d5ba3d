package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/ssds-ingest/migrations"

	"github.com/nerrad567/ssds-ingest/internal/api"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/database"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/influxdb"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/management"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ssds-ingest/internal/ingest"
	"github.com/nerrad567/ssds-ingest/internal/producer"
	"github.com/nerrad567/ssds-ingest/internal/sink"
	"github.com/nerrad567/ssds-ingest/internal/uplink"
)

// uplinkStopTimeout bounds the MQTT unsubscribe on shutdown.
const uplinkStopTimeout = 5 * time.Second

// ErrNoSink is returned by the run command when neither the database nor
// InfluxDB is enabled.
var ErrNoSink = errors.New("no packet sink enabled: enable database or influxdb")

// runServe implements "ssdsingest run": it consumes the configured queue
// until ctx is cancelled or the pipeline faults.
//
// Infrastructure is opened in dependency order and closed in reverse by
// deferred calls. A faulted pipeline is returned as an error so the
// process exits non-zero and its supervisor restarts it.
func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	var configPath string
	flagSet := newFlagSet("run", stdout, &configPath)
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ssds-ingest",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", path)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checks := make(map[string]api.HealthChecker)
	var sinks sink.Fanout
	var archive *sink.Archive

	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("packet archive ready", "path", cfg.Database.Path)

		archive = sink.NewArchive(db.DB)
		sinks = append(sinks, archive)
		checks["database"] = db
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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

		sinks = append(sinks, sink.NewInflux(influxClient))
		checks["influxdb"] = influxClient
	}

	if len(sinks) == 0 {
		return ErrNoSink
	}

	metrics, err := ingest.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering pipeline metrics: %w", err)
	}
	pipelineLog := log.With("component", "ingest", "queue", cfg.Queue.Name)
	pipeline, err := ingest.New(ingest.AMQPDialer(cfg.Broker, pipelineLog), sinks, ingest.Options{
		Queue:            amqp.QueueOptionsFrom(cfg.Queue),
		DrainTimeout:     cfg.Pipeline.GetDrainTimeout(),
		RequeueOnFailure: cfg.Pipeline.RequeueOnFailure,
		Prefetch:         amqp.PrefetchCount(cfg.Broker),
		Logger:           pipelineLog,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	checks["amqp"] = pipeline

	if cfg.MQTT.Enabled {
		up, upErr := startUplink(ctx, cfg, reg, log)
		if upErr != nil {
			return fmt.Errorf("starting MQTT uplink: %w", upErr)
		}
		defer up.close(ctx, log)
		checks["mqtt"] = up.mqtt
		checks["amqp_producer"] = up.broker
	} else {
		log.Info("MQTT uplink disabled")
	}

	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, log, pipeline, archive, checks, reg)
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, consuming",
		"broker", cfg.Broker.Host,
		"vhost", cfg.Broker.VHost,
		"queue", cfg.Queue.Name,
	)

	if err := pipeline.Run(ctx); err != nil {
		return fmt.Errorf("ingest pipeline: %w", err)
	}

	stats := pipeline.Stats()
	log.Info("ssds-ingest stopped",
		"received", stats.Received,
		"acked", stats.Acked,
		"decode_failures", stats.DecodeFailures,
		"sink_failures", stats.SinkFailures,
		"held", stats.Held,
	)
	return nil
}

// startAPI builds and starts the diagnostics server. The management
// directory is optional; without it /queues answers 503.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	pipeline *ingest.Pipeline,
	archive *sink.Archive,
	checks map[string]api.HealthChecker,
	gatherer prometheus.Gatherer,
) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Pipeline: pipeline,
		VHost:    cfg.Broker.VHost,
		Checks:   checks,
		Gatherer: gatherer,
		Version:  version,
	}
	if archive != nil {
		deps.Archive = archive
	}
	if cfg.Management.URL != "" {
		dir, err := management.New(cfg.Management)
		if err != nil {
			return nil, fmt.Errorf("creating queue directory: %w", err)
		}
		deps.Directory = dir
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("API server started", "addr", srv.Addr())
	return srv, nil
}

// uplinkHandle owns the connections of the MQTT uplink.
type uplinkHandle struct {
	broker *amqp.Client
	mqtt   *mqtt.Client
	bridge *uplink.Bridge
}

// startUplink connects a dedicated AMQP publisher and the MQTT client, and
// subscribes the bridge. On failure everything opened so far is closed.
func startUplink(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *logging.Logger) (*uplinkHandle, error) {
	upLog := log.With("component", "uplink")

	broker, err := amqp.Connect(ctx, cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("connecting publisher: %w", err)
	}
	broker.SetLogger(upLog)

	metrics, err := producer.NewMetrics(reg)
	if err != nil {
		_ = broker.Close()
		return nil, fmt.Errorf("registering producer metrics: %w", err)
	}
	prod, err := producer.New(ctx, broker, amqp.QueueOptionsFrom(cfg.Queue),
		producer.WithLogger(upLog),
		producer.WithMetrics(metrics),
	)
	if err != nil {
		_ = broker.Close()
		return nil, err
	}

	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		_ = broker.Close()
		return nil, err
	}
	mqttClient.SetLogger(upLog)
	mqttClient.SetOnConnect(func() {
		upLog.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		upLog.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := uplink.New(mqttClient, prod, uplink.Config{
		Filter:   cfg.MQTT.Topic,
		QoS:      byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
		Logger:   upLog,
		Registry: reg,
	})
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		_ = mqttClient.Close()
		_ = broker.Close()
		return nil, err
	}

	return &uplinkHandle{broker: broker, mqtt: mqttClient, bridge: bridge}, nil
}

// close stops the bridge, then the MQTT client, then the publisher.
// ctx may already be cancelled.
func (u *uplinkHandle) close(ctx context.Context, log *logging.Logger) {
	log.Info("stopping MQTT uplink", "stats", u.bridge.Stats())

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uplinkStopTimeout)
	defer cancel()
	if err := u.bridge.Stop(stopCtx); err != nil {
		log.Warn("error stopping uplink", "error", err)
	}
	if err := u.mqtt.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
	if err := u.broker.Close(); err != nil {
		log.Error("error closing uplink publisher", "error", err)
	}
}
