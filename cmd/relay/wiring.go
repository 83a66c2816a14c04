package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyrelay/internal/config"
	"notifyrelay/internal/core"
	"notifyrelay/internal/db"
	"notifyrelay/internal/external"
	notify "notifyrelay/internal/notifications/core"
	"notifyrelay/internal/notifications/line"
	"notifyrelay/internal/notifications/realtime"
	"notifyrelay/internal/queue"
	"notifyrelay/internal/storage"
	"notifyrelay/internal/types"
)

// dependencies holds everything run needs beyond config and logger.
type dependencies struct {
	broker queue.Broker

	hub      *realtime.Hub
	realtime notify.RealtimeSink
	bridge   *realtime.Bridge
	bus      *realtime.RedisBus

	chat notify.ChatPushSink

	pool        *pgxpool.Pool
	alerts      notify.AlertRepository
	deadLetters notify.DeadLetterRepository

	metrics        notify.NotificationMetrics
	httpMetrics    core.MetricsCollector
	metricsHandler http.Handler

	probes []core.HealthProbe
}

// Close releases whatever buildDependencies opened.
func (d *dependencies) Close() {
	if d.hub != nil {
		d.hub.Close()
	}
	if d.bus != nil {
		_ = d.bus.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// buildDependencies connects every optional backend the config selects. On
// error, whatever was already opened is closed.
func buildDependencies(ctx context.Context, cfg *config.Config, logger types.Logger) (*dependencies, error) {
	deps := &dependencies{}

	var awsCfg aws.Config
	if needsAWS(cfg) {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
	}

	deps.metrics, deps.httpMetrics, deps.metricsHandler = newMetrics(cfg, awsCfg, logger)
	deps.broker = newBroker(cfg, awsCfg, logger)

	if err := deps.wireRealtime(cfg, logger); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.wireDatabase(ctx, cfg, logger); err != nil {
		deps.Close()
		return nil, err
	}
	if cfg.Feature.EnableChatPush {
		deps.chat = newChatClient(cfg, awsCfg, logger)
	} else {
		logger.Warn("chat push disabled; notifications reach websocket sessions only")
	}
	return deps, nil
}

// needsAWS reports whether any selected component talks to AWS or MinIO.
func needsAWS(cfg *config.Config) bool {
	return cfg.Broker.Driver == config.DriverSQS ||
		cfg.Observability.MetricsBackend == config.MetricsCloudWatch ||
		cfg.Feature.EnableChatPush
}

func newBroker(cfg *config.Config, awsCfg aws.Config, logger types.Logger) queue.Broker {
	if cfg.Broker.Driver == config.DriverSQS {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return queue.NewSQSBroker(client, queue.SQSConfig{
			Region:            cfg.AWS.Region,
			Workers:           cfg.Broker.Workers,
			WaitTime:          cfg.Broker.WaitTime,
			VisibilityTimeout: cfg.Broker.VisibilityTimeout,
		}, logger)
	}
	return queue.NewAMQPBroker(queue.AMQPConfig{
		URL:            cfg.Broker.AMQPURL(),
		Addr:           cfg.Broker.Address(),
		Workers:        cfg.Broker.Workers,
		Heartbeat:      cfg.Broker.Heartbeat,
		ConnectionName: cfg.Service,
	}, logger)
}

func newMetrics(cfg *config.Config, awsCfg aws.Config, logger types.Logger) (notify.NotificationMetrics, core.MetricsCollector, http.Handler) {
	switch cfg.Observability.MetricsBackend {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return notify.NewPrometheusNotificationMetrics(reg),
			core.NewPrometheusHTTPMetrics(reg),
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	case config.MetricsCloudWatch:
		client := cloudwatch.NewFromConfig(awsCfg)
		return notify.NewCloudWatchNotificationMetrics(client, cfg.Observability.MetricNamespace, logger), nil, nil
	default:
		return notify.NopMetrics{}, nil, nil
	}
}

// wireRealtime always creates the local hub behind /ws. In redis mode the
// router publishes to the channel instead and a bridge feeds the hub.
func (d *dependencies) wireRealtime(cfg *config.Config, logger types.Logger) error {
	d.hub = realtime.NewHub(realtime.HubConfig{
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Security.CorsAllowedOrigins,
	}, logger.With("component", "realtime"))

	if cfg.Realtime.Mode != config.RealtimeRedis {
		d.realtime = d.hub
		return nil
	}

	bus, err := realtime.NewRedisBus(cfg.Realtime.RedisURL.Unmask())
	if err != nil {
		return fmt.Errorf("creating redis bus: %w", err)
	}
	d.bus = bus
	d.realtime = realtime.NewRedisPublisher(bus, cfg.Realtime.Channel)
	d.bridge = realtime.NewBridge(bus, cfg.Realtime.Channel, d.hub, logger.With("component", "realtime_bridge"))
	d.probes = append(d.probes, core.PingProbe("redis", bus))
	return nil
}

// wireDatabase opens the optional pool. Without DATABASE_URL alerts and dead
// letters are only logged.
func (d *dependencies) wireDatabase(ctx context.Context, cfg *config.Config, logger types.Logger) error {
	if !cfg.Database.URL.IsSet() {
		logger.Warn("DATABASE_URL not set; alerts and dead letters will only be logged")
		return nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return err
	}
	d.pool = pool

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	d.alerts = db.NewAlertRepository(pool)
	d.deadLetters = db.NewDeadLetterRepository(pool)
	d.probes = append(d.probes, core.PingProbe("database", pool))
	return nil
}

func newChatClient(cfg *config.Config, awsCfg aws.Config, logger types.Logger) notify.ChatPushSink {
	resolver := storage.NewS3Resolver(awsCfg, storage.Options{
		Endpoint:  cfg.Storage.EndpointURL(),
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey.Unmask(),
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		TTL:       cfg.Storage.URLTTL,
	})

	base := external.NewBaseClient(
		&http.Client{Timeout: cfg.Line.Timeout},
		external.BreakerSettings{Name: "line"},
		external.RetryPolicy{
			MaxRetries: cfg.Line.MaxRetries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		cfg.Line.UserAgent,
		external.WithLogger(logger.With("component", "line")),
	)
	return line.NewClient(base, line.Config{
		ChannelAccessToken: cfg.Line.ChannelAccessToken.Unmask(),
		BaseURL:            cfg.Line.BaseURL,
	}, resolver)
}
