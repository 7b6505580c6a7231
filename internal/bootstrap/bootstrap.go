// Package bootstrap builds the connections and services shared by the api,
// worker and cron-worker processes.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/instance"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
	"github.com/angelmondragon/orderflow-backend/pkg/square"
)

// PaymentProvider is recorded on every payment row the engine creates.
const PaymentProvider = "square"

// Load reads .env and the environment, then returns a logger configured at
// the requested level. Failures before the config is known are logged at info.
func Load(kind string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	return cfg, logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	}), nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// identity fields on every log entry.
func SignalContext(cfg *config.Config, logg *logger.Logger, fallbackInstance string) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(fallbackInstance),
	}), stop
}

// ServeMetrics exposes the default registry until ctx is cancelled. It is a
// no-op when ORDERFLOW_METRICS_ADDR is unset.
func ServeMetrics(ctx context.Context, cfg *config.Config, logg *logger.Logger) {
	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
}

type closer struct {
	name string
	fn   func() error
}

// Stack holds the order engine's shared dependencies.
type Stack struct {
	Config *config.Config
	Logger *logger.Logger

	DB     *db.Client
	Redis  *redis.Client
	Square *square.Client
	Queue  *jobs.Queue
	Alerts alerts.Fanout

	OrderRepo   orders.Repository
	PaymentRepo payments.Repository
	OutboxRepo  *outbox.Repository
	Outbox      *outbox.Service
	Orders      orders.Service

	closers []closer
}

// Open connects Postgres, Redis, Pub/Sub and Square and wires the order
// service on top. Pub/Sub is optional: without it alerts only reach the logs
// and domain events wait in the outbox. On error everything opened so far is
// closed again.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: logg}
	if err := s.open(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context) error {
	cfg, logg := s.Config, s.Logger

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	s.DB = dbClient
	s.onClose("database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	s.Redis = redisClient
	s.onClose("redis", redisClient.Close)

	s.Alerts = alerts.Fanout{alerts.NewLogNotifier(logg)}
	if pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "pubsub unavailable, alerts go to logs only")
	} else {
		s.onClose("pubsub client", pubsubClient.Close)
		s.Alerts = append(s.Alerts, alerts.NewPubSubNotifier(pubsubClient.AlertsPublisher(), logg))
	}

	if s.Square, err = square.NewClient(ctx, cfg.Square, logg); err != nil {
		return fmt.Errorf("bootstrap square client: %w", err)
	}
	if s.Queue, err = jobs.NewQueue(redisClient, redisClient.QueueKey(jobs.QueueName), logg); err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}

	conn := dbClient.DB()
	s.OrderRepo = orders.NewRepository(conn)
	s.PaymentRepo = payments.NewRepository(conn)
	s.OutboxRepo = outbox.NewRepository(conn)
	s.Outbox = outbox.NewService(s.OutboxRepo, logg)

	s.Orders, err = orders.NewService(orders.ServiceParams{
		Repo:           s.OrderRepo,
		Payments:       s.PaymentRepo,
		Inventory:      inventory.NewLedger(conn),
		Gateway:        s.Square,
		Scheduler:      s.Queue,
		Outbox:         s.Outbox,
		Alerts:         s.Alerts,
		Tx:             dbClient,
		Logger:         logg,
		Config:         cfg.Orders,
		GatewayTimeout: cfg.Gateway.Timeout,
		Provider:       PaymentProvider,
	})
	if err != nil {
		return fmt.Errorf("create orders service: %w", err)
	}
	return nil
}

func (s *Stack) onClose(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Close releases connections in reverse order of opening.
func (s *Stack) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(); err != nil && s.Logger != nil {
			s.Logger.Error(ctx, "error closing "+c.name, err)
		}
	}
	s.closers = nil
}
