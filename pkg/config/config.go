package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Checkout     CheckoutConfig
	Gateway      GatewayConfig
	Square       SquareConfig
	Webhook      WebhookConfig
	Jobs         JobsConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Orders.PaymentRetention <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvOrderPaymentRetention)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`

	// MetricsAddr exposes /metrics on background binaries when set, e.g. ":9090".
	MetricsAddr string `envconfig:"ORDERFLOW_METRICS_ADDR"`

	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"ORDERFLOW_APP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	LogSlowQueries  bool          `envconfig:"ORDERFLOW_DB_LOG_SLOW_QUERIES" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"ORDERFLOW_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"ORDERFLOW_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}

type OrdersConfig struct {
	PaymentRetention time.Duration `envconfig:"ORDERFLOW_ORDER_PAYMENT_RETENTION" default:"24h"`
	Currency         string        `envconfig:"ORDERFLOW_ORDER_CURRENCY" default:"USD"`
	NumberAttempts   int           `envconfig:"ORDERFLOW_ORDER_NUMBER_ATTEMPTS" default:"5"`
}

// CheckoutConfig prices the parts of a cart that are not per line.
type CheckoutConfig struct {
	TaxRateBps            int   `envconfig:"ORDERFLOW_CHECKOUT_TAX_RATE_BPS" default:"0"`
	FlatShippingCents     int64 `envconfig:"ORDERFLOW_CHECKOUT_FLAT_SHIPPING_CENTS" default:"0"`
	FreeShippingOverCents int64 `envconfig:"ORDERFLOW_CHECKOUT_FREE_SHIPPING_OVER_CENTS" default:"0"`
}

type GatewayConfig struct {
	Timeout time.Duration `envconfig:"ORDERFLOW_GATEWAY_TIMEOUT" default:"10s"`
}

type SquareConfig struct {
	Env           string `envconfig:"ORDERFLOW_SQUARE_ENV" default:"sandbox"`
	AccessToken   string `envconfig:"ORDERFLOW_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"ORDERFLOW_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"ORDERFLOW_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string `envconfig:"ORDERFLOW_SQUARE_WEBHOOK_URL"`
	RedirectURL   string `envconfig:"ORDERFLOW_SQUARE_REDIRECT_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhookConfig struct {
	// AllowAmountMatch enables the amount-based order correlation fallback.
	AllowAmountMatch bool `envconfig:"ORDERFLOW_WEBHOOK_ALLOW_AMOUNT_MATCH" default:"false"`
	SkipSignature    bool `envconfig:"ORDERFLOW_WEBHOOK_SKIP_SIGNATURE" default:"false"`
}

type JobsConfig struct {
	PollInterval time.Duration `envconfig:"ORDERFLOW_JOBS_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `envconfig:"ORDERFLOW_JOBS_BATCH_SIZE" default:"50"`
	MaxAttempts  int           `envconfig:"ORDERFLOW_JOBS_MAX_ATTEMPTS" default:"8"`
	RetryBackoff time.Duration `envconfig:"ORDERFLOW_JOBS_RETRY_BACKOFF" default:"30s"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"ORDERFLOW_CRON_INTERVAL" default:"5m"`
	LockTTL          time.Duration `envconfig:"ORDERFLOW_CRON_LOCK_TTL" default:"4m"`
	BatchSize        int           `envconfig:"ORDERFLOW_CRON_BATCH_SIZE" default:"100"`
	PaymentPollAfter time.Duration `envconfig:"ORDERFLOW_CRON_PAYMENT_POLL_AFTER" default:"15m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ORDERFLOW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_TOPIC" default:"orderflow-order-events"`
	AlertsTopic string `envconfig:"ORDERFLOW_PUBSUB_ALERTS_TOPIC" default:"orderflow-ops-alerts"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
