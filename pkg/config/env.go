package config

const EnvPrefix = "ORDERFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN  = "ORDERFLOW_DB_DSN"
	EnvDBHost = "ORDERFLOW_DB_HOST"
	EnvDBUser = "ORDERFLOW_DB_USER"
	EnvDBName = "ORDERFLOW_DB_NAME"

	EnvRedisURL  = "ORDERFLOW_REDIS_URL"
	EnvJWTSecret = "ORDERFLOW_JWT_SECRET"
	EnvJWTIssuer = "ORDERFLOW_JWT_ISSUER"

	EnvOrderPaymentRetention = "ORDERFLOW_ORDER_PAYMENT_RETENTION"
	EnvGatewayTimeout        = "ORDERFLOW_GATEWAY_TIMEOUT"
	EnvWebhookAllowAmount    = "ORDERFLOW_WEBHOOK_ALLOW_AMOUNT_MATCH"
	EnvSquareLocationID      = "ORDERFLOW_SQUARE_LOCATION_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
