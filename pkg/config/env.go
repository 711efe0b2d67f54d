package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "PACKFINDERZ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	ReofferAfterCooldown = "after_cooldown"
	ReofferNever         = "never"
)

const (
	NotifierLog    = "log"
	NotifierPubSub = "pubsub"
	NotifierMQTT   = "mqtt"
)

const (
	EnvAppEnv   = "PACKFINDERZ_APP_ENV"
	EnvPort     = "PACKFINDERZ_APP_PORT"
	EnvLogLevel = "PACKFINDERZ_LOG_LEVEL"

	EnvDBDSN     = "PACKFINDERZ_DB_DSN"
	EnvDBDriver  = "PACKFINDERZ_DB_DRIVER"
	EnvDBHost    = "PACKFINDERZ_DB_HOST"
	EnvDBUser    = "PACKFINDERZ_DB_USER"
	EnvDBName    = "PACKFINDERZ_DB_NAME"
	EnvUseSQLite = "PACKFINDERZ_USE_SQLITE"

	EnvRedisURL = "PACKFINDERZ_REDIS_URL"

	EnvJWTSecret  = "PACKFINDERZ_JWT_SECRET"
	EnvJWTIssuer  = "PACKFINDERZ_JWT_ISSUER"
	EnvJWTExpMins = "PACKFINDERZ_JWT_EXPIRATION_MINUTES"

	EnvDispatchMaxConcurrent  = "PACKFINDERZ_DISPATCH_MAX_CONCURRENT_DELIVERIES"
	EnvDispatchCooldown       = "PACKFINDERZ_DISPATCH_COOLDOWN"
	EnvDispatchResponseWindow = "PACKFINDERZ_DISPATCH_RESPONSE_WINDOW"
	EnvDispatchReofferPolicy  = "PACKFINDERZ_DISPATCH_REOFFER_POLICY"

	EnvCronRetryInterval   = "PACKFINDERZ_CRON_RETRY_INTERVAL"
	EnvCronTimeoutInterval = "PACKFINDERZ_CRON_TIMEOUT_INTERVAL"

	EnvNotificationsKind = "PACKFINDERZ_NOTIFICATIONS_KIND"
	EnvMQTTBroker        = "PACKFINDERZ_MQTT_BROKER"
	EnvGCPProjectID      = "PACKFINDERZ_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
