package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	API           APIConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Dispatch      DispatchConfig
	Cron          CronConfig
	Notifications NotificationsConfig
	MQTT          MQTTConfig
	GoogleMaps    GoogleMapsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Notifications.validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PACKFINDERZ_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig covers the HTTP surface.
type APIConfig struct {
	CORSOrigins     []string      `envconfig:"PACKFINDERZ_API_CORS_ORIGINS" default:"http://localhost:3000"`
	RouteRateLimit  int           `envconfig:"PACKFINDERZ_API_ROUTE_RATE_LIMIT" default:"30"`
	RouteRateWindow time.Duration `envconfig:"PACKFINDERZ_API_ROUTE_RATE_WINDOW" default:"1m"`
	ReadTimeout     time.Duration `envconfig:"PACKFINDERZ_API_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"PACKFINDERZ_API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"PACKFINDERZ_API_SHUTDOWN_TIMEOUT" default:"15s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACKFINDERZ_DB_DSN"`
	Driver string `envconfig:"PACKFINDERZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACKFINDERZ_DB_HOST"`
	LegacyPort     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACKFINDERZ_DB_USER"`
	LegacyPassword string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACKFINDERZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PACKFINDERZ_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PACKFINDERZ_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PACKFINDERZ_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PACKFINDERZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
}

// DispatchConfig tunes agent selection and the response cascade.
type DispatchConfig struct {
	MaxConcurrentDeliveries int           `envconfig:"PACKFINDERZ_DISPATCH_MAX_CONCURRENT_DELIVERIES" default:"3"`
	Cooldown                time.Duration `envconfig:"PACKFINDERZ_DISPATCH_COOLDOWN" default:"5m"`
	ResponseWindow          time.Duration `envconfig:"PACKFINDERZ_DISPATCH_RESPONSE_WINDOW" default:"3m"`
	PendingGrace            time.Duration `envconfig:"PACKFINDERZ_DISPATCH_PENDING_GRACE" default:"5m"`
	MaxSelectionConflicts   int           `envconfig:"PACKFINDERZ_DISPATCH_MAX_SELECTION_CONFLICTS" default:"3"`
	ReofferPolicy           string        `envconfig:"PACKFINDERZ_DISPATCH_REOFFER_POLICY" default:"after_cooldown"`
	SweepBatchSize          int           `envconfig:"PACKFINDERZ_DISPATCH_SWEEP_BATCH_SIZE" default:"200"`
	RouteCacheTTL           time.Duration `envconfig:"PACKFINDERZ_DISPATCH_ROUTE_CACHE_TTL" default:"60s"`
}

func (d DispatchConfig) validate() error {
	if d.MaxConcurrentDeliveries <= 0 {
		return fmt.Errorf("%s must be positive", EnvDispatchMaxConcurrent)
	}
	if d.ResponseWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvDispatchResponseWindow)
	}
	if d.Cooldown < 0 || d.PendingGrace < 0 {
		return fmt.Errorf("dispatch durations must not be negative")
	}
	switch d.ReofferPolicy {
	case ReofferAfterCooldown, ReofferNever:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvDispatchReofferPolicy, ReofferAfterCooldown, ReofferNever)
	}
	return nil
}

// CronConfig holds the sweeper cadence. Each sweeper runs on its own ticker.
type CronConfig struct {
	RetryInterval   time.Duration `envconfig:"PACKFINDERZ_CRON_RETRY_INTERVAL" default:"2m"`
	TimeoutInterval time.Duration `envconfig:"PACKFINDERZ_CRON_TIMEOUT_INTERVAL" default:"45s"`
	LockTTL         time.Duration `envconfig:"PACKFINDERZ_CRON_LOCK_TTL" default:"2m"`
}

type NotificationsConfig struct {
	// Kind selects the transport: log, pubsub or mqtt. Comma separated values fan out.
	Kind string `envconfig:"PACKFINDERZ_NOTIFICATIONS_KIND" default:"log"`
}

// Kinds returns the normalized notifier kinds.
func (n NotificationsConfig) Kinds() []string {
	var kinds []string
	for _, part := range strings.Split(n.Kind, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			kinds = append(kinds, trimmed)
		}
	}
	return kinds
}

func (n NotificationsConfig) validate(cfg Config) error {
	for _, kind := range n.Kinds() {
		switch kind {
		case NotifierLog:
		case NotifierPubSub:
			if cfg.GCP.ProjectID == "" {
				return fmt.Errorf("%s is required for pubsub notifications", EnvGCPProjectID)
			}
		case NotifierMQTT:
			if cfg.MQTT.Broker == "" {
				return fmt.Errorf("%s is required for mqtt notifications", EnvMQTTBroker)
			}
		default:
			return fmt.Errorf("unknown notifier kind %q", kind)
		}
	}
	return nil
}

type MQTTConfig struct {
	Broker      string        `envconfig:"PACKFINDERZ_MQTT_BROKER"`
	ClientID    string        `envconfig:"PACKFINDERZ_MQTT_CLIENT_ID" default:"packfinderz-dispatch"`
	Username    string        `envconfig:"PACKFINDERZ_MQTT_USERNAME"`
	Password    string        `envconfig:"PACKFINDERZ_MQTT_PASSWORD"`
	TopicPrefix string        `envconfig:"PACKFINDERZ_MQTT_TOPIC_PREFIX" default:"packfinderz/dispatch"`
	QoS         byte          `envconfig:"PACKFINDERZ_MQTT_QOS" default:"1"`
	Timeout     time.Duration `envconfig:"PACKFINDERZ_MQTT_TIMEOUT" default:"5s"`
}

type GoogleMapsConfig struct {
	APIKey  string        `envconfig:"PACKFINDERZ_GOOGLE_MAPS_API_KEY"`
	BaseURL string        `envconfig:"PACKFINDERZ_GOOGLE_MAPS_BASE_URL" default:"https://maps.googleapis.com"`
	Timeout time.Duration `envconfig:"PACKFINDERZ_GOOGLE_MAPS_TIMEOUT" default:"3s"`
}

// Enabled reports whether reverse geocoding can be attempted.
func (g GoogleMapsConfig) Enabled() bool {
	return strings.TrimSpace(g.APIKey) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PACKFINDERZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PACKFINDERZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"PACKFINDERZ_PUBSUB_NOTIFICATION_TOPIC" default:"pf-notification-events"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = "file:packfinderz_dispatch.db?cache=shared&_foreign_keys=on"
		}
		return nil
	}
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
