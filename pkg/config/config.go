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
	Payout       PayoutConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STALLFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STALLFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STALLFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STALLFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STALLFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STALLFRONT_DB_DSN"`
	Driver string `envconfig:"STALLFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STALLFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STALLFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STALLFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STALLFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STALLFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STALLFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STALLFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STALLFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STALLFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STALLFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STALLFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STALLFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STALLFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STALLFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STALLFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STALLFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STALLFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STALLFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STALLFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STALLFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STALLFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STALLFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STALLFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STALLFRONT_AUTO_MIGRATE" default:"false"`
}

// PayoutConfig governs the weekly settlement window and the batch runner.
type PayoutConfig struct {
	AnchorWeekday    int           `envconfig:"STALLFRONT_PAYOUT_ANCHOR_WEEKDAY" default:"5"`
	AnchorHourUTC    int           `envconfig:"STALLFRONT_PAYOUT_ANCHOR_HOUR_UTC" default:"18"`
	HoldPeriod       time.Duration `envconfig:"STALLFRONT_PAYOUT_HOLD_PERIOD" default:"72h"`
	WorkerCount      int           `envconfig:"STALLFRONT_PAYOUT_WORKER_COUNT" default:"4"`
	ReminderLead     time.Duration `envconfig:"STALLFRONT_PAYOUT_REMINDER_LEAD" default:"24h"`
	RunWindow        time.Duration `envconfig:"STALLFRONT_PAYOUT_RUN_WINDOW" default:"6h"`
	TxEntryLimit     int           `envconfig:"STALLFRONT_PAYOUT_TX_ENTRY_LIMIT" default:"500"`
	DefaultTestMode  bool          `envconfig:"STALLFRONT_PAYOUT_DEFAULT_TEST_MODE" default:"true"`
	MinTransferMinor int64         `envconfig:"STALLFRONT_PAYOUT_MIN_TRANSFER_MINOR" default:"100"`
}

func (p PayoutConfig) validate() error {
	if p.AnchorWeekday < 0 || p.AnchorWeekday > 6 {
		return fmt.Errorf("payout anchor weekday must be 0-6, got %d", p.AnchorWeekday)
	}
	if p.AnchorHourUTC < 0 || p.AnchorHourUTC > 23 {
		return fmt.Errorf("payout anchor hour must be 0-23, got %d", p.AnchorHourUTC)
	}
	if p.WorkerCount <= 0 {
		return fmt.Errorf("payout worker count must be positive, got %d", p.WorkerCount)
	}
	return nil
}

// Anchor returns the weekly cutoff anchor as weekday plus hour in UTC.
func (p PayoutConfig) Anchor() (time.Weekday, int) {
	return time.Weekday(p.AnchorWeekday), p.AnchorHourUTC
}

type StripeConfig struct {
	APIKey string `envconfig:"STALLFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STALLFRONT_STRIPE_SECRET"`
	Env    string `envconfig:"STALLFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STALLFRONT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"STALLFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STALLFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"STALLFRONT_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription       string `envconfig:"STALLFRONT_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"STALLFRONT_PUBSUB_NOTIFICATION_TOPIC" default:"sf-notification-events"`
	NotificationSubscription string `envconfig:"STALLFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
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
