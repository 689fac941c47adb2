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
	DB           DBConfig
	Redis        RedisConfig
	Khalti       KhaltiConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SUBPAY_DB_DSN"`
	Driver string `envconfig:"SUBPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBPAY_DB_USER"`
	LegacyPassword string `envconfig:"SUBPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBPAY_REDIS_ADDR"`
	Password     string        `envconfig:"SUBPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// KhaltiConfig holds the gateway credentials and client tuning knobs.
type KhaltiConfig struct {
	SecretKey   string        `envconfig:"SUBPAY_KHALTI_SECRET_KEY"`
	PublicKey   string        `envconfig:"SUBPAY_KHALTI_PUBLIC_KEY"`
	Env         string        `envconfig:"SUBPAY_KHALTI_ENV" default:"sandbox"`
	Timeout     time.Duration `envconfig:"SUBPAY_KHALTI_TIMEOUT" default:"30s"`
	MaxAttempts int           `envconfig:"SUBPAY_KHALTI_MAX_ATTEMPTS" default:"3"`
	ReturnURL   string        `envconfig:"SUBPAY_KHALTI_RETURN_URL"`
	WebsiteURL  string        `envconfig:"SUBPAY_KHALTI_WEBSITE_URL"`

	InitiateDedupTTL time.Duration `envconfig:"SUBPAY_KHALTI_INITIATE_DEDUP_TTL" default:"5m"`
	VerifyCacheTTL   time.Duration `envconfig:"SUBPAY_KHALTI_VERIFY_CACHE_TTL" default:"1h"`
}

// Environment returns the normalized Khalti environment (sandbox/live).
func (k KhaltiConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(k.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUBPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUBPAY_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SUBPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"SUBPAY_PUBSUB_BILLING_TOPIC" default:"subpay-billing-events"`
	BillingSubscription string `envconfig:"SUBPAY_PUBSUB_BILLING_SUBSCRIPTION"`
}

// RateLimitConfig tunes the fixed-window limit on payment initiation.
// A non-positive limit disables the window.
type RateLimitConfig struct {
	InitiateLimit  int64         `envconfig:"SUBPAY_RATELIMIT_INITIATE_LIMIT" default:"10"`
	InitiateWindow time.Duration `envconfig:"SUBPAY_RATELIMIT_INITIATE_WINDOW" default:"1m"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUBPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUBPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUBPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
