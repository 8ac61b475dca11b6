package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MARKETFLEET_DB_DSN"
	EnvDBHost = "MARKETFLEET_DB_HOST"
	EnvDBUser = "MARKETFLEET_DB_USER"
	EnvDBName = "MARKETFLEET_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	Pricing       PricingConfig
	Payout        PayoutConfig
	Notifications NotificationsConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETFLEET_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETFLEET_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"MARKETFLEET_APP_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"MARKETFLEET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETFLEET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETFLEET_DB_DSN"`
	Driver string `envconfig:"MARKETFLEET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETFLEET_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETFLEET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETFLEET_DB_USER"`
	LegacyPassword string `envconfig:"MARKETFLEET_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETFLEET_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETFLEET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETFLEET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETFLEET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETFLEET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETFLEET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETFLEET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETFLEET_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETFLEET_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETFLEET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETFLEET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETFLEET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETFLEET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETFLEET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETFLEET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey              string        `envconfig:"MARKETFLEET_STRIPE_API_KEY"`
	Secret              string        `envconfig:"MARKETFLEET_STRIPE_SECRET"`
	Env                 string        `envconfig:"MARKETFLEET_STRIPE_ENV" default:"test"`
	Currency            string        `envconfig:"MARKETFLEET_STRIPE_CURRENCY" default:"usd"`
	MaxAttempts         int           `envconfig:"MARKETFLEET_STRIPE_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"MARKETFLEET_STRIPE_RETRY_BASE_DELAY" default:"200ms"`
	WebhookEventMaxAge  time.Duration `envconfig:"MARKETFLEET_STRIPE_WEBHOOK_MAX_AGE" default:"5m"`
	WebhookGuardTTL     time.Duration `envconfig:"MARKETFLEET_STRIPE_WEBHOOK_GUARD_TTL" default:"720h"`
	CheckoutSuccessPath string        `envconfig:"MARKETFLEET_STRIPE_CHECKOUT_SUCCESS_PATH" default:"/checkout/success"`
	CheckoutCancelPath  string        `envconfig:"MARKETFLEET_STRIPE_CHECKOUT_CANCEL_PATH" default:"/checkout/cancel"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PricingConfig struct {
	TaxRate string `envconfig:"MARKETFLEET_PRICING_TAX_RATE" default:"0.10"`
}

// TaxRateDecimal parses the configured tax rate.
func (p PricingConfig) TaxRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (p PricingConfig) validate() error {
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return fmt.Errorf("invalid tax rate %q: %w", p.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax rate %q must be in [0, 1)", p.TaxRate)
	}
	return nil
}

type PayoutConfig struct {
	PlatformFeeRate string `envconfig:"MARKETFLEET_PAYOUT_PLATFORM_FEE_RATE" default:"0.10"`
}

// PlatformFeeRateDecimal parses the configured platform fee rate.
func (p PayoutConfig) PlatformFeeRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(p.PlatformFeeRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (p PayoutConfig) validate() error {
	rate, err := decimal.NewFromString(p.PlatformFeeRate)
	if err != nil {
		return fmt.Errorf("invalid platform fee rate %q: %w", p.PlatformFeeRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate %q must be in [0, 1)", p.PlatformFeeRate)
	}
	return nil
}

type NotificationsConfig struct {
	FromEmail string `envconfig:"MARKETFLEET_NOTIFICATIONS_FROM_EMAIL" default:"orders@marketfleet.io"`
	Disabled  bool   `envconfig:"MARKETFLEET_NOTIFICATIONS_DISABLED" default:"false"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETFLEET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETFLEET_AUTO_MIGRATE" default:"false"`
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
