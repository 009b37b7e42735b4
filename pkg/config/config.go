package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Marketplace  MarketplaceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Marketplace.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" default:"8090"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"settlement-worker"`
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

// IsSQLite reports whether the configured driver targets SQLite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PACKFINDERZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"PACKFINDERZ_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	OutboxIdempotencyTTL  time.Duration `envconfig:"PACKFINDERZ_EVENTING_OUTBOX_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PACKFINDERZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PACKFINDERZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic       string `envconfig:"PACKFINDERZ_PUBSUB_SETTLEMENT_TOPIC" default:"pf-settlement-events"`
	PayoutTopic           string `envconfig:"PACKFINDERZ_PUBSUB_PAYOUT_TOPIC" default:"pf-payout-transfers"`
	ProviderSubscription  string `envconfig:"PACKFINDERZ_PUBSUB_PROVIDER_SUBSCRIPTION"`
	AnalyticsSubscription string `envconfig:"PACKFINDERZ_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"PACKFINDERZ_BIGQUERY_DATASET" default:"packfinderz"`
	SettlementEventsTable string `envconfig:"PACKFINDERZ_BIGQUERY_SETTLEMENT_TABLE" default:"settlement_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PACKFINDERZ_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PACKFINDERZ_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"PACKFINDERZ_CRON_LOCK_TTL" default:"2h"`
}

// MarketplaceConfig carries the settlement rules: commission, escrow, payouts,
// invoicing and delivery restrictions.
type MarketplaceConfig struct {
	Currency string `envconfig:"PACKFINDERZ_CURRENCY" default:"EUR"`

	CommissionDefaultRate   decimal.Decimal            `envconfig:"PACKFINDERZ_COMMISSION_DEFAULT_RATE" default:"0.10"`
	CommissionSellerRates   map[string]decimal.Decimal `envconfig:"PACKFINDERZ_COMMISSION_SELLER_RATES"`
	CommissionCategoryRates map[string]decimal.Decimal `envconfig:"PACKFINDERZ_COMMISSION_CATEGORY_RATES"`

	EscrowPayoutDelayDays int             `envconfig:"PACKFINDERZ_ESCROW_PAYOUT_DELAY_DAYS" default:"14"`
	PayoutMinimumAmount   decimal.Decimal `envconfig:"PACKFINDERZ_PAYOUT_MINIMUM_AMOUNT" default:"100"`
	PayoutIntervalDays    int             `envconfig:"PACKFINDERZ_PAYOUT_INTERVAL_DAYS" default:"7"`

	InvoiceNumberPrefix   string                     `envconfig:"PACKFINDERZ_INVOICE_NUMBER_PREFIX" default:"INV"`
	InvoiceDefaultTaxRate decimal.Decimal            `envconfig:"PACKFINDERZ_INVOICE_DEFAULT_TAX_RATE" default:"0.20"`
	InvoiceSellerTaxRates map[string]decimal.Decimal `envconfig:"PACKFINDERZ_INVOICE_SELLER_TAX_RATES"`

	AllowedDeliveryCountries []string `envconfig:"PACKFINDERZ_ALLOWED_DELIVERY_COUNTRIES" default:"DE,AT,NL"`
	AllowedDeliveryRegions   []string `envconfig:"PACKFINDERZ_ALLOWED_DELIVERY_REGIONS"`

	ReturnWindowDays int `envconfig:"PACKFINDERZ_RETURN_WINDOW_DAYS" default:"14"`
}

// SellerCommissionRates converts the seller override map into uuid keys.
func (m MarketplaceConfig) SellerCommissionRates() map[uuid.UUID]decimal.Decimal {
	return uuidKeyed(m.CommissionSellerRates)
}

// TaxRateFor returns the seller override when present, the default otherwise.
func (m MarketplaceConfig) TaxRateFor(sellerID uuid.UUID) decimal.Decimal {
	if rate, ok := uuidKeyed(m.InvoiceSellerTaxRates)[sellerID]; ok {
		return rate
	}
	return m.InvoiceDefaultTaxRate
}

// EscrowPayoutDelay returns the configured escrow hold as a duration.
func (m MarketplaceConfig) EscrowPayoutDelay() time.Duration {
	return time.Duration(m.EscrowPayoutDelayDays) * 24 * time.Hour
}

// ReturnWindow returns how long after delivery a buyer may open a case.
func (m MarketplaceConfig) ReturnWindow() time.Duration {
	return time.Duration(m.ReturnWindowDays) * 24 * time.Hour
}

func (m MarketplaceConfig) validate() error {
	if m.CommissionDefaultRate.IsNegative() || m.CommissionDefaultRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0,1]", EnvCommissionDefaultRate)
	}
	for key := range m.CommissionSellerRates {
		if _, err := uuid.Parse(key); err != nil {
			return fmt.Errorf("%s: invalid seller id %q", EnvCommissionSellerRates, key)
		}
	}
	for key := range m.InvoiceSellerTaxRates {
		if _, err := uuid.Parse(key); err != nil {
			return fmt.Errorf("%s: invalid seller id %q", EnvInvoiceSellerTaxRates, key)
		}
	}
	if m.EscrowPayoutDelayDays < 0 {
		return fmt.Errorf("%s must be non-negative", EnvEscrowPayoutDelayDays)
	}
	if m.PayoutIntervalDays < 0 {
		return fmt.Errorf("%s must be non-negative", EnvPayoutIntervalDays)
	}
	return nil
}

func uuidKeyed(raw map[string]decimal.Decimal) map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(raw))
	for key, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		out[id] = value
	}
	return out
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:packfinderz.db?cache=shared"
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
