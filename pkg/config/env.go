package config

const (
	EnvPrefix = "PACKFINDERZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "PACKFINDERZ_APP_ENV"
	EnvPort      = "PACKFINDERZ_APP_PORT"
	EnvUseSQLite = "PACKFINDERZ_USE_SQLITE"

	EnvDBDSN  = "PACKFINDERZ_DB_DSN"
	EnvDBHost = "PACKFINDERZ_DB_HOST"
	EnvDBUser = "PACKFINDERZ_DB_USER"
	EnvDBName = "PACKFINDERZ_DB_NAME"

	EnvRedisURL = "PACKFINDERZ_REDIS_URL"

	EnvCommissionDefaultRate   = "PACKFINDERZ_COMMISSION_DEFAULT_RATE"
	EnvCommissionSellerRates   = "PACKFINDERZ_COMMISSION_SELLER_RATES"
	EnvCommissionCategoryRates = "PACKFINDERZ_COMMISSION_CATEGORY_RATES"
	EnvEscrowPayoutDelayDays   = "PACKFINDERZ_ESCROW_PAYOUT_DELAY_DAYS"
	EnvPayoutMinimumAmount     = "PACKFINDERZ_PAYOUT_MINIMUM_AMOUNT"
	EnvPayoutIntervalDays      = "PACKFINDERZ_PAYOUT_INTERVAL_DAYS"
	EnvInvoiceNumberPrefix     = "PACKFINDERZ_INVOICE_NUMBER_PREFIX"
	EnvInvoiceDefaultTaxRate   = "PACKFINDERZ_INVOICE_DEFAULT_TAX_RATE"
	EnvInvoiceSellerTaxRates   = "PACKFINDERZ_INVOICE_SELLER_TAX_RATES"
	EnvAllowedCountries        = "PACKFINDERZ_ALLOWED_DELIVERY_COUNTRIES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
