package config

// EnvPrefix namespaces every SubPay environment variable.
const EnvPrefix = "SUBPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "SUBPAY_APP_ENV"
	EnvPort     = "SUBPAY_APP_PORT"
	EnvRedisURL = "SUBPAY_REDIS_URL"

	EnvDBDSN  = "SUBPAY_DB_DSN"
	EnvDBHost = "SUBPAY_DB_HOST"
	EnvDBUser = "SUBPAY_DB_USER"
	EnvDBName = "SUBPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
