package config

// EnvPrefix namespaces every environment variable read by envconfig.
const EnvPrefix = "STALLFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "STALLFRONT_APP_ENV"
	EnvPort     = "STALLFRONT_APP_PORT"
	EnvDBDSN    = "STALLFRONT_DB_DSN"
	EnvDBHost   = "STALLFRONT_DB_HOST"
	EnvDBUser   = "STALLFRONT_DB_USER"
	EnvDBName   = "STALLFRONT_DB_NAME"
	EnvRedisURL = "STALLFRONT_REDIS_URL"

	EnvJWTSecret = "STALLFRONT_JWT_SECRET"
	EnvJWTIssuer = "STALLFRONT_JWT_ISSUER"

	EnvGCPProjectID      = "STALLFRONT_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "STALLFRONT_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "STALLFRONT_PUBSUB_ORDERS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
