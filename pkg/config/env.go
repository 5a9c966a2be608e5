package config

import "fmt"

// EnvPrefix is empty because every variable carries its full name in the tag.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvTest = "test"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "PACKFINDERZ_APP_ENV"
	EnvDBDSN                   = "PACKFINDERZ_DB_DSN"
	EnvDBHost                  = "PACKFINDERZ_DB_HOST"
	EnvDBUser                  = "PACKFINDERZ_DB_USER"
	EnvDBName                  = "PACKFINDERZ_DB_NAME"
	EnvRedisURL                = "PACKFINDERZ_REDIS_URL"
	EnvGCPProjectID            = "PACKFINDERZ_GCP_PROJECT_ID"
	EnvCompletionsSubscription = "PACKFINDERZ_PUBSUB_COMPLETIONS_SUBSCRIPTION"
	EnvSchedulerDeferDelay     = "PACKFINDERZ_SCHEDULER_DEFER_DELAY"

	metrcSecretFormat = "PACKFINDERZ_METRC_SECRET_%s"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// MetrcSecretEnv names the variable holding the vendor API key for a state.
func MetrcSecretEnv(state string) string {
	return fmt.Sprintf(metrcSecretFormat, state)
}
