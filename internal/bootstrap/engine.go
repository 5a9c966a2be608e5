package bootstrap

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/internal/integrations"
	"github.com/angelmondragon/packfinderz-compliance/internal/metrc"
	"github.com/angelmondragon/packfinderz-compliance/internal/schedulers"
	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/internal/taskrunner"
	"github.com/angelmondragon/packfinderz-compliance/internal/transactions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/env"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
	"github.com/angelmondragon/packfinderz-compliance/pkg/monitoring"
	"github.com/angelmondragon/packfinderz-compliance/pkg/providers"
)

// Locker is the completion lock store shared by the consumer and the task
// runner. *redis.Client satisfies it.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

type EngineParams struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *metrics.ActionMetrics
	Locks   Locker

	// Sources and Secrets default to the Artemis client and the
	// PACKFINDERZ_METRC_SECRET_<STATE> variables.
	Sources     serviceaction.SourceFactory
	Secrets     metrc.SecretLookup
	BuildClient metrc.ClientBuilder
}

// Stack is the assembled service action engine and the stores around it.
type Stack struct {
	Engine       *serviceaction.Engine
	Runner       *taskrunner.Runner
	Integrations *integrations.Repository
	Schedulers   *schedulers.Repository
	Ledger       transactions.Ledger
}

// NewStack wires the repositories, the task runner, the Metrc workflow
// factory and the engine. The runner is bound to the engine before return.
func NewStack(params EngineParams) (*Stack, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config

	vendorProviders, err := providers.LoadMetrc(cfg.Metrc.ProvidersFile)
	if err != nil {
		return nil, err
	}

	integrationRepo := integrations.NewRepository(params.DB)
	schedulerRepo := schedulers.NewRepository(params.DB)
	ledger := transactions.NewLedger(params.DB)

	runner, err := taskrunner.New(taskrunner.Params{
		Tasks:        schedulerRepo,
		Integrations: integrationRepo,
		Logger:       params.Logger,
		Locks:        params.Locks,
		LockTTL:      cfg.Redis.CompletionLockTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("task runner: %w", err)
	}

	secrets := params.Secrets
	if secrets == nil {
		secrets = func(state string) string {
			return env.Get(config.MetrcSecretEnv(state), "")
		}
	}

	factory, err := metrc.NewFactory(metrc.FactoryParams{
		Providers: vendorProviders,
		Client: metrc.ClientSettings{
			BaseURLTemplate:        cfg.Metrc.BaseURLTemplate,
			SandboxBaseURLTemplate: cfg.Metrc.SandboxBaseURLTemplate,
			Sandbox:                cfg.Metrc.Sandbox(cfg.App),
			Debug:                  cfg.Metrc.Debug,
			Timeout:                cfg.Metrc.Timeout,
		},
		Secrets:       secrets,
		BuildClient:   params.BuildClient,
		UpstreamTasks: schedulerRepo,
		Runner:        runner,
		Reporter:      monitoring.NewLogReporter(params.Logger, params.Metrics),
		Logger:        params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("metrc factory: %w", err)
	}

	registry, err := serviceaction.NewRegistry(factory)
	if err != nil {
		return nil, err
	}

	sources := params.Sources
	if sources == nil {
		sources = ArtemisSources(cfg.Artemis)
	}

	engine, err := serviceaction.NewEngine(serviceaction.EngineParams{
		Registry:   registry,
		Sources:    sources,
		Ledger:     ledger,
		Deferred:   schedulerRepo,
		Logger:     params.Logger,
		Metrics:    params.Metrics,
		DeferDelay: cfg.Scheduler.DeferDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("service action engine: %w", err)
	}
	runner.Bind(engine)

	return &Stack{
		Engine:       engine,
		Runner:       runner,
		Integrations: integrationRepo,
		Schedulers:   schedulerRepo,
		Ledger:       ledger,
	}, nil
}

// ArtemisSources builds facility-scoped Artemis clients from the account
// access token.
func ArtemisSources(cfg config.ArtemisConfig) serviceaction.SourceFactory {
	return func(account *models.Account, facilityID string) (serviceaction.Source, error) {
		if account == nil {
			return nil, fmt.Errorf("integration has no account")
		}
		return artemis.NewClient(artemis.Config{
			BaseURL:    cfg.BaseURL,
			Token:      account.AccessToken,
			FacilityID: facilityID,
			Timeout:    cfg.Timeout,
		})
	}
}
