package metrc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	metrcapi "github.com/angelmondragon/packfinderz-compliance/pkg/metrc"
	"github.com/angelmondragon/packfinderz-compliance/pkg/monitoring"
	"github.com/angelmondragon/packfinderz-compliance/pkg/providers"
)

// UpstreamTasks finds deferred tasks of a source batch.
type UpstreamTasks interface {
	ForToday(ctx context.Context, integrationID uuid.UUID, loc *time.Location, batchID, facilityID string, now time.Time) ([]models.Scheduler, error)
}

// TaskRunner executes deferred tasks synchronously.
type TaskRunner interface {
	Run(ctx context.Context, tasks ...models.Scheduler) error
}

// ClientBuilder builds the vendor client for one execution.
type ClientBuilder func(cfg metrcapi.ClientConfig) (VendorClient, error)

// SecretLookup returns the Metrc API key for a state, or "" when unset.
type SecretLookup func(state string) string

type ClientSettings struct {
	BaseURL                string
	BaseURLTemplate        string
	SandboxBaseURLTemplate string
	Sandbox                bool
	Debug                  bool
	Timeout                time.Duration
	HTTPClient             *http.Client
}

type FactoryParams struct {
	Providers     *providers.Metrc
	Client        ClientSettings
	Secrets       SecretLookup
	BuildClient   ClientBuilder
	UpstreamTasks UpstreamTasks
	Runner        TaskRunner
	Reporter      monitoring.Reporter
	Logger        *logger.Logger
	Now           func() time.Time
}

// Factory builds Metrc workflows. It implements serviceaction.WorkflowFactory.
type Factory struct {
	providers   *providers.Metrc
	client      ClientSettings
	secrets     SecretLookup
	buildClient ClientBuilder
	upstream    UpstreamTasks
	runner      TaskRunner
	reporter    monitoring.Reporter
	logg        *logger.Logger
	now         func() time.Time
}

func NewFactory(params FactoryParams) (*Factory, error) {
	if params.Providers == nil {
		return nil, fmt.Errorf("metrc providers config required")
	}
	if params.Secrets == nil {
		return nil, fmt.Errorf("secret lookup required")
	}
	if params.UpstreamTasks == nil {
		return nil, fmt.Errorf("upstream task store required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("task runner required")
	}
	if params.Reporter == nil {
		return nil, fmt.Errorf("monitoring reporter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	build := params.BuildClient
	if build == nil {
		build = func(cfg metrcapi.ClientConfig) (VendorClient, error) {
			return metrcapi.NewClient(cfg)
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Factory{
		providers:   params.Providers,
		client:      params.Client,
		secrets:     params.Secrets,
		buildClient: build,
		upstream:    params.UpstreamTasks,
		runner:      params.Runner,
		reporter:    params.Reporter,
		logg:        params.Logger,
		now:         now,
	}, nil
}

func (f *Factory) Vendor() enums.Vendor {
	return enums.VendorMetrc
}

func (f *Factory) Crop() string {
	return f.providers.Crop
}

// Build routes the event to its workflow by completion action type.
func (f *Factory) Build(ctx context.Context, action *serviceaction.Action) (serviceaction.Workflow, error) {
	actionType := action.Event.ActionType()
	if actionType != string(enums.CompletionStart) {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidOperation,
			"Unsupported action '%s' for Metrc. Batch ID %s, completion ID %s", actionType, action.BatchID, action.CompletionID)
	}

	adapter, err := f.NewAdapter(ctx, action)
	if err != nil {
		return nil, err
	}
	return &PackageStart{
		action:   action,
		adapter:  adapter,
		upstream: f.upstream,
		runner:   f.runner,
		logg:     f.logg,
		now:      f.now,
	}, nil
}

// NewAdapter builds an adapter with a client configured for this execution
// only.
func (f *Factory) NewAdapter(ctx context.Context, action *serviceaction.Action) (*Adapter, error) {
	state := strings.ToUpper(strings.TrimSpace(action.Integration.State))
	secret := f.secrets(state)
	if secret == "" {
		err := pkgerrors.Newf(pkgerrors.CodeConfiguration, "No Metrc key is available for %s", state)
		f.reporter.Notify(ctx, err)
		return nil, err
	}

	client, err := f.buildClient(metrcapi.ClientConfig{
		APIKey:                 secret,
		UserKey:                action.Integration.Secret,
		State:                  f.providers.State(action.Integration.State),
		Sandbox:                f.client.Sandbox,
		Debug:                  f.client.Debug,
		BaseURL:                f.client.BaseURL,
		BaseURLTemplate:        f.client.BaseURLTemplate,
		SandboxBaseURLTemplate: f.client.SandboxBaseURLTemplate,
		Timeout:                f.client.Timeout,
		HTTPClient:             f.client.HTTPClient,
	})
	if err != nil {
		wrapped := pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "build metrc client")
		f.reporter.Notify(ctx, wrapped)
		return nil, wrapped
	}
	return newAdapter(client, action, f.providers, f.reporter, f.logg), nil
}
