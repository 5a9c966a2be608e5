package metrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	metrcapi "github.com/angelmondragon/packfinderz-compliance/pkg/metrc"
	"github.com/angelmondragon/packfinderz-compliance/pkg/monitoring"
	"github.com/angelmondragon/packfinderz-compliance/pkg/providers"
)

const responseLogLimit = 360

// VendorClient is the Metrc transport the adapter drives.
type VendorClient interface {
	Do(ctx context.Context, license string, op metrcapi.Operation) ([]byte, error)
	URI(license string, op metrcapi.Operation) string
	Debug() bool
}

// Adapter wraps Metrc calls for one execution: classification, logging and
// the per-execution caches.
type Adapter struct {
	client      VendorClient
	source      serviceaction.Source
	integration *models.Integration
	providers   *providers.Metrc
	reporter    monitoring.Reporter
	logg        *logger.Logger

	categories    []string
	resourceUnits map[string]ResourceUnit
}

func newAdapter(client VendorClient, action *serviceaction.Action, cfg *providers.Metrc, reporter monitoring.Reporter, logg *logger.Logger) *Adapter {
	return &Adapter{
		client:        client,
		source:        action.Source,
		integration:   action.Integration,
		providers:     cfg,
		reporter:      reporter,
		logg:          logg,
		resourceUnits: map[string]ResourceUnit{},
	}
}

// State is the Metrc state code of the integration.
func (a *Adapter) State() string {
	return a.providers.State(a.integration.State)
}

// CallVendor dispatches op with the integration license. An empty body
// returns nil. Errors come back coded: retryable transport failures as
// DEPENDENCY_ERROR, missing configuration as CONFIGURATION_ERROR, and
// rejected payloads as INVALID_ATTRIBUTES.
func (a *Adapter) CallVendor(ctx context.Context, op metrcapi.Operation) (json.RawMessage, error) {
	license := a.integration.VendorID()
	a.logg.Debug(ctx, fmt.Sprintf("[%s] Metrc API request. URI %s", strings.ToUpper(op.Name), a.client.URI(license, op)))
	if args, err := yaml.Marshal(op.Args()); err == nil {
		a.logg.Debug(ctx, string(args))
	}

	body, err := a.client.Do(ctx, license, op)
	if err != nil {
		return nil, a.classify(ctx, op, err)
	}
	if a.client.Debug() {
		a.logg.Debug(ctx, fmt.Sprintf("METRC: Response: %s", truncate(string(body), responseLogLimit)))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, pkgerrors.Newf(pkgerrors.CodeDependency, "metrc %s returned a non JSON body", op.Name)
	}
	return json.RawMessage(body), nil
}

func (a *Adapter) classify(ctx context.Context, op metrcapi.Operation, err error) error {
	response := metrcapi.ResponseBody(err)
	switch {
	case metrcapi.IsRetryable(err):
		a.logg.Warn(ctx, fmt.Sprintf("METRC: Retryable error: %v", err))
		if response != "" {
			a.logg.Warn(ctx, fmt.Sprintf("METRC: Response: %s", truncate(response, responseLogLimit)))
		}
		wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("metrc %s failed", op.Name))
		a.reporter.Notify(ctx, wrapped)
		return wrapped
	case metrcapi.IsConfiguration(err):
		wrapped := pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, fmt.Sprintf("metrc %s is misconfigured", op.Name))
		a.reporter.Notify(ctx, wrapped)
		if response != "" {
			a.logg.Warn(ctx, fmt.Sprintf("METRC: Response: %s", truncate(response, responseLogLimit)))
		}
		a.logg.Error(ctx, fmt.Sprintf("METRC: Configuration error: %v", err), err)
		return wrapped
	case response != "":
		return pkgerrors.Wrap(pkgerrors.CodeInvalidAttributes, err,
			fmt.Sprintf("Metrc rejected %s: %s", op.Name, truncate(response, responseLogLimit)))
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("metrc %s failed", op.Name))
	}
}

// ResourceUnit fetches and maps a resource unit, once per execution.
func (a *Adapter) ResourceUnit(ctx context.Context, id string) (ResourceUnit, error) {
	if unit, ok := a.resourceUnits[id]; ok {
		return unit, nil
	}
	raw, err := a.source.GetResourceUnit(ctx, id)
	if err != nil {
		return ResourceUnit{}, err
	}
	unit := MapResourceUnit(*raw, a.providers)
	a.resourceUnits[id] = unit
	return unit, nil
}

// LookupHarvest finds an active Metrc harvest by name.
func (a *Adapter) LookupHarvest(ctx context.Context, name string) (*metrcapi.Harvest, error) {
	body, err := a.CallVendor(ctx, metrcapi.ListHarvests())
	if err != nil {
		return nil, err
	}
	var harvests []metrcapi.Harvest
	if len(body) > 0 {
		if err := decode(body, &harvests); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode metrc harvests")
		}
	}
	for i := range harvests {
		if harvests[i].Name == name {
			return &harvests[i], nil
		}
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeDataMismatch,
		"expected to find a harvest in Metrc named '%s' but it does not exist", name)
}

// Harvest fetches one harvest by id.
func (a *Adapter) Harvest(ctx context.Context, id int64) (*metrcapi.Harvest, error) {
	body, err := a.CallVendor(ctx, metrcapi.GetHarvest(id))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeDataMismatch, "metrc harvest %d returned no data", id)
	}
	var harvest metrcapi.Harvest
	if err := decode(body, &harvest); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode metrc harvest")
	}
	return &harvest, nil
}

// ItemCategories lists the supported item type names, fetched once per
// execution.
func (a *Adapter) ItemCategories(ctx context.Context) ([]string, error) {
	if a.categories != nil {
		return a.categories, nil
	}
	body, err := a.CallVendor(ctx, metrcapi.Get("items", "categories"))
	if err != nil {
		return nil, err
	}
	var categories []metrcapi.ItemCategory
	if len(body) > 0 {
		if err := decode(body, &categories); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode metrc item categories")
		}
	}
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	a.categories = names
	return names, nil
}

func decode(body []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(dest)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
