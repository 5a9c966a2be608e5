package metrc

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	metrcapi "github.com/angelmondragon/packfinderz-compliance/pkg/metrc"
)

const (
	WorkflowPackageStart = "package_start"

	stepCreatePlantBatchPackage = "create_plant_batch_package"
	stepCreateProductPackage    = "create_product_package"
)

var (
	plantLabelPattern = regexp.MustCompile(`Plant`)
	testBatchPattern  = regexp.MustCompile(`(?i)test`)
)

// PackageStart creates a Metrc package from a package batch start.
//
// Plant packages (the first consumed resource is a plant) are created from
// plant batches; everything else becomes a harvest package whose
// ingredients are the consumed harvests.
type PackageStart struct {
	action   *serviceaction.Action
	adapter  *Adapter
	upstream UpstreamTasks
	runner   TaskRunner
	logg     *logger.Logger
	now      func() time.Time

	resourceUnits    []ResourceUnit
	consumedHarvests []int64
}

type plantBatchPackage struct {
	PlantBatch           string      `json:"PlantBatch"`
	Count                json.Number `json:"Count"`
	Location             *string     `json:"Location"`
	Item                 string      `json:"Item"`
	Tag                  string      `json:"Tag"`
	PatientLicenseNumber *string     `json:"PatientLicenseNumber"`
	Note                 string      `json:"Note"`
	IsTradeSample        bool        `json:"IsTradeSample"`
	IsDonation           bool        `json:"IsDonation"`
	ActualDate           string      `json:"ActualDate"`
}

type harvestPackage struct {
	Tag                        string              `json:"Tag"`
	Location                   string              `json:"Location"`
	Item                       string              `json:"Item"`
	UnitOfWeight               string              `json:"UnitOfWeight"`
	PatientLicenseNumber       *string             `json:"PatientLicenseNumber"`
	Note                       *string             `json:"Note"`
	IsProductionBatch          bool                `json:"IsProductionBatch"`
	ProductionBatchNumber      *string             `json:"ProductionBatchNumber"`
	IsTradeSample              bool                `json:"IsTradeSample"`
	ProductRequiresRemediation bool                `json:"ProductRequiresRemediation"`
	RemediateProduct           bool                `json:"RemediateProduct"`
	RemediationMethodID        *int64              `json:"RemediationMethodId"`
	RemediationDate            *string             `json:"RemediationDate"`
	RemediationSteps           *string             `json:"RemediationSteps"`
	ActualDate                 string              `json:"ActualDate"`
	Ingredients                []harvestIngredient `json:"Ingredients"`
}

// packageMetadata is the part of the start_package_batch metadata a re-run
// needs to finish harvests without rebuilding the package.
type packageMetadata struct {
	Harvests []int64 `json:"harvests,omitempty"`
}

type harvestIngredient struct {
	HarvestID    int64       `json:"HarvestId"`
	HarvestName  string      `json:"HarvestName"`
	Weight       json.Number `json:"Weight"`
	UnitOfWeight string      `json:"UnitOfWeight"`
}

func (w *PackageStart) Name() string {
	return WorkflowPackageStart
}

func (w *PackageStart) Call(ctx context.Context) serviceaction.Result {
	ctx = w.action.Log(ctx)

	existing, err := w.action.ExistingTransaction(ctx, enums.TransactionStartPackageBatch)
	if err != nil {
		return serviceaction.Fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction"))
	}
	if existing != nil {
		return w.resume(ctx, existing)
	}

	batch, err := w.action.Batch(ctx)
	if err != nil {
		return serviceaction.Fail(err)
	}
	if batch == nil {
		return serviceaction.Fail(pkgerrors.New(pkgerrors.CodeInvalidBatch, "package start requires a batch"))
	}

	if err := w.flushUpstreamTasks(ctx, batch); err != nil {
		return serviceaction.Fail(err)
	}

	plant, err := w.isPlantPackage(ctx, batch)
	if err != nil {
		return serviceaction.Fail(err)
	}
	if plant {
		return w.createPlantBatchPackage(ctx, batch)
	}
	return w.createProductPackage(ctx, batch)
}

// consumeCompletions returns every consume completion of the batch, not only
// those tied to this start.
func (w *PackageStart) consumeCompletions(batch *artemis.Batch) []artemis.Completion {
	return batch.CompletionsOf(string(enums.CompletionConsume))
}

func (w *PackageStart) flushUpstreamTasks(ctx context.Context, batch *artemis.Batch) error {
	integration := w.action.Integration
	for _, consume := range w.consumeCompletions(batch) {
		sourceBatchID := consume.SourceBatchID()
		tasks, err := w.upstream.ForToday(ctx, integration.ID, integration.Location(), sourceBatchID, w.action.FacilityID, w.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upstream tasks")
		}
		if len(tasks) == 0 {
			w.logg.Info(ctx, fmt.Sprintf("Source batch %s has no pending completions!", sourceBatchID))
			continue
		}

		w.logg.Info(ctx, fmt.Sprintf("Flushing queued completions for source batch %s", sourceBatchID))
		if err := w.runner.Run(ctx, tasks...); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUpstreamProcessing, err, "Failed to process upstream tasks")
		}
	}
	return nil
}

func (w *PackageStart) loadResourceUnits(ctx context.Context, batch *artemis.Batch) ([]ResourceUnit, error) {
	if w.resourceUnits != nil {
		return w.resourceUnits, nil
	}
	consumes := w.consumeCompletions(batch)
	units := make([]ResourceUnit, 0, len(consumes))
	for _, consume := range consumes {
		unit, err := w.adapter.ResourceUnit(ctx, consume.ResourceUnitID())
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	w.resourceUnits = units
	return units, nil
}

// label is the label of the first consumed resource unit. Other consumed
// units are not compared.
func (w *PackageStart) label(ctx context.Context, batch *artemis.Batch) (string, error) {
	units, err := w.loadResourceUnits(ctx, batch)
	if err != nil {
		return "", err
	}
	if len(units) == 0 {
		return "", nil
	}
	return units[0].Label, nil
}

func (w *PackageStart) isPlantPackage(ctx context.Context, batch *artemis.Batch) (bool, error) {
	label, err := w.label(ctx, batch)
	if err != nil {
		return false, err
	}
	return plantLabelPattern.MatchString(label), nil
}

func (w *PackageStart) validateItemType(ctx context.Context, batch *artemis.Batch) error {
	label, err := w.label(ctx, batch)
	if err != nil {
		return err
	}
	supported, err := w.adapter.ItemCategories(ctx)
	if err != nil {
		return err
	}
	return ValidateItemType(label, supported)
}

func (w *PackageStart) packageDate() (string, error) {
	date := strings.TrimSpace(w.action.Attribute("start_time"))
	if date == "" {
		return "", pkgerrors.Newf(pkgerrors.CodeInvalidAttributes,
			"Missing start_time for completion ID %s", w.action.CompletionID)
	}
	return date, nil
}

func (w *PackageStart) createPlantBatchPackage(ctx context.Context, batch *artemis.Batch) serviceaction.Result {
	tag := batch.Tag()
	if tag == "" {
		return serviceaction.Defer(stepCreatePlantBatchPackage)
	}
	if err := w.validateItemType(ctx, batch); err != nil {
		return serviceaction.Fail(err)
	}

	payload, err := w.plantBatchPackagePayload(ctx, batch, tag)
	if err != nil {
		return serviceaction.Fail(err)
	}
	if _, err := w.adapter.CallVendor(ctx, metrcapi.CreatePlantBatchPackage(payload)); err != nil {
		return serviceaction.Fail(err)
	}
	return w.recordTransaction(ctx, "Plant batch package created", nil)
}

func (w *PackageStart) plantBatchPackagePayload(ctx context.Context, batch *artemis.Batch, tag string) ([]plantBatchPackage, error) {
	date, err := w.packageDate()
	if err != nil {
		return nil, err
	}
	consumes := w.consumeCompletions(batch)
	payload := make([]plantBatchPackage, 0, len(consumes))
	for _, consume := range consumes {
		count, err := quantity(consume)
		if err != nil {
			return nil, err
		}
		plantBatch, err := w.sourceBatch(ctx, consume.SourceBatchID())
		if err != nil {
			return nil, err
		}
		unit, err := w.adapter.ResourceUnit(ctx, consume.ResourceUnitID())
		if err != nil {
			return nil, err
		}
		payload = append(payload, plantBatchPackage{
			PlantBatch: plantBatch,
			Count:      count,
			Item:       unit.ItemType,
			Tag:        tag,
			ActualDate: date,
		})
	}
	return payload, nil
}

func (w *PackageStart) createProductPackage(ctx context.Context, batch *artemis.Batch) serviceaction.Result {
	batchTag, err := BatchTag(batch.ArbitraryID, batch.Barcodes)
	if err != nil {
		return serviceaction.Fail(err)
	}
	tag := batch.Tag()
	if batchTag == "" || tag == "" {
		return serviceaction.Defer(stepCreateProductPackage)
	}
	if err := w.validateItemType(ctx, batch); err != nil {
		return serviceaction.Fail(err)
	}

	payload, err := w.productPackagePayload(ctx, batch, tag)
	if err != nil {
		return serviceaction.Fail(err)
	}
	testBatch := testBatchPattern.MatchString(batch.ArbitraryID)
	if _, err := w.adapter.CallVendor(ctx, metrcapi.CreateHarvestPackage(payload, testBatch)); err != nil {
		return serviceaction.Fail(err)
	}

	var harvests []int64
	if !w.action.Integration.DisableHarvest {
		harvests = uniqueIDs(w.consumedHarvests)
	}
	result := w.recordTransaction(ctx, "Harvest package created", harvests)
	if result.Kind != serviceaction.ResultSuccess {
		return result
	}
	if err := w.finishHarvests(ctx, harvests); err != nil {
		return serviceaction.Fail(err).WithTransaction(result.Transaction)
	}
	return result
}

// resume handles a re-run after the package was created. Harvest finishing
// is retried until its own transaction is recorded.
func (w *PackageStart) resume(ctx context.Context, existing *models.Transaction) serviceaction.Result {
	done := serviceaction.Success(existing, fmt.Sprintf(
		"Package already created: batch ID %s, completion ID %s", w.action.BatchID, w.action.CompletionID))

	var metadata packageMetadata
	if len(existing.Metadata) > 0 {
		if err := json.Unmarshal(existing.Metadata, &metadata); err != nil {
			return serviceaction.Fail(pkgerrors.Wrap(pkgerrors.CodeDataMismatch, err, "decode transaction metadata")).WithTransaction(existing)
		}
	}
	if len(metadata.Harvests) == 0 {
		return done
	}

	w.logg.Info(ctx, fmt.Sprintf("Resuming harvest finishing for completion ID %s", w.action.CompletionID))
	if err := w.finishHarvests(ctx, metadata.Harvests); err != nil {
		return serviceaction.Fail(err).WithTransaction(existing)
	}
	return done
}

func (w *PackageStart) productPackagePayload(ctx context.Context, batch *artemis.Batch, tag string) ([]harvestPackage, error) {
	date, err := w.packageDate()
	if err != nil {
		return nil, err
	}
	units, err := w.loadResourceUnits(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := ValidateUnits(units); err != nil {
		return nil, err
	}

	zone, err := w.action.Source.GetZone(ctx, batch.ZoneID.String())
	if err != nil {
		return nil, err
	}

	consumes := w.consumeCompletions(batch)
	ingredients := make([]harvestIngredient, 0, len(consumes))
	for _, consume := range consumes {
		ingredient, err := w.harvestIngredient(ctx, consume)
		if err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ingredient)
	}

	var note *string
	if value := strings.TrimSpace(w.action.Attribute("note")); value != "" {
		note = &value
	}

	return []harvestPackage{{
		Tag:          tag,
		Location:     zone.Name,
		Item:         batch.CropVariety,
		UnitOfWeight: units[0].Unit,
		Note:         note,
		ActualDate:   date,
		Ingredients:  ingredients,
	}}, nil
}

func (w *PackageStart) harvestIngredient(ctx context.Context, consume artemis.Completion) (harvestIngredient, error) {
	sourceBatchID := consume.SourceBatchID()
	if sourceBatchID == "" {
		return harvestIngredient{}, pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "Missing context batch for completion '%s'", consume.ID)
	}
	cropBatch, err := w.action.Source.GetBatch(ctx, sourceBatchID, "barcodes")
	if err != nil {
		return harvestIngredient{}, err
	}
	unit, err := w.adapter.ResourceUnit(ctx, consume.ResourceUnitID())
	if err != nil {
		return harvestIngredient{}, err
	}
	harvest, err := w.adapter.LookupHarvest(ctx, cropBatch.ArbitraryID)
	if err != nil {
		return harvestIngredient{}, err
	}
	weight, err := quantity(consume)
	if err != nil {
		return harvestIngredient{}, err
	}

	w.consumedHarvests = append(w.consumedHarvests, harvest.ID)
	return harvestIngredient{
		HarvestID:    harvest.ID,
		HarvestName:  cropBatch.ArbitraryID,
		Weight:       weight,
		UnitOfWeight: unit.Unit,
	}, nil
}

// finishHarvests closes the given harvests Metrc reports as empty and
// records a finish_harvests transaction once they are settled.
func (w *PackageStart) finishHarvests(ctx context.Context, harvests []int64) error {
	if w.action.Integration.DisableHarvest {
		w.logg.Info(ctx, fmt.Sprintf("Harvest finishing is disabled for integration %s", w.action.Integration.ID))
		return nil
	}
	finished, err := w.action.ExistingTransaction(ctx, enums.TransactionFinishHarvests)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if finished != nil {
		return nil
	}
	date, err := w.packageDate()
	if err != nil {
		return err
	}

	payload := []metrcapi.FinishHarvestEntry{}
	for _, id := range harvests {
		harvest, err := w.adapter.Harvest(ctx, id)
		if err != nil {
			return err
		}
		weight, err := decimal.NewFromString(harvest.CurrentWeight.String())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDataMismatch, err,
				fmt.Sprintf("metrc harvest %d has an unreadable weight", id))
		}
		if weight.IsZero() {
			payload = append(payload, metrcapi.FinishHarvestEntry{ID: id, ActualDate: date})
		}
	}
	if len(payload) > 0 {
		if _, err := w.adapter.CallVendor(ctx, metrcapi.FinishHarvest(payload)); err != nil {
			return err
		}
	}
	if _, _, err := w.action.Transaction(ctx, enums.TransactionFinishHarvests, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transaction")
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// sourceBatch resolves the barcode of the batch a consume completion drew
// from.
func (w *PackageStart) sourceBatch(ctx context.Context, batchID string) (string, error) {
	if batchID == "" {
		return "", pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "Missing context batch '%s'", batchID)
	}
	parent, err := w.action.Source.GetBatch(ctx, batchID, "barcodes")
	if err != nil {
		return "", err
	}
	return SourceBatchTag(parent.ArbitraryID, parent.Barcodes)
}

func (w *PackageStart) recordTransaction(ctx context.Context, message string, harvests []int64) serviceaction.Result {
	var metadata json.RawMessage
	if len(harvests) > 0 {
		fields := map[string]any{}
		if err := json.Unmarshal(w.action.Event.AttributesJSON(), &fields); err != nil || fields == nil {
			fields = map[string]any{}
		}
		fields["harvests"] = harvests
		encoded, err := json.Marshal(fields)
		if err != nil {
			return serviceaction.Fail(pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transaction metadata"))
		}
		metadata = encoded
	}
	tx, _, err := w.action.Transaction(ctx, enums.TransactionStartPackageBatch, metadata)
	if err != nil {
		return serviceaction.Fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transaction"))
	}
	return serviceaction.Success(tx, fmt.Sprintf("%s: batch ID %s, completion ID %s", message, w.action.BatchID, w.action.CompletionID))
}

func quantity(consume artemis.Completion) (json.Number, error) {
	raw := consume.ConsumedQuantity()
	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInvalidAttributes, err,
			fmt.Sprintf("Invalid consumed quantity '%s' for completion '%s'", raw, consume.ID))
	}
	return json.Number(value.String()), nil
}
