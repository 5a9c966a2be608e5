package metrc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/internal/transactions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	metrcapi "github.com/angelmondragon/packfinderz-compliance/pkg/metrc"
	"github.com/angelmondragon/packfinderz-compliance/pkg/providers"
)

const startTime = "2026-04-20T16:20:00Z"

type fakeVendor struct {
	responses map[string]string
	errs      map[string]error
	calls     []metrcapi.Operation
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{
		responses: map[string]string{
			"/items/v1/categories": `[{"Name":"Buds"},{"Name":"Immature Plant"},{"Name":"Shake/Trim"}]`,
			"/harvests/v1/active":  `[{"Id":11,"Name":"Oct1-Ban-Spl-Can","CurrentWeight":0},{"Id":12,"Name":"Oct2-Ban-Spl-Can","CurrentWeight":5.5}]`,
			"/harvests/v1/11":      `{"Id":11,"Name":"Oct1-Ban-Spl-Can","CurrentWeight":0}`,
			"/harvests/v1/12":      `{"Id":12,"Name":"Oct2-Ban-Spl-Can","CurrentWeight":5.5}`,
		},
		errs: map[string]error{},
	}
}

func (f *fakeVendor) Do(ctx context.Context, license string, op metrcapi.Operation) ([]byte, error) {
	f.calls = append(f.calls, op)
	if err := f.errs[op.Name]; err != nil {
		return nil, err
	}
	return []byte(f.responses[op.Path]), nil
}

func (f *fakeVendor) URI(license string, op metrcapi.Operation) string {
	return "https://sandbox-api-ca.metrc.com" + op.Path + "?licenseNumber=" + license
}

func (f *fakeVendor) Debug() bool { return false }

func (f *fakeVendor) names() []string {
	out := make([]string, 0, len(f.calls))
	for _, op := range f.calls {
		out = append(out, op.Name)
	}
	return out
}

func (f *fakeVendor) call(t *testing.T, name string) metrcapi.Operation {
	t.Helper()
	for _, op := range f.calls {
		if op.Name == name {
			return op
		}
	}
	t.Fatalf("no %s call in %v", name, f.names())
	return metrcapi.Operation{}
}

type fakeSource struct {
	serviceaction.Source
	batches map[string]*artemis.Batch
	units   map[string]*artemis.ResourceUnit
	zones   map[string]*artemis.Zone
}

func (f *fakeSource) GetBatch(ctx context.Context, batchID string, include ...string) (*artemis.Batch, error) {
	if b, ok := f.batches[batchID]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("batch %s not stubbed", batchID)
}

func (f *fakeSource) GetResourceUnit(ctx context.Context, id string) (*artemis.ResourceUnit, error) {
	if u, ok := f.units[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("resource unit %s not stubbed", id)
}

func (f *fakeSource) GetZone(ctx context.Context, id string) (*artemis.Zone, error) {
	if z, ok := f.zones[id]; ok {
		return z, nil
	}
	return nil, fmt.Errorf("zone %s not stubbed", id)
}

type fakeUpstream struct {
	tasks map[string][]models.Scheduler
}

func (f *fakeUpstream) ForToday(ctx context.Context, integrationID uuid.UUID, loc *time.Location, batchID, facilityID string, now time.Time) ([]models.Scheduler, error) {
	return f.tasks[batchID], nil
}

type fakeRunner struct {
	ran []models.Scheduler
	err error
}

func (f *fakeRunner) Run(ctx context.Context, tasks ...models.Scheduler) error {
	f.ran = append(f.ran, tasks...)
	return f.err
}

type fakeReporter struct {
	reported []error
}

func (f *fakeReporter) Notify(ctx context.Context, err error) {
	f.reported = append(f.reported, err)
}

type fixture struct {
	vendor      *fakeVendor
	source      *fakeSource
	upstream    *fakeUpstream
	runner      *fakeRunner
	reporter    *fakeReporter
	ledger      transactions.Ledger
	integration *models.Integration
	factory     *Factory
	secret      string
}

func consume(id, resourceUnitID, sourceBatchID, quantity string) artemis.Completion {
	return artemis.Completion{
		ID:         artemis.ID(id),
		ActionType: "consume",
		Options: map[string]any{
			"resource_unit_id":  resourceUnitID,
			"consumed_quantity": json.Number(quantity),
		},
		Context: map[string]any{
			"source_batch": map[string]any{"id": sourceBatchID},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}))

	cfg, err := providers.LoadMetrc("")
	require.NoError(t, err)

	f := &fixture{
		vendor: newFakeVendor(),
		source: &fakeSource{
			batches: map[string]*artemis.Batch{
				"96182": {
					ID:          "96182",
					ArbitraryID: "Jun19-Bok-Cho",
					Crop:        "Cannabis",
					CropVariety: "Bok Choy",
					ZoneID:      "6422",
					SeedingUnit: &artemis.SeedingUnit{ItemTrackingMethod: "preprinted"},
					Barcodes:    []string{"1A4FF0100000022000000207"},
					Completions: []artemis.Completion{
						{ID: "90", ActionType: "start"},
						consume("91", "3200", "8101", "12.5"),
					},
				},
				"8101": {ID: "8101", ArbitraryID: "Oct1-Ban-Spl-Can", Barcodes: []string{"1A4FF0200000022000000001"}},
				"8102": {ID: "8102", ArbitraryID: "Oct2-Ban-Spl-Can", Barcodes: []string{"1A4FF0200000022000000002"}},
			},
			units: map[string]*artemis.ResourceUnit{
				"3200": {ID: "3200", Name: "Gram of Buds, Bok Choy", UnitName: "g", ProductModifier: "Buds", CropVariety: &artemis.CropVariety{Name: "Bok Choy"}},
				"3201": {ID: "3201", Name: "Ounce of Buds, Bok Choy", UnitName: "oz", ProductModifier: "Buds", CropVariety: &artemis.CropVariety{Name: "Bok Choy"}},
				"3300": {ID: "3300", Name: "Immature Plant, Bok Choy", UnitName: "Plant", ProductModifier: "Immature Plant", CropVariety: &artemis.CropVariety{Name: "Bok Choy"}},
			},
			zones: map[string]*artemis.Zone{"6422": {ID: "6422", Name: "Flower Room"}},
		},
		upstream: &fakeUpstream{tasks: map[string][]models.Scheduler{}},
		runner:   &fakeRunner{},
		reporter: &fakeReporter{},
		ledger:   transactions.NewLedger(conn),
		integration: &models.Integration{
			ID:         uuid.New(),
			AccountID:  uuid.New(),
			FacilityID: 1568,
			State:      "ca",
			Vendor:     enums.VendorMetrc,
			License:    "LIC-1",
			Secret:     "user-key",
			Timezone:   "UTC",
		},
		secret: "vendor-key",
	}

	f.factory, err = NewFactory(FactoryParams{
		Providers:     cfg,
		Secrets:       func(string) string { return f.secret },
		BuildClient:   func(metrcapi.ClientConfig) (VendorClient, error) { return f.vendor, nil },
		UpstreamTasks: f.upstream,
		Runner:        f.runner,
		Reporter:      f.reporter,
		Logger:        logger.Nop(),
		Now:           func() time.Time { return time.Date(2026, 4, 20, 17, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) batch() *artemis.Batch {
	return f.source.batches["96182"]
}

func (f *fixture) event(actionType string) serviceaction.CompletionEvent {
	raw := fmt.Sprintf(`{"id":"90","attributes":{"action_type":%q,"start_time":%q},`+
		`"relationships":{"facility":{"data":{"id":"1568"}},"batch":{"data":{"id":"96182"}}}}`, actionType, startTime)
	var event serviceaction.CompletionEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		panic(err)
	}
	return event
}

func (f *fixture) action() *serviceaction.Action {
	return serviceaction.NewAction(f.event("start"), f.integration, nil, f.source, f.ledger, logger.Nop())
}

func (f *fixture) run(t *testing.T) serviceaction.Result {
	t.Helper()
	workflow, err := f.factory.Build(context.Background(), f.action())
	require.NoError(t, err)
	return workflow.Call(context.Background())
}

func message(err error) string {
	if coded := pkgerrors.As(err); coded != nil {
		return coded.Message()
	}
	return err.Error()
}

func decodeBody(t *testing.T, op metrcapi.Operation, dest any) {
	t.Helper()
	raw, err := json.Marshal(op.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}
