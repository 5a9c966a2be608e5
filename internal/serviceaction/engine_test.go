package serviceaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/internal/schedulers"
	"github.com/angelmondragon/packfinderz-compliance/internal/transactions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

type fakeSource struct {
	Source
	batch      *artemis.Batch
	batchCalls int
	batchErr   error
}

func (f *fakeSource) GetBatch(ctx context.Context, batchID string, include ...string) (*artemis.Batch, error) {
	f.batchCalls++
	return f.batch, f.batchErr
}

type fakeWorkflow struct {
	name   string
	calls  int
	callFn func(ctx context.Context) Result
}

func (w *fakeWorkflow) Name() string { return w.name }

func (w *fakeWorkflow) Call(ctx context.Context) Result {
	w.calls++
	if w.callFn != nil {
		return w.callFn(ctx)
	}
	return Success(nil, "done")
}

type fakeFactory struct {
	workflow *fakeWorkflow
	buildErr error
	action   *Action
}

func (f *fakeFactory) Vendor() enums.Vendor { return enums.VendorMetrc }
func (f *fakeFactory) Crop() string         { return "Cannabis" }

func (f *fakeFactory) Build(ctx context.Context, action *Action) (Workflow, error) {
	f.action = action
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.workflow, nil
}

type fakeDeferStore struct {
	inputs []schedulers.EnqueueInput
	err    error
}

func (f *fakeDeferStore) Enqueue(ctx context.Context, input schedulers.EnqueueInput) (*models.Scheduler, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, input)
	return &models.Scheduler{ID: uuid.New(), CompletionID: input.CompletionID, RunAt: input.RunAt}, nil
}

type harness struct {
	engine   *Engine
	factory  *fakeFactory
	workflow *fakeWorkflow
	source   *fakeSource
	deferred *fakeDeferStore
	registry *prometheus.Registry
	ledger   transactions.Ledger
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}))

	h := &harness{
		workflow: &fakeWorkflow{name: "package_start"},
		source: &fakeSource{batch: &artemis.Batch{
			ID:          "96182",
			ArbitraryID: "Jun19-Bok-Cho",
			Crop:        "Cannabis",
			SeedingUnit: &artemis.SeedingUnit{ItemTrackingMethod: "preprinted"},
		}},
		deferred: &fakeDeferStore{},
		registry: prometheus.NewRegistry(),
		ledger:   transactions.NewLedger(conn),
		now:      time.Date(2026, 4, 20, 16, 20, 0, 0, time.UTC),
	}
	h.factory = &fakeFactory{workflow: h.workflow}

	registry, err := NewRegistry(h.factory)
	require.NoError(t, err)

	h.engine, err = NewEngine(EngineParams{
		Registry:   registry,
		Sources:    func(*models.Account, string) (Source, error) { return h.source, nil },
		Ledger:     h.ledger,
		Deferred:   h.deferred,
		Logger:     logger.Nop(),
		Metrics:    metrics.NewActionMetrics(h.registry),
		DeferDelay: 10 * time.Minute,
		Now:        func() time.Time { return h.now },
	})
	require.NoError(t, err)
	return h
}

func testIntegration() *models.Integration {
	return &models.Integration{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		Account:    &models.Account{AccessToken: "token"},
		FacilityID: 1568,
		State:      "ca",
		Vendor:     enums.VendorMetrc,
		License:    "LIC-1",
	}
}

func testEvent(batchID string) CompletionEvent {
	raw := `{"id":"90","attributes":{"action_type":"start","start_time":"2026-04-20T16:20:00Z"},` +
		`"relationships":{"facility":{"data":{"id":1568}}`
	if batchID != "" {
		raw += `,"batch":{"data":{"id":"` + batchID + `"}}`
	}
	raw += `}}`
	var event CompletionEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		panic(err)
	}
	return event
}

func (h *harness) outcomeSeries(t *testing.T) int {
	t.Helper()
	count, err := testutil.GatherAndCount(h.registry, "service_action_outcomes_total")
	require.NoError(t, err)
	return count
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness(t)

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 1, h.workflow.calls)
	assert.Equal(t, 1, h.source.batchCalls)
	assert.Equal(t, 1, h.outcomeSeries(t))
}

func TestExecuteUsesSuppliedBatch(t *testing.T) {
	h := newHarness(t)
	batch := *h.source.batch

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), &batch)

	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Zero(t, h.source.batchCalls)
	got, err := h.factory.action.Batch(context.Background())
	require.NoError(t, err)
	assert.Same(t, &batch, got)
}

func TestExecuteFacilityScopedEventSkipsBatchValidation(t *testing.T) {
	h := newHarness(t)
	h.source.batch.Crop = "Tomato"

	outcome := h.engine.Execute(context.Background(), testEvent(""), testIntegration(), nil)

	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Zero(t, h.source.batchCalls)
	assert.Equal(t, "", h.factory.action.BatchID)
	assert.Equal(t, "1568", h.factory.action.FacilityID)
}

func TestExecuteCropMismatchFailsWithoutCallingWorkflow(t *testing.T) {
	h := newHarness(t)
	h.source.batch.Crop = "Tomato"

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, "Failed: Crop is not Cannabis but Tomato. Batch ID 96182, completion ID 90", outcome.Reason)
	assert.True(t, pkgerrors.HasCode(outcome.Err, pkgerrors.CodeBatchCropInvalid))
	assert.Zero(t, h.workflow.calls)
}

func TestExecuteSeedingUnitValidation(t *testing.T) {
	for _, method := range []string{"", "none", "preprinted"} {
		h := newHarness(t)
		h.source.batch.SeedingUnit.ItemTrackingMethod = method
		outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)
		assert.Equal(t, StatusSuccess, outcome.Status, method)
	}

	h := newHarness(t)
	h.source.batch.SeedingUnit.ItemTrackingMethod = "serialized"
	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.True(t, pkgerrors.HasCode(outcome.Err, pkgerrors.CodeInvalidBatch))
	assert.Contains(t, outcome.Reason, "Seeding unit is not valid for Metrc serialized")
	assert.Contains(t, outcome.Reason, "Batch ID 96182, completion ID 90")
	assert.Zero(t, h.workflow.calls)
}

func TestExecuteRoutesErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status Status
	}{
		{name: "retryable", err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("timeout"), "metrc request failed"), status: StatusRequeued},
		{name: "configuration", err: pkgerrors.New(pkgerrors.CodeConfiguration, "no metrc key"), status: StatusFailed},
		{name: "validation", err: pkgerrors.New(pkgerrors.CodeInvalidAttributes, "bad"), status: StatusFailed},
		{name: "data mismatch", err: pkgerrors.New(pkgerrors.CodeDataMismatch, "missing harvest"), status: StatusFailed},
		{name: "upstream", err: pkgerrors.New(pkgerrors.CodeUpstreamProcessing, "Failed to process upstream tasks: x"), status: StatusFailed},
		{name: "unknown", err: errors.New("boom"), status: StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.workflow.callFn = func(context.Context) Result { return Fail(tc.err) }

			outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

			assert.Equal(t, tc.status, outcome.Status)
			assert.Equal(t, tc.err, outcome.Err)
			assert.Empty(t, h.deferred.inputs)
		})
	}
}

func TestExecuteFailureCarriesTransaction(t *testing.T) {
	h := newHarness(t)
	tx := &models.Transaction{ID: uuid.New()}
	h.workflow.callFn = func(context.Context) Result {
		return Fail(pkgerrors.New(pkgerrors.CodeDataMismatch, "missing harvest")).WithTransaction(tx)
	}

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Same(t, tx, outcome.Transaction)
}

func TestExecuteDeferralIsNotFailure(t *testing.T) {
	h := newHarness(t)
	h.workflow.callFn = func(context.Context) Result { return Defer("create_product_package") }
	integration := testIntegration()

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), integration, nil)

	assert.Equal(t, StatusDeferred, outcome.Status)
	assert.Nil(t, outcome.Err)
	assert.Equal(t, "create_product_package", outcome.Reason)
	assert.Equal(t, h.now.Add(10*time.Minute), outcome.RetryAt)
	require.Len(t, h.deferred.inputs, 1)

	input := h.deferred.inputs[0]
	assert.Equal(t, integration.ID, input.IntegrationID)
	assert.Equal(t, "96182", input.BatchID)
	assert.Equal(t, "1568", input.FacilityID)
	assert.Equal(t, "package_start", input.Workflow)

	var replay CompletionEvent
	require.NoError(t, json.Unmarshal(input.Event, &replay))
	assert.Equal(t, "90", replay.ID)
	assert.Equal(t, "96182", replay.BatchID())
}

func TestExecuteDeferStoreFailureRequeues(t *testing.T) {
	h := newHarness(t)
	h.deferred.err = errors.New("db down")
	h.workflow.callFn = func(context.Context) Result { return Defer("create_plant_batch_package") }

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusRequeued, outcome.Status)
}

func TestExecuteBuildErrorFails(t *testing.T) {
	h := newHarness(t)
	h.factory.buildErr = pkgerrors.New(pkgerrors.CodeInvalidOperation, "Unsupported action 'harvest'")

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, "Unsupported action 'harvest'", outcome.Reason)
}

func TestExecuteSourceErrorRequeues(t *testing.T) {
	h := newHarness(t)
	h.source.batchErr = pkgerrors.New(pkgerrors.CodeDependency, "artemis returned 503")

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusRequeued, outcome.Status)
	assert.Zero(t, h.workflow.calls)
}

func TestExecuteRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.workflow.callFn = func(context.Context) Result { panic("nil map") }

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), testIntegration(), nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.True(t, pkgerrors.HasCode(outcome.Err, pkgerrors.CodeInternal))
}

func TestExecuteUnknownVendorFails(t *testing.T) {
	h := newHarness(t)
	integration := testIntegration()
	integration.Vendor = "biotrack"

	outcome := h.engine.Execute(context.Background(), testEvent("96182"), integration, nil)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.True(t, pkgerrors.HasCode(outcome.Err, pkgerrors.CodeConfiguration))
}

func TestActionTransactionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	integration := testIntegration()
	action := NewAction(testEvent("96182"), integration, nil, h.source, h.ledger, logger.Nop())
	ctx := context.Background()

	first, created, err := action.Transaction(ctx, enums.TransactionStartPackageBatch, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.JSONEq(t, `{"action_type":"start","start_time":"2026-04-20T16:20:00Z"}`, string(first.Metadata))

	second, created, err := action.Transaction(ctx, enums.TransactionStartPackageBatch, json.RawMessage(`{"other":true}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, string(first.Metadata), string(second.Metadata))

	existing, err := action.ExistingTransaction(ctx, enums.TransactionStartPackageBatch)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, first.ID, existing.ID)
}
