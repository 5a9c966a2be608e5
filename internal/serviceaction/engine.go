package serviceaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-compliance/internal/schedulers"
	"github.com/angelmondragon/packfinderz-compliance/internal/transactions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

const defaultDeferDelay = 15 * time.Minute

// DeferStore persists "wait and perform" tasks.
type DeferStore interface {
	Enqueue(ctx context.Context, input schedulers.EnqueueInput) (*models.Scheduler, error)
}

type EngineParams struct {
	Registry   *Registry
	Sources    SourceFactory
	Ledger     transactions.Ledger
	Deferred   DeferStore
	Logger     *logger.Logger
	Metrics    *metrics.ActionMetrics
	DeferDelay time.Duration
	Now        func() time.Time
}

// Engine runs completion events through the vendor workflows and resolves
// every run into exactly one Outcome.
type Engine struct {
	registry   *Registry
	sources    SourceFactory
	ledger     transactions.Ledger
	deferred   DeferStore
	logg       *logger.Logger
	metrics    *metrics.ActionMetrics
	deferDelay time.Duration
	now        func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("workflow registry required")
	}
	if params.Sources == nil {
		return nil, fmt.Errorf("source factory required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("transaction ledger required")
	}
	if params.Deferred == nil {
		return nil, fmt.Errorf("defer store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	delay := params.DeferDelay
	if delay <= 0 {
		delay = defaultDeferDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		registry:   params.Registry,
		sources:    params.Sources,
		ledger:     params.Ledger,
		deferred:   params.Deferred,
		logg:       params.Logger,
		metrics:    params.Metrics,
		deferDelay: delay,
		now:        now,
	}, nil
}

// Execute processes one event for one integration. batch may be nil; it is
// then fetched only if the event references one. Errors never escape: the
// returned Outcome carries them.
func (e *Engine) Execute(ctx context.Context, event CompletionEvent, integration *models.Integration, batch *artemis.Batch) (outcome Outcome) {
	started := e.now()
	workflowName := "unknown"

	ctx = e.logg.WithFields(ctx, map[string]any{
		"batch_id":      event.BatchID(),
		"completion_id": event.ID,
	})
	if integration != nil {
		ctx = e.logg.WithIntegrationID(ctx, integration.ID.String())
	}

	defer func() {
		if r := recover(); r != nil {
			err := pkgerrors.Newf(pkgerrors.CodeInternal, "panic: %v", r)
			e.logg.Error(ctx, fmt.Sprintf("Failed: batch ID %s, completion ID %s; %v", event.BatchID(), event.ID, err), err)
			outcome = Outcome{Status: StatusFailed, Reason: err.Error(), Err: err}
		}
		vendor := ""
		if integration != nil {
			vendor = string(integration.Vendor)
		}
		e.metrics.ObserveOutcome(vendor, workflowName, string(outcome.Status), e.now().Sub(started))
	}()

	if integration == nil {
		err := pkgerrors.New(pkgerrors.CodeConfiguration, "integration is required")
		return e.resolve(ctx, nil, Fail(err))
	}

	factory, err := e.registry.Lookup(integration.Vendor)
	if err != nil {
		return e.resolve(ctx, nil, Fail(err))
	}

	source, err := e.sources(integration.Account, event.FacilityID())
	if err != nil {
		return e.resolve(ctx, nil, Fail(pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "build source client")))
	}

	action := NewAction(event, integration, batch, source, e.ledger, e.logg)

	workflow, err := factory.Build(ctx, action)
	if err != nil {
		return e.resolve(ctx, action, Fail(err))
	}
	workflowName = workflow.Name()
	ctx = e.logg.WithField(ctx, "workflow", workflowName)

	if res, ok := e.before(ctx, action, factory); !ok {
		return e.resolve(ctx, action, res)
	}

	res := workflow.Call(ctx)
	if res.Kind == ResultDeferred && res.Step == "" {
		res.Step = workflowName
	}
	return e.resolveWith(ctx, action, workflowName, res)
}

// before validates crop and seeding unit for batch scoped events.
func (e *Engine) before(ctx context.Context, action *Action, factory WorkflowFactory) (Result, bool) {
	e.logg.Info(ctx, fmt.Sprintf("Started: batch ID %s, completion ID %s", action.BatchID, action.CompletionID))

	if action.BatchID == "" {
		return Result{}, true
	}

	batch, err := action.Batch(ctx)
	if err != nil {
		return Fail(err), false
	}
	if batch == nil {
		return Fail(pkgerrors.Newf(pkgerrors.CodeInvalidBatch, "batch %s could not be resolved", action.BatchID)), false
	}

	if batch.Crop != factory.Crop() {
		err := pkgerrors.Newf(pkgerrors.CodeBatchCropInvalid,
			"Failed: Crop is not %s but %s. Batch ID %s, completion ID %s",
			factory.Crop(), batch.Crop, action.BatchID, action.CompletionID)
		return Fail(err), false
	}

	method := ""
	if batch.SeedingUnit != nil {
		method = batch.SeedingUnit.ItemTrackingMethod
	}
	if !enums.ItemTrackingMethod(method).SupportsCompliance() {
		err := pkgerrors.Newf(pkgerrors.CodeInvalidBatch,
			"Failed: Seeding unit is not valid for %s %s. Batch ID %s, completion ID %s",
			action.Integration.VendorName(), method, action.BatchID, action.CompletionID)
		return Fail(err), false
	}
	return Result{}, true
}

func (e *Engine) resolve(ctx context.Context, action *Action, res Result) Outcome {
	return e.resolveWith(ctx, action, "", res)
}

func (e *Engine) resolveWith(ctx context.Context, action *Action, workflowName string, res Result) Outcome {
	batchID, completionID := "", ""
	if action != nil {
		batchID, completionID = action.BatchID, action.CompletionID
	}

	switch res.Kind {
	case ResultSuccess:
		if res.Message != "" {
			e.logg.Info(ctx, res.Message)
		}
		return Outcome{Status: StatusSuccess, Reason: res.Message, Transaction: res.Transaction}
	case ResultDeferred:
		return e.deferAction(ctx, action, workflowName, res)
	}

	err := res.Err
	if err == nil {
		err = errors.New("workflow returned an error result without an error")
	}
	failed := Outcome{Status: StatusFailed, Reason: reason(err), Err: err, Transaction: res.Transaction}

	switch res.ErrorKind {
	case pkgerrors.KindRetryable:
		e.logg.Warn(ctx, fmt.Sprintf("Requeued: batch ID %s, completion ID %s; %v", batchID, completionID, err))
		return Outcome{Status: StatusRequeued, Reason: reason(err), Err: err, Transaction: res.Transaction}
	case pkgerrors.KindConfiguration:
		e.logg.Error(ctx, fmt.Sprintf("Failed: configuration error for batch ID %s, completion ID %s", batchID, completionID), err)
		return failed
	case pkgerrors.KindValidation:
		e.logg.Info(ctx, failed.Reason)
		return failed
	default:
		e.logg.Error(ctx, fmt.Sprintf("Failed: batch ID %s, completion ID %s; %v", batchID, completionID, err), err)
		return failed
	}
}

func (e *Engine) deferAction(ctx context.Context, action *Action, workflowName string, res Result) Outcome {
	if action == nil {
		err := pkgerrors.New(pkgerrors.CodeInternal, "cannot defer without an action")
		return e.resolve(ctx, nil, Fail(err))
	}
	payload, err := json.Marshal(action.Event)
	if err != nil {
		return e.resolve(ctx, action, Fail(pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode deferred event")))
	}

	runAt := e.now().Add(e.deferDelay)
	task, err := e.deferred.Enqueue(ctx, schedulers.EnqueueInput{
		IntegrationID: action.Integration.ID,
		FacilityID:    action.FacilityID,
		BatchID:       action.BatchID,
		CompletionID:  action.CompletionID,
		Workflow:      workflowName,
		Event:         payload,
		RunAt:         runAt,
	})
	if err != nil {
		return e.resolve(ctx, action, Fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist deferred task")))
	}

	e.logg.Info(ctx, fmt.Sprintf("Deferred %s: batch ID %s, completion ID %s until %s",
		res.Step, action.BatchID, action.CompletionID, runAt.UTC().Format(time.RFC3339)))
	return Outcome{Status: StatusDeferred, Reason: res.Step, RetryAt: runAt, Task: task}
}

// reason prefers the coded message so validation failures read the way they
// were raised.
func reason(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return err.Error()
}
