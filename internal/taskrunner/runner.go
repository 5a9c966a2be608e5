package taskrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/redis"
)

const (
	defaultRetryDelay = 5 * time.Minute
	defaultLockTTL    = 10 * time.Minute
)

// Executor runs one completion event. *serviceaction.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, event serviceaction.CompletionEvent, integration *models.Integration, batch *artemis.Batch) serviceaction.Outcome
}

type taskStore interface {
	Complete(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error, nextRun time.Time) error
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

type integrationLoader interface {
	FindActive(ctx context.Context, id uuid.UUID) (*models.Integration, error)
}

// TaskError reports a task that did not reach a terminal outcome.
type TaskError struct {
	TaskID       uuid.UUID
	CompletionID string
	Status       serviceaction.Status
	Err          error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %s (completion %s) %s: %v", e.TaskID, e.CompletionID, e.Status, e.Err)
	}
	return fmt.Sprintf("task %s (completion %s) %s", e.TaskID, e.CompletionID, e.Status)
}

func (e *TaskError) Unwrap() error { return e.Err }

type Params struct {
	Tasks        taskStore
	Integrations integrationLoader
	Logger       *logger.Logger
	RetryDelay   time.Duration
	Now          func() time.Time

	// Locks is the completion lock store shared with the consumer. Nil
	// disables locking for single-process tools.
	Locks   locker
	LockTTL time.Duration
}

// Runner executes deferred tasks synchronously through an Executor.
type Runner struct {
	tasks        taskStore
	integrations integrationLoader
	logg         *logger.Logger
	retryDelay   time.Duration
	now          func() time.Time
	locks        locker
	lockTTL      time.Duration

	mu       sync.RWMutex
	executor Executor
}

func New(params Params) (*Runner, error) {
	if params.Tasks == nil {
		return nil, fmt.Errorf("task store required")
	}
	if params.Integrations == nil {
		return nil, fmt.Errorf("integration loader required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	delay := params.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Runner{
		tasks:        params.Tasks,
		integrations: params.Integrations,
		logg:         params.Logger,
		retryDelay:   delay,
		now:          now,
		locks:        params.Locks,
		lockTTL:      lockTTL,
	}, nil
}

// Bind sets the executor. Workflows hold the runner before the engine that
// runs them exists, so the executor is attached after construction.
func (r *Runner) Bind(executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executor = executor
}

// Run executes the tasks in order. Success and Failed outcomes remove the
// task; anything else leaves it for a later attempt and is returned as a
// *TaskError in the aggregated error.
func (r *Runner) Run(ctx context.Context, tasks ...models.Scheduler) error {
	r.mu.RLock()
	executor := r.executor
	r.mu.RUnlock()
	if executor == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "task runner has no executor")
	}

	var errs error
	for _, task := range tasks {
		if err := r.runOne(ctx, executor, task); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Runner) runOne(ctx context.Context, executor Executor, task models.Scheduler) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"task_id":       task.ID.String(),
		"completion_id": task.CompletionID,
		"batch_id":      task.BatchID,
		"workflow":      task.Workflow,
	})

	var event serviceaction.CompletionEvent
	if err := json.Unmarshal(task.Event, &event); err != nil {
		r.logg.Error(ctx, "taskrunner.decode_failed", err)
		return r.discard(ctx, task, pkgerrors.Wrap(pkgerrors.CodeInvalidAttributes, err, "decode task event"))
	}

	release, err := r.lock(ctx, task)
	if err != nil {
		return err
	}
	defer release()

	integration, err := r.integrations.FindActive(ctx, task.IntegrationID)
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return r.discard(ctx, task, err)
	}
	if err != nil {
		return r.fail(ctx, task, serviceaction.StatusRequeued, err)
	}

	outcome := executor.Execute(ctx, event, integration, nil)
	switch outcome.Status {
	case serviceaction.StatusSuccess, serviceaction.StatusFailed:
		if err := r.tasks.Complete(ctx, task.ID); err != nil {
			return &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: outcome.Status, Err: err}
		}
		r.logg.Info(ctx, fmt.Sprintf("taskrunner.completed: %s", outcome.Status))
		return nil
	case serviceaction.StatusDeferred:
		// The engine already moved the task to its next run time.
		return &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: outcome.Status, Err: outcome.Err}
	default:
		return r.fail(ctx, task, outcome.Status, outcome.Err)
	}
}

// lock takes the completion lock for task. A completion held elsewhere
// leaves the task in place and reports it as requeued.
func (r *Runner) lock(ctx context.Context, task models.Scheduler) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	key := r.locks.LockKey(redis.CompletionLockScope, task.CompletionID)
	acquired, err := r.locks.SetNX(ctx, key, uuid.NewString(), r.lockTTL)
	if err != nil {
		return nil, &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: serviceaction.StatusRequeued,
			Err: pkgerrors.Wrap(pkgerrors.CodeDependency, err, "completion lock")}
	}
	if !acquired {
		r.logg.Info(ctx, "taskrunner.locked: completion is being processed elsewhere")
		return nil, &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: serviceaction.StatusRequeued,
			Err: pkgerrors.Newf(pkgerrors.CodeDependency, "completion %s is locked", task.CompletionID)}
	}
	return func() {
		if err := r.locks.Del(context.WithoutCancel(ctx), key); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("taskrunner.unlock_failed: %v", err))
		}
	}, nil
}

func (r *Runner) fail(ctx context.Context, task models.Scheduler, status serviceaction.Status, cause error) error {
	taskErr := &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: status, Err: cause}
	if err := r.tasks.RecordFailure(ctx, task.ID, taskErr, r.now().Add(r.retryDelay)); err != nil {
		r.logg.Error(ctx, "taskrunner.record_failure_failed", err)
		return multierr.Append(taskErr, err)
	}
	r.logg.Warn(ctx, taskErr.Error())
	return taskErr
}

// discard drops a task that can never succeed.
func (r *Runner) discard(ctx context.Context, task models.Scheduler, cause error) error {
	taskErr := &TaskError{TaskID: task.ID, CompletionID: task.CompletionID, Status: serviceaction.StatusFailed, Err: cause}
	if err := r.tasks.Complete(ctx, task.ID); err != nil {
		return multierr.Append(taskErr, err)
	}
	r.logg.Error(ctx, "taskrunner.discarded", taskErr)
	return taskErr
}
