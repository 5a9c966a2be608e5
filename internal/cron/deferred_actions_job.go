package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-compliance/internal/taskrunner"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

const (
	DeferredActionsJobName   = "deferred-actions"
	defaultDeferredBatchSize = 50
)

type dueTaskStore interface {
	Due(ctx context.Context, now time.Time, limit int) ([]models.Scheduler, error)
}

type taskRunner interface {
	Run(ctx context.Context, tasks ...models.Scheduler) error
}

type DeferredActionsJobParams struct {
	Logger    *logger.Logger
	Tasks     dueTaskStore
	Runner    taskRunner
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewDeferredActionsJob builds the job that replays scheduler tasks whose
// run time has passed.
func NewDeferredActionsJob(params DeferredActionsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tasks == nil {
		return nil, fmt.Errorf("scheduler repository required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("task runner required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultDeferredBatchSize
	}
	return &deferredActionsJob{
		logg:      params.Logger,
		tasks:     params.Tasks,
		runner:    params.Runner,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type deferredActionsJob struct {
	logg      *logger.Logger
	tasks     dueTaskStore
	runner    taskRunner
	metrics   *metrics.CronJobMetrics
	batchSize int
	now       func() time.Time
}

func (j *deferredActionsJob) Name() string { return DeferredActionsJobName }

// Run hands one batch of due tasks to the runner. Tasks that were requeued
// or deferred again are expected and only logged; any other runner error
// fails the job.
func (j *deferredActionsJob) Run(ctx context.Context) error {
	tasks, err := j.tasks.Due(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return fmt.Errorf("load due tasks: %w", err)
	}
	if len(tasks) == 0 {
		j.metrics.SetPending(DeferredActionsJobName, 0)
		return nil
	}

	runErr := j.runner.Run(ctx, tasks...)
	var pending int
	var fatal error
	for _, err := range multierr.Errors(runErr) {
		var taskErr *taskrunner.TaskError
		if errors.As(err, &taskErr) {
			pending++
			continue
		}
		fatal = multierr.Append(fatal, err)
	}

	j.metrics.SetPending(DeferredActionsJobName, pending)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due":     len(tasks),
		"pending": pending,
		"done":    len(tasks) - pending,
	}), "deferred actions processed")
	if fatal != nil {
		return fmt.Errorf("run deferred actions: %w", fatal)
	}
	return nil
}
