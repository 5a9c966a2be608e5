package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/internal/taskrunner"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

type fakeDueTasks struct {
	tasks []models.Scheduler
	err   error
	now   time.Time
	limit int
}

func (f *fakeDueTasks) Due(ctx context.Context, now time.Time, limit int) ([]models.Scheduler, error) {
	f.now = now
	f.limit = limit
	return f.tasks, f.err
}

type fakeTaskRunner struct {
	ran []models.Scheduler
	err error
}

func (f *fakeTaskRunner) Run(ctx context.Context, tasks ...models.Scheduler) error {
	f.ran = append(f.ran, tasks...)
	return f.err
}

func newDeferredJob(t *testing.T, tasks *fakeDueTasks, runner *fakeTaskRunner) *deferredActionsJob {
	t.Helper()
	job, err := NewDeferredActionsJob(DeferredActionsJobParams{
		Logger:    logger.Nop(),
		Tasks:     tasks,
		Runner:    runner,
		BatchSize: 10,
	})
	require.NoError(t, err)
	typed, ok := job.(*deferredActionsJob)
	require.True(t, ok)
	return typed
}

func TestDeferredActionsJobRunsDueTasks(t *testing.T) {
	now := time.Date(2026, 4, 20, 17, 0, 0, 0, time.UTC)
	tasks := &fakeDueTasks{tasks: []models.Scheduler{{ID: uuid.New()}, {ID: uuid.New()}}}
	runner := &fakeTaskRunner{}
	job := newDeferredJob(t, tasks, runner)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, now, tasks.now)
	assert.Equal(t, 10, tasks.limit)
	assert.Len(t, runner.ran, 2)
	assert.Equal(t, DeferredActionsJobName, job.Name())
}

func TestDeferredActionsJobSkipsRunnerWhenNothingIsDue(t *testing.T) {
	runner := &fakeTaskRunner{}
	job := newDeferredJob(t, &fakeDueTasks{}, runner)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, runner.ran)
}

func TestDeferredActionsJobToleratesPendingTasks(t *testing.T) {
	task := models.Scheduler{ID: uuid.New(), CompletionID: "90"}
	runner := &fakeTaskRunner{err: &taskrunner.TaskError{
		TaskID:       task.ID,
		CompletionID: task.CompletionID,
		Status:       serviceaction.StatusRequeued,
	}}
	job := newDeferredJob(t, &fakeDueTasks{tasks: []models.Scheduler{task}}, runner)

	assert.NoError(t, job.Run(context.Background()))
}

func TestDeferredActionsJobRecordsPendingGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	task := models.Scheduler{ID: uuid.New(), CompletionID: "90"}
	runner := &fakeTaskRunner{err: &taskrunner.TaskError{TaskID: task.ID, Status: serviceaction.StatusDeferred}}
	job := newDeferredJob(t, &fakeDueTasks{tasks: []models.Scheduler{task, {ID: uuid.New()}}}, runner)
	job.metrics = metrics.NewCronJobMetrics(reg)

	require.NoError(t, job.Run(context.Background()))

	expected := `
# HELP cron_job_pending_items Items a cron job saw but could not finish in its last run.
# TYPE cron_job_pending_items gauge
cron_job_pending_items{job="deferred-actions"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cron_job_pending_items"))
}

func TestDeferredActionsJobFailsOnRunnerError(t *testing.T) {
	task := models.Scheduler{ID: uuid.New()}
	runner := &fakeTaskRunner{err: multierr.Append(
		&taskrunner.TaskError{TaskID: task.ID, Status: serviceaction.StatusDeferred},
		errors.New("task runner has no executor"),
	)}
	job := newDeferredJob(t, &fakeDueTasks{tasks: []models.Scheduler{task}}, runner)

	err := job.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no executor")
}

func TestDeferredActionsJobPropagatesLoadError(t *testing.T) {
	runner := &fakeTaskRunner{}
	job := newDeferredJob(t, &fakeDueTasks{err: errors.New("db down")}, runner)

	require.Error(t, job.Run(context.Background()))
	assert.Empty(t, runner.ran)
}
