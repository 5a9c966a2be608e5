package schedulers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Scheduler{}))
	return NewRepository(conn)
}

func enqueue(t *testing.T, repo *Repository, integrationID uuid.UUID, completionID, batchID string, runAt time.Time) *models.Scheduler {
	t.Helper()
	task, err := repo.Enqueue(context.Background(), EnqueueInput{
		IntegrationID: integrationID,
		FacilityID:    "1568",
		BatchID:       batchID,
		CompletionID:  completionID,
		Workflow:      "package_start",
		Event:         []byte(`{"id":"` + completionID + `"}`),
		RunAt:         runAt,
	})
	require.NoError(t, err)
	return task
}

func TestEnqueueReschedulesExistingTask(t *testing.T) {
	repo := newTestRepo(t)
	integrationID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	first := enqueue(t, repo, integrationID, "90", "8101", now)
	second := enqueue(t, repo, integrationID, "90", "8101", now.Add(time.Hour))

	assert.Equal(t, first.ID, second.ID)
	due, err := repo.Due(context.Background(), now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].RunAt.Equal(now.Add(time.Hour)))
}

func TestEnqueueConcurrentDeferralsConverge(t *testing.T) {
	repo := newTestRepo(t)
	sqlDB, err := repo.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	integrationID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	const callers = 8
	ids := make([]uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := repo.Enqueue(context.Background(), EnqueueInput{
				IntegrationID: integrationID,
				FacilityID:    "1568",
				BatchID:       "8101",
				CompletionID:  "90",
				Workflow:      "package_start",
				Event:         []byte(`{"id":"90"}`),
				RunAt:         now.Add(time.Duration(i) * time.Minute),
			})
			if assert.NoError(t, err) {
				ids[i] = task.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	due, err := repo.Due(context.Background(), now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestForTodayUsesIntegrationTimezone(t *testing.T) {
	repo := newTestRepo(t)
	integrationID := uuid.New()
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 2026-03-10 10:00 in Los Angeles.
	now := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	enqueue(t, repo, integrationID, "late-today", "8101", time.Date(2026, 3, 10, 23, 30, 0, 0, la))
	enqueue(t, repo, integrationID, "tomorrow", "8101", time.Date(2026, 3, 11, 0, 30, 0, 0, la))
	enqueue(t, repo, integrationID, "other-batch", "9999", now)
	enqueue(t, repo, uuid.New(), "other-integration", "8101", now)

	tasks, err := repo.ForToday(context.Background(), integrationID, la, "8101", "1568", now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "late-today", tasks[0].CompletionID)
}

func TestCompleteAndRecordFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	integrationID := uuid.New()

	kept := enqueue(t, repo, integrationID, "90", "8101", now.Add(-time.Minute))
	done := enqueue(t, repo, integrationID, "91", "8101", now.Add(-time.Minute))

	require.NoError(t, repo.Complete(ctx, done.ID))
	require.NoError(t, repo.RecordFailure(ctx, kept.ID, errors.New("metrc unavailable"), time.Time{}))

	due, err := repo.Due(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	require.NotNil(t, due[0].LastError)
	assert.Equal(t, "metrc unavailable", *due[0].LastError)
}

func TestRecordFailureMovesRunAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := enqueue(t, repo, uuid.New(), "90", "8101", now.Add(-time.Minute))
	require.NoError(t, repo.RecordFailure(ctx, task.ID, nil, now.Add(time.Hour)))

	due, err := repo.Due(ctx, now, 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}
