package schedulers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
)

const lastErrorMaxLen = 1024

// EnqueueInput describes a deferred re-execution of a completion event.
type EnqueueInput struct {
	IntegrationID uuid.UUID
	FacilityID    string
	BatchID       string
	CompletionID  string
	Workflow      string
	Event         json.RawMessage
	RunAt         time.Time
}

// Repository persists "wait and perform" tasks.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Enqueue stores a task. A pending task for the same completion and workflow
// is moved to the new run time instead of duplicated.
func (r *Repository) Enqueue(ctx context.Context, input EnqueueInput) (*models.Scheduler, error) {
	if input.IntegrationID == uuid.Nil {
		return nil, errors.New("integration id is required")
	}
	if strings.TrimSpace(input.CompletionID) == "" {
		return nil, errors.New("completion id is required")
	}
	if len(input.Event) == 0 {
		return nil, errors.New("event payload is required")
	}
	runAt := input.RunAt.UTC()

	task := models.Scheduler{
		IntegrationID: input.IntegrationID,
		FacilityID:    input.FacilityID,
		BatchID:       input.BatchID,
		CompletionID:  input.CompletionID,
		Workflow:      input.Workflow,
		Event:         input.Event,
		RunAt:         runAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "integration_id"}, {Name: "completion_id"}, {Name: "workflow"}},
			DoUpdates: clause.AssignmentColumns([]string{"run_at", "event", "updated_at"}),
		}).
		Create(&task).Error
	if err != nil {
		return nil, err
	}

	var stored models.Scheduler
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND completion_id = ? AND workflow = ?", input.IntegrationID, input.CompletionID, input.Workflow).
		Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// ForToday returns the integration's tasks for a batch at a facility that
// are due before the end of the current day in the integration timezone.
func (r *Repository) ForToday(ctx context.Context, integrationID uuid.UUID, loc *time.Location, batchID, facilityID string, now time.Time) ([]models.Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	endOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	var tasks []models.Scheduler
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND batch_id = ? AND facility_id = ? AND run_at < ?", integrationID, batchID, facilityID, endOfDay.UTC()).
		Order("run_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Due returns up to limit tasks whose run time has passed.
func (r *Repository) Due(ctx context.Context, now time.Time, limit int) ([]models.Scheduler, error) {
	query := r.db.WithContext(ctx).
		Where("run_at <= ?", now.UTC()).
		Order("run_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var tasks []models.Scheduler
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Complete removes a task once it reached a terminal outcome.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Scheduler{}).Error
}

// RecordFailure bumps the attempt counter, keeps the last error and moves
// the task to nextRun when it is set.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, cause error, nextRun time.Time) error {
	updates := map[string]any{
		"attempts": gorm.Expr("attempts + 1"),
	}
	if !nextRun.IsZero() {
		updates["run_at"] = nextRun.UTC()
	}
	if cause != nil {
		msg := cause.Error()
		if len(msg) > lastErrorMaxLen {
			msg = msg[:lastErrorMaxLen]
		}
		updates["last_error"] = msg
	}
	return r.db.WithContext(ctx).
		Model(&models.Scheduler{}).
		Where("id = ?", id).
		Updates(updates).Error
}
