package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scheduler is a deferred re-execution of a completion event.
type Scheduler struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	IntegrationID uuid.UUID       `gorm:"column:integration_id;type:uuid;not null;index;uniqueIndex:ux_schedulers_task"`
	FacilityID    string          `gorm:"column:facility_id;not null"`
	BatchID       string          `gorm:"column:batch_id;not null;default:'';index"`
	CompletionID  string          `gorm:"column:completion_id;not null;uniqueIndex:ux_schedulers_task"`
	Workflow      string          `gorm:"column:workflow;not null;uniqueIndex:ux_schedulers_task"`
	Event         json.RawMessage `gorm:"column:event;type:jsonb;not null"`
	RunAt         time.Time       `gorm:"column:run_at;not null;index"`
	Attempts      int             `gorm:"column:attempts;not null;default:0"`
	LastError     *string         `gorm:"column:last_error"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Scheduler) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
