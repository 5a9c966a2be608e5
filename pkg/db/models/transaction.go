package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
)

// Transaction is the idempotency record for one logical vendor action. The
// identity columns share a unique index so concurrent writers converge on a
// single row.
type Transaction struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Vendor        enums.Vendor          `gorm:"column:vendor;not null;uniqueIndex:ux_transactions_identity"`
	AccountID     uuid.UUID             `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_transactions_identity"`
	IntegrationID uuid.UUID             `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_transactions_identity"`
	BatchID       string                `gorm:"column:batch_id;not null;default:'';uniqueIndex:ux_transactions_identity"`
	CompletionID  string                `gorm:"column:completion_id;not null;uniqueIndex:ux_transactions_identity"`
	Type          enums.TransactionType `gorm:"column:type;not null;uniqueIndex:ux_transactions_identity"`
	Metadata      json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
