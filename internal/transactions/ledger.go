package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
)

// Key identifies one logical vendor action.
type Key struct {
	Vendor        enums.Vendor
	AccountID     uuid.UUID
	IntegrationID uuid.UUID
	BatchID       string
	CompletionID  string
	Type          enums.TransactionType
}

func (k Key) validate() error {
	if !k.Vendor.IsValid() {
		return fmt.Errorf("transaction key: invalid vendor %q", k.Vendor)
	}
	if k.AccountID == uuid.Nil || k.IntegrationID == uuid.Nil {
		return errors.New("transaction key: account and integration are required")
	}
	if k.CompletionID == "" {
		return errors.New("transaction key: completion id is required")
	}
	if !k.Type.IsValid() {
		return fmt.Errorf("transaction key: invalid type %q", k.Type)
	}
	return nil
}

func (k Key) where(db *gorm.DB) *gorm.DB {
	return db.Where(
		"vendor = ? AND account_id = ? AND integration_id = ? AND batch_id = ? AND completion_id = ? AND type = ?",
		k.Vendor, k.AccountID, k.IntegrationID, k.BatchID, k.CompletionID, k.Type,
	)
}

// Ledger is the idempotency store for vendor side effects.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Find(ctx context.Context, key Key) (*models.Transaction, error)
	FindOrCreate(ctx context.Context, key Key, metadata json.RawMessage) (*models.Transaction, bool, error)
}

type ledger struct {
	db *gorm.DB
}

// NewLedger returns a ledger bound to the provided database.
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db}
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &ledger{db: tx}
}

// Find returns nil, nil when no transaction exists for key.
func (l *ledger) Find(ctx context.Context, key Key) (*models.Transaction, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	var row models.Transaction
	err := key.where(l.db.WithContext(ctx)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOrCreate inserts the transaction unless one already exists for key and
// returns the stored row. Metadata is only written by the creating call;
// created reports whether this call inserted the row.
func (l *ledger) FindOrCreate(ctx context.Context, key Key, metadata json.RawMessage) (*models.Transaction, bool, error) {
	if err := key.validate(); err != nil {
		return nil, false, err
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	row := models.Transaction{
		Vendor:        key.Vendor,
		AccountID:     key.AccountID,
		IntegrationID: key.IntegrationID,
		BatchID:       key.BatchID,
		CompletionID:  key.CompletionID,
		Type:          key.Type,
		Metadata:      metadata,
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &row, true, nil
	}

	existing, err := l.Find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("transaction %s/%s vanished after conflict", key.CompletionID, key.Type)
	}
	return existing, false, nil
}
