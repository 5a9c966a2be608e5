package integrations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

// Repository loads tenant integrations. Inactive rows are never returned by
// the lookups used for processing.
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

func (r *Repository) Create(ctx context.Context, integration *models.Integration) error {
	return r.db.WithContext(ctx).Create(integration).Error
}

// FindActive returns the active integration with the account preloaded.
func (r *Repository) FindActive(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	var integration models.Integration
	err := r.db.WithContext(ctx).
		Scopes(models.ActiveIntegrations).
		Preload("Account").
		Where("id = ?", id).
		Take(&integration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "active integration %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

// FindActiveByFacility returns the active integrations of a facility, oldest
// activation first.
func (r *Repository) FindActiveByFacility(ctx context.Context, facilityID int) ([]models.Integration, error) {
	var rows []models.Integration
	if err := r.db.WithContext(ctx).
		Scopes(models.ActiveIntegrations).
		Preload("Account").
		Where("facility_id = ?", facilityID).
		Order("activated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SoftDelete marks the integration inactive.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Integration{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}
