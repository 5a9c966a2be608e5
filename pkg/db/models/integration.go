package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
)

// Integration is the per-facility tenant configuration for one vendor.
// Rows are never hard-deleted; DeletedAt marks logical removal.
type Integration struct {
	ID             uuid.UUID    `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID    `gorm:"column:account_id;type:uuid;not null;index"`
	Account        *Account     `gorm:"foreignKey:AccountID"`
	FacilityID     int          `gorm:"column:facility_id;not null;index"`
	State          string       `gorm:"column:state;not null"`
	Vendor         enums.Vendor `gorm:"column:vendor;not null"`
	License        string       `gorm:"column:license;not null"`
	Secret         string       `gorm:"column:secret"`
	Timezone       string       `gorm:"column:timezone;not null;default:'UTC'"`
	EOD            string       `gorm:"column:eod;not null"`
	DisableHarvest bool         `gorm:"column:disable_harvest;not null;default:false"`
	ActivatedAt    *time.Time   `gorm:"column:activated_at"`
	DeletedAt      *time.Time   `gorm:"column:deleted_at;index"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Integration) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.ActivatedAt == nil {
		now := time.Now().UTC()
		if !i.CreatedAt.IsZero() {
			now = i.CreatedAt
		}
		i.ActivatedAt = &now
	}
	return nil
}

func (i *Integration) BeforeSave(*gorm.DB) error {
	i.Vendor = enums.Vendor(strings.ToLower(string(i.Vendor)))
	return nil
}

// VendorID is the identifier the vendor knows the facility by.
func (i *Integration) VendorID() string {
	return i.License
}

// VendorName is the display form of the vendor, e.g. "Metrc".
func (i *Integration) VendorName() string {
	v := string(i.Vendor)
	if v == "" {
		return ""
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

// IsActive reports whether the integration has not been soft-deleted.
func (i *Integration) IsActive() bool {
	return i.DeletedAt == nil
}

// FacilityKey renders the facility id the way the source API does.
func (i *Integration) FacilityKey() string {
	return strconv.Itoa(i.FacilityID)
}

// Location resolves the integration timezone, defaulting to UTC.
func (i *Integration) Location() *time.Location {
	if i.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(i.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActiveIntegrations scopes a query to integrations without a deletion mark.
func ActiveIntegrations(db *gorm.DB) *gorm.DB {
	return db.Where("deleted_at IS NULL")
}

// InactiveIntegrations scopes a query to soft-deleted integrations.
func InactiveIntegrations(db *gorm.DB) *gorm.DB {
	return db.Where("deleted_at IS NOT NULL")
}
