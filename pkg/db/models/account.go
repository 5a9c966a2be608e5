package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account owns integrations and the source-of-record API credentials.
type Account struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name                 string     `gorm:"column:name;not null"`
	AccessToken          string     `gorm:"column:access_token"`
	RefreshToken         string     `gorm:"column:refresh_token"`
	AccessTokenExpiresIn int        `gorm:"column:access_token_expires_in"`
	AccessTokenCreatedAt *time.Time `gorm:"column:access_token_created_at"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
