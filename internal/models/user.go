package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	ID               uuid.UUID `gorm:"type:uuid;primary_key"`
	Auth0ID          string    `gorm:"unique;not null"`
	Email            string    `gorm:"unique;not null"`
	StripeCustomerID string    `gorm:"index"`
}

// BeforeCreate assigns the ID application-side so the model works against
// engines without a uuid generator.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
