package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
)

// DeliveryAgent is a courier. AssignedOrders is the live load counter and is
// only ever changed through conditional updates in the store.
type DeliveryAgent struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID            *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Name              string     `gorm:"column:name;not null"`
	Phone             *string    `gorm:"column:phone"`
	Available         bool       `gorm:"column:available;not null;default:false"`
	Active            bool       `gorm:"column:active;not null"`
	Approved          bool       `gorm:"column:approved;not null;default:false"`
	CurrentLat        *float64   `gorm:"column:current_lat"`
	CurrentLng        *float64   `gorm:"column:current_lng"`
	LocationUpdatedAt *time.Time `gorm:"column:location_updated_at"`
	AssignedOrders    int        `gorm:"column:assigned_orders;not null;default:0;check:delivery_agents_assigned_orders_check,assigned_orders >= 0"`
	CompletedOrders   int        `gorm:"column:completed_orders;not null;default:0"`
	Rating            float64    `gorm:"column:rating;not null;default:0"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryAgent) TableName() string { return "delivery_agents" }

func (a *DeliveryAgent) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Location returns the last reported position, if any.
func (a DeliveryAgent) Location() (geo.Point, bool) {
	return geo.NewPoint(a.CurrentLat, a.CurrentLng)
}

// Eligible reports whether all three gates hold.
func (a DeliveryAgent) Eligible() bool {
	return a.Approved && a.Active && a.Available
}
