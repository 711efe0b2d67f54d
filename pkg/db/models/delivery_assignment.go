package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// DeliveryAssignment is one offer in an order's append-only assignment history.
// Attempt starts at 1 and is unique per order.
type DeliveryAssignment struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uq_delivery_assignments_order_attempt,priority:1"`
	Attempt    int                 `gorm:"column:attempt;not null;uniqueIndex:uq_delivery_assignments_order_attempt,priority:2"`
	AgentID    uuid.UUID           `gorm:"column:agent_id;type:uuid;not null"`
	AssignedAt time.Time           `gorm:"column:assigned_at;not null"`
	Response   enums.AgentResponse `gorm:"column:response;not null;default:'pending'"`
	ResponseAt *time.Time          `gorm:"column:response_at"`
	DistanceKm *float64            `gorm:"column:distance_km"`
	Forced     bool                `gorm:"column:forced;not null;default:false"`
}

func (DeliveryAssignment) TableName() string { return "delivery_assignments" }

func (a *DeliveryAssignment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
