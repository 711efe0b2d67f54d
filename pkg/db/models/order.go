package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// Order carries the delivery sub-record mutated by the dispatch engine.
// DeliveryAttempts mirrors the number of assignment rows and doubles as the
// optimistic version used when appending to the ledger.
type Order struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ClientID              uuid.UUID            `gorm:"column:client_id;type:uuid;not null"`
	DeliveryStatus        enums.DeliveryStatus `gorm:"column:delivery_status;not null;default:'pending'"`
	DeliveryAgentID       *uuid.UUID           `gorm:"column:delivery_agent_id;type:uuid"`
	DeliveryAgentResponse *enums.AgentResponse `gorm:"column:delivery_agent_response"`
	DeliveryOfferedAt     *time.Time           `gorm:"column:delivery_offered_at"`
	DeliveryAttempts      int                  `gorm:"column:delivery_attempts;not null;default:0"`
	DeliveryCharge        decimal.Decimal      `gorm:"column:delivery_charge;type:numeric(12,2);not null;default:0"`
	AdminPaysAgent        bool                 `gorm:"column:admin_pays_agent;not null;default:false"`
	AdminAgentPayment     decimal.Decimal      `gorm:"column:admin_agent_payment;type:numeric(12,2);not null;default:0"`
	PickupAddress         Address              `gorm:"embedded;embeddedPrefix:pickup_"`
	DeliveryAddress       Address              `gorm:"embedded;embeddedPrefix:delivery_"`
	AcceptedAt            *time.Time           `gorm:"column:accepted_at"`
	PickedUpAt            *time.Time           `gorm:"column:picked_up_at"`
	InTransitAt           *time.Time           `gorm:"column:in_transit_at"`
	DeliveredAt           *time.Time           `gorm:"column:delivered_at"`
	EscalatedAt           *time.Time           `gorm:"column:escalated_at"`
	EscalationReason      *string              `gorm:"column:escalation_reason"`
	CancelledAt           *time.Time           `gorm:"column:cancelled_at"`
	CancelledBy           *string              `gorm:"column:cancelled_by"`
	CancellationReason    *string              `gorm:"column:cancellation_reason"`
	Items                 []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Assignments           []DeliveryAssignment `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// BeforeCreate assigns the primary key client side so sqlite and postgres behave the same.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.DeliveryStatus == "" {
		o.DeliveryStatus = enums.DeliveryStatusPending
	}
	return nil
}

// HasOutstandingOffer reports whether an agent currently owes a response.
func (o Order) HasOutstandingOffer() bool {
	return o.DeliveryStatus == enums.DeliveryStatusAssigned &&
		o.DeliveryAgentID != nil &&
		o.DeliveryAgentResponse != nil &&
		*o.DeliveryAgentResponse == enums.AgentResponsePending
}
