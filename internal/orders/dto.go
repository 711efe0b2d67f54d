package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// TransitionInput identifies the agent moving an order forward.
type TransitionInput struct {
	OrderID uuid.UUID
	AgentID uuid.UUID
}

// CancelInput carries who cancels and why.
type CancelInput struct {
	OrderID   uuid.UUID
	ActorID   uuid.UUID
	ActorRole enums.ActorRole
	Reason    string
}

// AgentDelivery is one open delivery in an agent's queue.
type AgentDelivery struct {
	OrderID         uuid.UUID            `json:"order_id"`
	DeliveryStatus  enums.DeliveryStatus `json:"delivery_status"`
	OfferedAt       *time.Time           `json:"offered_at,omitempty"`
	AcceptedAt      *time.Time           `json:"accepted_at,omitempty"`
	PickupAddress   models.Address       `json:"pickup_address"`
	DeliveryAddress models.Address       `json:"delivery_address"`
	DeliveryCharge  decimal.Decimal      `json:"delivery_charge"`
	CreatedAt       time.Time            `json:"created_at"`
}

// AgentDeliveryPage is a cursor page of an agent's open deliveries, newest first.
type AgentDeliveryPage struct {
	Deliveries []AgentDelivery `json:"deliveries"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
