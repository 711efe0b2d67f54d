package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// Event is a delivery state transition pushed to clients, sellers, agents or admins.
type Event struct {
	ID         uuid.UUID            `json:"id"`
	Type       enums.DeliveryEvent  `json:"type"`
	OrderID    uuid.UUID            `json:"order_id"`
	AgentID    *uuid.UUID           `json:"agent_id,omitempty"`
	Status     enums.DeliveryStatus `json:"status"`
	Attempt    int                  `json:"attempt,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// NewEvent stamps an id on a transition.
func NewEvent(kind enums.DeliveryEvent, orderID uuid.UUID, status enums.DeliveryStatus, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       kind,
		OrderID:    orderID,
		Status:     status,
		OccurredAt: at,
	}
}

// WithAgent returns a copy of e addressed to agentID.
func (e Event) WithAgent(agentID uuid.UUID) Event {
	id := agentID
	e.AgentID = &id
	return e
}
