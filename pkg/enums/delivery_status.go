package enums

import "fmt"

// DeliveryStatus tracks an order's progress through dispatch and delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusAssigned  DeliveryStatus = "assigned"
	DeliveryStatusAccepted  DeliveryStatus = "accepted"
	DeliveryStatusPickedUp  DeliveryStatus = "picked_up"
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
	DeliveryStatusEscalated DeliveryStatus = "escalated"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusAssigned,
	DeliveryStatusAccepted,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusDelivered,
	DeliveryStatusCancelled,
	DeliveryStatusEscalated,
}

// deliveryTransitions lists the allowed next states. Escalated orders only move
// again through an admin force-reassign (back to pending or assigned) or a cancel.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending:   {DeliveryStatusAssigned, DeliveryStatusEscalated, DeliveryStatusCancelled},
	DeliveryStatusAssigned:  {DeliveryStatusPending, DeliveryStatusAccepted, DeliveryStatusEscalated, DeliveryStatusCancelled},
	DeliveryStatusAccepted:  {DeliveryStatusPickedUp, DeliveryStatusPending, DeliveryStatusAssigned, DeliveryStatusCancelled},
	DeliveryStatusPickedUp:  {DeliveryStatusInTransit, DeliveryStatusCancelled},
	DeliveryStatusInTransit: {DeliveryStatusDelivered, DeliveryStatusCancelled},
	DeliveryStatusEscalated: {DeliveryStatusPending, DeliveryStatusAssigned, DeliveryStatusCancelled},
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether automatic dispatch no longer touches the order.
func (d DeliveryStatus) IsTerminal() bool {
	switch d {
	case DeliveryStatusDelivered, DeliveryStatusCancelled, DeliveryStatusEscalated:
		return true
	}
	return false
}

// HoldsAgent reports whether an agent slot is consumed while in this state.
func (d DeliveryStatus) HoldsAgent() bool {
	switch d {
	case DeliveryStatusAssigned, DeliveryStatusAccepted, DeliveryStatusPickedUp, DeliveryStatusInTransit:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of d.
func (d DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, candidate := range deliveryTransitions[d] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
