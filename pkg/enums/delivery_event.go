package enums

// DeliveryEvent names a state transition pushed to the notification dispatcher.
type DeliveryEvent string

const (
	DeliveryEventAssigned  DeliveryEvent = "delivery.assigned"
	DeliveryEventAccepted  DeliveryEvent = "delivery.accepted"
	DeliveryEventRejected  DeliveryEvent = "delivery.rejected"
	DeliveryEventTimedOut  DeliveryEvent = "delivery.timed_out"
	DeliveryEventEscalated DeliveryEvent = "delivery.escalated"
	DeliveryEventReset     DeliveryEvent = "delivery.reset"
	DeliveryEventPickedUp  DeliveryEvent = "delivery.picked_up"
	DeliveryEventInTransit DeliveryEvent = "delivery.in_transit"
	DeliveryEventDelivered DeliveryEvent = "delivery.delivered"
	DeliveryEventCancelled DeliveryEvent = "delivery.cancelled"
)

// String implements fmt.Stringer.
func (d DeliveryEvent) String() string {
	return string(d)
}
