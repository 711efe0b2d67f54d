package enums

import "testing"

func TestDeliveryStatusTransitions(t *testing.T) {
	tests := []struct {
		from DeliveryStatus
		to   DeliveryStatus
		ok   bool
	}{
		{DeliveryStatusPending, DeliveryStatusAssigned, true},
		{DeliveryStatusAssigned, DeliveryStatusPending, true},
		{DeliveryStatusAssigned, DeliveryStatusAccepted, true},
		{DeliveryStatusAccepted, DeliveryStatusPickedUp, true},
		{DeliveryStatusPickedUp, DeliveryStatusInTransit, true},
		{DeliveryStatusInTransit, DeliveryStatusDelivered, true},
		{DeliveryStatusPending, DeliveryStatusEscalated, true},
		{DeliveryStatusEscalated, DeliveryStatusPending, true},
		{DeliveryStatusPending, DeliveryStatusAccepted, false},
		{DeliveryStatusAccepted, DeliveryStatusEscalated, false},
		{DeliveryStatusPickedUp, DeliveryStatusPending, false},
		{DeliveryStatusDelivered, DeliveryStatusCancelled, false},
		{DeliveryStatusCancelled, DeliveryStatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Fatalf("%s -> %s: expected %v got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	for _, status := range []DeliveryStatus{DeliveryStatusDelivered, DeliveryStatusCancelled, DeliveryStatusEscalated} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
		if status.HoldsAgent() {
			t.Fatalf("terminal %s should not hold an agent", status)
		}
	}
	if DeliveryStatusAssigned.IsTerminal() {
		t.Fatalf("assigned is not terminal")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseDeliveryStatus("in_transit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseDeliveryStatus("lost"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	resp, err := ParseAgentResponse("timeout")
	if err != nil || !resp.IsDecline() {
		t.Fatalf("timeout should parse and be a decline, got %v %v", resp, err)
	}
	if AgentResponseAccepted.IsDecline() {
		t.Fatalf("accepted is not a decline")
	}
	if _, err := ParseEarningRole("platform"); err == nil {
		t.Fatalf("expected error for unknown earning role")
	}
	if role, err := ParseActorRole("admin"); err != nil || role != ActorRoleAdmin {
		t.Fatalf("expected admin role, got %v %v", role, err)
	}
}
