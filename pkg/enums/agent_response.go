package enums

import "fmt"

// AgentResponse is the outcome of a single offer.
type AgentResponse string

const (
	AgentResponsePending  AgentResponse = "pending"
	AgentResponseAccepted AgentResponse = "accepted"
	AgentResponseRejected AgentResponse = "rejected"
	AgentResponseTimeout  AgentResponse = "timeout"
)

var validAgentResponses = []AgentResponse{
	AgentResponsePending,
	AgentResponseAccepted,
	AgentResponseRejected,
	AgentResponseTimeout,
}

// String implements fmt.Stringer.
func (a AgentResponse) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AgentResponse.
func (a AgentResponse) IsValid() bool {
	for _, candidate := range validAgentResponses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsDecline reports whether the response frees the offer for another agent.
func (a AgentResponse) IsDecline() bool {
	return a == AgentResponseRejected || a == AgentResponseTimeout
}

// ParseAgentResponse converts raw input into an AgentResponse.
func ParseAgentResponse(value string) (AgentResponse, error) {
	for _, candidate := range validAgentResponses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent response %q", value)
}
