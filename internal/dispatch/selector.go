package dispatch

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
)

// Candidate is an agent that passed every filter, with its ranking inputs.
type Candidate struct {
	Agent             models.DeliveryAgent
	DistanceKm        *float64
	PreviouslyOffered bool
}

// RankInput is everything the selector looks at for one order.
type RankInput struct {
	Pickup  *geo.Point
	History []models.DeliveryAssignment
	Agents  []models.DeliveryAgent
	Exclude map[uuid.UUID]struct{}
	Now     time.Time
	// IgnoreHistory drops cooldown and re-offer exclusions. Used by admin force-reassign.
	IgnoreHistory bool
}

// Rank filters the pool and returns candidates best first. An empty result
// means no agent is eligible.
//
// Filters: all three agent gates, explicit exclusions, capacity, and (unless
// IgnoreHistory) the order's own history. Ordering: agents that never saw the
// order come first; within a group, ascending distance from pickup when the
// pickup has coordinates (agents without a location after located ones), then
// least loaded, oldest record, lowest id.
func Rank(in RankInput, policy Policy) []Candidate {
	latest := latestByAgent(in.History)
	candidates := make([]Candidate, 0, len(in.Agents))

	for _, agent := range in.Agents {
		if !agent.Eligible() {
			continue
		}
		if _, skip := in.Exclude[agent.ID]; skip {
			continue
		}
		if agent.AssignedOrders >= policy.MaxConcurrentDeliveries {
			continue
		}

		candidate := Candidate{Agent: agent}
		if entry, seen := latest[agent.ID]; seen && !in.IgnoreHistory {
			if !reofferable(entry, policy, in.Now) {
				continue
			}
			candidate.PreviouslyOffered = true
		}

		if in.Pickup != nil {
			if loc, ok := agent.Location(); ok {
				d := geo.Haversine(*in.Pickup, loc)
				candidate.DistanceKm = &d
			}
		}
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return better(candidates[i], candidates[j])
	})
	return candidates
}

func reofferable(entry models.DeliveryAssignment, policy Policy, now time.Time) bool {
	if !entry.Response.IsDecline() {
		// still pending or already accepted by this agent
		return false
	}
	if policy.Reoffer == ReofferNever {
		return false
	}
	declinedAt := entry.AssignedAt
	if entry.ResponseAt != nil {
		declinedAt = *entry.ResponseAt
	}
	return now.Sub(declinedAt) >= policy.Cooldown
}

func better(a, b Candidate) bool {
	if a.PreviouslyOffered != b.PreviouslyOffered {
		return !a.PreviouslyOffered
	}
	aLocated, bLocated := a.DistanceKm != nil, b.DistanceKm != nil
	if aLocated != bLocated {
		return aLocated
	}
	if aLocated && *a.DistanceKm != *b.DistanceKm {
		return *a.DistanceKm < *b.DistanceKm
	}
	if a.Agent.AssignedOrders != b.Agent.AssignedOrders {
		return a.Agent.AssignedOrders < b.Agent.AssignedOrders
	}
	if !a.Agent.CreatedAt.Equal(b.Agent.CreatedAt) {
		return a.Agent.CreatedAt.Before(b.Agent.CreatedAt)
	}
	return bytes.Compare(a.Agent.ID[:], b.Agent.ID[:]) < 0
}

// latestByAgent keeps the highest attempt per agent.
func latestByAgent(history []models.DeliveryAssignment) map[uuid.UUID]models.DeliveryAssignment {
	latest := make(map[uuid.UUID]models.DeliveryAssignment, len(history))
	for _, entry := range history {
		if prev, ok := latest[entry.AgentID]; !ok || entry.Attempt > prev.Attempt {
			latest[entry.AgentID] = entry
		}
	}
	return latest
}

// outstandingEntry returns the last history entry when it is still awaiting a response.
func outstandingEntry(history []models.DeliveryAssignment) (models.DeliveryAssignment, bool) {
	if len(history) == 0 {
		return models.DeliveryAssignment{}, false
	}
	last := history[len(history)-1]
	return last, last.Response == enums.AgentResponsePending
}
