package dispatch

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
)

var (
	rankNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pickup  = geo.Point{Lat: 12.97, Lng: 77.59}
)

func poolAgent(name string, lat, lng float64, load int, age time.Duration) models.DeliveryAgent {
	return models.DeliveryAgent{
		ID:             uuid.New(),
		Name:           name,
		Available:      true,
		Active:         true,
		Approved:       true,
		CurrentLat:     &lat,
		CurrentLng:     &lng,
		AssignedOrders: load,
		CreatedAt:      rankNow.Add(-age),
	}
}

func names(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Agent.Name)
	}
	return out
}

func TestRankPicksNearestAgent(t *testing.T) {
	far := poolAgent("far", 12.997, 77.59, 0, time.Hour)
	near := poolAgent("near", 12.9709, 77.59, 0, time.Minute)
	mid := poolAgent("mid", 12.98, 77.59, 0, 2*time.Hour)

	got := Rank(RankInput{Pickup: &pickup, Agents: []models.DeliveryAgent{far, near, mid}, Now: rankNow}, DefaultPolicy())
	want := []string{"near", "mid", "far"}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, names(got))
	}
	for i := range want {
		if got[i].Agent.Name != want[i] {
			t.Fatalf("expected %v got %v", want, names(got))
		}
	}
	if got[0].DistanceKm == nil || *got[0].DistanceKm > 0.2 {
		t.Fatalf("expected ~0.1km for nearest, got %v", got[0].DistanceKm)
	}
}

func TestRankSkipsAgentsAtCapacity(t *testing.T) {
	near := poolAgent("near", 12.9709, 77.59, 3, time.Minute)
	far := poolAgent("far", 12.997, 77.59, 1, time.Minute)

	got := Rank(RankInput{Pickup: &pickup, Agents: []models.DeliveryAgent{near, far}, Now: rankNow}, DefaultPolicy())
	if len(got) != 1 || got[0].Agent.Name != "far" {
		t.Fatalf("expected only far, got %v", names(got))
	}
}

func TestRankAppliesGates(t *testing.T) {
	ok := poolAgent("ok", 12.98, 77.59, 0, time.Minute)
	off := poolAgent("off", 12.971, 77.59, 0, time.Minute)
	off.Available = false
	inactive := poolAgent("inactive", 12.971, 77.59, 0, time.Minute)
	inactive.Active = false
	unapproved := poolAgent("unapproved", 12.971, 77.59, 0, time.Minute)
	unapproved.Approved = false
	excluded := poolAgent("excluded", 12.971, 77.59, 0, time.Minute)

	got := Rank(RankInput{
		Pickup:  &pickup,
		Agents:  []models.DeliveryAgent{off, inactive, unapproved, excluded, ok},
		Exclude: map[uuid.UUID]struct{}{excluded.ID: {}},
		Now:     rankNow,
	}, DefaultPolicy())
	if len(got) != 1 || got[0].Agent.Name != "ok" {
		t.Fatalf("expected only ok, got %v", names(got))
	}
}

func TestRankWithoutPickupFallsBackToLoad(t *testing.T) {
	busy := poolAgent("busy", 12.9709, 77.59, 2, 3*time.Hour)
	idleYoung := poolAgent("idle-young", 12.99, 77.59, 0, time.Minute)
	idleOld := poolAgent("idle-old", 12.99, 77.59, 0, time.Hour)

	got := Rank(RankInput{Agents: []models.DeliveryAgent{busy, idleYoung, idleOld}, Now: rankNow}, DefaultPolicy())
	want := []string{"idle-old", "idle-young", "busy"}
	for i := range want {
		if got[i].Agent.Name != want[i] {
			t.Fatalf("expected %v got %v", want, names(got))
		}
		if got[i].DistanceKm != nil {
			t.Fatalf("no distance expected without pickup coordinates")
		}
	}
}

func TestRankUnlocatedAgentsAfterLocated(t *testing.T) {
	located := poolAgent("located", 13.5, 77.59, 2, time.Minute)
	unlocated := poolAgent("unlocated", 0, 0, 0, time.Hour)
	unlocated.CurrentLat, unlocated.CurrentLng = nil, nil

	got := Rank(RankInput{Pickup: &pickup, Agents: []models.DeliveryAgent{unlocated, located}, Now: rankNow}, DefaultPolicy())
	if got[0].Agent.Name != "located" {
		t.Fatalf("expected located first, got %v", names(got))
	}
}

func TestRankTieBreakIsDeterministic(t *testing.T) {
	a := poolAgent("a", 12.98, 77.59, 0, time.Hour)
	b := poolAgent("b", 12.98, 77.59, 0, time.Hour)
	first := Rank(RankInput{Pickup: &pickup, Agents: []models.DeliveryAgent{a, b}, Now: rankNow}, DefaultPolicy())
	second := Rank(RankInput{Pickup: &pickup, Agents: []models.DeliveryAgent{b, a}, Now: rankNow}, DefaultPolicy())
	if first[0].Agent.ID != second[0].Agent.ID {
		t.Fatalf("input order changed the winner")
	}
}

func TestRankCooldownAndReoffer(t *testing.T) {
	decliner := poolAgent("decliner", 12.9709, 77.59, 0, time.Hour)
	other := poolAgent("other", 12.997, 77.59, 0, time.Hour)
	declinedAt := rankNow.Add(-2 * time.Minute)
	history := []models.DeliveryAssignment{{
		Attempt:    1,
		AgentID:    decliner.ID,
		AssignedAt: declinedAt.Add(-time.Minute),
		Response:   enums.AgentResponseRejected,
		ResponseAt: &declinedAt,
	}}
	agents := []models.DeliveryAgent{decliner, other}

	within := Rank(RankInput{Pickup: &pickup, History: history, Agents: agents, Now: rankNow}, DefaultPolicy())
	if len(within) != 1 || within[0].Agent.Name != "other" {
		t.Fatalf("decliner must wait out the cooldown, got %v", names(within))
	}

	after := Rank(RankInput{Pickup: &pickup, History: history, Agents: agents, Now: rankNow.Add(10 * time.Minute)}, DefaultPolicy())
	if len(after) != 2 || after[0].Agent.Name != "other" || !after[1].PreviouslyOffered {
		t.Fatalf("decliner should be back but ranked last, got %v", names(after))
	}

	never := DefaultPolicy()
	never.Reoffer = ReofferNever
	excluded := Rank(RankInput{Pickup: &pickup, History: history, Agents: agents, Now: rankNow.Add(time.Hour)}, never)
	if len(excluded) != 1 || excluded[0].Agent.Name != "other" {
		t.Fatalf("never policy keeps decliners out, got %v", names(excluded))
	}

	forced := Rank(RankInput{Pickup: &pickup, History: history, Agents: agents, Now: rankNow, IgnoreHistory: true}, never)
	if len(forced) != 2 || forced[0].Agent.Name != "decliner" {
		t.Fatalf("ignoring history ranks purely by distance, got %v", names(forced))
	}
}

func TestRankNeverReoffersPendingOrAccepted(t *testing.T) {
	holder := poolAgent("holder", 12.9709, 77.59, 1, time.Hour)
	history := []models.DeliveryAssignment{{
		Attempt:    1,
		AgentID:    holder.ID,
		AssignedAt: rankNow.Add(-time.Hour),
		Response:   enums.AgentResponsePending,
	}}
	got := Rank(RankInput{Pickup: &pickup, History: history, Agents: []models.DeliveryAgent{holder}, Now: rankNow}, DefaultPolicy())
	if len(got) != 0 {
		t.Fatalf("agent holding the offer must not be offered again, got %v", names(got))
	}
}

func TestRankUsesLatestEntryPerAgent(t *testing.T) {
	agent := poolAgent("agent", 12.9709, 77.59, 0, time.Hour)
	old := rankNow.Add(-time.Hour)
	recent := rankNow.Add(-time.Minute)
	history := []models.DeliveryAssignment{
		{Attempt: 1, AgentID: agent.ID, AssignedAt: old, Response: enums.AgentResponseTimeout, ResponseAt: &old},
		{Attempt: 3, AgentID: agent.ID, AssignedAt: recent, Response: enums.AgentResponseRejected, ResponseAt: &recent},
	}
	got := Rank(RankInput{Pickup: &pickup, History: history, Agents: []models.DeliveryAgent{agent}, Now: rankNow}, DefaultPolicy())
	if len(got) != 0 {
		t.Fatalf("latest decline is still cooling down, got %v", names(got))
	}
}

func TestOutstandingEntry(t *testing.T) {
	if _, ok := outstandingEntry(nil); ok {
		t.Fatalf("empty history has no outstanding entry")
	}
	history := []models.DeliveryAssignment{
		{Attempt: 1, Response: enums.AgentResponseRejected},
		{Attempt: 2, Response: enums.AgentResponsePending},
	}
	entry, ok := outstandingEntry(history)
	if !ok || entry.Attempt != 2 {
		t.Fatalf("expected attempt 2 outstanding")
	}
	history[1].Response = enums.AgentResponseAccepted
	if _, ok := outstandingEntry(history); ok {
		t.Fatalf("accepted entry is not outstanding")
	}
}
