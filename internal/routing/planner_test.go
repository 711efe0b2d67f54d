package routing

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
)

func pt(lat, lng float64) *geo.Point {
	return &geo.Point{Lat: lat, Lng: lng}
}

func stopAt(kind StopKind, loc *geo.Point) Stop {
	return Stop{OrderID: uuid.New(), Kind: kind, Location: loc}
}

func TestSequenceNearestNeighbour(t *testing.T) {
	farDrop := stopAt(StopDropoff, pt(0, 0.03))
	pickup := stopAt(StopPickup, pt(0, 0.01))
	drop := stopAt(StopDropoff, pt(0, 0.02))
	drop.OrderID = pickup.OrderID

	inputs := []stopInput{
		{stop: farDrop, after: -1},
		{stop: pickup, after: -1},
		{stop: drop, after: 1},
	}
	got, total := sequence(pt(0, 0), inputs)

	want := []*geo.Point{pickup.Location, drop.Location, farDrop.Location}
	if len(got) != len(want) {
		t.Fatalf("expected %d stops, got %d", len(want), len(got))
	}
	for i := range want {
		if *got[i].Location != *want[i] {
			t.Fatalf("stop %d: expected %v got %v", i, *want[i], *got[i].Location)
		}
	}
	expected := geo.Haversine(geo.Point{}, *farDrop.Location)
	if math.Abs(total-expected) > 1e-9 {
		t.Fatalf("expected total %.6f got %.6f", expected, total)
	}
	var legs float64
	for _, s := range got {
		legs += s.LegKm
	}
	if math.Abs(legs-total) > 1e-9 {
		t.Fatalf("legs should add up to total")
	}
}

func TestSequenceDropoffWaitsForPickup(t *testing.T) {
	pickup := stopAt(StopPickup, pt(0, 0.05))
	drop := stopAt(StopDropoff, pt(0, 0.01))
	other := stopAt(StopDropoff, pt(0, 0.03))

	inputs := []stopInput{
		{stop: pickup, after: -1},
		{stop: drop, after: 0},
		{stop: other, after: -1},
	}
	got, _ := sequence(pt(0, 0), inputs)

	order := []StopKind{got[0].Kind, got[1].Kind, got[2].Kind}
	if got[0].OrderID != other.OrderID || got[1].OrderID != pickup.OrderID || got[2].OrderID != drop.OrderID {
		t.Fatalf("unexpected visiting order %v", order)
	}
}

func TestSequenceWithoutStartOpensWithFirstStop(t *testing.T) {
	first := stopAt(StopDropoff, pt(0, 0.09))
	second := stopAt(StopDropoff, pt(0, 0.01))

	got, total := sequence(nil, []stopInput{{stop: first, after: -1}, {stop: second, after: -1}})
	if got[0].OrderID != first.OrderID {
		t.Fatalf("expected the first input to open the route")
	}
	if got[0].LegKm != 0 {
		t.Fatalf("opening leg should be zero without a start, got %f", got[0].LegKm)
	}
	if math.Abs(total-geo.Haversine(*first.Location, *second.Location)) > 1e-9 {
		t.Fatalf("unexpected total %f", total)
	}
}

func TestSequenceAppendsUnroutableStops(t *testing.T) {
	blindPickup := stopAt(StopPickup, nil)
	strandedDrop := stopAt(StopDropoff, pt(0, 0.01))
	strandedDrop.OrderID = blindPickup.OrderID
	blindDrop := stopAt(StopDropoff, nil)
	routed := stopAt(StopDropoff, pt(0, 0.02))

	inputs := []stopInput{
		{stop: blindPickup, after: -1},
		{stop: strandedDrop, after: 0},
		{stop: blindDrop, after: -1},
		{stop: routed, after: -1},
	}
	got, _ := sequence(pt(0, 0), inputs)

	if len(got) != 4 {
		t.Fatalf("expected every stop in the plan, got %d", len(got))
	}
	if got[0].OrderID != routed.OrderID || got[0].Unroutable {
		t.Fatalf("routable stop should lead, got %+v", got[0])
	}
	if got[1].Kind != StopPickup || !got[1].Unroutable {
		t.Fatalf("pickup without coordinates should be flagged, got %+v", got[1])
	}
	if got[2].Kind != StopDropoff || !got[2].Unroutable || got[2].LegKm != 0 {
		t.Fatalf("drop-off behind an unroutable pickup should be flagged in input order, got %+v", got[2])
	}
	if got[3].OrderID != blindDrop.OrderID || !got[3].Unroutable {
		t.Fatalf("drop-off without coordinates should be flagged last, got %+v", got[3])
	}
}

func TestSequenceFlagsDropoffStrandedByPickup(t *testing.T) {
	pickup := stopAt(StopPickup, nil)
	drop := stopAt(StopDropoff, pt(0, 0.01))
	drop.OrderID = pickup.OrderID

	got, total := sequence(pt(0, 0), []stopInput{
		{stop: pickup, after: -1},
		{stop: drop, after: 0},
	})

	if total != 0 {
		t.Fatalf("nothing was sequenced, expected zero distance got %.6f", total)
	}
	for i, s := range got {
		if !s.Unroutable || s.LegKm != 0 {
			t.Fatalf("stop %d should be flagged with a zero leg, got %+v", i, s)
		}
	}
	if got[1].Location == nil {
		t.Fatalf("drop-off keeps its coordinates")
	}
}

func TestSequenceTieKeepsInputOrder(t *testing.T) {
	a := stopAt(StopDropoff, pt(0, 0.01))
	b := stopAt(StopDropoff, pt(0, -0.01))

	got, _ := sequence(pt(0, 0), []stopInput{{stop: a, after: -1}, {stop: b, after: -1}})
	if got[0].OrderID != a.OrderID {
		t.Fatalf("equidistant stops should keep input order")
	}
}
