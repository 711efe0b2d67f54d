package routing

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
)

// StopKind distinguishes collecting an order from handing it over.
type StopKind string

const (
	StopPickup  StopKind = "pickup"
	StopDropoff StopKind = "dropoff"
)

// Stop is one visit in a planned route.
type Stop struct {
	OrderID    uuid.UUID  `json:"order_id"`
	Kind       StopKind   `json:"kind"`
	Location   *geo.Point `json:"location,omitempty"`
	Label      string     `json:"label"`
	LegKm      float64    `json:"leg_km"`
	Unroutable bool       `json:"unroutable,omitempty"`
}

// stopInput is a stop before sequencing. after is the index of the stop that
// must be visited first, or -1.
type stopInput struct {
	stop  Stop
	after int
}

func (s stopInput) routable(inputs []stopInput) bool {
	if s.stop.Location == nil {
		return false
	}
	return s.after < 0 || inputs[s.after].stop.Location != nil
}

// sequence orders inputs with the nearest-neighbour heuristic starting at
// start. With no start the first visitable stop in input order opens the
// route. Stops that cannot be placed geographically (no coordinates, or a
// drop-off whose pickup has none) follow in input order with a zero leg.
func sequence(start *geo.Point, inputs []stopInput) ([]Stop, float64) {
	ordered := make([]Stop, 0, len(inputs))
	visited := make([]bool, len(inputs))

	remaining := 0
	for _, in := range inputs {
		if in.routable(inputs) {
			remaining++
		}
	}

	var total float64
	current := start
	for remaining > 0 {
		best := -1
		bestKm := 0.0
		for i, in := range inputs {
			if visited[i] || !in.routable(inputs) {
				continue
			}
			if in.after >= 0 && !visited[in.after] {
				continue
			}
			if current == nil {
				best = i
				break
			}
			km := geo.Haversine(*current, *in.stop.Location)
			if best < 0 || km < bestKm {
				best, bestKm = i, km
			}
		}
		if best < 0 {
			break
		}
		stop := inputs[best].stop
		stop.LegKm = bestKm
		total += bestKm
		ordered = append(ordered, stop)
		visited[best] = true
		current = inputs[best].stop.Location
		remaining--
	}

	for i, in := range inputs {
		if visited[i] {
			continue
		}
		stop := in.stop
		stop.LegKm = 0
		stop.Unroutable = !in.routable(inputs)
		ordered = append(ordered, stop)
	}
	return ordered, total
}
