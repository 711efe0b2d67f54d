package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics counts offers, cascades and sweeper throughput.
type DispatchMetrics struct {
	offers      *prometheus.CounterVec
	responses   *prometheus.CounterVec
	conflicts   prometheus.Counter
	escalations *prometheus.CounterVec
	sweepOrders *prometheus.CounterVec
	routePlans  *prometheus.CounterVec
}

// NewDispatchMetrics registers the dispatch metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	m := &DispatchMetrics{
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Dispatch attempts by trigger and outcome.",
		}, []string{"source", "outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_agent_responses_total",
			Help: "Offer responses recorded, including sweeper timeouts.",
		}, []string{"response"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_capacity_conflicts_total",
			Help: "Conditional capacity reservations lost to a concurrent dispatch.",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Orders escalated after exhausting the agent pool.",
		}, []string{"source"}),
		sweepOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_sweep_orders_total",
			Help: "Orders processed by the sweepers by result.",
		}, []string{"sweep", "result"}),
		routePlans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_route_plans_total",
			Help: "Route plans served, split by cache hit or miss.",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.offers, m.responses, m.conflicts, m.escalations, m.sweepOrders, m.routePlans)
	return m
}

func (m *DispatchMetrics) IncOffer(source, outcome string) {
	if m == nil || m.offers == nil {
		return
	}
	m.offers.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *DispatchMetrics) IncResponse(response string) {
	if m == nil || m.responses == nil {
		return
	}
	m.responses.WithLabelValues(normalizeLabel(response)).Inc()
}

func (m *DispatchMetrics) IncCapacityConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *DispatchMetrics) IncEscalation(source string) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.WithLabelValues(normalizeLabel(source)).Inc()
}

// AddSweepOrders adds n orders with the given result to the sweep counter. Zero is ignored.
func (m *DispatchMetrics) AddSweepOrders(sweep, result string, n int) {
	if m == nil || m.sweepOrders == nil || n <= 0 {
		return
	}
	m.sweepOrders.WithLabelValues(normalizeLabel(sweep), normalizeLabel(result)).Add(float64(n))
}

func (m *DispatchMetrics) IncRoutePlan(cached bool) {
	if m == nil || m.routePlans == nil {
		return
	}
	label := "miss"
	if cached {
		label = "hit"
	}
	m.routePlans.WithLabelValues(label).Inc()
}
