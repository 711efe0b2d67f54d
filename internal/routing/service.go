// Package routing plans the visiting order for an agent's active deliveries.
package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/address"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

const (
	// DefaultCacheTTL is how long a plan is served from cache.
	DefaultCacheTTL = 60 * time.Second
	// MinStops is the fewest order ids a plan accepts.
	MinStops = 1
	// MaxStops bounds a single request.
	MaxStops = 25
)

// Cache stores serialized plans. Get returns pkgredis.Nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RouteKey(agentID, digest string) string
}

// Labeler turns coordinates into display text and never fails.
type Labeler interface {
	Label(ctx context.Context, point geo.Point) string
}

// Metrics counts plans served.
type Metrics interface {
	IncRoutePlan(cached bool)
}

// Plan is the result of OptimizeRoute.
type Plan struct {
	AgentID     uuid.UUID  `json:"agent_id"`
	Start       *geo.Point `json:"start,omitempty"`
	Stops       []Stop     `json:"stops"`
	TotalKm     float64    `json:"total_km"`
	GeneratedAt time.Time  `json:"generated_at"`
	Cached      bool       `json:"cached"`
}

// ServiceParams wires the route optimizer.
type ServiceParams struct {
	Repo     Repository
	Cache    Cache
	Labeler  Labeler
	Metrics  Metrics
	Logger   *logger.Logger
	CacheTTL time.Duration
	Now      func() time.Time
}

// Service computes nearest-neighbour routes and caches them briefly per agent.
type Service struct {
	repo    Repository
	cache   Cache
	labeler Labeler
	metrics Metrics
	logg    *logger.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewService validates params. Cache and Labeler are optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("routing repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	labeler := params.Labeler
	if labeler == nil {
		labeler = address.NewService(nil, params.Logger)
	}
	return &Service{
		repo:    params.Repo,
		cache:   params.Cache,
		labeler: labeler,
		metrics: params.Metrics,
		logg:    params.Logger,
		ttl:     ttl,
		now:     now,
	}, nil
}

// OptimizeRoute orders the pickups and drop-offs of the given orders for agentID.
func (s *Service) OptimizeRoute(ctx context.Context, agentID string, orderIDs []string) (*Plan, error) {
	agentUUID, err := uuid.Parse(strings.TrimSpace(agentID))
	if err != nil {
		return nil, pkgerrors.InvalidInput("agent id is malformed")
	}
	ids, err := parseOrderIDs(orderIDs)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithAgentID(ctx, agentUUID.String())

	agent, err := s.repo.FindAgent(ctx, agentUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("delivery agent", agentUUID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load delivery agent")
	}

	orders, err := s.loadActiveOrders(ctx, agentUUID, ids)
	if err != nil {
		return nil, err
	}

	key := ""
	if s.cache != nil {
		key = s.cache.RouteKey(agentUUID.String(), digest(orders))
		if plan, ok := s.cached(ctx, key); ok {
			s.observe(true)
			return plan, nil
		}
	}

	plan := s.build(ctx, agent, orders)
	if key != "" {
		s.store(ctx, key, plan)
	}
	s.observe(false)
	return plan, nil
}

func parseOrderIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) < MinStops {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("at least %d order id is required", MinStops))
	}
	if len(raw) > MaxStops {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("at most %d order ids are allowed", MaxStops))
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, pkgerrors.InvalidInput(fmt.Sprintf("order id %q is malformed", value))
		}
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.InvalidInput(fmt.Sprintf("order id %s is repeated", id))
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadActiveOrders returns the orders in request order, failing when any is
// missing or not currently carried by the agent.
func (s *Service) loadActiveOrders(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]models.Order, error) {
	rows, err := s.repo.ListOrders(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load orders")
	}
	byID := make(map[uuid.UUID]models.Order, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	orders := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		order, ok := byID[id]
		if !ok {
			return nil, pkgerrors.NotFound("order", id.String())
		}
		if !activeFor(order, agentID) {
			return nil, pkgerrors.InvalidInput(fmt.Sprintf("order %s is not actively assigned to the agent", id)).
				WithDetails(map[string]any{"order_id": id.String(), "delivery_status": order.DeliveryStatus})
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func activeFor(order models.Order, agentID uuid.UUID) bool {
	if order.DeliveryAgentID == nil || *order.DeliveryAgentID != agentID {
		return false
	}
	switch order.DeliveryStatus {
	case enums.DeliveryStatusAccepted, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit:
		return true
	}
	return false
}

func (s *Service) build(ctx context.Context, agent *models.DeliveryAgent, orders []models.Order) *Plan {
	inputs := make([]stopInput, 0, len(orders)*2)
	for _, order := range orders {
		after := -1
		if order.DeliveryStatus == enums.DeliveryStatusAccepted {
			inputs = append(inputs, stopInput{stop: newStop(order.ID, StopPickup, order.PickupAddress), after: -1})
			after = len(inputs) - 1
		}
		inputs = append(inputs, stopInput{stop: newStop(order.ID, StopDropoff, order.DeliveryAddress), after: after})
	}

	var start *geo.Point
	if point, ok := agent.Location(); ok {
		start = &point
	}
	stops, total := sequence(start, inputs)

	for i := range stops {
		switch {
		case stops[i].Location != nil:
			stops[i].Label = s.labeler.Label(ctx, *stops[i].Location)
		case stops[i].Label == "":
			stops[i].Label = "location unavailable"
		}
	}

	return &Plan{
		AgentID:     agent.ID,
		Start:       start,
		Stops:       stops,
		TotalKm:     total,
		GeneratedAt: s.now().UTC(),
	}
}

// newStop keeps the stored address text as the label for stops without
// coordinates; located stops are labelled after sequencing.
func newStop(orderID uuid.UUID, kind StopKind, addr models.Address) Stop {
	stop := Stop{OrderID: orderID, Kind: kind}
	if point, ok := addr.Point(); ok {
		stop.Location = &point
		return stop
	}
	stop.Label = address.Describe(addr.Line1, addr.City, addr.PostalCode)
	return stop
}

func (s *Service) cached(ctx context.Context, key string) (*Plan, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgredis.Nil) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "route cache read failed")
		}
		return nil, false
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "route cache entry unreadable")
		return nil, false
	}
	plan.Cached = true
	return &plan, true
}

func (s *Service) store(ctx context.Context, key string, plan *Plan) {
	payload, err := json.Marshal(plan)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "route plan encode failed")
		return
	}
	if err := s.cache.Set(ctx, key, string(payload), s.ttl); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "route cache write failed")
	}
}

func (s *Service) observe(cached bool) {
	if s.metrics != nil {
		s.metrics.IncRoutePlan(cached)
	}
}

// digest identifies the order set independent of request order. Statuses are
// part of it so a pickup invalidates the cached plan.
func digest(orders []models.Order) string {
	parts := make([]string, 0, len(orders))
	for _, order := range orders {
		parts = append(parts, order.ID.String()+"="+string(order.DeliveryStatus))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:12])
}
