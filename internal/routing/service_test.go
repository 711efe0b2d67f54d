package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := c.entries[key]
	if !ok {
		return "", pkgredis.Nil
	}
	return v, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value.(string)
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) RouteKey(agentID, digest string) string {
	return "pf:route:" + agentID + ":" + digest
}

type countingLabeler struct {
	calls int
}

func (l *countingLabeler) Label(_ context.Context, p geo.Point) string {
	l.calls++
	return "near " + p.String()
}

type planMetrics struct {
	hits, misses int
}

func (m *planMetrics) IncRoutePlan(cached bool) {
	if cached {
		m.hits++
		return
	}
	m.misses++
}

type routeFixture struct {
	conn    *gorm.DB
	svc     *Service
	cache   *memoryCache
	labels  *countingLabeler
	metrics *planMetrics
	agent   models.DeliveryAgent
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	conn := dbtest.Open(t)
	cache := newMemoryCache()
	labels := &countingLabeler{}
	metrics := &planMetrics{}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Cache:    cache,
		Labeler:  labels,
		Metrics:  metrics,
		Logger:   logger.Nop(),
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)

	agent := dbtest.CreateAgent(t, conn, models.DeliveryAgent{
		Name: "rider", Approved: true, Active: true, Available: true,
		CurrentLat: dbtest.Float(0), CurrentLng: dbtest.Float(0),
	})
	return &routeFixture{conn: conn, svc: svc, cache: cache, labels: labels, metrics: metrics, agent: agent}
}

func (f *routeFixture) order(t *testing.T, status enums.DeliveryStatus, pickupLng, dropLng *float64) models.Order {
	t.Helper()
	agentID := f.agent.ID
	order := models.Order{DeliveryStatus: status, DeliveryAgentID: &agentID}
	if pickupLng != nil {
		order.PickupAddress = models.Address{Lat: dbtest.Float(0), Lng: pickupLng}
	}
	if dropLng != nil {
		order.DeliveryAddress = models.Address{Lat: dbtest.Float(0), Lng: dropLng}
	} else {
		order.DeliveryAddress = models.Address{Line1: "12 Brigade Rd", City: "Bengaluru"}
	}
	return dbtest.CreateOrder(t, f.conn, order)
}

func TestOptimizeRouteOrdersStops(t *testing.T) {
	f := newRouteFixture(t)
	carried := f.order(t, enums.DeliveryStatusInTransit, dbtest.Float(0.5), dbtest.Float(0.03))
	fresh := f.order(t, enums.DeliveryStatusAccepted, dbtest.Float(0.01), dbtest.Float(0.02))

	plan, err := f.svc.OptimizeRoute(context.Background(), f.agent.ID.String(), []string{carried.ID.String(), fresh.ID.String()})
	require.NoError(t, err)

	require.Len(t, plan.Stops, 3)
	assert.Equal(t, fresh.ID, plan.Stops[0].OrderID)
	assert.Equal(t, StopPickup, plan.Stops[0].Kind)
	assert.Equal(t, fresh.ID, plan.Stops[1].OrderID)
	assert.Equal(t, StopDropoff, plan.Stops[1].Kind)
	assert.Equal(t, carried.ID, plan.Stops[2].OrderID)
	assert.Equal(t, StopDropoff, plan.Stops[2].Kind)
	assert.False(t, plan.Cached)
	assert.NotNil(t, plan.Start)
	assert.InDelta(t, geo.Haversine(geo.Point{}, geo.Point{Lng: 0.03}), plan.TotalKm, 1e-9)
	assert.Equal(t, "near 0.000000,0.010000", plan.Stops[0].Label)
	assert.Equal(t, 1, f.metrics.misses)
}

func TestOptimizeRouteServesCache(t *testing.T) {
	f := newRouteFixture(t)
	a := f.order(t, enums.DeliveryStatusAccepted, dbtest.Float(0.01), dbtest.Float(0.02))
	b := f.order(t, enums.DeliveryStatusPickedUp, nil, dbtest.Float(0.04))
	ctx := context.Background()

	first, err := f.svc.OptimizeRoute(ctx, f.agent.ID.String(), []string{a.ID.String(), b.ID.String()})
	require.NoError(t, err)
	labelCalls := f.labels.calls

	second, err := f.svc.OptimizeRoute(ctx, f.agent.ID.String(), []string{b.ID.String(), a.ID.String()})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.False(t, first.Cached)
	assert.Equal(t, labelCalls, f.labels.calls, "cache hit must not relabel")
	assert.Equal(t, len(first.Stops), len(second.Stops))
	assert.Equal(t, 1, f.metrics.hits)
	assert.Equal(t, 1, f.metrics.misses)
	for _, ttl := range f.cache.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestOptimizeRouteStatusChangeBypassesCache(t *testing.T) {
	f := newRouteFixture(t)
	a := f.order(t, enums.DeliveryStatusAccepted, dbtest.Float(0.01), dbtest.Float(0.02))
	ctx := context.Background()

	_, err := f.svc.OptimizeRoute(ctx, f.agent.ID.String(), []string{a.ID.String()})
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", a.ID).Update("delivery_status", enums.DeliveryStatusPickedUp).Error)

	plan, err := f.svc.OptimizeRoute(ctx, f.agent.ID.String(), []string{a.ID.String()})
	require.NoError(t, err)
	assert.False(t, plan.Cached)
	require.Len(t, plan.Stops, 1)
	assert.Equal(t, StopDropoff, plan.Stops[0].Kind)
}

func TestOptimizeRouteCacheFailureStillPlans(t *testing.T) {
	f := newRouteFixture(t)
	f.cache.failGet = true
	a := f.order(t, enums.DeliveryStatusInTransit, nil, dbtest.Float(0.02))

	plan, err := f.svc.OptimizeRoute(context.Background(), f.agent.ID.String(), []string{a.ID.String()})
	require.NoError(t, err)
	assert.False(t, plan.Cached)
	assert.Len(t, plan.Stops, 1)
}

func TestOptimizeRouteFlagsUnroutableStops(t *testing.T) {
	f := newRouteFixture(t)
	blind := f.order(t, enums.DeliveryStatusPickedUp, nil, nil)
	located := f.order(t, enums.DeliveryStatusPickedUp, nil, dbtest.Float(0.02))

	plan, err := f.svc.OptimizeRoute(context.Background(), f.agent.ID.String(), []string{blind.ID.String(), located.ID.String()})
	require.NoError(t, err)
	require.Len(t, plan.Stops, 2)
	assert.Equal(t, located.ID, plan.Stops[0].OrderID)
	assert.True(t, plan.Stops[1].Unroutable)
	assert.Equal(t, "12 Brigade Rd, Bengaluru", plan.Stops[1].Label)
}

func TestOptimizeRouteAgentWithoutLocation(t *testing.T) {
	f := newRouteFixture(t)
	require.NoError(t, f.conn.Model(&models.DeliveryAgent{}).Where("id = ?", f.agent.ID).
		Updates(map[string]any{"current_lat": nil, "current_lng": nil}).Error)
	a := f.order(t, enums.DeliveryStatusPickedUp, nil, dbtest.Float(0.09))
	b := f.order(t, enums.DeliveryStatusPickedUp, nil, dbtest.Float(0.01))

	plan, err := f.svc.OptimizeRoute(context.Background(), f.agent.ID.String(), []string{a.ID.String(), b.ID.String()})
	require.NoError(t, err)
	assert.Nil(t, plan.Start)
	assert.Equal(t, a.ID, plan.Stops[0].OrderID)
	assert.Zero(t, plan.Stops[0].LegKm)
}

func TestOptimizeRouteValidation(t *testing.T) {
	f := newRouteFixture(t)
	ctx := context.Background()
	active := f.order(t, enums.DeliveryStatusAccepted, dbtest.Float(0.01), dbtest.Float(0.02))

	otherAgent := dbtest.CreateAgent(t, f.conn, models.DeliveryAgent{Name: "other", Active: true})
	otherID := otherAgent.ID
	foreign := dbtest.CreateOrder(t, f.conn, models.Order{DeliveryStatus: enums.DeliveryStatusAccepted, DeliveryAgentID: &otherID})
	offered := f.order(t, enums.DeliveryStatusAssigned, dbtest.Float(0.01), dbtest.Float(0.02))

	cases := []struct {
		name    string
		agentID string
		orders  []string
		code    pkgerrors.Code
	}{
		{"malformed agent", "not-a-uuid", []string{active.ID.String()}, pkgerrors.CodeValidation},
		{"no orders", f.agent.ID.String(), nil, pkgerrors.CodeValidation},
		{"malformed order", f.agent.ID.String(), []string{"x"}, pkgerrors.CodeValidation},
		{"repeated order", f.agent.ID.String(), []string{active.ID.String(), active.ID.String()}, pkgerrors.CodeValidation},
		{"unknown agent", uuid.NewString(), []string{active.ID.String()}, pkgerrors.CodeNotFound},
		{"unknown order", f.agent.ID.String(), []string{uuid.NewString()}, pkgerrors.CodeNotFound},
		{"foreign order", f.agent.ID.String(), []string{foreign.ID.String()}, pkgerrors.CodeValidation},
		{"offer not accepted", f.agent.ID.String(), []string{offered.ID.String()}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.OptimizeRoute(ctx, tc.agentID, tc.orders)
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
	assert.Zero(t, f.metrics.hits+f.metrics.misses)
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
