package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/earnings"
	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	dbpkg "github.com/angelmondragon/packfinderz-dispatch/pkg/db"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// ~0.1 km and ~3 km north of the Scenario A pickup.
const (
	pickupLat = 12.97
	pickupLng = 77.59
	nearLat   = 12.9709
	farLat    = 12.997
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []enums.DeliveryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]enums.DeliveryEvent, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	offers      map[string]int
	conflicts   int
	escalations int
	sweeps      map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{offers: map[string]int{}, sweeps: map[string]int{}}
}

func (m *recordingMetrics) IncOffer(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[source+"/"+outcome]++
}
func (m *recordingMetrics) IncResponse(string) {}
func (m *recordingMetrics) IncCapacityConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}
func (m *recordingMetrics) IncEscalation(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations++
}
func (m *recordingMetrics) AddSweepOrders(sweep, result string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps[sweep+"/"+result] += n
}

type fixture struct {
	t       *testing.T
	conn    *gorm.DB
	svc     *Service
	clock   *testClock
	events  *recordingPublisher
	metrics *recordingMetrics
	created time.Time
}

func newFixture(t *testing.T, tune ...func(*Policy)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.Nop()
	earn, err := earnings.NewService(earnings.NewRepository(conn), logg)
	require.NoError(t, err)

	policy := DefaultPolicy()
	for _, fn := range tune {
		fn(&policy)
	}
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	events := &recordingPublisher{}
	metrics := newRecordingMetrics()
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Tx:        dbpkg.Wrap(conn),
		Earnings:  earn,
		Publisher: events,
		Metrics:   metrics,
		Logger:    logg,
		Policy:    policy,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return &fixture{t: t, conn: conn, svc: svc, clock: clock, events: events, metrics: metrics, created: clock.now.Add(-time.Hour)}
}

func (f *fixture) agent(name string, lat float64, load int) models.DeliveryAgent {
	f.t.Helper()
	f.created = f.created.Add(time.Second)
	return dbtest.CreateAgent(f.t, f.conn, models.DeliveryAgent{
		Name:           name,
		Available:      true,
		Active:         true,
		Approved:       true,
		CurrentLat:     dbtest.Float(lat),
		CurrentLng:     dbtest.Float(pickupLng),
		AssignedOrders: load,
		CreatedAt:      f.created,
	})
}

// order is created old enough to be picked up by the retry sweep.
func (f *fixture) order(charge string) models.Order {
	f.t.Helper()
	return dbtest.CreateOrder(f.t, f.conn, models.Order{
		DeliveryCharge: decimal.RequireFromString(charge),
		PickupAddress:  models.Address{Line1: "MG Road", Lat: dbtest.Float(pickupLat), Lng: dbtest.Float(pickupLng)},
		CreatedAt:      f.clock.Now().Add(-10 * time.Minute),
	})
}

func (f *fixture) load(id uuid.UUID) int {
	return dbtest.ReloadAgent(f.t, f.conn, id).AssignedOrders
}

func (f *fixture) reload(id uuid.UUID) models.Order {
	return dbtest.ReloadOrder(f.t, f.conn, id)
}

// checkLedger asserts the ledger ordering and the agent pointer rule.
func (f *fixture) checkLedger(order models.Order) {
	f.t.Helper()
	require.Equal(f.t, len(order.Assignments), order.DeliveryAttempts)
	for i, entry := range order.Assignments {
		assert.Equal(f.t, i+1, entry.Attempt)
		if i > 0 {
			assert.False(f.t, entry.AssignedAt.Before(order.Assignments[i-1].AssignedAt), "history out of order")
		}
	}
	if order.DeliveryStatus == enums.DeliveryStatusAssigned {
		require.NotNil(f.t, order.DeliveryAgentID)
		last := order.Assignments[len(order.Assignments)-1]
		assert.Equal(f.t, enums.AgentResponsePending, last.Response)
		assert.Equal(f.t, *order.DeliveryAgentID, last.AgentID)
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil)})
	assert.Error(t, err)
}

func TestAssignNextAgentPicksNearest(t *testing.T) {
	f := newFixture(t)
	near := f.agent("near", nearLat, 0)
	far := f.agent("far", farLat, 0)
	order := f.order("50")

	result, err := f.svc.AssignNextAgent(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, result.Outcome)
	require.NotNil(t, result.AgentID)
	assert.Equal(t, near.ID, *result.AgentID)
	require.NotNil(t, result.DistanceKm)
	assert.InDelta(t, 0.1, *result.DistanceKm, 0.01)

	assert.Equal(t, 1, f.load(near.ID))
	assert.Equal(t, 0, f.load(far.ID))

	got := f.reload(order.ID)
	assert.Equal(t, enums.DeliveryStatusAssigned, got.DeliveryStatus)
	require.NotNil(t, got.DeliveryOfferedAt)
	f.checkLedger(got)
	assert.Equal(t, []enums.DeliveryEvent{enums.DeliveryEventAssigned}, f.events.kinds())
	assert.Equal(t, 1, f.metrics.offers[SourceSellerReady+"/assigned"])
}

func TestAssignNextAgentSkipsFullAgent(t *testing.T) {
	f := newFixture(t)
	near := f.agent("near", nearLat, 3)
	far := f.agent("far", farLat, 1)
	order := f.order("50")

	result, err := f.svc.AssignNextAgent(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, result.AgentID)
	assert.Equal(t, far.ID, *result.AgentID)
	assert.Equal(t, 3, f.load(near.ID))
	assert.Equal(t, 2, f.load(far.ID))
}

func TestAssignNextAgentWithoutAgentsKeepsPending(t *testing.T) {
	f := newFixture(t)
	order := f.order("50")

	result, err := f.svc.AssignNextAgent(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEligibleAgent, result.Outcome)
	assert.Equal(t, enums.DeliveryStatusPending, f.reload(order.ID).DeliveryStatus)
	assert.Empty(t, f.events.kinds())
}

func TestAssignNextAgentErrors(t *testing.T) {
	f := newFixture(t)
	f.agent("a", nearLat, 0)
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, uuid.Nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.AssignNextAgent(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	order := f.order("50")
	_, err = f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.AssignNextAgent(ctx, order.ID)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "already assigned orders are not re-dispatched")
	assert.Len(t, f.reload(order.ID).Assignments, 1)
}

func TestAcceptCommitsAgentEarning(t *testing.T) {
	f := newFixture(t)
	agent := f.agent("a", nearLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	result, err := f.svc.RecordAgentResponse(ctx, order.ID, agent.ID, enums.AgentResponseAccepted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)

	got := f.reload(order.ID)
	assert.Equal(t, enums.DeliveryStatusAccepted, got.DeliveryStatus)
	require.NotNil(t, got.AcceptedAt)
	assert.Equal(t, enums.AgentResponseAccepted, got.Assignments[0].Response)
	assert.Equal(t, 1, f.load(agent.ID), "accepted orders keep the slot")

	var row models.EarningLog
	require.NoError(t, f.conn.Where("order_id = ? AND role = ?", order.ID, enums.EarningRoleAgent).First(&row).Error)
	assert.Equal(t, agent.ID, row.BeneficiaryID)
	assert.True(t, row.NetEarning.Equal(decimal.NewFromInt(40)), "net %s", row.NetEarning)

	_, err = f.svc.RecordAgentResponse(ctx, order.ID, agent.ID, enums.AgentResponseAccepted)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "second accept has no offer to act on")
}

func TestRejectCascadesThenEscalates(t *testing.T) {
	f := newFixture(t)
	first := f.agent("first", nearLat, 0)
	second := f.agent("second", farLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)

	result, err := f.svc.RecordAgentResponse(ctx, order.ID, first.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, result.Outcome)
	require.NotNil(t, result.AgentID)
	assert.Equal(t, second.ID, *result.AgentID)
	require.NotNil(t, result.ReleasedAgent)
	assert.Equal(t, first.ID, *result.ReleasedAgent)
	assert.Equal(t, 0, f.load(first.ID))
	assert.Equal(t, 1, f.load(second.ID))
	f.checkLedger(f.reload(order.ID))

	result, err = f.svc.RecordAgentResponse(ctx, order.ID, second.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, result.Outcome)

	got := f.reload(order.ID)
	assert.Equal(t, enums.DeliveryStatusEscalated, got.DeliveryStatus)
	require.NotNil(t, got.EscalationReason)
	assert.Equal(t, EscalationReason, *got.EscalationReason)
	require.NotNil(t, got.EscalatedAt)
	assert.Nil(t, got.DeliveryAgentID)
	require.Len(t, got.Assignments, 2)
	for _, entry := range got.Assignments {
		assert.Equal(t, enums.AgentResponseRejected, entry.Response)
		assert.NotNil(t, entry.ResponseAt)
	}
	assert.Equal(t, 0, f.load(first.ID))
	assert.Equal(t, 0, f.load(second.ID))
	assert.Equal(t, 1, f.metrics.escalations)
	assert.Contains(t, f.events.kinds(), enums.DeliveryEventEscalated)
}

func TestRejectReoffersAfterCooldown(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.Cooldown = time.Minute })
	only := f.agent("only", nearLat, 0)
	other := f.agent("other", farLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordAgentResponse(ctx, order.ID, only.ID, enums.AgentResponseRejected)
	require.NoError(t, err)

	// the other agent declines after the first agent's cooldown has run out
	f.clock.Advance(2 * time.Minute)
	result, err := f.svc.RecordAgentResponse(ctx, order.ID, other.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, result.Outcome)
	assert.Equal(t, only.ID, *result.AgentID)
	f.checkLedger(f.reload(order.ID))
}

func TestRejectNeverPolicyEscalates(t *testing.T) {
	f := newFixture(t, func(p *Policy) {
		p.Cooldown = 0
		p.Reoffer = ReofferNever
	})
	only := f.agent("only", nearLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	result, err := f.svc.RecordAgentResponse(ctx, order.ID, only.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, result.Outcome)
}

func TestRecordAgentResponseRejectsForeignOffer(t *testing.T) {
	f := newFixture(t)
	holder := f.agent("holder", nearLat, 0)
	stranger := f.agent("stranger", farLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.RecordAgentResponse(ctx, order.ID, holder.ID, enums.AgentResponseAccepted)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "no offer outstanding yet")

	_, err = f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	before := f.reload(order.ID)

	_, err = f.svc.RecordAgentResponse(ctx, order.ID, stranger.ID, enums.AgentResponseRejected)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = f.svc.RecordAgentResponse(ctx, order.ID, holder.ID, enums.AgentResponseTimeout)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "timeouts come from the sweeper only")
	_, err = f.svc.RecordAgentResponse(ctx, uuid.New(), holder.ID, enums.AgentResponseAccepted)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	after := f.reload(order.ID)
	assert.Equal(t, before.DeliveryAttempts, after.DeliveryAttempts)
	assert.Equal(t, before.DeliveryStatus, after.DeliveryStatus)
	assert.Equal(t, 1, f.load(holder.ID))
}

func TestForceReassignErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ForceReassign(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	order := f.order("50")
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("delivery_status", enums.DeliveryStatusInTransit).Error)
	_, err = f.svc.ForceReassign(ctx, order.ID)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestForceReassignRecoversEscalatedOrder(t *testing.T) {
	f := newFixture(t)
	first := f.agent("first", nearLat, 0)
	second := f.agent("second", farLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordAgentResponse(ctx, order.ID, first.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	_, err = f.svc.RecordAgentResponse(ctx, order.ID, second.ID, enums.AgentResponseRejected)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusEscalated, f.reload(order.ID).DeliveryStatus)

	// both agents declined moments ago; an admin override ignores that
	result, err := f.svc.ForceReassign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, result.Outcome)
	assert.Equal(t, first.ID, *result.AgentID)
	assert.Nil(t, result.ReleasedAgent)

	got := f.reload(order.ID)
	assert.Equal(t, enums.DeliveryStatusAssigned, got.DeliveryStatus)
	assert.Nil(t, got.EscalatedAt)
	assert.Nil(t, got.EscalationReason)
	require.Len(t, got.Assignments, 3)
	assert.True(t, got.Assignments[2].Forced)
	f.checkLedger(got)
}

func TestForceReassignReleasesAcceptedHolder(t *testing.T) {
	f := newFixture(t)
	holder := f.agent("holder", nearLat, 0)
	backup := f.agent("backup", farLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordAgentResponse(ctx, order.ID, holder.ID, enums.AgentResponseAccepted)
	require.NoError(t, err)

	result, err := f.svc.ForceReassign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.ID, *result.AgentID)
	require.NotNil(t, result.ReleasedAgent)
	assert.Equal(t, holder.ID, *result.ReleasedAgent)
	assert.Equal(t, 0, f.load(holder.ID))
	assert.Equal(t, 1, f.load(backup.ID))

	var row models.EarningLog
	require.NoError(t, f.conn.Where("order_id = ? AND beneficiary_id = ?", order.ID, holder.ID).First(&row).Error)
	assert.NotNil(t, row.VoidedAt, "released agent's unpaid earning is voided")
}

func TestForceReassignWithoutAgentsResetsToPending(t *testing.T) {
	f := newFixture(t)
	holder := f.agent("holder", nearLat, 0)
	order := f.order("50")
	ctx := context.Background()

	_, err := f.svc.AssignNextAgent(ctx, order.ID)
	require.NoError(t, err)

	result, err := f.svc.ForceReassign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAgentsAvailable, result.Outcome)
	assert.Equal(t, enums.DeliveryStatusPending, result.DeliveryStatus)

	got := f.reload(order.ID)
	assert.Equal(t, enums.DeliveryStatusPending, got.DeliveryStatus)
	assert.Nil(t, got.DeliveryAgentID)
	assert.Equal(t, enums.AgentResponseRejected, got.Assignments[0].Response)
	assert.Equal(t, 0, f.load(holder.ID))
	assert.Contains(t, f.events.kinds(), enums.DeliveryEventReset)
}

func TestCapacityConflictMovesToNextCandidate(t *testing.T) {
	f := newFixture(t)
	near := f.agent("near", nearLat, 0)
	far := f.agent("far", farLat, 0)
	order := f.order("50")

	// the pool read sees near with a free slot, the store has already filled it
	racing := &racingRepo{Repository: f.svc.repo, steal: near.ID, conn: f.conn}
	f.svc.repo = racing

	result, err := f.svc.AssignNextAgent(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, far.ID, *result.AgentID)
	assert.Equal(t, 1, f.metrics.conflicts)
	assert.Equal(t, 3, f.load(near.ID))
}

func TestCapacityConflictsAreCapped(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.MaxSelectionConflicts = 1 })
	near := f.agent("near", nearLat, 0)
	f.agent("far", farLat, 0)
	order := f.order("50")

	f.svc.repo = &racingRepo{Repository: f.svc.repo, steal: near.ID, conn: f.conn}

	result, err := f.svc.AssignNextAgent(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEligibleAgent, result.Outcome)
	assert.Equal(t, enums.DeliveryStatusPending, f.reload(order.ID).DeliveryStatus)
}

// racingRepo fills one agent's capacity right before its reservation, the way
// a concurrent dispatch for another order would.
type racingRepo struct {
	Repository
	steal uuid.UUID
	conn  *gorm.DB
	tx    *gorm.DB
}

func (r *racingRepo) WithTx(tx *gorm.DB) Repository {
	return &racingRepo{Repository: r.Repository.WithTx(tx), steal: r.steal, conn: r.conn, tx: tx}
}

func (r *racingRepo) ReserveAgent(ctx context.Context, agentID uuid.UUID, capacity int) (bool, error) {
	if agentID == r.steal && r.tx != nil {
		if err := r.tx.Model(&models.DeliveryAgent{}).Where("id = ?", agentID).
			UpdateColumn("assigned_orders", capacity).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.ReserveAgent(ctx, agentID, capacity)
}
