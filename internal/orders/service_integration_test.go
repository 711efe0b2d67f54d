package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

func TestCancelAssignedOrderClosesOutstandingOffer(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	pub := &stubPublisher{}
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), &stubEarnings{}, pub, logger.Nop())
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return now }

	first := dbtest.CreateAgent(t, conn, models.DeliveryAgent{Name: "first", Active: true})
	holder := dbtest.CreateAgent(t, conn, models.DeliveryAgent{Name: "holder", Active: true, AssignedOrders: 1})
	pending := enums.AgentResponsePending
	offeredAt := now.Add(-2 * time.Minute)
	rejectedAt := now.Add(-3 * time.Minute)
	order := dbtest.CreateOrder(t, conn, models.Order{
		DeliveryStatus:        enums.DeliveryStatusAssigned,
		DeliveryAgentID:       &holder.ID,
		DeliveryAgentResponse: &pending,
		DeliveryOfferedAt:     &offeredAt,
		DeliveryAttempts:      2,
		Assignments: []models.DeliveryAssignment{
			{Attempt: 1, AgentID: first.ID, AssignedAt: now.Add(-5 * time.Minute), Response: enums.AgentResponseRejected, ResponseAt: &rejectedAt},
			{Attempt: 2, AgentID: holder.ID, AssignedAt: offeredAt, Response: enums.AgentResponsePending},
		},
	})

	got, err := svc.CancelOrder(context.Background(), CancelInput{
		OrderID:   order.ID,
		ActorID:   uuid.New(),
		ActorRole: enums.ActorRoleAdmin,
		Reason:    "store closed",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusCancelled, got.DeliveryStatus)

	stored := dbtest.ReloadOrder(t, conn, order.ID)
	assert.Equal(t, enums.DeliveryStatusCancelled, stored.DeliveryStatus)
	assert.Nil(t, stored.DeliveryAgentResponse)
	assert.Nil(t, stored.DeliveryOfferedAt)
	require.Len(t, stored.Assignments, stored.DeliveryAttempts)
	for _, entry := range stored.Assignments {
		assert.NotEqual(t, enums.AgentResponsePending, entry.Response, "attempt %d left open", entry.Attempt)
		assert.NotNil(t, entry.ResponseAt, "attempt %d has no response time", entry.Attempt)
	}
	last := stored.Assignments[1]
	assert.Equal(t, holder.ID, last.AgentID)
	assert.Equal(t, enums.AgentResponseRejected, last.Response)
	require.NotNil(t, last.ResponseAt)
	assert.True(t, last.ResponseAt.Equal(now))
	assert.True(t, stored.Assignments[0].ResponseAt.Equal(rejectedAt), "earlier answers are untouched")

	assert.Equal(t, 0, dbtest.ReloadAgent(t, conn, holder.ID).AssignedOrders)
	require.Len(t, pub.events, 1)
	assert.Equal(t, enums.DeliveryEventCancelled, pub.events[0].Type)
}

func TestCancelAcceptedOrderKeepsAnsweredLedger(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	earn := &stubEarnings{}
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), earn, &stubPublisher{}, logger.Nop())
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return now }

	holder := dbtest.CreateAgent(t, conn, models.DeliveryAgent{Name: "holder", Active: true, AssignedOrders: 1})
	accepted := enums.AgentResponseAccepted
	acceptedAt := now.Add(-time.Minute)
	order := dbtest.CreateOrder(t, conn, models.Order{
		DeliveryStatus:        enums.DeliveryStatusAccepted,
		DeliveryAgentID:       &holder.ID,
		DeliveryAgentResponse: &accepted,
		DeliveryAttempts:      1,
		AcceptedAt:            &acceptedAt,
		Assignments: []models.DeliveryAssignment{
			{Attempt: 1, AgentID: holder.ID, AssignedAt: now.Add(-2 * time.Minute), Response: enums.AgentResponseAccepted, ResponseAt: &acceptedAt},
		},
	})

	_, err = svc.CancelOrder(context.Background(), CancelInput{
		OrderID:   order.ID,
		ActorID:   uuid.New(),
		ActorRole: enums.ActorRoleAdmin,
		Reason:    "duplicate order",
	})
	require.NoError(t, err)

	stored := dbtest.ReloadOrder(t, conn, order.ID)
	require.Len(t, stored.Assignments, 1)
	assert.Equal(t, enums.AgentResponseAccepted, stored.Assignments[0].Response)
	require.NotNil(t, stored.DeliveryAgentResponse)
	assert.Equal(t, enums.AgentResponseAccepted, *stored.DeliveryAgentResponse)
	assert.Equal(t, []uuid.UUID{holder.ID}, earn.voided)
	assert.Equal(t, 0, dbtest.ReloadAgent(t, conn, holder.ID).AssignedOrders)
}
