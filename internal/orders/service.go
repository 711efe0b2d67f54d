package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

const maxCancellationReason = 500

// Service moves an accepted delivery through pickup, transit and drop-off,
// and cancels orders.
type Service interface {
	MarkPickedUp(ctx context.Context, input TransitionInput) (*models.Order, error)
	MarkInTransit(ctx context.Context, input TransitionInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, input TransitionInput) (*models.Order, error)
	CancelOrder(ctx context.Context, input CancelInput) (*models.Order, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	earnings  EarningsWriter
	publisher eventPublisher
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the delivery lifecycle service.
func NewService(repo Repository, tx txRunner, earnings EarningsWriter, publisher eventPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if earnings == nil {
		return nil, fmt.Errorf("earnings writer required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		earnings:  earnings,
		publisher: publisher,
		logg:      logg,
		now:       time.Now,
	}, nil
}

type step struct {
	from      enums.DeliveryStatus
	to        enums.DeliveryStatus
	stampedAt string
	event     enums.DeliveryEvent
}

var (
	pickupStep    = step{enums.DeliveryStatusAccepted, enums.DeliveryStatusPickedUp, "picked_up_at", enums.DeliveryEventPickedUp}
	inTransitStep = step{enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, "in_transit_at", enums.DeliveryEventInTransit}
	deliverStep   = step{enums.DeliveryStatusInTransit, enums.DeliveryStatusDelivered, "delivered_at", enums.DeliveryEventDelivered}
)

func (s *service) MarkPickedUp(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.advance(ctx, input, pickupStep)
}

func (s *service) MarkInTransit(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.advance(ctx, input, inTransitStep)
}

// MarkDelivered closes the delivery, frees the agent's slot and writes the
// seller earnings.
func (s *service) MarkDelivered(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.advance(ctx, input, deliverStep)
}

func (s *service) advance(ctx context.Context, input TransitionInput, st step) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}
	ctx = s.logg.WithAgentID(s.logg.WithOrderID(ctx, input.OrderID.String()), input.AgentID.String())

	var (
		updated *models.Order
		changed bool
	)
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.lockOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.DeliveryAgentID == nil || *order.DeliveryAgentID != input.AgentID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is not assigned to this agent")
		}
		if order.DeliveryStatus == st.to {
			updated = order
			return nil
		}
		if order.DeliveryStatus != st.from || !order.DeliveryStatus.CanTransitionTo(st.to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move delivery from %s to %s", order.DeliveryStatus, st.to))
		}

		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"delivery_status": st.to,
			st.stampedAt:      now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivery status")
		}

		if st.to == enums.DeliveryStatusDelivered {
			if err := repo.CompleteDelivery(ctx, input.AgentID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete agent delivery")
			}
			detail, err := repo.FindOrderDetail(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
			}
			if err := s.earnings.RecordSellerEarnings(ctx, tx, *detail); err != nil {
				return err
			}
		}

		detail, err := repo.FindOrderDetail(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		updated = detail
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logg.Info(ctx, "delivery moved to "+st.to.String())
		s.publisher.Publish(ctx, notify.NewEvent(st.event, updated.ID, updated.DeliveryStatus, now).WithAgent(input.AgentID))
	}
	return updated, nil
}

// CancelOrder cancels a delivery that is not closed yet. Clients may cancel
// their own orders until pickup; admins at any point before delivery.
func (s *service) CancelOrder(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}
	if len(reason) > maxCancellationReason {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason too long")
	}
	if input.ActorRole != enums.ActorRoleAdmin && input.ActorRole != enums.ActorRoleClient {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot cancel orders")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var (
		updated *models.Order
		holder  *uuid.UUID
	)
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.lockOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if input.ActorRole == enums.ActorRoleClient {
			if order.ClientID != input.ActorID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to client")
			}
			switch order.DeliveryStatus {
			case enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order already picked up")
			}
		}
		if !order.DeliveryStatus.CanTransitionTo(enums.DeliveryStatusCancelled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")
		}

		if order.DeliveryAgentID != nil && order.DeliveryStatus.HoldsAgent() {
			agentID := *order.DeliveryAgentID
			holder = &agentID
			if _, err := repo.ReleaseAgent(ctx, agentID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent capacity")
			}
			if order.DeliveryStatus == enums.DeliveryStatusAssigned {
				if err := repo.CloseOutstandingOffer(ctx, order.ID, agentID, enums.AgentResponseRejected, now); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close outstanding offer")
				}
			} else if err := s.earnings.VoidAgentEarning(ctx, tx, order.ID, agentID); err != nil {
				return err
			}
		}

		cancelledBy := string(input.ActorRole) + ":" + input.ActorID.String()
		updates := map[string]any{
			"delivery_status":     enums.DeliveryStatusCancelled,
			"cancelled_at":        now,
			"cancelled_by":        cancelledBy,
			"cancellation_reason": reason,
		}
		if order.DeliveryStatus == enums.DeliveryStatusAssigned {
			// the offer is closed, so nothing is awaiting the agent's answer
			updates["delivery_agent_response"] = nil
			updates["delivery_offered_at"] = nil
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}

		detail, err := repo.FindOrderDetail(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		updated = detail
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"actor_role": input.ActorRole.String(), "reason": reason})
	s.logg.Info(logCtx, "delivery cancelled")
	event := notify.NewEvent(enums.DeliveryEventCancelled, updated.ID, updated.DeliveryStatus, now)
	event.Reason = reason
	if holder != nil {
		event = event.WithAgent(*holder)
	}
	s.publisher.Publish(ctx, event)
	return updated, nil
}

func (s *service) lockOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("order", orderID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
