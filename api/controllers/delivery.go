package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/api/middleware"
	"github.com/angelmondragon/packfinderz-dispatch/api/responses"
	"github.com/angelmondragon/packfinderz-dispatch/api/validators"
	internalorders "github.com/angelmondragon/packfinderz-dispatch/internal/orders"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/pagination"
)

type deliveryLister interface {
	ListAgentDeliveries(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*internalorders.AgentDeliveryPage, error)
}

type transitionFunc func(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error)

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// DeliveryView is the order projection returned by lifecycle endpoints.
type DeliveryView struct {
	OrderID        uuid.UUID            `json:"order_id"`
	DeliveryStatus enums.DeliveryStatus `json:"delivery_status"`
	AgentID        *uuid.UUID           `json:"agent_id,omitempty"`
	Attempts       int                  `json:"delivery_attempts"`
	PickedUpAt     *time.Time           `json:"picked_up_at,omitempty"`
	InTransitAt    *time.Time           `json:"in_transit_at,omitempty"`
	DeliveredAt    *time.Time           `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
}

func newDeliveryView(order *models.Order) DeliveryView {
	return DeliveryView{
		OrderID:        order.ID,
		DeliveryStatus: order.DeliveryStatus,
		AgentID:        order.DeliveryAgentID,
		Attempts:       order.DeliveryAttempts,
		PickedUpAt:     order.PickedUpAt,
		InTransitAt:    order.InTransitAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
	}
}

// AgentDeliveries returns the calling agent's open deliveries, newest first.
func AgentDeliveries(repo deliveryLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		agentID, err := callerAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := repo.ListAgentDeliveries(r.Context(), agentID, params)
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list agent deliveries")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AgentPickup marks an accepted order as collected by the calling agent.
func AgentPickup(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return agentTransition(nil, logg)
	}
	return agentTransition(svc.MarkPickedUp, logg)
}

// AgentInTransit marks a picked-up order as on its way.
func AgentInTransit(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return agentTransition(nil, logg)
	}
	return agentTransition(svc.MarkInTransit, logg)
}

// AgentDeliver closes the delivery and frees the agent's slot.
func AgentDeliver(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return agentTransition(nil, logg)
	}
	return agentTransition(svc.MarkDelivered, logg)
}

func agentTransition(step transitionFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if step == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, orderIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agentID, err := callerAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := step(r.Context(), internalorders.TransitionInput{OrderID: orderID, AgentID: agentID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDeliveryView(order))
	}
}

// CancelOrder cancels on behalf of the calling admin or client.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, orderIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body cancelRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CancelOrder(r.Context(), internalorders.CancelInput{
			OrderID:   orderID,
			ActorID:   actorID,
			ActorRole: enums.ActorRole(middleware.RoleFromContext(r.Context())),
			Reason:    body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDeliveryView(order))
	}
}
