package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/api/middleware"
	"github.com/angelmondragon/packfinderz-dispatch/api/responses"
	"github.com/angelmondragon/packfinderz-dispatch/api/validators"
	"github.com/angelmondragon/packfinderz-dispatch/internal/dispatch"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// Dispatcher is the dispatch surface the HTTP layer drives.
type Dispatcher interface {
	AssignNextAgent(ctx context.Context, orderID uuid.UUID) (*dispatch.Result, error)
	RecordAgentResponse(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse) (*dispatch.Result, error)
	ForceReassign(ctx context.Context, orderID uuid.UUID) (*dispatch.Result, error)
}

// OrderReader loads an order with its items for ownership checks.
type OrderReader interface {
	FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type respondRequest struct {
	Response string `json:"response" validate:"required,oneof=accepted rejected"`
}

// SellerOrderReady starts dispatch for an order its seller marked ready.
func SellerOrderReady(svc Dispatcher, orders OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, orderIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if middleware.RoleFromContext(r.Context()) == string(enums.ActorRoleSeller) {
			if err := ensureSellerOwns(r, orders, orderID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.AssignNextAgent(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AgentRespond records the calling agent's accept or reject.
func AgentRespond(svc Dispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
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

		var body respondRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RecordAgentResponse(r.Context(), orderID, agentID, enums.AgentResponse(body.Response))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminForceReassign moves an order to a new agent regardless of its holder.
func AdminForceReassign(svc Dispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, orderIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ForceReassign(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ensureSellerOwns(r *http.Request, orders OrderReader, orderID uuid.UUID) error {
	sellerID, err := callerID(r)
	if err != nil {
		return err
	}
	order, err := orders.FindOrderDetail(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.NotFound("order", orderID.String())
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
}
