package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/packfinderz-dispatch/api/responses"
	"github.com/angelmondragon/packfinderz-dispatch/api/validators"
	"github.com/angelmondragon/packfinderz-dispatch/internal/routing"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// RoutePlanner orders an agent's stops.
type RoutePlanner interface {
	OptimizeRoute(ctx context.Context, agentID string, orderIDs []string) (*routing.Plan, error)
}

type routeRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required"`
}

// AgentRoute plans the calling agent's pickup and dropoff sequence.
func AgentRoute(planner RoutePlanner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if planner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "route planner unavailable"))
			return
		}

		agentID, err := callerAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body routeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := planner.OptimizeRoute(r.Context(), agentID.String(), body.OrderIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}
