package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/api/responses"
	"github.com/angelmondragon/packfinderz-dispatch/api/validators"
	"github.com/angelmondragon/packfinderz-dispatch/internal/earnings"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// EarningsReporter summarises an order's earnings.
type EarningsReporter interface {
	ComputeEarnings(ctx context.Context, orderID uuid.UUID) (*earnings.Summary, error)
}

// AdminOrderEarnings returns the agent and seller earnings of one order.
func AdminOrderEarnings(svc EarningsReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "earnings service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, orderIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.ComputeEarnings(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
