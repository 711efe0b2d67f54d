package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/packfinderz-dispatch/api/responses"
	"github.com/angelmondragon/packfinderz-dispatch/internal/cron"
	"github.com/angelmondragon/packfinderz-dispatch/internal/dispatch"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// SweepRunner runs one sweep under the same lock the worker uses.
type SweepRunner interface {
	RunSweep(ctx context.Context, name string) (*dispatch.SweepReport, error)
}

var sweepJobs = map[string]string{
	dispatch.SweepRetry:   cron.RetrySweepJob,
	dispatch.SweepTimeout: cron.TimeoutSweepJob,
}

// AdminRunSweep triggers the retry or timeout sweep on demand.
func AdminRunSweep(runner SweepRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweep runner unavailable"))
			return
		}

		kind := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "sweep")))
		job, ok := sweepJobs[kind]
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sweep must be retry or timeout").
				WithDetails(map[string]any{"sweep": kind}))
			return
		}

		report, err := runner.RunSweep(r.Context(), job)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
