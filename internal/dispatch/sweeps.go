package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
)

const (
	SweepRetry   = "retry"
	SweepTimeout = "timeout"
)

// SweepReport counts what one sweep did. Per-order failures are collected in
// Failures and never stop the sweep.
type SweepReport struct {
	Sweep     string `json:"sweep"`
	Scanned   int    `json:"scanned"`
	Assigned  int    `json:"assigned"`
	Escalated int    `json:"escalated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Failures  error  `json:"-"`
}

func (r *SweepReport) fail(orderID uuid.UUID, err error) {
	r.Failed++
	r.Failures = multierr.Append(r.Failures, fmt.Errorf("order %s: %w", orderID, err))
}

// RunRetrySweep dispatches pending orders older than the grace period. It does
// nothing when the pool is empty or no order is waiting. Orders already
// assigned are not touched, so back-to-back runs assign nothing new.
func (s *Service) RunRetrySweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Sweep: SweepRetry}

	pool, err := s.repo.CountPoolAgents(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count agent pool")
	}
	if pool == 0 {
		return report, nil
	}

	cutoff := s.now().UTC().Add(-s.policy.PendingGrace)
	orders, err := s.repo.ListPendingOrders(ctx, cutoff, s.policy.SweepBatchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending orders")
	}
	if len(orders) == 0 {
		return report, nil
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		result, err := s.assign(ctx, order.ID, SourceRetrySweep)
		if err != nil {
			report.fail(order.ID, err)
			continue
		}
		if result.Outcome == OutcomeAssigned {
			report.Assigned++
		} else {
			report.Skipped++
		}
	}

	s.finishSweep(ctx, report)
	return report, nil
}

// RunTimeoutSweep converts offers older than the response window into timeouts
// and cascades each one to the next agent or to escalation.
func (s *Service) RunTimeoutSweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Sweep: SweepTimeout}

	cutoff := s.now().UTC().Add(-s.policy.ResponseWindow)
	orders, err := s.repo.ListExpiredOffers(ctx, cutoff, s.policy.SweepBatchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired offers")
	}
	if len(orders) == 0 {
		return report, nil
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		result, err := s.expireOffer(ctx, order.ID)
		if err != nil {
			report.fail(order.ID, err)
			continue
		}
		switch result.Outcome {
		case OutcomeAssigned:
			report.Assigned++
		case OutcomeEscalated:
			report.Escalated++
		default:
			report.Skipped++
		}
	}

	s.finishSweep(ctx, report)
	return report, nil
}

// expireOffer re-checks the offer under the order lock, since the agent may
// have answered between the scan and now.
func (s *Service) expireOffer(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	var (
		result *Result
		events []notify.Event
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.lockOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		result = &Result{OrderID: order.ID, Outcome: outcomeOfferMoved, DeliveryStatus: order.DeliveryStatus}

		cutoff := s.now().UTC().Add(-s.policy.ResponseWindow)
		if !order.HasOutstandingOffer() || order.DeliveryOfferedAt == nil || !order.DeliveryOfferedAt.Before(cutoff) {
			return nil
		}
		history, err := repo.ListAssignments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment history")
		}
		entry, ok := outstandingEntry(history)
		if !ok || entry.AgentID != *order.DeliveryAgentID {
			return nil
		}

		result, events, err = s.decline(ctx, repo, order, history, enums.AgentResponseTimeout, SourceTimeoutSweep)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome != outcomeOfferMoved {
		s.metrics.IncResponse(enums.AgentResponseTimeout.String())
		s.observeOffer(SourceTimeoutSweep, result)
	}
	s.publish(ctx, events)
	return result, nil
}

func (s *Service) finishSweep(ctx context.Context, report *SweepReport) {
	s.metrics.AddSweepOrders(report.Sweep, "assigned", report.Assigned)
	s.metrics.AddSweepOrders(report.Sweep, "escalated", report.Escalated)
	s.metrics.AddSweepOrders(report.Sweep, "skipped", report.Skipped)
	s.metrics.AddSweepOrders(report.Sweep, "failed", report.Failed)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"sweep":     report.Sweep,
		"scanned":   report.Scanned,
		"assigned":  report.Assigned,
		"escalated": report.Escalated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	if report.Failures != nil {
		s.logg.Error(logCtx, "sweep finished with failures", report.Failures)
		return
	}
	s.logg.Info(logCtx, "sweep finished")
}
