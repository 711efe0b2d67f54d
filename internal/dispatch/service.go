package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EarningsRecorder commits and voids the agent side of an order's earnings
// inside the caller's transaction.
type EarningsRecorder interface {
	RecordAgentEarning(ctx context.Context, tx *gorm.DB, order models.Order, agentID uuid.UUID) error
	VoidAgentEarning(ctx context.Context, tx *gorm.DB, orderID, agentID uuid.UUID) error
}

// EventPublisher receives committed transitions. It must not fail the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event notify.Event)
}

// Metrics records dispatch outcomes.
type Metrics interface {
	IncOffer(source, outcome string)
	IncResponse(response string)
	IncCapacityConflict()
	IncEscalation(source string)
	AddSweepOrders(sweep, result string, n int)
}

// Outcome summarises what a dispatch operation did to the order.
type Outcome string

const (
	OutcomeAssigned          Outcome = "assigned"
	OutcomeAccepted          Outcome = "accepted"
	OutcomeNoEligibleAgent   Outcome = "no_eligible_agent"
	OutcomeEscalated         Outcome = "escalated"
	OutcomeNoAgentsAvailable Outcome = "no_agents_available"
	outcomeNotPending        Outcome = "not_pending"
	outcomeOfferMoved        Outcome = "offer_moved"
)

// Trigger labels which path started a dispatch, for logs and metrics.
const (
	SourceSellerReady  = "seller_ready"
	SourceCascade      = "cascade"
	SourceRetrySweep   = "retry_sweep"
	SourceTimeoutSweep = "timeout_sweep"
	SourceForce        = "force_reassign"
)

// Result is returned by every dispatch operation.
type Result struct {
	OrderID        uuid.UUID            `json:"order_id"`
	Outcome        Outcome              `json:"outcome"`
	DeliveryStatus enums.DeliveryStatus `json:"delivery_status"`
	AgentID        *uuid.UUID           `json:"agent_id,omitempty"`
	Attempt        int                  `json:"attempt"`
	DistanceKm     *float64             `json:"distance_km,omitempty"`
	ReleasedAgent  *uuid.UUID           `json:"released_agent_id,omitempty"`
}

// ServiceParams wires the dispatch service.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Earnings  EarningsRecorder
	Publisher EventPublisher
	Metrics   Metrics
	Logger    *logger.Logger
	Policy    Policy
	Now       func() time.Time
}

// Service runs selection, the accept/reject/timeout cascade, force reassignment
// and the two sweeps.
type Service struct {
	repo      Repository
	tx        txRunner
	earnings  EarningsRecorder
	publisher EventPublisher
	metrics   Metrics
	logg      *logger.Logger
	policy    Policy
	now       func() time.Time
}

// NewService validates params and returns a dispatch service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("dispatch repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Earnings == nil {
		return nil, fmt.Errorf("earnings recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	policy := params.Policy
	if policy.MaxConcurrentDeliveries <= 0 {
		policy = DefaultPolicy()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	publisher := params.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.Tx,
		earnings:  params.Earnings,
		publisher: publisher,
		metrics:   metrics,
		logg:      params.Logger,
		policy:    policy,
		now:       now,
	}, nil
}

// Policy returns the tunables in effect.
func (s *Service) Policy() Policy {
	return s.policy
}

// AssignNextAgent offers a pending order to the best eligible agent. Having no
// eligible agent is a normal outcome: the order stays pending for the retry sweep.
func (s *Service) AssignNextAgent(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("order id required")
	}
	result, err := s.assign(ctx, orderID, SourceSellerReady)
	if err != nil {
		return nil, err
	}
	if result.Outcome == outcomeNotPending {
		return nil, pkgerrors.InvalidInput("order is not awaiting an agent").
			WithDetails(map[string]any{"delivery_status": result.DeliveryStatus})
	}
	return result, nil
}

func (s *Service) assign(ctx context.Context, orderID uuid.UUID, source string) (*Result, error) {
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
		result = &Result{OrderID: order.ID, DeliveryStatus: order.DeliveryStatus, Attempt: order.DeliveryAttempts}
		if order.DeliveryStatus != enums.DeliveryStatusPending {
			result.Outcome = outcomeNotPending
			return nil
		}

		history, err := repo.ListAssignments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment history")
		}
		entry, candidate, err := s.offer(ctx, repo, order, history, selection{source: source})
		if err != nil {
			return err
		}
		if entry == nil {
			result.Outcome = OutcomeNoEligibleAgent
			return nil
		}
		result.fillOffer(order, entry, candidate)
		events = append(events, offerEvent(order, entry))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observeOffer(source, result)
	s.publish(ctx, events)
	return result, nil
}

// RecordAgentResponse applies an agent's accept or reject to the offer it holds.
// A reject releases the agent and immediately cascades to the next candidate,
// escalating when none remains.
func (s *Service) RecordAgentResponse(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("order id required")
	}
	if agentID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("agent id required")
	}
	if response != enums.AgentResponseAccepted && response != enums.AgentResponseRejected {
		return nil, pkgerrors.InvalidInput("response must be accepted or rejected")
	}

	ctx = s.logg.WithAgentID(s.logg.WithOrderID(ctx, orderID.String()), agentID.String())
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
		if !order.HasOutstandingOffer() || *order.DeliveryAgentID != agentID {
			return pkgerrors.InvalidInput("offer is not held by this agent").
				WithDetails(map[string]any{"delivery_status": order.DeliveryStatus})
		}
		history, err := repo.ListAssignments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment history")
		}
		entry, ok := outstandingEntry(history)
		if !ok || entry.AgentID != agentID {
			return pkgerrors.InvalidInput("offer is not held by this agent")
		}

		if response == enums.AgentResponseAccepted {
			result, events, err = s.accept(ctx, tx, repo, order, entry)
			return err
		}
		result, events, err = s.decline(ctx, repo, order, history, enums.AgentResponseRejected, SourceCascade)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncResponse(response.String())
	if response == enums.AgentResponseRejected {
		s.observeOffer(SourceCascade, result)
	}
	s.publish(ctx, events)
	return result, nil
}

func (s *Service) accept(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, entry models.DeliveryAssignment) (*Result, []notify.Event, error) {
	now := s.now().UTC()
	if err := repo.RecordResponse(ctx, entry.ID, enums.AgentResponseAccepted, now); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record acceptance")
	}
	accepted := enums.AgentResponseAccepted
	err := repo.UpdateOrder(ctx, order.ID, map[string]any{
		"delivery_status":         enums.DeliveryStatusAccepted,
		"delivery_agent_response": accepted,
		"accepted_at":             now,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	order.DeliveryStatus = enums.DeliveryStatusAccepted
	order.DeliveryAgentResponse = &accepted
	order.AcceptedAt = &now

	if err := s.earnings.RecordAgentEarning(ctx, tx, *order, entry.AgentID); err != nil {
		return nil, nil, err
	}

	s.logg.Info(ctx, "delivery offer accepted")
	result := &Result{
		OrderID:        order.ID,
		Outcome:        OutcomeAccepted,
		DeliveryStatus: order.DeliveryStatus,
		AgentID:        order.DeliveryAgentID,
		Attempt:        order.DeliveryAttempts,
		DistanceKm:     entry.DistanceKm,
	}
	event := notify.NewEvent(enums.DeliveryEventAccepted, order.ID, order.DeliveryStatus, now).WithAgent(entry.AgentID)
	event.Attempt = entry.Attempt
	return result, []notify.Event{event}, nil
}

// decline closes the outstanding offer with response, frees the agent and
// cascades. The last history entry must be the outstanding offer.
func (s *Service) decline(ctx context.Context, repo Repository, order *models.Order, history []models.DeliveryAssignment, response enums.AgentResponse, source string) (*Result, []notify.Event, error) {
	now := s.now().UTC()
	last := len(history) - 1
	entry := history[last]

	if err := repo.RecordResponse(ctx, entry.ID, response, now); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record decline")
	}
	history[last].Response = response
	history[last].ResponseAt = &now

	if err := s.release(ctx, repo, entry.AgentID); err != nil {
		return nil, nil, err
	}
	err := repo.UpdateOrder(ctx, order.ID, map[string]any{
		"delivery_status":         enums.DeliveryStatusPending,
		"delivery_agent_id":       nil,
		"delivery_agent_response": response,
		"delivery_offered_at":     nil,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset order")
	}
	order.DeliveryStatus = enums.DeliveryStatusPending
	order.DeliveryAgentID = nil
	order.DeliveryAgentResponse = &response
	order.DeliveryOfferedAt = nil

	kind := enums.DeliveryEventRejected
	if response == enums.AgentResponseTimeout {
		kind = enums.DeliveryEventTimedOut
	}
	declined := notify.NewEvent(kind, order.ID, order.DeliveryStatus, now).WithAgent(entry.AgentID)
	declined.Attempt = entry.Attempt
	events := []notify.Event{declined}

	logCtx := s.logg.WithFields(ctx, map[string]any{"response": response.String(), "attempt": entry.Attempt})
	s.logg.Info(logCtx, "delivery offer declined")

	released := entry.AgentID
	result := &Result{OrderID: order.ID, ReleasedAgent: &released}

	next, candidate, err := s.offer(ctx, repo, order, history, selection{source: source})
	if err != nil {
		return nil, nil, err
	}
	if next != nil {
		result.fillOffer(order, next, candidate)
		return result, append(events, offerEvent(order, next)), nil
	}

	if err := s.escalate(ctx, repo, order, now); err != nil {
		return nil, nil, err
	}
	result.Outcome = OutcomeEscalated
	result.DeliveryStatus = order.DeliveryStatus
	result.Attempt = order.DeliveryAttempts
	escalated := notify.NewEvent(enums.DeliveryEventEscalated, order.ID, order.DeliveryStatus, now)
	escalated.Reason = EscalationReason
	return result, append(events, escalated), nil
}

func (s *Service) escalate(ctx context.Context, repo Repository, order *models.Order, now time.Time) error {
	reason := EscalationReason
	err := repo.UpdateOrder(ctx, order.ID, map[string]any{
		"delivery_status":   enums.DeliveryStatusEscalated,
		"escalated_at":      now,
		"escalation_reason": reason,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escalate order")
	}
	order.DeliveryStatus = enums.DeliveryStatusEscalated
	order.EscalatedAt = &now
	order.EscalationReason = &reason
	s.logg.Warn(ctx, "delivery escalated: "+reason)
	return nil
}

// ForceReassign takes the order away from its current agent, if any, and
// offers it once over the live pool. Earlier declines and cooldowns are
// ignored; only the agent just released is skipped. With no candidate the
// order goes back to pending rather than escalated.
func (s *Service) ForceReassign(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("order id required")
	}
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
		switch order.DeliveryStatus {
		case enums.DeliveryStatusDelivered, enums.DeliveryStatusCancelled:
			return pkgerrors.InvalidInput("order is closed").
				WithDetails(map[string]any{"delivery_status": order.DeliveryStatus})
		case enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit:
			return pkgerrors.InvalidInput("order is already with the agent").
				WithDetails(map[string]any{"delivery_status": order.DeliveryStatus})
		}

		history, err := repo.ListAssignments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment history")
		}

		now := s.now().UTC()
		result = &Result{OrderID: order.ID}
		exclude := map[uuid.UUID]struct{}{}

		if order.DeliveryAgentID != nil && order.DeliveryStatus.HoldsAgent() {
			holder := *order.DeliveryAgentID
			exclude[holder] = struct{}{}
			result.ReleasedAgent = &holder

			if entry, ok := outstandingEntry(history); ok && entry.AgentID == holder {
				if err := repo.RecordResponse(ctx, entry.ID, enums.AgentResponseRejected, now); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close outstanding offer")
				}
				history[len(history)-1].Response = enums.AgentResponseRejected
				history[len(history)-1].ResponseAt = &now
			}
			if order.DeliveryStatus == enums.DeliveryStatusAccepted {
				if err := s.earnings.VoidAgentEarning(ctx, tx, order.ID, holder); err != nil {
					return err
				}
			}
			if err := s.release(ctx, repo, holder); err != nil {
				return err
			}
		}

		err = repo.UpdateOrder(ctx, order.ID, map[string]any{
			"delivery_status":         enums.DeliveryStatusPending,
			"delivery_agent_id":       nil,
			"delivery_agent_response": nil,
			"delivery_offered_at":     nil,
			"accepted_at":             nil,
			"escalated_at":            nil,
			"escalation_reason":       nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset order")
		}
		order.DeliveryStatus = enums.DeliveryStatusPending
		order.DeliveryAgentID = nil
		order.DeliveryAgentResponse = nil
		order.DeliveryOfferedAt = nil
		order.EscalatedAt = nil
		order.EscalationReason = nil

		entry, candidate, err := s.offer(ctx, repo, order, history, selection{
			source:        SourceForce,
			exclude:       exclude,
			ignoreHistory: true,
			forced:        true,
		})
		if err != nil {
			return err
		}
		if entry != nil {
			result.fillOffer(order, entry, candidate)
			events = append(events, offerEvent(order, entry))
			return nil
		}

		result.Outcome = OutcomeNoAgentsAvailable
		result.DeliveryStatus = order.DeliveryStatus
		result.Attempt = order.DeliveryAttempts
		reset := notify.NewEvent(enums.DeliveryEventReset, order.ID, order.DeliveryStatus, now)
		reset.Reason = string(OutcomeNoAgentsAvailable)
		if result.ReleasedAgent != nil {
			reset = reset.WithAgent(*result.ReleasedAgent)
		}
		events = append(events, reset)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithField(ctx, "outcome", string(result.Outcome))
	s.logg.Info(logCtx, "delivery force reassigned")
	s.observeOffer(SourceForce, result)
	s.publish(ctx, events)
	return result, nil
}

type selection struct {
	source        string
	exclude       map[uuid.UUID]struct{}
	ignoreHistory bool
	forced        bool
}

// offer walks the ranked pool and offers the order to the first candidate whose
// capacity slot can still be reserved. A lost reservation drops that candidate;
// after MaxSelectionConflicts losses the pool counts as exhausted. A nil entry
// means no agent took the offer.
func (s *Service) offer(ctx context.Context, repo Repository, order *models.Order, history []models.DeliveryAssignment, sel selection) (*models.DeliveryAssignment, *Candidate, error) {
	agents, err := repo.ListPoolAgents(ctx)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent pool")
	}
	now := s.now().UTC()

	in := RankInput{
		History:       history,
		Agents:        agents,
		Exclude:       sel.exclude,
		Now:           now,
		IgnoreHistory: sel.ignoreHistory,
	}
	if pickup, ok := order.PickupAddress.Point(); ok {
		in.Pickup = &pickup
	}
	candidates := Rank(in, s.policy)

	conflicts := 0
	for i := range candidates {
		if conflicts >= s.policy.MaxSelectionConflicts {
			logCtx := s.logg.WithField(ctx, "conflicts", conflicts)
			s.logg.Warn(logCtx, "capacity conflicts exhausted candidate list")
			break
		}
		candidate := candidates[i]

		reserved, err := repo.ReserveAgent(ctx, candidate.Agent.ID, s.policy.MaxConcurrentDeliveries)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve agent capacity")
		}
		if !reserved {
			conflicts++
			s.metrics.IncCapacityConflict()
			continue
		}

		entry := &models.DeliveryAssignment{
			AgentID:    candidate.Agent.ID,
			AssignedAt: now,
			Response:   enums.AgentResponsePending,
			DistanceKm: candidate.DistanceKm,
			Forced:     sel.forced,
		}
		pending := enums.AgentResponsePending
		err = repo.AppendAssignment(ctx, order, entry, map[string]any{
			"delivery_status":         enums.DeliveryStatusAssigned,
			"delivery_agent_id":       candidate.Agent.ID,
			"delivery_agent_response": pending,
			"delivery_offered_at":     now,
		})
		if err != nil {
			if errors.Is(err, ErrLedgerVersionConflict) {
				return nil, nil, pkgerrors.ConcurrencyConflict("order was dispatched concurrently")
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append assignment")
		}

		agentID := candidate.Agent.ID
		order.DeliveryStatus = enums.DeliveryStatusAssigned
		order.DeliveryAgentID = &agentID
		order.DeliveryAgentResponse = &pending
		order.DeliveryOfferedAt = &now

		fields := map[string]any{
			"agent_id":  agentID.String(),
			"attempt":   entry.Attempt,
			"source":    sel.source,
			"reoffered": candidate.PreviouslyOffered,
		}
		if candidate.DistanceKm != nil {
			fields["distance_km"] = *candidate.DistanceKm
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "delivery offered")
		return entry, &candidate, nil
	}
	return nil, nil, nil
}

// release gives the agent's slot back. A counter already at zero is logged, not failed.
func (s *Service) release(ctx context.Context, repo Repository, agentID uuid.UUID) error {
	released, err := repo.ReleaseAgent(ctx, agentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent capacity")
	}
	if !released {
		s.logg.Warn(s.logg.WithAgentID(ctx, agentID.String()), "agent load already zero on release")
	}
	return nil
}

func (s *Service) lockOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("order", orderID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *Service) observeOffer(source string, result *Result) {
	if result == nil || result.Outcome == "" || result.Outcome == outcomeNotPending {
		return
	}
	s.metrics.IncOffer(source, string(result.Outcome))
	if result.Outcome == OutcomeEscalated {
		s.metrics.IncEscalation(source)
	}
}

func (s *Service) publish(ctx context.Context, events []notify.Event) {
	for _, event := range events {
		s.publisher.Publish(ctx, event)
	}
}

func (r *Result) fillOffer(order *models.Order, entry *models.DeliveryAssignment, candidate *Candidate) {
	agentID := entry.AgentID
	r.Outcome = OutcomeAssigned
	r.DeliveryStatus = order.DeliveryStatus
	r.AgentID = &agentID
	r.Attempt = entry.Attempt
	if candidate != nil {
		r.DistanceKm = candidate.DistanceKm
	}
}

func offerEvent(order *models.Order, entry *models.DeliveryAssignment) notify.Event {
	event := notify.NewEvent(enums.DeliveryEventAssigned, order.ID, order.DeliveryStatus, entry.AssignedAt).WithAgent(entry.AgentID)
	event.Attempt = entry.Attempt
	return event
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, notify.Event) {}

type noopMetrics struct{}

func (noopMetrics) IncOffer(string, string)            {}
func (noopMetrics) IncResponse(string)                 {}
func (noopMetrics) IncCapacityConflict()               {}
func (noopMetrics) IncEscalation(string)               {}
func (noopMetrics) AddSweepOrders(string, string, int) {}
