package dispatch

import (
	"time"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
)

// EscalationReason is stamped on orders that exhaust the agent pool during a cascade.
const EscalationReason = "no agents available after retries"

// ReofferPolicy decides whether an agent that declined an order may be offered it again.
type ReofferPolicy string

const (
	// ReofferAfterCooldown lets a decliner back in once the cooldown elapsed,
	// ranked behind every agent that never saw the order.
	ReofferAfterCooldown ReofferPolicy = config.ReofferAfterCooldown
	// ReofferNever excludes decliners for the lifetime of the order.
	ReofferNever ReofferPolicy = config.ReofferNever
)

// Policy holds the dispatch tunables.
type Policy struct {
	MaxConcurrentDeliveries int
	Cooldown                time.Duration
	ResponseWindow          time.Duration
	PendingGrace            time.Duration
	MaxSelectionConflicts   int
	Reoffer                 ReofferPolicy
	SweepBatchSize          int
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrentDeliveries: 3,
		Cooldown:                5 * time.Minute,
		ResponseWindow:          3 * time.Minute,
		PendingGrace:            5 * time.Minute,
		MaxSelectionConflicts:   3,
		Reoffer:                 ReofferAfterCooldown,
		SweepBatchSize:          200,
	}
}

// PolicyFromConfig maps env configuration onto a Policy, keeping defaults for unset values.
func PolicyFromConfig(cfg config.DispatchConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxConcurrentDeliveries > 0 {
		p.MaxConcurrentDeliveries = cfg.MaxConcurrentDeliveries
	}
	if cfg.Cooldown >= 0 {
		p.Cooldown = cfg.Cooldown
	}
	if cfg.ResponseWindow > 0 {
		p.ResponseWindow = cfg.ResponseWindow
	}
	if cfg.PendingGrace >= 0 {
		p.PendingGrace = cfg.PendingGrace
	}
	if cfg.MaxSelectionConflicts > 0 {
		p.MaxSelectionConflicts = cfg.MaxSelectionConflicts
	}
	if cfg.ReofferPolicy != "" {
		p.Reoffer = ReofferPolicy(cfg.ReofferPolicy)
	}
	if cfg.SweepBatchSize > 0 {
		p.SweepBatchSize = cfg.SweepBatchSize
	}
	return p
}
