package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// Notifier delivers one event over a single transport.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

const defaultNotifyTimeout = 5 * time.Second

// Dispatcher fans events out to every configured notifier. Failures are logged
// and never returned, so a broken transport cannot fail a delivery transition.
type Dispatcher struct {
	notifiers []Notifier
	logg      *logger.Logger
	timeout   time.Duration
}

// NewDispatcher builds a dispatcher over notifiers.
func NewDispatcher(logg *logger.Logger, notifiers ...Notifier) (*Dispatcher, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &Dispatcher{notifiers: filtered, logg: logg, timeout: defaultNotifyTimeout}, nil
}

// Publish delivers event to every notifier and returns once all have been attempted.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	// detach from request cancellation; the transition has already committed
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var errs error
	for _, n := range d.notifiers {
		if err := n.Notify(notifyCtx, event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	if errs == nil {
		return
	}

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event_type":   event.Type.String(),
		"event_id":     event.ID.String(),
		"order_id":     event.OrderID.String(),
		"failures":     len(multierr.Errors(errs)),
		"error_detail": errs.Error(),
	})
	d.logg.Error(logCtx, "notification delivery failed", pkgerrors.DependencyUnavailable(errs, "notification dispatcher unavailable"))
}
