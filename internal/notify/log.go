package notify

import (
	"context"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// LogNotifier writes events to the structured log. It is the default transport
// in dev and the fallback when no broker is configured.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	fields := map[string]any{
		"event_type": event.Type.String(),
		"event_id":   event.ID.String(),
		"order_id":   event.OrderID.String(),
		"status":     event.Status.String(),
	}
	if event.AgentID != nil {
		fields["agent_id"] = event.AgentID.String()
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	n.logg.Info(n.logg.WithFields(ctx, fields), "delivery notification")
	return nil
}
