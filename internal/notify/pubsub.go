package notify

import (
	"context"
	"encoding/json"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// pubsubPublisher adapts *gcppubsub.Publisher to the narrow publisher interface.
type pubsubPublisher struct {
	pub *gcppubsub.Publisher
}

func (p pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}

// PubSubNotifier publishes events as JSON to the notification topic. Messages
// are keyed by order so subscribers see one order's transitions in sequence.
type PubSubNotifier struct {
	pub publisher
}

// NewPubSubNotifier wraps a topic publisher. Enable message ordering on the
// topic for ordering keys to take effect.
func NewPubSubNotifier(pub *gcppubsub.Publisher) (*PubSubNotifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("pubsub publisher required")
	}
	pub.EnableMessageOrdering = true
	return &PubSubNotifier{pub: pubsubPublisher{pub: pub}}, nil
}

func (n *PubSubNotifier) Name() string { return "pubsub" }

func (n *PubSubNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &gcppubsub.Message{
		Data:        payload,
		OrderingKey: event.OrderID.String(),
		Attributes: map[string]string{
			"event_type": event.Type.String(),
			"event_id":   event.ID.String(),
			"order_id":   event.OrderID.String(),
		},
	}
	if event.AgentID != nil {
		msg.Attributes["agent_id"] = event.AgentID.String()
	}
	if _, err := n.pub.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
