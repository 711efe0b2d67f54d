package notify

import (
	"context"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

// TopicPublisherSource hands out the notification topic publisher.
type TopicPublisherSource interface {
	NotificationPublisher() *gcppubsub.Publisher
}

// FromConfig builds the notifiers named by cfg.Notifications. The returned
// cleanup disconnects anything that holds a connection.
func FromConfig(ctx context.Context, cfg *config.Config, logg *logger.Logger, topics TopicPublisherSource) ([]Notifier, func(), error) {
	var (
		notifiers []Notifier
		closers   []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, kind := range cfg.Notifications.Kinds() {
		switch kind {
		case config.NotifierLog:
			notifiers = append(notifiers, NewLogNotifier(logg))
		case config.NotifierPubSub:
			if topics == nil {
				cleanup()
				return nil, nil, fmt.Errorf("pubsub notifier requires a pubsub client")
			}
			n, err := NewPubSubNotifier(topics.NotificationPublisher())
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			notifiers = append(notifiers, n)
		case config.NotifierMQTT:
			n, err := NewMQTTNotifier(ctx, cfg.MQTT, logg)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			notifiers = append(notifiers, n)
			closers = append(closers, n.Close)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown notifier kind %q", kind)
		}
	}
	return notifiers, cleanup, nil
}
