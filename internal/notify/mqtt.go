package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTNotifier publishes events to per-order and per-agent topics so agent
// apps can subscribe to their own offers.
type MQTTNotifier struct {
	cli     pahoClient
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTNotifier connects to the broker described by cfg.
func NewMQTTNotifier(ctx context.Context, cfg config.MQTTConfig, logg *logger.Logger) (*MQTTNotifier, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if logg != nil {
		opts.OnConnectionLost = func(_ paho.Client, err error) {
			logg.Error(ctx, "mqtt connection lost", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}

	cli := newMQTTClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "broker", cfg.Broker), "mqtt notifier connected")
	}
	return &MQTTNotifier{
		cli:     cli,
		prefix:  strings.TrimRight(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: timeout,
	}, nil
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Topics returns the topics an event is published to.
func (n *MQTTNotifier) Topics(event Event) []string {
	topics := []string{fmt.Sprintf("%s/orders/%s", n.prefix, event.OrderID)}
	if event.AgentID != nil {
		topics = append(topics, fmt.Sprintf("%s/agents/%s", n.prefix, event.AgentID))
	}
	return topics
}

func (n *MQTTNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	for _, topic := range n.Topics(event) {
		token := n.cli.Publish(topic, n.qos, false, payload)
		if !waitToken(ctx, token, n.timeout) {
			return fmt.Errorf("mqtt publish to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish to %s: %w", topic, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}
