package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/observability/metrics"
	"github.com/tphakala/feedercam/internal/stream"
)

// publishTimeout bounds one status publish made from the event bus.
const publishTimeout = 5 * time.Second

// StatusSource reports the current pipeline status.
type StatusSource interface {
	Status() stream.Status
}

// StatusMessage is the JSON payload published to <topic>/status. Offline
// messages carry no pipeline fields.
type StatusMessage struct {
	Node   string           `json:"node"`
	Online bool             `json:"online"`
	Event  stream.EventType `json:"event,omitempty"`
	Time   time.Time        `json:"time,omitzero"`
	*stream.Status
}

// Publisher mirrors pipeline events to MQTT as retained status messages.
type Publisher struct {
	client Client
	config Config
	node   string
	source StatusSource
	log    logger.Logger
}

// NewPublisher creates a publisher and its client. The client announces an
// online status after every connect and leaves an offline will.
func NewPublisher(config Config, node string, source StatusSource, m *metrics.MQTTMetrics, opts ...ClientOption) *Publisher {
	p := &Publisher{
		config: config,
		node:   node,
		source: source,
		log:    GetLogger().With(logger.String("topic", config.StatusTopic())),
	}
	opts = append([]ClientOption{
		WithWill(OfflinePayload(node)),
		WithOnConnect(p.announce),
	}, opts...)
	p.client = NewClient(config, m, opts...)
	return p
}

// Start connects to the broker. Once connected the client reconnects
// on its own after connection loss.
func (p *Publisher) Start(ctx context.Context) error {
	return p.client.Connect(ctx)
}

// Stop publishes the offline status and disconnects.
func (p *Publisher) Stop(ctx context.Context) {
	if p.client.IsConnected() {
		if err := p.client.Publish(ctx, p.config.StatusTopic(), OfflinePayload(p.node), true); err != nil {
			p.log.Warn("failed to publish offline status", logger.Error(err))
		}
	}
	p.client.Disconnect()
}

// Name implements stream.EventConsumer.
func (p *Publisher) Name() string {
	return "mqtt"
}

// ProcessEvent implements stream.EventConsumer. Events seen while the
// broker is unreachable are reported to the bus and not retried; the next
// event or reconnect publishes a fresh status.
func (p *Publisher) ProcessEvent(ev stream.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.publishStatus(ctx, ev.Type, ev.Time)
}

func (p *Publisher) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.publishStatus(ctx, "", time.Now()); err != nil {
		p.log.Warn("failed to publish online status", logger.Error(err))
	}
}

func (p *Publisher) publishStatus(ctx context.Context, event stream.EventType, at time.Time) error {
	status := p.source.Status()
	payload, err := json.Marshal(StatusMessage{
		Node:   p.node,
		Online: true,
		Event:  event,
		Time:   at.UTC(),
		Status: &status,
	})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.config.StatusTopic(), payload, p.config.Retain)
}

// OfflinePayload returns the status message for a node that is gone.
func OfflinePayload(node string) []byte {
	payload, _ := json.Marshal(StatusMessage{Node: node, Online: false})
	return payload
}
