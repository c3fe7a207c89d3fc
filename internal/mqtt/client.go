// client.go: paho backed implementation of Client.
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/observability/metrics"
)

// client implements the Client interface.
type client struct {
	config         Config
	internalClient mqtt.Client
	mu             sync.Mutex
	metrics        *metrics.MQTTMetrics
	log            logger.Logger

	will      []byte
	onConnect func()
	newPaho   func(*mqtt.ClientOptions) mqtt.Client
}

// ClientOption configures a client.
type ClientOption func(*client)

// WithWill sets the retained last will message the broker publishes to the
// status topic when the connection drops without a clean disconnect.
func WithWill(payload []byte) ClientOption {
	return func(c *client) { c.will = payload }
}

// WithOnConnect registers fn to run after every successful connect,
// automatic reconnects included. fn runs on its own goroutine.
func WithOnConnect(fn func()) ClientOption {
	return func(c *client) { c.onConnect = fn }
}

// NewClient creates a new MQTT client with the provided configuration.
// A nil m records into an unregistered metrics set.
func NewClient(config Config, m *metrics.MQTTMetrics, opts ...ClientOption) Client {
	if m == nil {
		m, _ = metrics.NewMQTTMetrics(prometheus.NewRegistry())
	}
	c := &client{
		config:  config,
		metrics: m,
		log:     GetLogger().With(logger.String("broker", logger.RedactURL(config.Broker))),
		newPaho: mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil {
		if c.internalClient.IsConnected() {
			return nil
		}
		return errors.Newf("connection attempt already in progress").
			Component("mqtt").
			Category(errors.CategoryState).
			Context("operation", "connect").
			Build()
	}

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Hostname() == "" {
		if err == nil {
			err = errors.NewStd("missing host")
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_broker_url").
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.IncrementErrors()
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Context("operation", "resolve_broker").
				Context("host", host).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectInterval)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)
	opts.SetReconnectingHandler(c.handleReconnecting)
	if c.will != nil {
		opts.SetBinaryWill(c.config.StatusTopic(), c.will, c.config.QoS, true)
	}

	c.internalClient = c.newPaho(opts)

	// with connect retry the token stays pending while paho keeps trying in
	// the background; the client is kept so Disconnect can stop it
	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		c.metrics.IncrementErrors()
		return errors.Newf("connection timeout after %s, retrying in background", c.config.ConnectTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("operation", "connect").
			Build()
	}
	if err := token.Error(); err != nil {
		c.internalClient.Disconnect(0)
		c.internalClient = nil
		c.metrics.IncrementErrors()
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "connect").
			Build()
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	ic := c.internalClient
	c.mu.Unlock()

	if ic == nil || !ic.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}

	timer := c.metrics.StartPublishTimer()
	defer timer.ObserveDuration()

	token := ic.Publish(topic, c.config.QoS, retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		c.metrics.IncrementErrors()
		return errors.Newf("publish timeout after %s", c.config.PublishTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}

	c.metrics.IncrementMessagesDelivered()
	c.metrics.ObserveMessageSize(float64(len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil {
		return
	}
	c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.internalClient = nil
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) handleConnect(mqtt.Client) {
	c.log.Info("connected to MQTT broker")
	c.metrics.UpdateConnectionStatus(true)
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *client) handleConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
}

func (c *client) handleReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	c.metrics.IncrementReconnectAttempts()
}
