package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
)

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Histogram != nil:
		return float64(m.Histogram.GetSampleCount())
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.Main.Name = "feeder"
	settings.Main.SystemID = "0f8fad5b-d9cb-469f-a165-70867728950e"
	settings.MQTT = conf.MQTTSettings{
		Broker:   "tcp://broker.local:1883",
		Topic:    "garden/feeder/",
		Username: "cam",
		Password: "secret",
		Retain:   false,
	}

	cfg := ConfigFromSettings(settings)

	assert.Equal(t, "tcp://broker.local:1883", cfg.Broker)
	assert.Equal(t, "feeder-0f8fad5b", cfg.ClientID)
	assert.Equal(t, "garden/feeder", cfg.Topic)
	assert.Equal(t, "garden/feeder/status", cfg.StatusTopic())
	assert.Equal(t, "cam", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.False(t, cfg.Retain)
	assert.Equal(t, DefaultConfig().PublishTimeout, cfg.PublishTimeout)

	t.Run("defaults when unnamed", func(t *testing.T) {
		cfg := ConfigFromSettings(&conf.Settings{})
		assert.Equal(t, "feedercam", cfg.ClientID)
		assert.Equal(t, "feedercam/status", cfg.StatusTopic())
	})
}

func TestClientConnect(t *testing.T) {
	broker := &fakeBroker{}
	m := newTestMetrics(t)
	will := OfflinePayload("feeder")

	c := NewClient(testConfig(), m, withBroker(broker), WithWill(will))
	require.NoError(t, c.Connect(context.Background()))
	broker.settle()
	assert.True(t, c.IsConnected())

	opts := broker.options()
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "127.0.0.1:1883", opts.Servers[0].Host)
	assert.Equal(t, "feeder-test", opts.ClientID)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "garden/feeder/status", opts.WillTopic)
	assert.Equal(t, will, opts.WillPayload)
	assert.True(t, opts.WillRetained)

	assert.InDelta(t, 1, metricValue(t, m.ConnectionStatus), 0)

	// already connected
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, broker.disconnects)
	assert.InDelta(t, 0, metricValue(t, m.ConnectionStatus), 0)

	// second disconnect is a no-op
	c.Disconnect()
	assert.Equal(t, 1, broker.disconnects)
}

func TestClientConnectErrors(t *testing.T) {
	tests := []struct {
		name     string
		broker   string
		token    fakeToken
		category errors.ErrorCategory
		errors   float64
	}{
		{"invalid url", "tcp://%zz", fakeToken{}, errors.CategoryConfiguration, 0},
		{"missing host", "tcp://", fakeToken{}, errors.CategoryConfiguration, 0},
		{"refused", "tcp://127.0.0.1:1883", fakeToken{err: errors.NewStd("not authorized")}, errors.CategoryMQTTConnection, 1},
		{"timeout", "tcp://127.0.0.1:1883", fakeToken{timedOut: true}, errors.CategoryTimeout, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{connectTok: tt.token}
			m := newTestMetrics(t)
			cfg := testConfig()
			cfg.Broker = tt.broker

			c := NewClient(cfg, m, withBroker(broker))
			err := c.Connect(context.Background())

			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "category of %v", err)
			assert.False(t, c.IsConnected())
			assert.InDelta(t, tt.errors, metricValue(t, m.Errors), 0)
			c.Disconnect()
		})
	}
}

func TestClientConnectWhileRetrying(t *testing.T) {
	broker := &fakeBroker{connectTok: fakeToken{timedOut: true}}
	c := NewClient(testConfig(), newTestMetrics(t), withBroker(broker))

	require.Error(t, c.Connect(context.Background()))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	c.Disconnect()
	assert.Equal(t, 1, broker.disconnects)
}

func TestClientPublish(t *testing.T) {
	broker := &fakeBroker{}
	m := newTestMetrics(t)
	c := NewClient(testConfig(), m, withBroker(broker))

	t.Run("not connected", func(t *testing.T) {
		err := c.Publish(context.Background(), "garden/feeder/status", []byte("{}"), true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	})

	require.NoError(t, c.Connect(context.Background()))
	broker.settle()

	t.Run("delivered", func(t *testing.T) {
		require.NoError(t, c.Publish(context.Background(), "garden/feeder/status", []byte(`{"a":1}`), true))

		msgs := broker.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "garden/feeder/status", msgs[0].topic)
		assert.Equal(t, byte(1), msgs[0].qos)
		assert.True(t, msgs[0].retain)
		assert.JSONEq(t, `{"a":1}`, string(msgs[0].payload))

		assert.InDelta(t, 1, metricValue(t, m.MessagesDelivered), 0)
		assert.InDelta(t, 1, metricValue(t, m.MessageSize), 0)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := c.Publish(ctx, "garden/feeder/status", []byte("{}"), true)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("broker error", func(t *testing.T) {
		broker.mu.Lock()
		broker.publishTok = fakeToken{err: errors.NewStd("quota exceeded")}
		broker.mu.Unlock()

		err := c.Publish(context.Background(), "garden/feeder/status", []byte("{}"), false)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	})

	t.Run("timeout", func(t *testing.T) {
		broker.mu.Lock()
		broker.publishTok = fakeToken{timedOut: true}
		broker.mu.Unlock()

		err := c.Publish(context.Background(), "garden/feeder/status", []byte("{}"), false)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	})

	assert.InDelta(t, 2, metricValue(t, m.Errors), 0)
	assert.InDelta(t, 1, metricValue(t, m.MessagesDelivered), 0)
	c.Disconnect()
}

func TestClientConnectionLoss(t *testing.T) {
	broker := &fakeBroker{}
	m := newTestMetrics(t)
	c := NewClient(testConfig(), m, withBroker(broker))
	require.NoError(t, c.Connect(context.Background()))
	broker.settle()

	broker.dropConnection()
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 0, metricValue(t, m.ConnectionStatus), 0)
	assert.InDelta(t, 1, metricValue(t, m.Errors), 0)

	broker.reconnect()
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1, metricValue(t, m.ReconnectAttempts), 0)
	assert.InDelta(t, 1, metricValue(t, m.ConnectionStatus), 0)
	c.Disconnect()
}

func TestNewClientWithoutMetrics(t *testing.T) {
	broker := &fakeBroker{}
	c := NewClient(testConfig(), nil, withBroker(broker))
	require.NoError(t, c.Connect(context.Background()))
	broker.settle()
	require.NoError(t, c.Publish(context.Background(), "t", []byte("x"), false))
	c.Disconnect()
}
