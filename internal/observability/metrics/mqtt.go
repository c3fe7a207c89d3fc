package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the status publisher's broker connection.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	LastConnectTime   prometheus.Gauge
	MessagesDelivered prometheus.Counter
	Errors            prometheus.Counter
	ReconnectAttempts prometheus.Counter
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT metrics.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "mqtt", Name: name, Help: help}
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help)))
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts(opts(name, help)))
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: name, Help: help, Buckets: buckets,
		})
	}

	m := &MQTTMetrics{
		ConnectionStatus:  gauge("connected", "1 while connected to the broker, 0 otherwise"),
		LastConnectTime:   gauge("last_connect_timestamp_seconds", "Unix time of the last successful broker connect"),
		MessagesDelivered: counter("status_messages_total", "Status messages accepted by the broker"),
		Errors:            counter("errors_total", "Failed connects, failed publishes and lost connections"),
		ReconnectAttempts: counter("reconnect_attempts_total", "Automatic reconnect attempts"),
		MessageSize: histogram("status_message_bytes", "Size of published status messages",
			prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10)),
		PublishLatency: histogram("publish_duration_seconds", "Time until the broker acknowledged a status message",
			prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount14)),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus sets the connection gauge and, on connect, the
// last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if !connected {
		m.ConnectionStatus.Set(0)
		return
	}
	m.ConnectionStatus.Set(1)
	m.LastConnectTime.SetToCurrentTime()
}

// IncrementMessagesDelivered counts an acknowledged status message.
func (m *MQTTMetrics) IncrementMessagesDelivered() { m.MessagesDelivered.Inc() }

// IncrementErrors counts a connect, publish or connection failure.
func (m *MQTTMetrics) IncrementErrors() { m.Errors.Inc() }

// IncrementReconnectAttempts counts an automatic reconnect attempt.
func (m *MQTTMetrics) IncrementReconnectAttempts() { m.ReconnectAttempts.Inc() }

// ObserveMessageSize records the payload size of a status message.
func (m *MQTTMetrics) ObserveMessageSize(sizeBytes float64) { m.MessageSize.Observe(sizeBytes) }

// StartPublishTimer starts timing one publish; call ObserveDuration on the
// result when the broker acknowledges.
func (m *MQTTMetrics) StartPublishTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.PublishLatency)
}

func (m *MQTTMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionStatus, m.LastConnectTime, m.MessagesDelivered,
		m.Errors, m.ReconnectAttempts, m.MessageSize, m.PublishLatency,
	}
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}
