package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains the frame pipeline metrics.
type StreamMetrics struct {
	ActiveClients   prometheus.Gauge
	ProducerRunning prometheus.Gauge
	FramesPublished prometheus.Counter
	FramesSkipped   prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	FramesSent      prometheus.Counter
	BytesSent       prometheus.Counter
	ClientsAdmitted prometheus.Counter
	ClientsRejected prometheus.Counter
	SpawnFailures   prometheus.Counter
	EventsDropped   prometheus.Counter
	FrameSize       prometheus.Histogram
	PublishDuration prometheus.Histogram
}

// NewStreamMetrics creates and registers the stream metrics.
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "active_clients",
		Help: "Number of connected MJPEG stream clients",
	})
	m.ProducerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "producer_running",
		Help: "1 while the frame producer is acquiring frames, 0 while suspended",
	})
	m.FramesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "frames_published_total",
		Help: "Frames handed to the frame store",
	})
	m.FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "frames_skipped_total",
		Help: "Frames discarded because the hand-off gate was busy for a full frame interval",
	})
	m.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "frames_dropped_total",
		Help: "Producer cycles that yielded no frame",
	}, []string{"reason"})
	m.FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "frames_sent_total",
		Help: "Multipart frames written to clients",
	})
	m.BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "bytes_sent_total",
		Help: "Image bytes written to clients",
	})
	m.ClientsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "clients_admitted_total",
		Help: "Stream clients admitted",
	})
	m.ClientsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "clients_rejected_total",
		Help: "Stream clients rejected because the client limit was reached",
	})
	m.SpawnFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "spawn_failures_total",
		Help: "Admitted clients dropped because their consumer could not be started",
	})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream",
		Name: "events_dropped_total",
		Help: "Pipeline events dropped because the event queue was full",
	})
	m.FrameSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "stream",
		Name:    "frame_size_bytes",
		Help:    "Size of published frames",
		Buckets: prometheus.ExponentialBuckets(BucketStartFrameBytes, BucketFactor2, BucketCountFrame),
	})
	m.PublishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "stream",
		Name:    "publish_duration_seconds",
		Help:    "Time spent copying and publishing a frame",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount14),
	})
}

// SetActiveClients records the current number of stream clients.
func (m *StreamMetrics) SetActiveClients(n int) {
	m.ActiveClients.Set(float64(n))
}

// SetProducerRunning records the producer state.
func (m *StreamMetrics) SetProducerRunning(running bool) {
	if running {
		m.ProducerRunning.Set(1)
		return
	}
	m.ProducerRunning.Set(0)
}

// FramePublished records a successful publish.
func (m *StreamMetrics) FramePublished(size int, d time.Duration) {
	m.FramesPublished.Inc()
	m.FrameSize.Observe(float64(size))
	m.PublishDuration.Observe(d.Seconds())
}

// FrameSkipped records a publish that lost the race for the gate.
func (m *StreamMetrics) FrameSkipped() {
	m.FramesSkipped.Inc()
}

// FrameDropped records a producer cycle that produced nothing.
func (m *StreamMetrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// FrameSent records one multipart part written to a client.
func (m *StreamMetrics) FrameSent(size int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(size))
}

// ClientAdmitted counts an admitted client.
func (m *StreamMetrics) ClientAdmitted() {
	m.ClientsAdmitted.Inc()
}

// ClientRejected counts a client rejected at capacity.
func (m *StreamMetrics) ClientRejected() {
	m.ClientsRejected.Inc()
}

// SpawnFailed counts a consumer that could not be started.
func (m *StreamMetrics) SpawnFailed() {
	m.SpawnFailures.Inc()
}

// EventDropped counts an event lost to a full queue.
func (m *StreamMetrics) EventDropped() {
	m.EventsDropped.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ActiveClients.Desc()
	ch <- m.ProducerRunning.Desc()
	ch <- m.FramesPublished.Desc()
	ch <- m.FramesSkipped.Desc()
	m.FramesDropped.Describe(ch)
	ch <- m.FramesSent.Desc()
	ch <- m.BytesSent.Desc()
	ch <- m.ClientsAdmitted.Desc()
	ch <- m.ClientsRejected.Desc()
	ch <- m.SpawnFailures.Desc()
	ch <- m.EventsDropped.Desc()
	ch <- m.FrameSize.Desc()
	ch <- m.PublishDuration.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ActiveClients
	ch <- m.ProducerRunning
	ch <- m.FramesPublished
	ch <- m.FramesSkipped
	m.FramesDropped.Collect(ch)
	ch <- m.FramesSent
	ch <- m.BytesSent
	ch <- m.ClientsAdmitted
	ch <- m.ClientsRejected
	ch <- m.SpawnFailures
	ch <- m.EventsDropped
	ch <- m.FrameSize
	ch <- m.PublishDuration
}
