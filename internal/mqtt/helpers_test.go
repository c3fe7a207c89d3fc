package mqtt

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/observability/metrics"
	"github.com/tphakala/feedercam/internal/stream"
)

var errTestConnectionLost = errors.NewStd("connection reset by peer")

// fakeToken is a completed (or never completing) paho token.
type fakeToken struct {
	err      error
	timedOut bool
}

func (t fakeToken) Wait() bool                     { return !t.timedOut }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timedOut {
		close(ch)
	}
	return ch
}

type publishedMessage struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeBroker stands in for a paho client. Unused paho methods panic through
// the nil embedded interface.
type fakeBroker struct {
	mqtt.Client

	mu          sync.Mutex
	callbacks   sync.WaitGroup
	opts        *mqtt.ClientOptions
	connected   bool
	connectTok  fakeToken
	publishTok  fakeToken
	published   []publishedMessage
	disconnects int
}

func (f *fakeBroker) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	return f
}

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	tok := f.connectTok
	if tok.err == nil && !tok.timedOut {
		f.connected = true
	}
	onConnect := f.opts.OnConnect
	f.mu.Unlock()

	if f.IsConnected() && onConnect != nil {
		f.callbacks.Go(func() { onConnect(f) })
	}
	return tok
}

// settle waits for connect callbacks started by Connect.
func (f *fakeBroker) settle() {
	f.callbacks.Wait()
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishTok.err == nil && !f.publishTok.timedOut {
		f.published = append(f.published, publishedMessage{
			topic:   topic,
			qos:     qos,
			retain:  retained,
			payload: payload.([]byte),
		})
	}
	return f.publishTok
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

// dropConnection simulates a lost connection without a disconnect.
func (f *fakeBroker) dropConnection() {
	f.mu.Lock()
	lost := f.opts.OnConnectionLost
	f.connected = false
	f.mu.Unlock()
	lost(f, errTestConnectionLost)
}

// reconnect simulates paho's automatic reconnect.
func (f *fakeBroker) reconnect() {
	f.mu.Lock()
	reconnecting := f.opts.OnReconnecting
	onConnect := f.opts.OnConnect
	opts := f.opts
	f.mu.Unlock()

	reconnecting(f, opts)
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	onConnect(f)
}

func (f *fakeBroker) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func (f *fakeBroker) options() *mqtt.ClientOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func withBroker(f *fakeBroker) ClientOption {
	return func(c *client) { c.newPaho = f.factory }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ClientID = "feeder-test"
	cfg.Topic = "garden/feeder"
	return cfg
}

func newTestMetrics(t interface{ Fatalf(string, ...any) }) *metrics.MQTTMetrics {
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return m
}

type staticStatus stream.Status

func (s staticStatus) Status() stream.Status { return stream.Status(s) }
