package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/stream"
)

func decodeStatus(t *testing.T, payload []byte) StatusMessage {
	t.Helper()
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func newTestPublisher(t *testing.T, broker *fakeBroker) *Publisher {
	t.Helper()
	src := staticStatus{Clients: 2, MaxClients: 4, Producer: "running", Seq: 41, Camera: "testpattern"}
	return NewPublisher(testConfig(), "feeder", src, newTestMetrics(t), withBroker(broker))
}

func TestPublisherAnnouncesOnConnect(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)

	require.NoError(t, p.Start(context.Background()))
	broker.settle()

	msgs := broker.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "garden/feeder/status", msgs[0].topic)
	assert.True(t, msgs[0].retain)

	msg := decodeStatus(t, msgs[0].payload)
	assert.Equal(t, "feeder", msg.Node)
	assert.True(t, msg.Online)
	assert.Empty(t, msg.Event)
	require.NotNil(t, msg.Status)
	assert.Equal(t, 2, msg.Clients)
	assert.Equal(t, uint64(41), msg.Seq)

	opts := broker.options()
	will := decodeStatus(t, opts.WillPayload)
	assert.Equal(t, "feeder", will.Node)
	assert.False(t, will.Online)
	assert.Nil(t, will.Status)

	p.Stop(context.Background())
}

func TestPublisherProcessEvent(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)
	require.NoError(t, p.Start(context.Background()))
	broker.settle()

	at := time.Date(2026, 5, 1, 6, 30, 0, 0, time.UTC)
	for _, typ := range []stream.EventType{stream.EventClientAdmitted, stream.EventProducerSuspended} {
		require.NoError(t, p.ProcessEvent(stream.Event{Type: typ, ClientID: "c1", Time: at}))
	}

	msgs := broker.messages()
	require.Len(t, msgs, 3)
	first := decodeStatus(t, msgs[1].payload)
	assert.Equal(t, stream.EventClientAdmitted, first.Event)
	assert.True(t, at.Equal(first.Time))
	assert.Equal(t, "running", first.Producer)
	assert.Equal(t, stream.EventProducerSuspended, decodeStatus(t, msgs[2].payload).Event)

	p.Stop(context.Background())
}

func TestPublisherNotConnected(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)

	err := p.ProcessEvent(stream.Event{Type: stream.EventClientRejected, Time: time.Now()})
	require.Error(t, err)
	assert.Empty(t, broker.messages())

	// never connected: nothing to publish or disconnect
	p.Stop(context.Background())
	assert.Zero(t, broker.disconnects)
}

func TestPublisherStopPublishesOffline(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)
	require.NoError(t, p.Start(context.Background()))
	broker.settle()

	p.Stop(context.Background())

	msgs := broker.messages()
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.True(t, last.retain)
	assert.JSONEq(t, `{"node":"feeder","online":false}`, string(last.payload))
	assert.Equal(t, 1, broker.disconnects)
}

func TestPublisherAnnouncesAfterReconnect(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)
	require.NoError(t, p.Start(context.Background()))
	broker.settle()

	broker.dropConnection()
	require.Error(t, p.ProcessEvent(stream.Event{Type: stream.EventClientDisconnected, Time: time.Now()}))

	broker.reconnect()

	msgs := broker.messages()
	require.Len(t, msgs, 2)
	msg := decodeStatus(t, msgs[1].payload)
	assert.True(t, msg.Online)
	assert.Empty(t, msg.Event)

	p.Stop(context.Background())
}

func TestPublisherAsEventConsumer(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(t, broker)
	require.NoError(t, p.Start(context.Background()))
	broker.settle()

	bus := stream.NewEventBus(8)
	bus.RegisterConsumer(p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Run(ctx)
	}()

	require.True(t, bus.TryPublish(stream.Event{Type: stream.EventProducerResumed, Time: time.Now()}))
	assert.Eventually(t, func() bool { return len(broker.messages()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "mqtt", p.Name())
	p.Stop(context.Background())
}
