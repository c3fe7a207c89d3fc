package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/feedercam/internal/logger"
)

// EventType identifies a pipeline event.
type EventType string

// Pipeline events
const (
	EventClientAdmitted     EventType = "client_admitted"
	EventClientRejected     EventType = "client_rejected"
	EventClientDisconnected EventType = "client_disconnected"
	EventProducerSuspended  EventType = "producer_suspended"
	EventProducerResumed    EventType = "producer_resumed"
)

// Event describes a change in the pipeline. Client fields are empty for
// producer events; FramesSent and BytesSent are set on disconnect only.
type Event struct {
	Type       EventType `json:"type"`
	ClientID   string    `json:"client_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Clients    int       `json:"clients"`
	FramesSent uint64    `json:"frames_sent,omitempty"`
	BytesSent  uint64    `json:"bytes_sent,omitempty"`
	Time       time.Time `json:"time"`
}

// EventConsumer receives pipeline events. ProcessEvent runs on the event bus
// goroutine and should return quickly.
type EventConsumer interface {
	Name() string
	ProcessEvent(event Event) error
}

// EventBusStats holds event bus counters.
type EventBusStats struct {
	EventsReceived  uint64
	EventsDropped   uint64
	EventsProcessed uint64
	ConsumerErrors  uint64
}

// EventBus queues events from the pipeline goroutines and delivers them to
// consumers on a single goroutine. Publishing never blocks.
type EventBus struct {
	eventChan chan Event
	onDrop    func()

	mu        sync.RWMutex
	consumers []EventConsumer

	received  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	errs      atomic.Uint64
}

// NewEventBus returns a bus that queues up to size events.
func NewEventBus(size int) *EventBus {
	if size < 1 {
		size = 1
	}
	return &EventBus{eventChan: make(chan Event, size)}
}

// RegisterConsumer adds a consumer. Consumers registered after Run started
// only see later events.
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) {
	eb.mu.Lock()
	eb.consumers = append(eb.consumers, consumer)
	eb.mu.Unlock()
}

// TryPublish queues event without blocking. It returns false if the queue
// is full and the event was dropped.
func (eb *EventBus) TryPublish(event Event) bool {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case eb.eventChan <- event:
		eb.received.Add(1)
		return true
	default:
		eb.dropped.Add(1)
		if eb.onDrop != nil {
			eb.onDrop()
		}
		return false
	}
}

// Run delivers events until ctx ends, then drains what is already queued.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-eb.eventChan:
					eb.deliver(ev)
				default:
					return
				}
			}
		case ev := <-eb.eventChan:
			eb.deliver(ev)
		}
	}
}

func (eb *EventBus) deliver(ev Event) {
	eb.mu.RLock()
	consumers := eb.consumers
	eb.mu.RUnlock()

	for _, c := range consumers {
		if err := c.ProcessEvent(ev); err != nil {
			eb.errs.Add(1)
			GetLogger().Debug("event consumer failed",
				logger.String("consumer", c.Name()),
				logger.String("event", string(ev.Type)),
				logger.Error(err))
		}
	}
	eb.processed.Add(1)
}

// Stats returns a snapshot of the bus counters.
func (eb *EventBus) Stats() EventBusStats {
	return EventBusStats{
		EventsReceived:  eb.received.Load(),
		EventsDropped:   eb.dropped.Load(),
		EventsProcessed: eb.processed.Load(),
		ConsumerErrors:  eb.errs.Load(),
	}
}

// EventConsumerFunc adapts a function to EventConsumer.
type EventConsumerFunc struct {
	ConsumerName string
	Fn           func(Event) error
}

// Name implements EventConsumer.
func (f EventConsumerFunc) Name() string { return f.ConsumerName }

// ProcessEvent implements EventConsumer.
func (f EventConsumerFunc) ProcessEvent(ev Event) error { return f.Fn(ev) }
