package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable moment in the life of an update.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// UpdateID is the associated update, if any.
	UpdateID string `json:"update_id,omitempty"`

	// UpdateType is the kind of update.
	UpdateType string `json:"update_type,omitempty"`

	// Chute is the chute the update acts on.
	Chute string `json:"chute,omitempty"`

	// Operation is the plan operation involved, if any.
	Operation string `json:"operation,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeUpdateStarted   = "update.started"
	EventTypeUpdateFinished  = "update.finished"
	EventTypeUpdateProgress  = "update.progress"
	EventTypeOperationFailed = "operation.failed"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans update events out to subscribers such as the MQTT
// reporter. A nil *EventPublisher is valid and drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish delivers an event to all matching subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishUpdateStarted publishes an update started event.
func (ep *EventPublisher) PublishUpdateStarted(updateID, updateType, chute string) error {
	return ep.Publish(Event{
		Type:       EventTypeUpdateStarted,
		UpdateID:   updateID,
		UpdateType: updateType,
		Chute:      chute,
		Message:    fmt.Sprintf("%s %s started", updateType, chute),
		Level:      EventLevelInfo,
	})
}

// PublishUpdateFinished publishes the final state of an update.
func (ep *EventPublisher) PublishUpdateFinished(updateID, updateType, chute, state, message string, duration time.Duration) error {
	level := EventLevelInfo
	switch state {
	case "restored", "rejected":
		level = EventLevelWarning
	case "fatal":
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:       EventTypeUpdateFinished,
		UpdateID:   updateID,
		UpdateType: updateType,
		Chute:      chute,
		Message:    message,
		Level:      level,
		Data: map[string]interface{}{
			"state":    state,
			"duration": duration.Seconds(),
		},
	})
}

// PublishProgress publishes a progress message for an update.
func (ep *EventPublisher) PublishProgress(updateID, chute, message string) error {
	return ep.Publish(Event{
		Type:     EventTypeUpdateProgress,
		UpdateID: updateID,
		Chute:    chute,
		Message:  message,
		Level:    EventLevelInfo,
	})
}

// PublishOperationFailed publishes a failed plan or abort operation.
func (ep *EventPublisher) PublishOperationFailed(updateID, chute, operation, phase, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeOperationFailed,
		UpdateID:  updateID,
		Chute:     chute,
		Operation: operation,
		Message:   fmt.Sprintf("%s %s failed: %s", phase, operation, reason),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"phase":  phase,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain what is already buffered
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent calls subscribers in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
