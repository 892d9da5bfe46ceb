// Package report delivers update events to the places an operator looks:
// the agent log, the persistent event log and an upstream MQTT broker.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/stores"
	"github.com/edgechute/chuted/pkg/telemetry"
)

// LogReporter writes update events to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter logging through logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "events").Logger()}
}

// Attach subscribes the reporter to ep.
func (r *LogReporter) Attach(ep *telemetry.EventPublisher) {
	ep.Subscribe(r.Handle, nil)
}

// Handle logs one event at the level matching its severity.
func (r *LogReporter) Handle(event telemetry.Event) {
	var e *zerolog.Event
	switch event.Level {
	case telemetry.EventLevelError:
		e = r.logger.Error()
	case telemetry.EventLevelWarning:
		e = r.logger.Warn()
	default:
		e = r.logger.Info()
	}

	e = e.Str("event", event.Type).Str("update_id", event.UpdateID)
	if event.Chute != "" {
		e = e.Str("chute", event.Chute)
	}
	if event.Operation != "" {
		e = e.Str("operation", event.Operation)
	}
	e.Msg(event.Message)
}

// EventRecorder appends update events to the persistent event log.
type EventRecorder struct {
	store   stores.HistoryStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEventRecorder creates a recorder writing to store.
func NewEventRecorder(store stores.HistoryStore, logger zerolog.Logger) *EventRecorder {
	return &EventRecorder{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "event-log").Logger(),
	}
}

// Attach subscribes the recorder to ep. Progress events are not persisted
// because the update history already holds the messages.
func (r *EventRecorder) Attach(ep *telemetry.EventPublisher) {
	ep.Subscribe(r.Handle, func(event telemetry.Event) bool {
		return event.Type != telemetry.EventTypeUpdateProgress
	})
}

// Handle stores one event.
func (r *EventRecorder) Handle(event telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	rec := &stores.Event{
		Type:      event.Type,
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.UpdateID != "" {
		id := event.UpdateID
		rec.UpdateID = &id
	}
	if len(event.Data) > 0 {
		if details, err := json.Marshal(event.Data); err == nil {
			s := string(details)
			rec.Details = &s
		}
	}

	if err := r.store.AppendEvent(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to record event")
	}
}
