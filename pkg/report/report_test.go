package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/stores"
	"github.com/edgechute/chuted/pkg/telemetry"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBroker struct {
	mu            sync.Mutex
	connected     bool
	publishErr    error
	published     []published
	subscriptions map[string]paho.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: true, subscriptions: make(map[string]paho.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler paho.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[topic] = handler
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	handler, ok := b.subscriptions[topic]
	b.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type fakeHistory struct {
	stores.HistoryStore
	events []*stores.Event
	err    error
}

func (f *fakeHistory) AppendEvent(ctx context.Context, event *stores.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newPublisher(t *testing.T) *telemetry.EventPublisher {
	t.Helper()
	ep, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	return ep
}

func TestMQTTReporterTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "chuted/r1/events"},
		{prefix: "fleet/", want: "fleet/r1/events"},
		{prefix: "a/b", want: "a/b/r1/events"},
	}
	for _, tt := range tests {
		r := NewMQTTReporter(newFakeBroker(), tt.prefix, "r1", zerolog.Nop())
		if got := r.Topic("events"); got != tt.want {
			t.Errorf("Topic(%q) = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestMQTTReporterPublishesUpdateStatus(t *testing.T) {
	broker := newFakeBroker()
	ep := newPublisher(t)
	NewMQTTReporter(broker, "chuted", "r1", zerolog.Nop()).Attach(ep)

	_ = ep.PublishUpdateStarted("u1", "create", "web")
	_ = ep.PublishUpdateFinished("u1", "create", "web", "completed", "create web completed", 1500*time.Millisecond)

	if len(broker.published) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(broker.published))
	}
	for _, p := range broker.published[:2] {
		if p.topic != "chuted/r1/events" || p.retained {
			t.Errorf("unexpected event message %s retained=%v", p.topic, p.retained)
		}
	}

	last := broker.published[2]
	if last.topic != "chuted/r1/updates/u1" || !last.retained {
		t.Fatalf("status message = %s retained=%v", last.topic, last.retained)
	}
	var status Status
	if err := json.Unmarshal(last.payload, &status); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if status.State != "completed" || status.Chute != "web" || status.DurationMS != 1500 || status.RouterID != "r1" {
		t.Errorf("status = %+v", status)
	}
}

func TestMQTTReporterDisconnectedDropsEvents(t *testing.T) {
	broker := newFakeBroker()
	broker.connected = false
	r := NewMQTTReporter(broker, "", "r1", zerolog.Nop())

	r.Handle(telemetry.Event{Type: telemetry.EventTypeUpdateFinished, UpdateID: "u1"})
	if len(broker.published) != 0 {
		t.Errorf("nothing should be published while disconnected, got %d", len(broker.published))
	}
}

func TestMQTTReporterPublishErrorIsNotFatal(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errors.New("broker gone")
	r := NewMQTTReporter(broker, "", "r1", zerolog.Nop())

	r.Handle(telemetry.Event{Type: telemetry.EventTypeUpdateFinished, UpdateID: "u1"})
}

func TestListenRequests(t *testing.T) {
	broker := newFakeBroker()
	r := NewMQTTReporter(broker, "chuted", "r1", zerolog.Nop())

	var got [][]byte
	if err := r.ListenRequests(func(payload []byte) error {
		got = append(got, payload)
		if string(payload) == "bad" {
			return errors.New("bad request")
		}
		return nil
	}); err != nil {
		t.Fatalf("ListenRequests failed: %v", err)
	}

	broker.deliver("chuted/r1/requests", []byte(`{"type":"reboot"}`))
	broker.deliver("chuted/r1/requests", []byte("bad"))
	broker.deliver("chuted/r2/requests", []byte("other router"))

	if len(got) != 2 {
		t.Fatalf("handler called %d times, want 2", len(got))
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(zerolog.New(&buf))

	r.Handle(telemetry.Event{
		Type:      telemetry.EventTypeOperationFailed,
		UpdateID:  "u1",
		Chute:     "web",
		Operation: "runtime.start",
		Message:   "execute runtime.start failed: boom",
		Level:     telemetry.EventLevelError,
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	want := map[string]string{
		"level":     "error",
		"event":     telemetry.EventTypeOperationFailed,
		"chute":     "web",
		"operation": "runtime.start",
		"component": "events",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %s", k, line[k], v)
		}
	}
}

func TestEventRecorder(t *testing.T) {
	history := &fakeHistory{}
	ep := newPublisher(t)
	NewEventRecorder(history, zerolog.Nop()).Attach(ep)

	_ = ep.PublishUpdateStarted("u1", "create", "web")
	_ = ep.PublishProgress("u1", "web", "Started web.")
	_ = ep.PublishOperationFailed("u1", "web", "runtime.start", "execute", "boom")

	if len(history.events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(history.events))
	}
	failed := history.events[1]
	if failed.UpdateID == nil || *failed.UpdateID != "u1" {
		t.Errorf("update id = %v", failed.UpdateID)
	}
	if failed.Details == nil || !strings.Contains(*failed.Details, `"reason":"boom"`) {
		t.Errorf("details = %v", failed.Details)
	}
}

func TestEventRecorderStoreError(t *testing.T) {
	history := &fakeHistory{err: errors.New("disk full")}
	r := NewEventRecorder(history, zerolog.Nop())
	r.Handle(telemetry.Event{Type: telemetry.EventTypeUpdateStarted})
	if len(history.events) != 0 {
		t.Error("no event should be stored")
	}
}
