package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/telemetry"
)

// MQTTConfig configures the connection to the upstream broker.
type MQTTConfig struct {
	Broker         string        `yaml:"broker" validate:"required,url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Broker is the part of an MQTT connection the reporter needs.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler paho.MessageHandler) error
	IsConnected() bool
}

// Client wraps a paho client with bounded waits on every token.
type Client struct {
	client  paho.Client
	qos     byte
	timeout time.Duration
	mu      sync.Mutex
}

// NewClient creates a client but does not connect.
func NewClient(cfg MQTTConfig, logger zerolog.Logger) *Client {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			logger.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	return &Client{
		client:  paho.NewClient(opts),
		qos:     cfg.QoS,
		timeout: timeout,
	}
}

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wait(c.client.Connect(), "connect")
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	return c.wait(c.client.Publish(topic, c.qos, retained, payload), "publish "+topic)
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wait(c.client.Subscribe(topic, c.qos, handler), "subscribe "+topic)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.Disconnect(1000)
}

func (c *Client) wait(token paho.Token, what string) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt %s: timed out after %s", what, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", what, err)
	}
	return nil
}

// Status is the document published for every finished update. It is
// retained so a controller that connects late still sees the last result.
type Status struct {
	RouterID   string    `json:"router_id"`
	UpdateID   string    `json:"update_id"`
	UpdateType string    `json:"update_type"`
	Chute      string    `json:"chute"`
	State      string    `json:"state"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// MQTTReporter forwards update events to the broker under
// <prefix>/<router>/... topics.
type MQTTReporter struct {
	broker   Broker
	prefix   string
	routerID string
	logger   zerolog.Logger
}

// NewMQTTReporter creates a reporter publishing through broker.
func NewMQTTReporter(broker Broker, prefix, routerID string, logger zerolog.Logger) *MQTTReporter {
	if prefix == "" {
		prefix = "chuted"
	}
	return &MQTTReporter{
		broker:   broker,
		prefix:   strings.TrimSuffix(prefix, "/"),
		routerID: routerID,
		logger:   logger.With().Str("component", "mqtt-reporter").Logger(),
	}
}

// Topic joins parts below the router's topic root.
func (r *MQTTReporter) Topic(parts ...string) string {
	return strings.Join(append([]string{r.prefix, r.routerID}, parts...), "/")
}

// Attach subscribes the reporter to ep.
func (r *MQTTReporter) Attach(ep *telemetry.EventPublisher) {
	ep.Subscribe(r.Handle, nil)
}

// Handle publishes one event. Every event goes to the events topic and a
// finished update additionally updates its retained status topic. Publish
// failures are logged and otherwise ignored.
func (r *MQTTReporter) Handle(event telemetry.Event) {
	if !r.broker.IsConnected() {
		r.logger.Debug().Str("event", event.Type).Msg("broker not connected, dropping event")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	if err := r.broker.Publish(r.Topic("events"), payload, false); err != nil {
		r.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish event")
	}

	if event.Type != telemetry.EventTypeUpdateFinished {
		return
	}

	status := Status{
		RouterID:   r.routerID,
		UpdateID:   event.UpdateID,
		UpdateType: event.UpdateType,
		Chute:      event.Chute,
		Message:    event.Message,
		Timestamp:  event.Timestamp,
	}
	if state, ok := event.Data["state"].(string); ok {
		status.State = state
	}
	if secs, ok := event.Data["duration"].(float64); ok {
		status.DurationMS = int64(secs * 1000)
	}

	payload, err = json.Marshal(status)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode status")
		return
	}
	if err := r.broker.Publish(r.Topic("updates", event.UpdateID), payload, true); err != nil {
		r.logger.Warn().Err(err).Str("update_id", event.UpdateID).Msg("failed to publish status")
	}
}

// RequestHandler receives update requests delivered over MQTT.
type RequestHandler func(payload []byte) error

// ListenRequests subscribes to the router's request topic and passes every
// message payload to handle.
func (r *MQTTReporter) ListenRequests(handle RequestHandler) error {
	topic := r.Topic("requests")
	return r.broker.Subscribe(topic, func(_ paho.Client, msg paho.Message) {
		if err := handle(msg.Payload()); err != nil {
			r.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("rejected request")
		}
	})
}
