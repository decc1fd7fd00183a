package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "callpulse:events"

// EventType represents the type of event
type EventType string

const (
	EventAlert          EventType = "quality.alert"
	EventQualityChange  EventType = "quality.changed"
	EventSessionCreated EventType = "session.created"
	EventSessionClosed  EventType = "session.closed"
)

// Event is the envelope published on the channel.
type Event struct {
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	SessionID  domain.SessionID `json:"session_id"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// Client is the part of go-redis the bus uses; *redis.Client and
// redis.UniversalClient satisfy it.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// EventBus fans engine events out to other instances over Redis pub/sub.
type EventBus struct {
	client         Client
	instanceID     string
	channel        string
	logger         *zap.SugaredLogger
	publishTimeout time.Duration
}

func NewEventBus(client Client, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:         client,
		instanceID:     instanceID,
		channel:        channel,
		logger:         logger,
		publishTimeout: 2 * time.Second,
	}
}

// Publish stamps and publishes an event.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	ctx, span := tracing.TracePublish(ctx, string(event.Type), string(event.SessionID))
	defer span.End()

	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"session_id", event.SessionID,
	)
	return nil
}

func (eb *EventBus) PublishAlert(ctx context.Context, sessionID domain.SessionID, alert domain.Alert) error {
	return eb.publishPayload(ctx, EventAlert, sessionID, alert.Timestamp, alert)
}

func (eb *EventBus) PublishQualityChange(ctx context.Context, sessionID domain.SessionID, change domain.QualityChange) error {
	return eb.publishPayload(ctx, EventQualityChange, sessionID, change.Timestamp, change)
}

func (eb *EventBus) publishPayload(ctx context.Context, t EventType, sessionID domain.SessionID, ts time.Time, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return eb.Publish(ctx, &Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: ts,
		Payload:   payload,
	})
}

// Attach forwards an engine's alerts and quality changes to the bus and
// announces the session. It matches services.SessionHook.
func (eb *EventBus) Attach(id domain.SessionID, engine ports.QualityEngine) {
	eb.publishDetached(&Event{Type: EventSessionCreated, SessionID: id})

	engine.OnAlert(func(alert domain.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), eb.publishTimeout)
		defer cancel()
		if err := eb.PublishAlert(ctx, id, alert); err != nil {
			eb.logger.Warnw("failed to publish alert", "session_id", id, "error", err)
		}
	})
	engine.OnQualityChange(func(change domain.QualityChange) {
		ctx, cancel := context.WithTimeout(context.Background(), eb.publishTimeout)
		defer cancel()
		if err := eb.PublishQualityChange(ctx, id, change); err != nil {
			eb.logger.Warnw("failed to publish quality change", "session_id", id, "error", err)
		}
	})
}

// Detach announces the end of a session. It matches services.SessionHook.
func (eb *EventBus) Detach(id domain.SessionID, _ ports.QualityEngine) {
	eb.publishDetached(&Event{Type: EventSessionClosed, SessionID: id})
}

func (eb *EventBus) publishDetached(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eb.publishTimeout)
	defer cancel()
	if err := eb.Publish(ctx, event); err != nil {
		eb.logger.Warnw("failed to publish session event",
			"type", event.Type,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

// Subscribe delivers events from other instances to handler until ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event",
			"type", event.Type,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

var _ ports.EventPublisher = (*EventBus)(nil)
