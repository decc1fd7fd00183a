package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/services"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	event   Event
}

type fakeClient struct {
	messages []published
	err      error
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var event Event
	if err := json.Unmarshal(message.([]byte), &event); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	f.messages = append(f.messages, published{channel: channel, event: event})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeClient) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	panic("not used")
}

func TestEventBus_PublishAlert(t *testing.T) {
	client := &fakeClient{}
	bus := NewEventBus(client, "", "instance-a", nil)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alert := domain.Alert{
		ID:        "alert_1",
		Type:      domain.AlertPacketLoss,
		Severity:  domain.SeverityCritical,
		Value:     9,
		Threshold: 8,
		Timestamp: ts,
	}
	require.NoError(t, bus.PublishAlert(context.Background(), "call-1", alert))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, DefaultChannel, msg.channel)
	assert.Equal(t, EventAlert, msg.event.Type)
	assert.Equal(t, "instance-a", msg.event.InstanceID)
	assert.Equal(t, domain.SessionID("call-1"), msg.event.SessionID)
	assert.True(t, ts.Equal(msg.event.Timestamp))

	var decoded domain.Alert
	require.NoError(t, json.Unmarshal(msg.event.Payload, &decoded))
	assert.Equal(t, alert.Type, decoded.Type)
	assert.Equal(t, alert.Value, decoded.Value)
}

func TestEventBus_PublishError(t *testing.T) {
	bus := NewEventBus(&fakeClient{err: errors.New("connection refused")}, "events", "a", nil)

	err := bus.PublishQualityChange(context.Background(), "call-1", domain.QualityChange{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestEventBus_AttachForwardsEngineEvents(t *testing.T) {
	client := &fakeClient{}
	bus := NewEventBus(client, "events", "instance-a", nil)

	engine := services.NewEngine(services.DefaultEngineConfig())
	bus.Attach("call-1", engine)

	_, err := engine.Update(context.Background(), &domain.MetricSample{
		PacketLoss: domain.Float(9),
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)
	bus.Detach("call-1", engine)

	var types []EventType
	for _, m := range client.messages {
		assert.Equal(t, "events", m.channel)
		types = append(types, m.event.Type)
	}
	// packet loss and estimated MOS alerts, then the level change
	assert.Equal(t, []EventType{
		EventSessionCreated,
		EventAlert,
		EventAlert,
		EventQualityChange,
		EventSessionClosed,
	}, types)
}

func TestEventBus_DispatchSkipsOwnAndMalformed(t *testing.T) {
	bus := NewEventBus(&fakeClient{}, "", "instance-a", nil)

	var got []*Event
	handler := func(e *Event) error {
		got = append(got, e)
		return nil
	}

	own, _ := json.Marshal(Event{Type: EventAlert, InstanceID: "instance-a"})
	other, _ := json.Marshal(Event{Type: EventQualityChange, InstanceID: "instance-b", SessionID: "call-9"})

	bus.dispatch(string(own), handler)
	bus.dispatch("{not json", handler)
	bus.dispatch(string(other), handler)

	require.Len(t, got, 1)
	assert.Equal(t, EventQualityChange, got[0].Type)
	assert.Equal(t, domain.SessionID("call-9"), got[0].SessionID)
}
