package takeoff

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	client, err := InitMQTT(DefaultConfig(), nil)
	assert.NoError(t, err)
	assert.Nil(t, client)

	client, err = InitMQTT(nil, func(ChangeEvent) {})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestPublishPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, DefaultPublishPrefix, PublishPrefix(MQTTConfig{}))
	assert.Equal(t, "cfg", PublishPrefix(MQTTConfig{PublishPrefix: "cfg"}))

	t.Setenv("MQTT_PUBLISH_PREFIX", "env")
	assert.Equal(t, "env", PublishPrefix(MQTTConfig{PublishPrefix: "cfg"}))
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected())
	client.setConnected(true)
	assert.True(t, client.IsConnected())
	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestOnConnect_WithoutHandlerDoesNotSubscribe(t *testing.T) {
	mc := NewMockClient()
	mc.SetConnected(true)
	client := NewMQTTClient(mc, "site")

	client.onConnect(mc)

	assert.True(t, client.IsConnected())
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	assert.Empty(t, mc.handlers)
}

func TestChangeFeed_RoundTrip(t *testing.T) {
	mc := NewMockClient()
	client := NewMQTTClient(mc, "site")
	mc.SetOnConnect(client.onConnect)

	var (
		mu  sync.Mutex
		got []ChangeEvent
	)
	client.SetChangeHandler(func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, mc.Connect().Error())

	pub := NewPublisher(client.GetClient(), client.Prefix())
	require.NoError(t, pub.Publish(ChangeEvent{Op: OpCreate, Kind: KindMeasurement, ID: "m1", ProjectID: "p", SheetID: "s"}))
	// not an events topic
	mc.Publish("site/p/s/other", 1, false, []byte(`{}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

func TestChangeHandler_IgnoresMalformedPayload(t *testing.T) {
	client := &MQTTClient{}
	called := false
	client.SetChangeHandler(func(ChangeEvent) { called = true })

	handler := client.createChangeMessageHandler()
	handler(nil, &mockMessage{topic: "site/p/s/events", payload: []byte("not json")})
	assert.False(t, called)

	payload, _ := json.Marshal(ChangeEvent{Op: OpDelete})
	handler(nil, &mockMessage{topic: "site/p/s/events", payload: payload})
	assert.True(t, called)
}

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/+/+/events", "a/p/s/events", true},
		{"a/+/+/events", "a/p/events", false},
		{"a/#", "a/p/s/events", true},
		{"a/p/s/events", "a/p/s/events", true},
		{"a/p", "a/p/s", false},
	}
	for _, tt := range tests {
		if got := topicMatches(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicMatches(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
