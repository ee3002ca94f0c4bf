package takeoff

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ChangeHandler is called for every change event received from the broker
type ChangeHandler func(ev ChangeEvent)

// MQTTClient manages the broker connection behind the change feed
type MQTTClient struct {
	client        mqtt.Client
	publishPrefix string
	changeHandler ChangeHandler
	isConnected   bool
	mu            sync.RWMutex
}

// InitMQTT connects to the configured broker in the background. A non-nil
// handler is subscribed to the change feed on every (re)connect.
// If neither MQTT_BROKER nor mqtt.broker is set, the feed is disabled and
// this returns nil.
func InitMQTT(config *Config, handler ChangeHandler) (*MQTTClient, error) {
	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}

	broker := envOr("MQTT_BROKER", mc.Broker)
	if broker == "" {
		log.Println("[MQTT] change feed disabled: MQTT_BROKER not set")
		return nil, nil
	}

	client := &MQTTClient{publishPrefix: PublishPrefix(mc), changeHandler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := envOr("MQTT_CLIENT_ID", mc.ClientID)
	if clientID == "" {
		clientID = "takeoff"
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", mc.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(true) // events for one sheet must arrive in commit order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// PublishPrefix returns the topic prefix, MQTT_PUBLISH_PREFIX overriding the config
func PublishPrefix(mc MQTTConfig) string {
	prefix := envOr("MQTT_PUBLISH_PREFIX", mc.PublishPrefix)
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return prefix
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the change feed when a handler is registered
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	handler := c.getChangeHandler()
	if handler == nil {
		return
	}
	topic := c.publishPrefix + "/+/+/events"
	log.Printf("[MQTT] subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.createChangeMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

func (c *MQTTClient) createChangeMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("[MQTT] ignoring malformed change event on %s: %v", msg.Topic(), err)
			return
		}
		if handler := c.getChangeHandler(); handler != nil {
			handler(ev)
		}
	}
}

// SetChangeHandler registers a callback for change events published by any
// engine sharing the broker. It takes effect on the next (re)connect.
func (c *MQTTClient) SetChangeHandler(handler ChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeHandler = handler
}

func (c *MQTTClient) getChangeHandler() ChangeHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeHandler
}

// IsConnected returns true if the client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Prefix returns the topic prefix events are published under
func (c *MQTTClient) Prefix() string {
	return c.publishPrefix
}

// NewMQTTClient wraps an already configured client, such as a MockClient.
// The caller is responsible for connecting it.
func NewMQTTClient(client mqtt.Client, prefix string) *MQTTClient {
	return &MQTTClient{client: client, publishPrefix: prefix}
}

// OnConnectHandler returns the callback to install on a client built outside
// InitMQTT so that it subscribes to the change feed once connected
func (c *MQTTClient) OnConnectHandler() mqtt.OnConnectHandler {
	return c.onConnect
}
