package nav

import (
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FixHandler is called for every fix message with the session id taken
// from the topic and the raw payload
type FixHandler func(sessionID string, payload []byte)

// MQTTClient subscribes to device fixes and carries published updates
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	fixHandler  FixHandler
	isConnected bool
	mu          sync.RWMutex
}

// FixTopic is the subscription filter for device fixes: <prefix>/+/fix
func FixTopic(prefix string) string {
	return prefix + "/+/fix"
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// It returns nil when no broker is configured. Call config.ApplyEnv first
// to honour the MQTT_* environment variables.
func InitMQTT(config *Config, handler FixHandler) (*MQTTClient, error) {
	if config == nil || config.MQTT.Broker == "" {
		log.Println("[mqtt] disabled: no broker configured")
		return nil, nil
	}
	if err := config.ValidateMQTT(); err != nil {
		return nil, err
	}

	client := &MQTTClient{
		config:     config,
		fixHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)
	opts.SetClientID(config.MQTT.ClientID)
	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	// Fixes for one session must reach the filter in order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[mqtt] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[mqtt] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[mqtt] connection failed: %v", token.Error())
		} else {
			log.Println("[mqtt] connection timeout")
		}

		log.Printf("[mqtt] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the fix topic on every (re)connect
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := FixTopic(c.config.MQTT.PublishPrefix)
	log.Printf("[mqtt] subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createFixHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[mqtt] error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[mqtt] subscribed to %s", topic)
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[mqtt] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[mqtt] reconnecting...")
}

// createFixHandler routes fix messages to the handler by session id
func (c *MQTTClient) createFixHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		sessionID, ok := SessionFromTopic(c.config.MQTT.PublishPrefix, msg.Topic())
		if !ok {
			log.Printf("[mqtt] ignoring message on unexpected topic %s", msg.Topic())
			return
		}
		if c.fixHandler != nil {
			c.fixHandler(sessionID, msg.Payload())
		}
	}
}

// SessionFromTopic extracts the session id from <prefix>/<session>/fix
func SessionFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/fix")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// TopicMatches reports whether topic matches an MQTT subscription filter
// with + and # wildcards
func TopicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
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
		log.Println("[mqtt] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWith wraps an existing mqtt.Client such as a MemoryClient
func newMQTTClientWith(client mqtt.Client, config *Config, handler FixHandler) *MQTTClient {
	return &MQTTClient{
		client:     client,
		config:     config,
		fixHandler: handler,
	}
}

