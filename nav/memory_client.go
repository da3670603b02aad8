package nav

import (
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an mqtt.Token that has already completed
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is one publish seen by a MemoryClient
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MemoryClient is an in-process mqtt.Client. It records every publish,
// keeps the last retained payload per topic and loops published messages
// back to matching subscriptions, so a publisher and an ingest handler can
// be wired together without a broker.
type MemoryClient struct {
	mu        sync.Mutex
	connected bool
	onConnect mqtt.OnConnectHandler

	connectErr   error
	publishErr   error
	subscribeErr error

	subs      map[string]mqtt.MessageHandler
	published []Message
	retained  map[string][]byte
}

// NewMemoryClient returns a disconnected client
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		subs:     make(map[string]mqtt.MessageHandler),
		retained: make(map[string][]byte),
	}
}

func (c *MemoryClient) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// FailConnect makes Connect return err until cleared with nil
func (c *MemoryClient) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// FailPublish makes Publish return err until cleared with nil
func (c *MemoryClient) FailPublish(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

// FailSubscribe makes Subscribe return err until cleared with nil
func (c *MemoryClient) FailSubscribe(err error) {
	c.mu.Lock()
	c.subscribeErr = err
	c.mu.Unlock()
}

// OnConnect registers a handler run, in its own goroutine, after Connect
func (c *MemoryClient) OnConnect(handler mqtt.OnConnectHandler) {
	c.mu.Lock()
	c.onConnect = handler
	c.mu.Unlock()
}

// Published returns every accepted publish, oldest first
func (c *MemoryClient) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// PublishedTo returns the publishes on one topic, oldest first
func (c *MemoryClient) PublishedTo(topic string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Retained returns the retained payload for topic
func (c *MemoryClient) Retained(topic string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.retained[topic]
	return p, ok
}

// Subscriptions lists the active filters, sorted
func (c *MemoryClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	return filters
}

// Deliver hands an inbound message to every matching subscription and
// returns how many handlers ran. It works regardless of connection state.
func (c *MemoryClient) Deliver(topic string, payload []byte) int {
	handlers := c.matching(topic)
	for _, h := range handlers {
		h(c, &memoryMessage{topic: topic, payload: payload})
	}
	return len(handlers)
}

func (c *MemoryClient) matching(topic string) []mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	filters := make([]string, 0, len(c.subs))
	for f, h := range c.subs {
		if h != nil && TopicMatches(f, topic) {
			filters = append(filters, f)
		}
	}
	sort.Strings(filters)
	handlers := make([]mqtt.MessageHandler, len(filters))
	for i, f := range filters {
		handlers[i] = c.subs[f]
	}
	return handlers
}

func (c *MemoryClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MemoryClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *MemoryClient) Connect() mqtt.Token {
	c.mu.Lock()
	err := c.connectErr
	handler := c.onConnect
	if err == nil {
		c.connected = true
	}
	c.mu.Unlock()

	if err == nil && handler != nil {
		go handler(c)
	}
	return doneToken{err: err}
}

func (c *MemoryClient) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

// Publish records the message and loops it back to matching subscriptions.
// A retained publish with an empty payload clears the retained message.
func (c *MemoryClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	}

	c.mu.Lock()
	switch {
	case !c.connected:
		c.mu.Unlock()
		return doneToken{err: mqtt.ErrNotConnected}
	case c.publishErr != nil:
		err := c.publishErr
		c.mu.Unlock()
		return doneToken{err: err}
	}
	c.published = append(c.published, Message{Topic: topic, Payload: body, QoS: qos, Retained: retained})
	if retained {
		if len(body) == 0 {
			delete(c.retained, topic)
		} else {
			c.retained[topic] = body
		}
	}
	c.mu.Unlock()

	if len(body) > 0 {
		c.Deliver(topic, body)
	}
	return doneToken{}
}

func (c *MemoryClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

func (c *MemoryClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return doneToken{err: mqtt.ErrNotConnected}
	}
	if c.subscribeErr != nil {
		return doneToken{err: c.subscribeErr}
	}
	for f := range filters {
		c.subs[f] = callback
	}
	return doneToken{}
}

func (c *MemoryClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return doneToken{}
}

func (c *MemoryClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
}

func (c *MemoryClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type memoryMessage struct {
	topic   string
	payload []byte
}

func (m *memoryMessage) Duplicate() bool   { return false }
func (m *memoryMessage) Qos() byte         { return 0 }
func (m *memoryMessage) Retained() bool    { return false }
func (m *memoryMessage) Topic() string     { return m.topic }
func (m *memoryMessage) MessageID() uint16 { return 0 }
func (m *memoryMessage) Payload() []byte   { return m.payload }
func (m *memoryMessage) Ack()              {}
