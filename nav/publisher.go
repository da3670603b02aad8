package nav

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher forwards session updates to MQTT:
//
//	<prefix>/<session>/position     SmoothedPosition
//	<prefix>/<session>/progress     RouteProgress, when a route is active
//	<prefix>/<session>/instruction  DirectionStep, when a route is active
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          map[string]SessionUpdate
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. If client is nil, publishing fails with
// an error but updates are still remembered.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "wayfinder"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget, the next fix supersedes
		retain:        true, // late subscribers get the latest state
		last:          make(map[string]SessionUpdate),
	}
}

// PublishUpdate publishes one update to the session's topics
func (p *Publisher) PublishUpdate(update SessionUpdate) error {
	p.mu.Lock()
	p.last[update.SessionID] = update
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publish(p.topic(update.SessionID, "position"), update.Position); err != nil {
		return err
	}
	if update.Progress != nil {
		if err := p.publish(p.topic(update.SessionID, "progress"), update.Progress); err != nil {
			return err
		}
	}
	if update.Instruction != nil {
		if err := p.publish(p.topic(update.SessionID, "instruction"), update.Instruction); err != nil {
			return err
		}
	}

	log.Printf("[mqtt] published position for %s: (%.6f, %.6f) heading=%.0f°",
		update.SessionID, update.Position.Lat, update.Position.Lng, update.Position.Heading)
	return nil
}

func (p *Publisher) topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.publishPrefix, sessionID, kind)
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastUpdate returns the last update seen for a session
func (p *Publisher) LastUpdate(sessionID string) (SessionUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.last[sessionID]
	return u, ok
}

// ClearSession forgets a session and clears its retained messages
func (p *Publisher) ClearSession(sessionID string) {
	p.mu.Lock()
	delete(p.last, sessionID)
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return
	}
	for _, kind := range []string{"position", "progress", "instruction"} {
		// an empty retained payload deletes the retained message
		p.client.Publish(p.topic(sessionID, kind), p.qos, true, []byte{})
	}
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
