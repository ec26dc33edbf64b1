// Package events provides in-process publish/subscribe delivery of state
// change notifications. Handlers stream them to clients over SSE; slow
// subscribers drop events rather than stall publishers.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// Event types published by the services.
const (
	EventTypeAgentRegistered = "agent.registered"
	EventTypeAgentState      = "agent.state"
	EventTypeAgentOffline    = "agent.offline"

	EventTypeCampaignState = "campaign.state"
	EventTypeAttackState   = "attack.state"

	EventTypeTaskAssigned  = "task.assigned"
	EventTypeTaskProgress  = "task.progress"
	EventTypeTaskState     = "task.state"
	EventTypeTaskAbandoned = "task.abandoned"

	EventTypeCrackRecorded    = "crack.recorded"
	EventTypeHashListComplete = "hash_list.complete"
)

// GlobalChannel carries every published event; dashboards subscribe here.
const GlobalChannel = "global"

// CampaignChannel returns the channel name scoped to one campaign.
func CampaignChannel(campaignID string) string {
	return "campaign:" + campaignID
}

// AgentChannel returns the channel name scoped to one agent.
func AgentChannel(agentID int64) string {
	return fmt.Sprintf("agent:%d", agentID)
}

// Event is a single published notification.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscription is one subscriber's view of the broker. Receive from C;
// call Close when done.
type Subscription struct {
	C chan Event

	broker   *Broker
	id       int
	channels map[string]bool
	once     sync.Once
}

// Close detaches the subscription from the broker and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.C)
	})
}

// Broker fans published events out to subscribers.
type Broker struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*Subscription
	bufSize int
}

// NewBroker creates a broker; bufSize bounds each subscriber's queue.
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broker{
		subs:    make(map[int]*Subscription),
		bufSize: bufSize,
	}
}

// Subscribe registers a subscriber for the given channels. Subscribing to
// GlobalChannel delivers everything.
func (b *Broker) Subscribe(channels ...string) *Subscription {
	chans := make(map[string]bool, len(channels))
	for _, c := range channels {
		chans[c] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		C:        make(chan Event, b.bufSize),
		broker:   b,
		id:       b.nextID,
		channels: chans,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
}

// Publish delivers the event to every matching subscriber. A subscriber
// whose queue is full misses the event; publishers never block.
func (b *Broker) Publish(eventType, channel string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			debug.Error("failed to marshal event payload: type=%s error=%v", eventType, err)
			return
		}
		raw = data
	}

	evt := Event{
		Type:      eventType,
		Channel:   channel,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.channels[GlobalChannel] && !sub.channels[channel] {
			continue
		}
		select {
		case sub.C <- evt:
		default:
			debug.Warning("dropping event for slow subscriber: type=%s channel=%s", eventType, channel)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
