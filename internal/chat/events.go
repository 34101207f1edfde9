package chat

import (
	"sync"

	"nanograph/internal/gemini"
)

type EventType string

const (
	EventMessage EventType = "message"
	EventBusy    EventType = "busy"
	EventConfig  EventType = "config"
)

type Event struct {
	Type    EventType               `json:"type"`
	Message *Message                `json:"message,omitempty"`
	Busy    bool                    `json:"busy"`
	Config  gemini.GenerationConfig `json:"config"`
}

const subscriberBuffer = 64

// Subscribe returns a feed of transcript, busy and config changes. A slow
// subscriber misses events rather than stalling the conversation; it can
// resync from Messages. The returned func unsubscribes and closes the feed.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(ev Event) {
	if ev.Type != EventConfig {
		ev.Config = c.Config()
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
