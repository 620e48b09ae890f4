// Package events is the in-process broadcast fabric between the game layer
// and the websocket hub.
package events

import "sync"

// EventType represents the type of event
type EventType string

// Define event types
const (
	// EventGameUpdate carries a full game message for a game channel.
	EventGameUpdate EventType = "GAME_UPDATE"
	// EventGameEnded tells a game channel the game no longer accepts moves.
	EventGameEnded EventType = "GAME_ENDED"
	// EventNotify delivers a named notification to a personal or room channel.
	EventNotify EventType = "NOTIFY"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Channel string // game channel, personal channel or invite room
	Name    string // wire event name, only for EventNotify
	Payload interface{}
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// Publish broadcasts an event to all subscribers. Handlers run on their own
// goroutines: delivery is fire-and-forget and a slow subscriber can never
// stall the caller.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
