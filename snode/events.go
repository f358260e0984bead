package snode

import "sync"

// Event is a process-wide notification for the application layer.
type Event int

const (
	EventClockOutOfSync Event = iota
	EventCalculatingPoW
	EventSendingMessage
)

func (e Event) String() string {
	switch e {
	case EventClockOutOfSync:
		return "clockOutOfSync"
	case EventCalculatingPoW:
		return "calculatingPoW"
	case EventSendingMessage:
		return "sendingMessage"
	default:
		return "unknown"
	}
}

// EventHandler receives an event with the related message timestamp (ms),
// zero when not tied to a message.
type EventHandler func(ev Event, timestamp uint64)

type broadcaster struct {
	mutex    sync.RWMutex
	handlers []EventHandler
}

func (b *broadcaster) subscribe(h EventHandler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *broadcaster) broadcast(ev Event, timestamp uint64) {
	b.mutex.RLock()
	handlers := b.handlers
	b.mutex.RUnlock()

	for _, h := range handlers {
		h(ev, timestamp)
	}
}
