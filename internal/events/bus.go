package events

import (
	"sync"

	"go.uber.org/zap"
)

const defaultBufferSize = 256

// Publisher is the write side handed to services.
type Publisher interface {
	Publish(event Event)
}

// Bus is a single-consumer buffered channel of events. Publish never blocks:
// when the buffer is full the event is dropped and logged.
type Bus struct {
	mu     sync.RWMutex
	stream chan Event
	closed bool
	logger *zap.Logger
}

// NewBus creates a bus with the given buffer size.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		stream: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Publish enqueues the event for the consumer.
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.stream <- event:
	default:
		b.logger.Warn("event dropped", zap.String("event", Name(event)), zap.Int("buffer", cap(b.stream)))
	}
}

// Events exposes the receive side. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.stream
}

// Close stops accepting events and closes the stream. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stream)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// NopPublisher discards everything.
func NopPublisher() Publisher {
	return nopPublisher{}
}
