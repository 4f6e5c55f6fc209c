package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrPublisherClosed is returned by a closed MemoryPublisher.
var ErrPublisherClosed = errors.New("publisher closed")

// MemoryPublisher records notifications in memory and can inject failures.
// Suitable for tests and the in-memory example.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][]Message
	failNext int
	failErr  error
	always   bool
	attempts int
	closed   bool
}

// NewMemoryPublisher creates an empty publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][]Message)}
}

// FailNext makes the next n publishes fail with err.
func (p *MemoryPublisher) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.failErr = err
	p.always = false
}

// FailAlways makes every publish fail with err until Recover is called.
func (p *MemoryPublisher) FailAlways(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
	p.always = true
}

// Recover clears injected failures.
func (p *MemoryPublisher) Recover() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = 0
	p.failErr = nil
	p.always = false
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	p.attempts++
	if p.always {
		return p.failErr
	}
	if p.failNext > 0 {
		p.failNext--
		return p.failErr
	}

	stored := msg
	stored.Body = append([]byte(nil), msg.Body...)
	p.messages[topic] = append(p.messages[topic], stored)
	return nil
}

// Messages returns what was published to topic.
func (p *MemoryPublisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages[topic]...)
}

// Count returns how many messages were published to topic.
func (p *MemoryPublisher) Count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[topic])
}

// Attempts returns how many publishes were attempted, failed ones included.
func (p *MemoryPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
