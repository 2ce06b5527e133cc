package audit

import (
	"context"
	"sync"

	"pseudonym/internal/pseudonym/ports"
)

// MemoryPublisher keeps events in memory for tests and local runs.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []ports.AssignmentEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(_ context.Context, event ports.AssignmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (p *MemoryPublisher) Events() []ports.AssignmentEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ports.AssignmentEvent(nil), p.events...)
}
