package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/platform/circuit"
	"pseudonym/pkg/platform/sentinel"
)

// Publisher delivers events to a primary publisher, diverting to a fallback
// while the primary is failing. While the breaker is open the primary is
// only probed once per probe interval.
//
// With an async buffer Emit never blocks on delivery: events are queued and
// a single worker delivers them in order. A full buffer diverts the event to
// the fallback immediately.
type Publisher struct {
	primary       ports.AuditPublisher
	fallback      ports.AuditPublisher
	breaker       *circuit.Breaker
	logger        *slog.Logger
	probeInterval time.Duration
	timeout       time.Duration
	now           func() time.Time

	probeMu   sync.Mutex
	lastProbe time.Time

	queueMu sync.RWMutex
	closed  bool
	queue   chan ports.AssignmentEvent
	done    chan struct{}
	dropped atomic.Int64
}

type PublisherOption func(*Publisher)

// WithFallback sets where events go while the primary is unavailable.
func WithFallback(fallback ports.AuditPublisher) PublisherOption {
	return func(p *Publisher) {
		p.fallback = fallback
	}
}

func WithBreaker(b *circuit.Breaker) PublisherOption {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithProbeInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.probeInterval = d
		}
	}
}

// WithDeliveryTimeout bounds each call to the primary publisher.
func WithDeliveryTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithAsyncBuffer enables background delivery with a buffer of n events.
func WithAsyncBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan ports.AssignmentEvent, n)
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func withClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(primary ports.AuditPublisher, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		primary:       primary,
		breaker:       circuit.New("audit"),
		logger:        slog.Default(),
		probeInterval: 30 * time.Second,
		timeout:       5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event ports.AssignmentEvent) error {
	if p.queue == nil {
		return p.deliver(ctx, event)
	}

	p.queueMu.RLock()
	defer p.queueMu.RUnlock()
	if !p.closed {
		select {
		case p.queue <- event:
			return nil
		default:
		}
	}
	p.dropped.Add(1)
	if p.fallback == nil {
		return nil
	}
	return p.fallback.Emit(ctx, event)
}

// Dropped counts events that bypassed the async buffer.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting async events and waits for queued ones to be
// delivered. Each queued event waits at most one delivery timeout on the
// primary.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.queueMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.queueMu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.queue {
		if err := p.deliver(context.Background(), event); err != nil {
			p.logger.Error("audit event lost",
				"digest", event.Digest.Short(),
				"request_id", event.RequestID,
				"error", err,
			)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event ports.AssignmentEvent) error {
	if p.breaker.IsOpen() && !p.probeDue() {
		return p.toFallback(ctx, event, nil)
	}

	emitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.primary.Emit(emitCtx, event)
	cancel()
	if err == nil {
		if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.logger.InfoContext(ctx, "audit publisher recovered", "breaker", p.breaker.Name())
		}
		return nil
	}

	if _, change := p.breaker.RecordFailure(); change.Opened {
		p.probeMu.Lock()
		p.lastProbe = p.now()
		p.probeMu.Unlock()
		p.logger.WarnContext(ctx, "audit publisher failing, diverting to fallback",
			"breaker", p.breaker.Name(),
			"error", err,
		)
	}
	return p.toFallback(ctx, event, err)
}

func (p *Publisher) toFallback(ctx context.Context, event ports.AssignmentEvent, primaryErr error) error {
	if p.fallback != nil {
		return p.fallback.Emit(ctx, event)
	}
	if primaryErr == nil {
		return fmt.Errorf("audit breaker %s is open: %w", p.breaker.Name(), sentinel.ErrUnavailable)
	}
	return primaryErr
}

func (p *Publisher) probeDue() bool {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	now := p.now()
	if now.Sub(p.lastProbe) < p.probeInterval {
		return false
	}
	p.lastProbe = now
	return true
}
