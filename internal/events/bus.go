package events

import (
	"context"
	"fmt"
	"sync"

	"delivery/internal/logx"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Handler consumes one event.
type Handler func(ctx context.Context, e Event)

// Publisher is what the state machines depend on.
type Publisher interface {
	Publish(e Event)
}

// DropRecorder is notified when an event is discarded because a
// subscriber's queue is full.
type DropRecorder interface {
	EventDropped(name string)
}

type subscription struct {
	id      int
	filter  map[Name]struct{} // empty matches every event
	handler Handler
	queue   chan Event
}

func (s *subscription) wants(n Name) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[n]
	return ok
}

// Bus is an in-process publish/subscribe hub. Each subscriber owns a
// buffered queue drained by its own goroutine, so one subscriber sees
// events in publish order and a slow subscriber never blocks Publish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool

	bufferSize int
	log        logx.Logger
	drops      DropRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropRecorder reports dropped events.
func WithDropRecorder(r DropRecorder) Option {
	return func(b *Bus) { b.drops = r }
}

// NewBus creates a Bus.
func NewBus(log logx.Logger, opts ...Option) *Bus {
	if log == nil {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subs:       make(map[int]*subscription),
		bufferSize: DefaultBufferSize,
		log:        log.With(logx.String("component", "event_bus")),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for the given event names, or for every event when
// none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, names ...Name) (unsubscribe func()) {
	sub := &subscription{
		filter:  make(map[Name]struct{}, len(names)),
		handler: h,
		queue:   make(chan Event, b.bufferSize),
	}
	for _, n := range names {
		sub.filter[n] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.queue)
			}
		})
	}
}

// Publish hands e to every interested subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(e.Name) {
			continue
		}
		select {
		case sub.queue <- e:
		default:
			b.log.Warn("event dropped, subscriber queue full",
				logx.String("event", string(e.Name)),
				logx.String("event_id", e.ID),
				logx.String("entity_id", e.EntityID),
				logx.Int("subscriber", sub.id),
			)
			if b.drops != nil {
				b.drops.EventDropped(string(e.Name))
			}
		}
	}
}

// Close stops accepting events, lets subscribers drain what is queued and
// waits for them to finish or for ctx to expire.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, sub := range b.subs {
			close(sub.queue)
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for e := range sub.queue {
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logx.String("event", string(e.Name)),
				logx.String("event_id", e.ID),
				logx.Any("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.handler(b.ctx, e)
}
