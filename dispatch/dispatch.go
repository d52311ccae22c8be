// Package dispatch delivers debounced change notifications from the
// record store's event feed to the view components that depend on it.
// Events carry no row data; a notified subscriber re-reads the store.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Topic string

const (
	TopicDeals   Topic = "deals"
	TopicTargets Topic = "targets"
	TopicUsers   Topic = "users"
)

// Event signals that records under a topic changed and a refresh is
// warranted.
type Event struct {
	Topic Topic
}

// Source is a change-event stream. Subscribe returns a channel that is
// closed when the underlying feed disconnects; the dispatcher then
// resubscribes.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// DefaultDebounce coalesces bursts of near-simultaneous events (a
// cascading delete produces many row-level events) into one refresh.
const DefaultDebounce = 100 * time.Millisecond

const defaultResubscribeDelay = time.Second

var ErrFeedDisconnected = errors.New("change feed disconnected")

type Options struct {
	// Debounce is the coalescing window. Zero means DefaultDebounce.
	Debounce time.Duration

	// ResubscribeDelay paces reconnect attempts after a feed failure.
	ResubscribeDelay time.Duration

	// OnDegraded is invoked when the feed disconnects or a subscribe
	// attempt fails, so the owner can surface a degraded state instead
	// of silently missing updates.
	OnDegraded func(error)

	Logger *zap.Logger
}

type Dispatcher struct {
	debounce   time.Duration
	resubDelay time.Duration
	onDegraded func(error)
	log        *zap.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func New(opts Options) *Dispatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = defaultResubscribeDelay
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Dispatcher{
		debounce:   opts.Debounce,
		resubDelay: opts.ResubscribeDelay,
		onDegraded: opts.OnDegraded,
		log:        opts.Logger,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Subscribe registers onChange for the given topics. Each caller owns an
// independent subscription; cancelling one never affects another.
func (d *Dispatcher) Subscribe(topics []Topic, onChange func()) *Subscription {
	sub := &Subscription{
		d:        d,
		topics:   make(map[Topic]struct{}, len(topics)),
		onChange: onChange,
	}
	sub.cond = sync.NewCond(&sub.mu)

	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	d.mu.Lock()
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	return sub
}

// Notify schedules a debounced callback for every subscription matching
// topic. Exposed so stores without a native feed can announce their own
// writes.
func (d *Dispatcher) Notify(topic Topic) {
	d.mu.Lock()

	matched := make([]*Subscription, 0, len(d.subs))

	for sub := range d.subs {
		if _, ok := sub.topics[topic]; ok {
			matched = append(matched, sub)
		}
	}

	d.mu.Unlock()

	for _, sub := range matched {
		sub.schedule(d.debounce)
	}
}

// Run consumes source until ctx is done. When the feed errors or
// disconnects it reports the degraded state and resubscribes; it never
// panics into the caller.
func (d *Dispatcher) Run(ctx context.Context, source Source) error {
	for {
		events, err := source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			d.log.Warn("change feed subscribe failed", zap.Error(err))
			d.degraded(err)

			if err := d.sleep(ctx); err != nil {
				return err
			}

			continue
		}

		d.consume(ctx, events)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.log.Warn("change feed disconnected, resubscribing")
		d.degraded(ErrFeedDisconnected)

		if err := d.sleep(ctx); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) consume(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			d.Notify(ev.Topic)
		}
	}
}

func (d *Dispatcher) degraded(err error) {
	if d.onDegraded != nil {
		d.onDegraded(err)
	}
}

func (d *Dispatcher) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.resubDelay):
		return nil
	}
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	delete(d.subs, sub)
	d.mu.Unlock()
}

// Subscription is one view component's registration. A pending debounce
// timer absorbs further events until it fires, so a burst results in a
// single callback.
type Subscription struct {
	d        *Dispatcher
	topics   map[Topic]struct{}
	onChange func()

	mu       sync.Mutex
	cond     *sync.Cond
	timer    *time.Timer
	canceled bool
	firing   bool
}

func (s *Subscription) schedule(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canceled || s.timer != nil {
		return
	}

	s.timer = time.AfterFunc(window, s.fire)
}

func (s *Subscription) fire() {
	s.mu.Lock()

	s.timer = nil

	if s.canceled {
		s.mu.Unlock()
		return
	}

	s.firing = true
	onChange := s.onChange
	s.mu.Unlock()

	onChange()

	s.mu.Lock()
	s.firing = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Cancel releases the subscription and stops any pending debounced
// callback. Cancel waits for a callback already in flight to return, so
// once it returns no callback is running and none will ever run again;
// state owned by the subscriber is safe to tear down. Because of that
// wait, the callback itself must not call Cancel.
func (s *Subscription) Cancel() {
	s.mu.Lock()

	s.canceled = true

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	for s.firing {
		s.cond.Wait()
	}

	s.mu.Unlock()

	s.d.remove(s)
}
