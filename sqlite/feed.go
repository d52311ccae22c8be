package sqlite

import (
	"context"
	"sync"

	"github.com/salesboard/salesboard/dispatch"
)

// feed is an in-process change-event source. publish never blocks a
// writer: a subscriber that cannot keep up drops events, which is safe
// because events only say "refresh", they carry no data.
type feed struct {
	mu   sync.Mutex
	subs map[chan dispatch.Event]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[chan dispatch.Event]struct{})}
}

func (f *feed) Subscribe(ctx context.Context) (<-chan dispatch.Event, error) {
	events := make(chan dispatch.Event, 16)

	f.mu.Lock()
	f.subs[events] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()

		f.mu.Lock()
		delete(f.subs, events)
		f.mu.Unlock()

		close(events)
	}()

	return events, nil
}

func (f *feed) publish(topic dispatch.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for events := range f.subs {
		select {
		case events <- dispatch.Event{Topic: topic}:
		default:
		}
	}
}
