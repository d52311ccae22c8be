package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesboard/salesboard/dispatch"
)

const testDebounce = 20 * time.Millisecond

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(dispatch.Options{Debounce: testDebounce})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	require.Fail(t, "condition not met in time")
}

func TestNotifyFiresAfterDebounce(t *testing.T) {
	d := newDispatcher()

	var calls atomic.Int32

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		calls.Add(1)
	})
	defer sub.Cancel()

	d.Notify(dispatch.TopicDeals)

	assert.Equal(t, int32(0), calls.Load(), "callback must not fire synchronously")

	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestBurstCoalescesIntoOneCallback(t *testing.T) {
	d := newDispatcher()

	var calls atomic.Int32

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		calls.Add(1)
	})
	defer sub.Cancel()

	for i := 0; i < 20; i++ {
		d.Notify(dispatch.TopicDeals)
	}

	waitFor(t, func() bool { return calls.Load() >= 1 })

	// No further callback shows up for the burst.
	time.Sleep(3 * testDebounce)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifyMatchesTopics(t *testing.T) {
	d := newDispatcher()

	var dealCalls, targetCalls atomic.Int32

	dealSub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		dealCalls.Add(1)
	})
	defer dealSub.Cancel()

	targetSub := d.Subscribe([]dispatch.Topic{dispatch.TopicTargets}, func() {
		targetCalls.Add(1)
	})
	defer targetSub.Cancel()

	d.Notify(dispatch.TopicDeals)

	waitFor(t, func() bool { return dealCalls.Load() == 1 })
	assert.Equal(t, int32(0), targetCalls.Load())
}

func TestCancelStopsPendingCallback(t *testing.T) {
	d := newDispatcher()

	var calls atomic.Int32

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		calls.Add(1)
	})

	d.Notify(dispatch.TopicDeals)
	sub.Cancel()

	time.Sleep(3 * testDebounce)
	assert.Equal(t, int32(0), calls.Load(), "no callback after cancel")
}

func TestCancelIsIndependentPerSubscription(t *testing.T) {
	d := newDispatcher()

	var live atomic.Int32

	canceled := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		assert.Fail(t, "canceled subscription fired")
	})

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		live.Add(1)
	})
	defer sub.Cancel()

	canceled.Cancel()
	d.Notify(dispatch.TopicDeals)

	waitFor(t, func() bool { return live.Load() == 1 })
}

func TestCancelWaitsForInFlightCallback(t *testing.T) {
	d := newDispatcher()

	started := make(chan struct{})

	var finished atomic.Bool

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	d.Notify(dispatch.TopicDeals)

	<-started
	sub.Cancel()

	assert.True(t, finished.Load(), "Cancel returned while the callback was still running")
}

func TestNotifyAfterCancelSchedulesNothing(t *testing.T) {
	d := newDispatcher()

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicDeals}, func() {
		assert.Fail(t, "canceled subscription fired")
	})
	sub.Cancel()

	d.Notify(dispatch.TopicDeals)

	time.Sleep(3 * testDebounce)
}

type stubSource struct {
	mu   sync.Mutex
	subs int
	errs []error
	ch   chan dispatch.Event
}

func (s *stubSource) Subscribe(context.Context) (<-chan dispatch.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]

		if err != nil {
			return nil, err
		}
	}

	s.ch = make(chan dispatch.Event, 8)

	return s.ch, nil
}

func (s *stubSource) send(ev dispatch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ch <- ev
}

func (s *stubSource) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.ch)
}

func (s *stubSource) subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.subs
}

func TestRunDeliversSourceEvents(t *testing.T) {
	d := newDispatcher()

	var calls atomic.Int32

	sub := d.Subscribe([]dispatch.Topic{dispatch.TopicUsers}, func() {
		calls.Add(1)
	})
	defer sub.Cancel()

	src := &stubSource{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		_ = d.Run(ctx, src)
		close(done)
	}()

	waitFor(t, func() bool { return src.subscribes() == 1 })

	src.send(dispatch.Event{Topic: dispatch.TopicUsers})

	waitFor(t, func() bool { return calls.Load() == 1 })

	cancel()
	<-done
}

func TestRunResubscribesAfterDisconnect(t *testing.T) {
	d := dispatch.New(dispatch.Options{
		Debounce:         testDebounce,
		ResubscribeDelay: 5 * time.Millisecond,
	})

	src := &stubSource{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		_ = d.Run(ctx, src)
		close(done)
	}()

	waitFor(t, func() bool { return src.subscribes() == 1 })

	src.disconnect()

	waitFor(t, func() bool { return src.subscribes() == 2 })

	cancel()
	<-done
}

func TestRunReportsDegradedFeed(t *testing.T) {
	var degraded atomic.Int32

	d := dispatch.New(dispatch.Options{
		Debounce:         testDebounce,
		ResubscribeDelay: 5 * time.Millisecond,
		OnDegraded: func(err error) {
			require.Error(t, err)
			degraded.Add(1)
		},
	})

	src := &stubSource{errs: []error{errors.New("connection refused")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		_ = d.Run(ctx, src)
		close(done)
	}()

	// First attempt fails, second succeeds.
	waitFor(t, func() bool { return degraded.Load() >= 1 && src.subscribes() >= 2 })

	cancel()
	<-done
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	d := newDispatcher()
	src := &stubSource{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}
