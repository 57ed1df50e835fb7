package fictora

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fake feed
// ============================================================================

type fakeSub struct {
	onEvent  func(ChangeEvent)
	onStatus func(ChannelStatus)
}

type fakeFeed struct {
	mu           sync.Mutex
	subscribeErr error
	subs         map[string]fakeSub
	unsubscribed []string

	// signalled on every Subscribe call
	subscribed chan string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		subs:       make(map[string]fakeSub),
		subscribed: make(chan string, 16),
	}
}

func (f *fakeFeed) Subscribe(ctx context.Context, spec ChannelSpec, onEvent func(ChangeEvent), onStatus func(ChannelStatus)) error {
	f.mu.Lock()
	err := f.subscribeErr
	if err == nil {
		f.subs[spec.Channel] = fakeSub{onEvent: onEvent, onStatus: onStatus}
	}
	f.mu.Unlock()
	if err == nil {
		f.subscribed <- spec.Channel
	}
	return err
}

func (f *fakeFeed) Unsubscribe(channel string) {
	f.mu.Lock()
	delete(f.subs, channel)
	f.unsubscribed = append(f.unsubscribed, channel)
	f.mu.Unlock()
}

func (f *fakeFeed) emitStatus(channel string, st ChannelStatus) {
	f.mu.Lock()
	sub, ok := f.subs[channel]
	f.mu.Unlock()
	if ok {
		sub.onStatus(st)
	}
}

func (f *fakeFeed) emitEvent(channel string, ev ChangeEvent) {
	f.mu.Lock()
	sub, ok := f.subs[channel]
	f.mu.Unlock()
	if ok {
		sub.onEvent(ev)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitSubscribe(t *testing.T, f *fakeFeed) string {
	t.Helper()
	select {
	case ch := <-f.subscribed:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe attempt")
		return ""
	}
}

// ============================================================================
// Retry delay sequence
// ============================================================================

func TestSubscriptionRetryDelay(t *testing.T) {
	s := NewSubscription(newFakeFeed(), ChannelSpec{Channel: "c"}, SubscribeOptions{
		BaseDelay: 1 * time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    2,
	})

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		s.attempt = i + 1
		if got := s.retryDelayLocked(); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestSubscriptionLifecycle(t *testing.T) {
	t.Run("activates on subscribed status", func(t *testing.T) {
		feed := newFakeFeed()
		var activeCount int
		var mu sync.Mutex
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: time.Millisecond,
			MaxDelay:  4 * time.Millisecond,
			OnActive: func() {
				mu.Lock()
				activeCount++
				mu.Unlock()
			},
		})
		s.Start(context.Background())

		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)

		waitFor(t, func() bool { return s.State() == SubActive }, "never became active")
		mu.Lock()
		n := activeCount
		mu.Unlock()
		if n != 1 {
			t.Fatalf("OnActive fired %d times, want 1", n)
		}
	})

	t.Run("retries after channel error and resets attempts on success", func(t *testing.T) {
		feed := newFakeFeed()
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: time.Millisecond,
			MaxDelay:  4 * time.Millisecond,
		})
		s.Start(context.Background())

		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusChannelError)
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusTimedOut)
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)

		waitFor(t, func() bool { return s.State() == SubActive }, "never became active after retries")

		s.mu.Lock()
		attempt := s.attempt
		s.mu.Unlock()
		if attempt != 0 {
			t.Fatalf("attempt = %d after success, want 0", attempt)
		}
	})

	t.Run("socket close while active triggers resubscribe", func(t *testing.T) {
		feed := newFakeFeed()
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: time.Millisecond,
			MaxDelay:  4 * time.Millisecond,
		})
		s.Start(context.Background())

		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)
		waitFor(t, func() bool { return s.State() == SubActive }, "never active")

		feed.emitStatus("c", StatusClosed)
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)
		waitFor(t, func() bool { return s.State() == SubActive }, "never re-activated")
	})

	t.Run("events delivered only while active", func(t *testing.T) {
		feed := newFakeFeed()
		var events int
		var mu sync.Mutex
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: time.Millisecond,
			OnEvent: func(ChangeEvent) {
				mu.Lock()
				events++
				mu.Unlock()
			},
		})
		s.Start(context.Background())
		waitSubscribe(t, feed)

		// Not yet active: must be dropped.
		feed.emitEvent("c", ChangeEvent{Channel: "c"})
		feed.emitStatus("c", StatusSubscribed)
		waitFor(t, func() bool { return s.State() == SubActive }, "never active")
		feed.emitEvent("c", ChangeEvent{Channel: "c"})

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return events == 1
		}, "expected exactly one delivered event")
	})

	t.Run("stop cancels pending retry and releases channel", func(t *testing.T) {
		feed := newFakeFeed()
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: 20 * time.Millisecond,
		})
		s.Start(context.Background())

		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusChannelError)
		s.Stop()

		// The retry timer must not resurrect the subscription.
		select {
		case <-feed.subscribed:
			t.Fatal("retry fired after Stop")
		case <-time.After(60 * time.Millisecond):
		}
		if s.State() != SubIdle {
			t.Fatalf("state = %v after Stop, want idle", s.State())
		}
	})

	t.Run("no callbacks after stop", func(t *testing.T) {
		feed := newFakeFeed()
		var events int
		var mu sync.Mutex
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay: time.Millisecond,
			OnEvent: func(ChangeEvent) {
				mu.Lock()
				events++
				mu.Unlock()
			},
		})
		s.Start(context.Background())
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)
		waitFor(t, func() bool { return s.State() == SubActive }, "never active")

		s.Stop()
		feed.emitEvent("c", ChangeEvent{Channel: "c"})

		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		n := events
		mu.Unlock()
		if n != 0 {
			t.Fatalf("events after Stop = %d, want 0", n)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		feed := newFakeFeed()
		errCh := make(chan struct{}, 1)
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay:   time.Millisecond,
			MaxAttempts: 2,
			OnError:     func() { errCh <- struct{}{} },
		})
		s.Start(context.Background())

		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusChannelError)
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusChannelError)

		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatal("OnError never fired")
		}
		if s.State() != SubIdle {
			t.Fatalf("state = %v after giving up, want idle", s.State())
		}
	})

	t.Run("subscribe timeout feeds the retry path", func(t *testing.T) {
		feed := newFakeFeed()
		s := NewSubscription(feed, ChannelSpec{Channel: "c"}, SubscribeOptions{
			BaseDelay:        time.Millisecond,
			SubscribeTimeout: 5 * time.Millisecond,
		})
		s.Start(context.Background())

		// Never answer the first attempt; the timeout must schedule another.
		waitSubscribe(t, feed)
		waitSubscribe(t, feed)
		feed.emitStatus("c", StatusSubscribed)
		waitFor(t, func() bool { return s.State() == SubActive }, "never recovered from hung attempt")
	})
}
