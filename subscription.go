package fictora

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// SubState is a subscription's lifecycle state.
type SubState string

const (
	SubIdle        SubState = "idle"
	SubSubscribing SubState = "subscribing"
	SubActive      SubState = "active"
)

// SubscribeOptions tunes a Subscription's retry behavior and callbacks.
type SubscribeOptions struct {
	// BaseDelay is the first retry delay. Default 1s.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth. Default 30s.
	MaxDelay time.Duration
	// Factor is the per-attempt multiplier. Default 2.
	Factor float64
	// MaxAttempts limits consecutive failed attempts; 0 retries forever.
	MaxAttempts int
	// SubscribeTimeout bounds how long one attempt may sit in subscribing
	// before it is treated as failed. Default 10s.
	SubscribeTimeout time.Duration

	// OnEvent receives each pushed change while active.
	OnEvent func(ChangeEvent)
	// OnActive fires each time the channel (re)enters active, so the owner
	// can reconcile state that changed while detached.
	OnActive func()
	// OnFailure fires on every failed attempt (channel error, timeout,
	// socket close) before the retry is scheduled, so the owner can mark
	// dependent state stale while the channel is detached.
	OnFailure func(ChannelStatus)
	// OnError fires when retries are exhausted (MaxAttempts > 0 only).
	OnError func()

	Logger *slog.Logger
}

func (o *SubscribeOptions) defaults() {
	if o.BaseDelay == 0 {
		o.BaseDelay = 1 * time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Factor == 0 {
		o.Factor = 2
	}
	if o.SubscribeTimeout == 0 {
		o.SubscribeTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Subscription keeps one change-feed channel alive. It drives the
// idle -> subscribing -> active cycle, retries failed attempts with
// exponential backoff, and treats every failure mode the same way: socket
// drop, server-side channel error, and subscribe timeout all land back in
// the retry path. Stop is terminal.
type Subscription struct {
	feed FeedChannel
	spec ChannelSpec
	opts SubscribeOptions
	log  *slog.Logger

	mu         sync.Mutex
	state      SubState
	attempt    int
	stopped    bool
	generation int // invalidates callbacks from superseded attempts
	retryTimer *time.Timer
	subTimer   *time.Timer
}

// NewSubscription creates a subscription for spec. Call Start to begin.
func NewSubscription(feed FeedChannel, spec ChannelSpec, opts SubscribeOptions) *Subscription {
	opts.defaults()
	return &Subscription{
		feed:  feed,
		spec:  spec,
		opts:  opts,
		log:   opts.Logger,
		state: SubIdle,
	}
}

// State returns the current lifecycle state.
func (s *Subscription) State() SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins subscribing. Calling Start on a non-idle or stopped
// subscription is a no-op.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.state != SubIdle {
		s.mu.Unlock()
		return
	}
	s.attempt = 0
	s.mu.Unlock()
	s.trySubscribe(ctx)
}

// Stop tears the subscription down: pending timers are cancelled, the
// channel is released, and no callbacks fire afterwards.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.generation++
	wasLive := s.state != SubIdle
	s.state = SubIdle
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.subTimer != nil {
		s.subTimer.Stop()
		s.subTimer = nil
	}
	s.mu.Unlock()

	if wasLive {
		s.feed.Unsubscribe(s.spec.Channel)
	}
}

func (s *Subscription) trySubscribe(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = SubSubscribing
	s.generation++
	gen := s.generation

	// A hung attempt with no status frame at all must not wedge the cycle.
	s.subTimer = time.AfterFunc(s.opts.SubscribeTimeout, func() {
		s.handleStatus(ctx, gen, StatusTimedOut)
	})
	s.mu.Unlock()

	err := s.feed.Subscribe(ctx, s.spec,
		func(ev ChangeEvent) { s.handleEvent(gen, ev) },
		func(st ChannelStatus) { s.handleStatus(ctx, gen, st) },
	)
	if err != nil {
		s.handleStatus(ctx, gen, StatusChannelError)
	}
}

func (s *Subscription) handleEvent(gen int, ev ChangeEvent) {
	s.mu.Lock()
	live := !s.stopped && gen == s.generation && s.state == SubActive
	s.mu.Unlock()
	if live && s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

func (s *Subscription) handleStatus(ctx context.Context, gen int, st ChannelStatus) {
	s.mu.Lock()
	if s.stopped || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.subTimer != nil {
		s.subTimer.Stop()
		s.subTimer = nil
	}

	switch st {
	case StatusSubscribed:
		s.state = SubActive
		s.attempt = 0
		s.mu.Unlock()
		s.log.Debug("channel active", "channel", s.spec.Channel)
		if s.opts.OnActive != nil {
			s.opts.OnActive()
		}
		return

	case StatusChannelError, StatusTimedOut, StatusClosed:
		// Accept one failure per attempt: stale or duplicate frames from
		// this generation are dropped at the top of this function.
		s.generation++
		s.attempt++
		if s.opts.MaxAttempts > 0 && s.attempt >= s.opts.MaxAttempts {
			s.state = SubIdle
			s.stopped = true
			s.mu.Unlock()
			s.log.Warn("channel retries exhausted", "channel", s.spec.Channel, "status", st)
			if s.opts.OnFailure != nil {
				s.opts.OnFailure(st)
			}
			if s.opts.OnError != nil {
				s.opts.OnError()
			}
			return
		}
		delay := s.retryDelayLocked()
		s.state = SubSubscribing
		s.retryTimer = time.AfterFunc(delay, func() {
			s.trySubscribe(ctx)
		})
		s.mu.Unlock()
		s.log.Debug("channel retry scheduled",
			"channel", s.spec.Channel, "status", st, "attempt", s.attempt, "delay", delay)
		if s.opts.OnFailure != nil {
			s.opts.OnFailure(st)
		}
		return
	}
	s.mu.Unlock()
}

// retryDelayLocked computes the delay for the current attempt count:
// base * factor^(attempt-1), capped at MaxDelay.
func (s *Subscription) retryDelayLocked() time.Duration {
	d := float64(s.opts.BaseDelay) * math.Pow(s.opts.Factor, float64(s.attempt-1))
	if d > float64(s.opts.MaxDelay) {
		d = float64(s.opts.MaxDelay)
	}
	return time.Duration(d)
}
