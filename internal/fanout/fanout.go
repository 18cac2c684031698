// Package fanout implements event fan-out to live subscribers (component
// C8): kind/wallet filtering, per-subscription rate limiting, bounded
// delivery buffers, and automatic unsubscription on sink failure. Grounded
// on the teacher's infrastructure/ratelimit package, itself a thin adapter
// over golang.org/x/time/rate.
package fanout

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
)

// Sink delivers one event to a subscriber. A non-nil error is treated as a
// permanent sink failure and results in automatic unsubscription.
type Sink func(ctx context.Context, event domain.Event) error

const bufferSize = 256

type subscriber struct {
	sub     domain.Subscription
	sink    Sink
	limiter *rate.Limiter
	buffer  chan domain.Event
	cancel  context.CancelFunc
}

// Fanout manages live subscriptions and delivers events to them.
type Fanout struct {
	mu   sync.Mutex
	subs map[string]*subscriber
	log  *logging.Logger
}

// New constructs a Fanout.
func New(log *logging.Logger) *Fanout {
	return &Fanout{subs: make(map[string]*subscriber), log: log}
}

// Subscribe registers a new subscription and starts its delivery loop.
// ratePerSecond <= 0 means unlimited.
func (f *Fanout) Subscribe(ctx context.Context, sub domain.Subscription, sink Sink) error {
	if sub.ID == "" {
		return errors.ValidationFailed("subscription id must not be empty")
	}

	limit := rate.Inf
	burst := 1
	if sub.RatePerSecond > 0 {
		limit = rate.Limit(sub.RatePerSecond)
		burst = int(sub.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		sub:     sub,
		sink:    sink,
		limiter: rate.NewLimiter(limit, burst),
		buffer:  make(chan domain.Event, bufferSize),
		cancel:  cancel,
	}

	f.mu.Lock()
	f.subs[sub.ID] = s
	f.mu.Unlock()

	go f.deliveryLoop(subCtx, s)
	return nil
}

// Unsubscribe removes a subscription and stops its delivery loop.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	s, ok := f.subs[id]
	delete(f.subs, id)
	f.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Publish offers event to every matching subscriber's buffer, dropping it
// for subscribers whose buffer is full rather than blocking the publisher.
func (f *Fanout) Publish(_ context.Context, event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if !matches(s.sub, event) {
			continue
		}
		select {
		case s.buffer <- event:
		default:
			if f.log != nil {
				f.log.WithFields(map[string]interface{}{"subscription": s.sub.ID}).Warn("fanout: dropping event, buffer full")
			}
		}
	}
}

func matches(sub domain.Subscription, event domain.Event) bool {
	if len(sub.WalletFilter) > 0 && !sub.WalletFilter[event.WalletAddr] {
		return false
	}
	if len(sub.KindFilter) > 0 && !sub.KindFilter[event.Kind] {
		return false
	}
	return true
}

// deliveryLoop drains a subscriber's buffer at its rate limit and delivers
// to the sink, unsubscribing automatically on sink failure or ctx done.
func (f *Fanout) deliveryLoop(ctx context.Context, s *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.buffer:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.sink(ctx, event); err != nil {
				if f.log != nil {
					f.log.WithError(err).WithField("subscription", s.sub.ID).Warn("fanout: sink failed, unsubscribing")
				}
				f.Unsubscribe(s.sub.ID)
				return
			}
		}
	}
}

// Count returns the number of live subscriptions.
func (f *Fanout) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
