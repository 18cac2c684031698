// Package degrade implements the degradation controller (component C9):
// executeQuery/executeWrite wrapping the primary store behind its circuit
// breaker, a bounded write queue for when the store is unavailable, and a
// background queue processor that retries queued writes every 10 seconds.
// Grounded on the teacher's applications/system/manager.go lifecycle
// pattern (Start/Stop via a cancellable goroutine) and
// infrastructure/resilience for the breaker-wrapped execute.
package degrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletmemory/core/internal/cache"
	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
	"github.com/walletmemory/core/internal/resilience"
	"github.com/walletmemory/core/internal/store"
)

// Status summarizes the controller's current health.
type Status struct {
	Degraded   bool
	QueueDepth int
	Reason     string
}

// Controller wraps a store.Store with circuit-breaker protection and a
// bounded write queue used while the store is unavailable.
type Controller struct {
	store   store.Store
	breaker *resilience.CircuitBreaker
	cache   *cache.Cache
	log     *logging.Logger

	mu           sync.Mutex
	queue        []domain.QueuedWrite
	queueCap     int
	processing   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics
}

// WithMetrics attaches m so queue depth is exported as a gauge on every
// Status call.
func (c *Controller) WithMetrics(m *metrics.Metrics) *Controller {
	c.metrics = m
	return c
}

// WithCache attaches c so ExecuteQuery reads/writes through it ahead of the
// store.
func (c *Controller) WithCache(ca *cache.Cache) *Controller {
	c.cache = ca
	return c
}

// New constructs a Controller. queueCap bounds the pending write queue;
// once full, ExecuteWrite returns a QueueOverflow error instead of enqueuing.
func New(st store.Store, breaker *resilience.CircuitBreaker, queueCap int, log *logging.Logger) *Controller {
	if queueCap <= 0 {
		queueCap = 1000
	}
	return &Controller{store: st, breaker: breaker, queueCap: queueCap, log: log}
}

// ExecuteQuery implements the cache-then-store read contract: a cache hit
// (via the cache's own breaker) unmarshals straight into dest and returns; a
// cache miss, cache error, or JSON-parse failure falls through to dbFn
// behind the store's circuit breaker, after which the result is written
// back into the cache on a best-effort basis (a Set failure here is logged,
// never returned, since the read itself already succeeded).
func (c *Controller) ExecuteQuery(ctx context.Context, key string, dest interface{}, ttl time.Duration, dbFn func(context.Context) error) error {
	if c.cache != nil {
		if hit, err := c.cache.Get(ctx, key, dest); err == nil && hit {
			return nil
		}
	}

	err := c.breaker.Execute(ctx, func() error {
		return dbFn(ctx)
	})
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
		return errors.Unavailable("store", err)
	}
	if err != nil {
		return err
	}

	if c.cache != nil {
		if setErr := c.cache.Set(ctx, key, dest, ttl); setErr != nil && c.log != nil {
			c.log.WithError(setErr).Warn("degrade: best-effort cache write-back failed")
		}
	}
	return nil
}

// ExecuteWrite attempts a write through the breaker; on breaker-open (or
// direct failure) it enqueues the write for later replay instead of failing
// the caller outright, unless the queue is already at capacity.
func (c *Controller) ExecuteWrite(ctx context.Context, qw domain.QueuedWrite) error {
	execErr := c.breaker.Execute(ctx, func() error {
		return c.applyWrite(ctx, qw)
	})
	if execErr == nil {
		return nil
	}

	if qw.ID == "" {
		qw.ID = uuid.New().String()
	}
	qw.EnqueuedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= c.queueCap {
		return errors.QueueOverflow(c.queueCap)
	}
	c.queue = append(c.queue, qw)
	if c.log != nil {
		c.log.WithFields(map[string]interface{}{"write_id": qw.ID, "depth": len(c.queue)}).Warn("degrade: queued write after store failure")
	}
	return nil
}

func (c *Controller) applyWrite(ctx context.Context, qw domain.QueuedWrite) error {
	switch qw.Kind {
	case "insert":
		return c.store.Insert(ctx, qw.Table, qw.Data)
	case "update":
		return c.store.Update(ctx, qw.Table, qw.Data, store.Filter(qw.Filter))
	case "upsert":
		conflictKey := ""
		if qw.Filter != nil {
			conflictKey = qw.Filter["on_conflict"]
		}
		return c.store.Upsert(ctx, qw.Table, qw.Data, conflictKey)
	case "delete":
		return c.store.Delete(ctx, qw.Table, store.Filter(qw.Filter))
	default:
		return fmt.Errorf("unknown write kind %q", qw.Kind)
	}
}

// Status reports whether the controller is currently degraded.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	depth := len(c.queue)
	if c.metrics != nil {
		c.metrics.DegradeQueueDepth.Set(float64(depth))
	}
	degraded := c.breaker.State().String() != "closed" || depth > 0
	reason := ""
	if degraded {
		reason = fmt.Sprintf("breaker=%s queue_depth=%d", c.breaker.State().String(), depth)
	}
	return Status{Degraded: degraded, QueueDepth: depth, Reason: reason}
}

// Describe returns a human-readable status string, for operational logging.
func (c *Controller) Describe() string {
	s := c.Status()
	if !s.Degraded {
		return "healthy"
	}
	return "degraded: " + s.Reason
}

// Name identifies this service for the lifecycle manager.
func (c *Controller) Name() string { return "degradation-controller" }

// Start launches the background queue processor, retrying queued writes
// every interval until the queue drains or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.processQueue(runCtx)
			}
		}
	}()
	return nil
}

// Stop halts the background queue processor and waits for it to exit.
func (c *Controller) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processQueue retries every queued write once; writes that fail again stay
// queued (their Attempts counter increments) until they have failed
// maxReplayAttempts replays, when they are dropped with a warning; writes
// that succeed are removed. FIFO order is preserved among the ones still
// pending, and writes enqueued while the pass runs stay queued behind them.
func (c *Controller) processQueue(ctx context.Context) {
	const maxReplayAttempts = 5

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return
	}
	c.processing = true
	pending := make([]domain.QueuedWrite, len(c.queue))
	copy(pending, c.queue)
	c.mu.Unlock()

	var stillPending []domain.QueuedWrite
	for _, qw := range pending {
		if err := c.applyWrite(ctx, qw); err != nil {
			qw.Attempts++
			if qw.Attempts >= maxReplayAttempts {
				if c.log != nil {
					c.log.WithError(err).WithField("write_id", qw.ID).Warn("degrade: dropping queued write after repeated replay failures")
				}
				continue
			}
			stillPending = append(stillPending, qw)
			continue
		}
		if c.log != nil {
			c.log.WithFields(map[string]interface{}{"write_id": qw.ID}).Info("degrade: replayed queued write")
		}
	}

	c.mu.Lock()
	c.queue = append(stillPending, c.queue[len(pending):]...)
	c.processing = false
	c.mu.Unlock()
}
