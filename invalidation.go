package permit

import (
	"context"
	"sync"

	"github.com/oarkflow/permit/logger"
)

// InvalidationSubscriber is told about principals whose grants changed.
type InvalidationSubscriber interface {
	OnInvalidate(ctx context.Context, principalID int64) error
}

type InvalidationSubscriberFunc func(ctx context.Context, principalID int64) error

func (f InvalidationSubscriberFunc) OnInvalidate(ctx context.Context, principalID int64) error {
	return f(ctx, principalID)
}

// InvalidationHub fans engine invalidations out to subscribers, typically a
// broadcast bus that reaches other engine instances. Delivery is
// asynchronous and best effort: when the queue is full the notification is
// dropped and the snapshot TTL bounds the staleness.
type InvalidationHub struct {
	logger      logger.Logger
	notifyCh    chan int64
	stopCh      chan struct{}
	subscribers []InvalidationSubscriber
	mu          sync.RWMutex
	started     bool
	wg          sync.WaitGroup
}

type InvalidationHubOption func(*InvalidationHub)

func WithHubLogger(l logger.Logger) InvalidationHubOption {
	return func(h *InvalidationHub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithHubBuffer(n int) InvalidationHubOption {
	return func(h *InvalidationHub) {
		if n > 0 {
			h.notifyCh = make(chan int64, n)
		}
	}
}

func NewInvalidationHub(opts ...InvalidationHubOption) *InvalidationHub {
	h := &InvalidationHub{
		logger:   logger.NewNullLogger(),
		notifyCh: make(chan int64, 1024),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *InvalidationHub) Subscribe(sub InvalidationSubscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, sub)
}

// Start runs the delivery loop until ctx is done or Stop is called.
func (h *InvalidationHub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case id := <-h.notifyCh:
				h.deliver(ctx, id)
			}
		}
	}()
}

// Stop ends the delivery loop, waiting for it until ctx is done.
func (h *InvalidationHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.mu.Unlock()

	close(h.stopCh)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Notify queues principalID for delivery. It reports false when the
// notification was dropped.
func (h *InvalidationHub) Notify(principalID int64) bool {
	if principalID <= 0 {
		return false
	}
	select {
	case h.notifyCh <- principalID:
		return true
	default:
		h.logger.Warn("invalidation queue full, notification dropped", "principal_id", principalID)
		return false
	}
}

func (h *InvalidationHub) deliver(ctx context.Context, principalID int64) {
	h.mu.RLock()
	subs := make([]InvalidationSubscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.OnInvalidate(ctx, principalID); err != nil {
			h.logger.Error("invalidation subscriber failed", "principal_id", principalID, "error", err)
		}
	}
}
