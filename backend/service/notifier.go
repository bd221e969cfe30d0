package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/pkg/logger"
)

var (
	// ErrNotifierBusy is reported when every send slot is taken
	ErrNotifierBusy = errors.New("notifier busy, notification dropped")
	// ErrNotifierClosed is reported for dispatches after shutdown began
	ErrNotifierClosed = errors.New("notifier closed")
)

// NotifyHandle observes the outcome of one background send
type NotifyHandle struct {
	done chan struct{}
	err  error
}

func newNotifyHandle() *NotifyHandle {
	return &NotifyHandle{done: make(chan struct{})}
}

func finishedHandle(err error) *NotifyHandle {
	h := newNotifyHandle()
	h.finish(err)
	return h
}

func (h *NotifyHandle) finish(err error) {
	h.err = err
	close(h.done)
}

// Wait blocks for at most d. It reports whether the send finished and, if so,
// its error. A non-positive d only polls.
func (h *NotifyHandle) Wait(d time.Duration) (bool, error) {
	if d <= 0 {
		select {
		case <-h.done:
			return true, h.err
		default:
			return false, nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.done:
		return true, h.err
	case <-t.C:
		return false, nil
	}
}

// Done is closed when the send finishes
func (h *NotifyHandle) Done() <-chan struct{} {
	return h.done
}

// NotifyDispatcher runs operator notifications in the background with a
// bounded number of sends in flight. Outcomes are logged and counted, never
// returned to the request that triggered them.
type NotifyDispatcher struct {
	notifier   Notifier
	timeout    time.Duration
	retryDelay time.Duration
	slots      chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc
}

func NewNotifyDispatcher(notifier Notifier, cfg *config.TelegramConfig) *NotifyDispatcher {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &NotifyDispatcher{
		notifier:   notifier,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		slots:      make(chan struct{}, maxInFlight),
		base:       base,
		cancel:     cancel,
	}
}

// Dispatch starts sending n and returns immediately. The send keeps the
// values of ctx (for log correlation) but not its cancellation.
func (d *NotifyDispatcher) Dispatch(ctx context.Context, n Notification) *NotifyHandle {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		notificationsTotal.WithLabelValues("dropped").Inc()
		return finishedHandle(ErrNotifierClosed)
	}
	select {
	case d.slots <- struct{}{}:
	default:
		d.mu.Unlock()
		logger.Warn(ctx, "Operator notification dropped", "error", ErrNotifierBusy)
		notificationsTotal.WithLabelValues("dropped").Inc()
		return finishedHandle(ErrNotifierBusy)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	h := newNotifyHandle()
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		h.finish(d.run(context.WithoutCancel(ctx), n))
	}()
	return h
}

func (d *NotifyDispatcher) run(ctx context.Context, n Notification) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notifier panicked")
			logger.Error(ctx, "Operator notification panicked", "panic", r)
		}
		if err != nil {
			notificationsTotal.WithLabelValues("failed").Inc()
			logger.Warn(ctx, "Operator notification failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		notificationsTotal.WithLabelValues("sent").Inc()
		logger.Info(ctx, "Operator notification sent", "duration_ms", time.Since(start).Milliseconds())
	}()

	err = d.attempt(ctx, n)
	if err == nil || !IsRetryable(err) {
		return err
	}

	logger.Warn(ctx, "Operator notification not delivered, retrying once", "error", err, "delay", d.retryDelay.String())
	t := time.NewTimer(d.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.base.Done():
		return err
	}
	return d.attempt(ctx, n)
}

func (d *NotifyDispatcher) attempt(ctx context.Context, n Notification) error {
	actx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	stop := context.AfterFunc(d.base, cancel)
	defer stop()
	return d.notifier.Send(actx, n)
}

// Close stops accepting notifications and waits for in-flight sends until ctx
// is done, after which they are cancelled.
func (d *NotifyDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-drained
		return ctx.Err()
	}
}
