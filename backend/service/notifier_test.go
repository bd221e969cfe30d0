package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cpqbox/quote/backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcNotifier counts calls and delegates to send
type funcNotifier struct {
	calls atomic.Int32
	send  func(ctx context.Context, n Notification) error
}

func (f *funcNotifier) Send(ctx context.Context, n Notification) error {
	f.calls.Add(1)
	return f.send(ctx, n)
}

func newTestDispatcher(n Notifier, maxInFlight int) *NotifyDispatcher {
	return NewNotifyDispatcher(n, &config.TelegramConfig{
		Timeout:     time.Second,
		RetryDelay:  time.Millisecond,
		MaxInFlight: maxInFlight,
	})
}

func TestDispatchSuccess(t *testing.T) {
	var got Notification
	n := &funcNotifier{send: func(_ context.Context, n Notification) error {
		got = n
		return nil
	}}
	d := newTestDispatcher(n, 4)

	h := d.Dispatch(context.Background(), Notification{LeadID: testLeadID})
	done, err := h.Wait(time.Second)
	require.True(t, done)
	require.NoError(t, err)
	assert.Equal(t, testLeadID, got.LeadID)
	assert.Equal(t, int32(1), n.calls.Load())
}

func TestDispatchRetriesDefiniteNonDelivery(t *testing.T) {
	n := &funcNotifier{send: func(context.Context, Notification) error {
		return &DeliveryError{StatusCode: 502, Retryable: true, Err: errors.New("bad gateway")}
	}}
	d := newTestDispatcher(n, 1)

	done, err := d.Dispatch(context.Background(), Notification{}).Wait(time.Second)
	require.True(t, done)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), n.calls.Load())
}

func TestDispatchDoesNotRetryAmbiguousFailure(t *testing.T) {
	n := &funcNotifier{send: func(context.Context, Notification) error {
		return &DeliveryError{Err: context.DeadlineExceeded}
	}}
	d := newTestDispatcher(n, 1)

	done, err := d.Dispatch(context.Background(), Notification{}).Wait(time.Second)
	require.True(t, done)
	assert.Error(t, err)
	assert.Equal(t, int32(1), n.calls.Load())
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	n := &funcNotifier{send: func(ctx context.Context, _ Notification) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	}}
	d := newTestDispatcher(n, 1)

	ctx, cancel := context.WithCancel(context.Background())
	h := d.Dispatch(ctx, Notification{})
	<-started
	cancel()

	done, err := h.Wait(time.Second)
	require.True(t, done)
	assert.NoError(t, err)
}

func TestDispatchDropsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	n := &funcNotifier{send: func(context.Context, Notification) error {
		<-release
		return nil
	}}
	d := newTestDispatcher(n, 1)

	first := d.Dispatch(context.Background(), Notification{})
	second := d.Dispatch(context.Background(), Notification{})

	done, err := second.Wait(0)
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrNotifierBusy)

	close(release)
	done, err = first.Wait(time.Second)
	assert.True(t, done)
	assert.NoError(t, err)
}

func TestDispatchRecoversPanic(t *testing.T) {
	n := &funcNotifier{send: func(context.Context, Notification) error {
		panic("boom")
	}}
	d := newTestDispatcher(n, 1)

	done, err := d.Dispatch(context.Background(), Notification{}).Wait(time.Second)
	require.True(t, done)
	assert.Error(t, err)
}

func TestNotifyHandleWaitTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	n := &funcNotifier{send: func(context.Context, Notification) error {
		<-release
		return nil
	}}
	d := newTestDispatcher(n, 1)

	done, err := d.Dispatch(context.Background(), Notification{}).Wait(10 * time.Millisecond)
	assert.False(t, done)
	assert.NoError(t, err)
}

func TestCloseDrainsInFlight(t *testing.T) {
	var sent atomic.Int32
	n := &funcNotifier{send: func(context.Context, Notification) error {
		time.Sleep(20 * time.Millisecond)
		sent.Add(1)
		return nil
	}}
	d := newTestDispatcher(n, 4)

	for range 3 {
		d.Dispatch(context.Background(), Notification{})
	}
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(3), sent.Load())

	done, err := d.Dispatch(context.Background(), Notification{}).Wait(0)
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrNotifierClosed)
}

func TestCloseCancelsAfterDeadline(t *testing.T) {
	var mu sync.Mutex
	var sendErr error
	n := &funcNotifier{send: func(ctx context.Context, _ Notification) error {
		<-ctx.Done()
		mu.Lock()
		sendErr = ctx.Err()
		mu.Unlock()
		return ctx.Err()
	}}
	d := newTestDispatcher(n, 1)
	h := d.Dispatch(context.Background(), Notification{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-h.Done():
	default:
		t.Fatal("Close returned before the send finished")
	}
	mu.Lock()
	assert.ErrorIs(t, sendErr, context.Canceled)
	mu.Unlock()
}
