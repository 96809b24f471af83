package alert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel counts sends and fails a configurable number of times.
type fakeChannel struct {
	name      string
	failFirst int32
	failAll   bool
	calls     int32
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, n Notification) error {
	calls := atomic.AddInt32(&f.calls, 1)
	if f.failAll || calls <= f.failFirst {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeChannel) callCount() int32 { return atomic.LoadInt32(&f.calls) }

func newTestDispatcher(sendAll bool, channels ...Channel) *Dispatcher {
	return NewDispatcher(channels, NewMemoryStore(), DispatcherConfig{
		SendAllActivities: sendAll,
		MaxAttempts:       2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	})
}

func suspiciousNotification() Notification {
	return Notification{EventID: "e1", Camera: "FRONT_DOOR", Suspicious: true, Description: "prowler"}
}

func TestDispatch_SuppressesNonSuspicious(t *testing.T) {
	ch := &fakeChannel{name: "chat"}
	d := newTestDispatcher(false, ch)

	outcome, records := d.Dispatch(context.Background(), Notification{EventID: "e1", Suspicious: false, Description: "cat"})

	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Empty(t, records)
	assert.Equal(t, int32(0), ch.callCount(), "suppression must make zero channel calls")
}

func TestDispatch_SendAllActivitiesOverridesPolicy(t *testing.T) {
	ch := &fakeChannel{name: "chat"}
	d := newTestDispatcher(true, ch)

	outcome, _ := d.Dispatch(context.Background(), Notification{EventID: "e1", Suspicious: false, Description: "cat"})

	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, int32(1), ch.callCount())
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	a := &fakeChannel{name: "chat"}
	b := &fakeChannel{name: "irm"}
	d := newTestDispatcher(false, a, b)

	outcome, records := d.Dispatch(context.Background(), suspiciousNotification())

	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, StatusSent, records["chat"].Status)
	assert.Equal(t, StatusSent, records["irm"].Status)
	assert.Equal(t, int32(1), a.callCount())
	assert.Equal(t, int32(1), b.callCount())
}

func TestDispatch_OneChannelFailingStillDispatches(t *testing.T) {
	good := &fakeChannel{name: "chat"}
	bad := &fakeChannel{name: "irm", failAll: true}
	d := newTestDispatcher(false, good, bad)

	outcome, records := d.Dispatch(context.Background(), suspiciousNotification())

	assert.Equal(t, OutcomeDispatched, outcome, "one success is enough")
	assert.Equal(t, StatusSent, records["chat"].Status)
	assert.Equal(t, StatusFailed, records["irm"].Status)
	assert.Equal(t, 2, records["irm"].Attempts, "failing channel exhausts its retries")
	assert.Equal(t, int32(1), good.callCount(), "other channel is unaffected")
}

func TestDispatch_RetryThenSucceed(t *testing.T) {
	flaky := &fakeChannel{name: "chat", failFirst: 1}
	d := newTestDispatcher(false, flaky)

	outcome, records := d.Dispatch(context.Background(), suspiciousNotification())

	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, StatusSent, records["chat"].Status)
	assert.Equal(t, 2, records["chat"].Attempts)
}

func TestDispatch_AllChannelsFailed(t *testing.T) {
	a := &fakeChannel{name: "chat", failAll: true}
	b := &fakeChannel{name: "irm", failAll: true}
	d := newTestDispatcher(false, a, b)

	outcome, records := d.Dispatch(context.Background(), suspiciousNotification())

	assert.Equal(t, OutcomeAllFailed, outcome)
	assert.Equal(t, StatusFailed, records["chat"].Status)
	assert.Equal(t, StatusFailed, records["irm"].Status)
}

func TestDispatch_IdempotentAcrossRetries(t *testing.T) {
	ch := &fakeChannel{name: "chat"}
	store := NewMemoryStore()
	d := NewDispatcher([]Channel{ch}, store, DispatcherConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	})

	n := suspiciousNotification()
	outcome, _ := d.Dispatch(context.Background(), n)
	require.Equal(t, OutcomeDispatched, outcome)

	// A higher-level retry of the same incident must not resend.
	outcome, records := d.Dispatch(context.Background(), n)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, StatusSent, records["chat"].Status)
	assert.Equal(t, int32(1), ch.callCount(), "already-sent record must never be resent")
}

func TestDispatch_ExactlyOneSendPerChannel(t *testing.T) {
	// With send_all_activities=false and a suspicious verdict, every
	// configured channel receives exactly one send attempt.
	a := &fakeChannel{name: "chat"}
	b := &fakeChannel{name: "irm"}
	d := newTestDispatcher(false, a, b)

	d.Dispatch(context.Background(), suspiciousNotification())

	assert.Equal(t, int32(1), a.callCount())
	assert.Equal(t, int32(1), b.callCount())
}
