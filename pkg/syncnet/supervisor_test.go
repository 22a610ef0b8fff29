package syncnet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/notify"
)

type fakeChannel struct {
	dials     atomic.Int32
	connected atomic.Bool
	dialErr   error
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.dials.Add(1)
	return f.dialErr
}

func (f *fakeChannel) Connected() bool { return f.connected.Load() }

type fakeProbe struct{ online atomic.Bool }

func (f *fakeProbe) Online() bool { return f.online.Load() }

func TestSupervisor_NeverDialsWhileOffline(t *testing.T) {
	ch := &fakeChannel{}
	probe := &fakeProbe{}
	s := NewSupervisor(ch, probe, nil)
	s.SetInterval(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, ch.dials.Load())

	// Back online: the ticker picks it up within an interval or two.
	probe.online.Store(true)
	require.Eventually(t, func() bool {
		return ch.dials.Load() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_SkipsWhenAlreadyConnected(t *testing.T) {
	ch := &fakeChannel{}
	ch.connected.Store(true)
	s := NewSupervisor(ch, AlwaysOnline{}, nil)
	s.SetInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, ch.dials.Load())
}

func TestSupervisor_KickBurstCollapsesToOneAttempt(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSupervisor(ch, AlwaysOnline{}, nil)
	s.SetInterval(300 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.Stop()

	for i := 0; i < 10; i++ {
		s.Kick(ctx)
	}
	require.Eventually(t, func() bool {
		return ch.dials.Load() >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ch.dials.Load())
}

func TestSupervisor_NotifiesOncePerOfflineEpisode(t *testing.T) {
	ch := &fakeChannel{dialErr: context.DeadlineExceeded}
	var mu sync.Mutex
	var notes []notify.Notification
	s := NewSupervisor(ch, AlwaysOnline{}, notify.Func(func(n notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, n)
	}))
	s.SetInterval(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return ch.dials.Load() >= 3
	}, time.Second, 10*time.Millisecond)

	// Repeated failures in one episode raise one badge, not a stream.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notes, 1)
	assert.Equal(t, "Offline", notes[0].Title)
	assert.Equal(t, notify.SeverityInfo, notes[0].Severity)
}
