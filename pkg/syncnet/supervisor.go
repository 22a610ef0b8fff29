package syncnet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/driftsync/driftlist/pkg/debounce"
	"github.com/driftsync/driftlist/pkg/notify"
)

// NetworkProbe reports whether the host believes it has network
// connectivity. The supervisor never dials while offline: retrying against
// a guaranteed-failing transport only burns cycles.
type NetworkProbe interface {
	Online() bool
}

// AlwaysOnline is the probe for environments without an offline signal.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

// Connectable is the slice of Channel the supervisor drives.
type Connectable interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// DefaultRetryInterval is the fixed reconnect cadence. Deliberately not
// exponential: the observable baseline is one attempt per interval while
// disconnected.
const DefaultRetryInterval = 3 * time.Second

const attemptDebounce = 500 * time.Millisecond

// Supervisor watches the composite connectivity signal and keeps invoking
// Connect at a fixed interval while the network is up and the replica is
// not caught up. Bursts of state changes collapse into at most one attempt
// per debounce window.
type Supervisor struct {
	ch       Connectable
	probe    NetworkProbe
	interval time.Duration
	deb      *debounce.Debouncer
	notifier notify.Notifier

	mu       sync.Mutex
	notified bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSupervisor(ch Connectable, probe NetworkProbe, notifier notify.Notifier) *Supervisor {
	if probe == nil {
		probe = AlwaysOnline{}
	}
	if notifier == nil {
		notifier = notify.Log
	}
	return &Supervisor{
		ch:       ch,
		probe:    probe,
		interval: DefaultRetryInterval,
		deb:      debounce.New(attemptDebounce, DefaultRetryInterval),
		notifier: notifier,
	}
}

// SetInterval overrides the retry cadence. Tests only.
func (s *Supervisor) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.deb = debounce.New(d/6, d)
}

// Start launches the retry loop. Stop (or cancelling ctx) tears it down.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	interval := s.interval
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Kick(ctx)
			}
		}
	}()
}

// Kick requests a debounced connect attempt, used by the ticker and by
// status-change callbacks alike.
func (s *Supervisor) Kick(ctx context.Context) {
	s.mu.Lock()
	deb := s.deb
	s.mu.Unlock()
	deb.Do(func() { s.attempt(ctx) })
}

func (s *Supervisor) attempt(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.probe.Online() {
		return
	}
	if s.ch.Connected() {
		s.mu.Lock()
		s.notified = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()
	dialCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	if err := s.ch.Connect(dialCtx); err != nil {
		slog.Debug("reconnect attempt failed", "err", err)
		s.mu.Lock()
		first := !s.notified
		s.notified = true
		s.mu.Unlock()
		if first {
			// Non-blocking status badge, not a hard failure.
			s.notifier.Notify(notify.Notification{
				Title:    "Offline",
				Message:  "Reconnecting to the sync server",
				Severity: notify.SeverityInfo,
			})
		}
	}
}

// Stop halts retries and cancels any pending debounced attempt.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	deb := s.deb
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	deb.Stop()
	s.wg.Wait()
}
