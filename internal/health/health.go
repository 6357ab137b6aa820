// Package health tracks whether the upstream is reachable. The signal feeds
// from real fetch traffic and from a cheap periodic probe, so quiet periods
// still notice an outage and a busy fetch never double-probes.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the upstream's reachability as currently believed.
type State int

const (
	StateOnline State = iota
	StateOffline
)

func (s State) String() string {
	if s == StateOffline {
		return "offline"
	}
	return "online"
}

// Monitor flips Offline after a run of consecutive failures and back Online
// on the first sign of life. A throttled upstream is alive; callers report
// throttles as successes.
type Monitor struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
	subs      []func(State)

	probe func(context.Context) error
	group singleflight.Group
}

// New creates a Monitor starting Online. probe is the reachability check
// used by Probe and Run; it may be nil when only fetch traffic feeds the
// monitor. A reachable-but-throttled upstream should probe as nil error.
func New(threshold int, probe func(context.Context) error) *Monitor {
	if threshold <= 0 {
		threshold = 1
	}
	return &Monitor{threshold: threshold, probe: probe}
}

// State returns the current belief.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failures returns the current consecutive-failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Subscribe registers fn to be called on every state change. Callbacks run
// synchronously on the goroutine that caused the change; keep them short.
func (m *Monitor) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// RecordSuccess resets the failure run and restores Online if needed.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	m.failures = 0
	subs := m.transition(StateOnline)
	m.mu.Unlock()
	notify(subs, StateOnline)
}

// RecordFailure extends the failure run, flipping Offline at the threshold.
// Further failures while Offline keep counting but do not re-notify.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	m.failures++
	var subs []func(State)
	if m.failures >= m.threshold {
		subs = m.transition(StateOffline)
	}
	m.mu.Unlock()
	notify(subs, StateOffline)
}

// transition switches state and returns the subscribers to notify, or nil
// when the state did not change. Caller holds mu.
func (m *Monitor) transition(to State) []func(State) {
	if m.state == to {
		return nil
	}
	m.state = to
	subs := make([]func(State), len(m.subs))
	copy(subs, m.subs)
	return subs
}

func notify(subs []func(State), s State) {
	for _, fn := range subs {
		fn(s)
	}
}

// Probe runs the reachability check once and feeds the result in.
// Overlapping calls collapse into a single upstream request.
func (m *Monitor) Probe(ctx context.Context) State {
	if m.probe == nil {
		return m.State()
	}
	m.group.Do("probe", func() (any, error) {
		if err := m.probe(ctx); err != nil {
			m.RecordFailure()
		} else {
			m.RecordSuccess()
		}
		return nil, nil
	})
	return m.State()
}

// Run probes every interval until ctx is done. Meant for a goroutine.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
