// Package watchdog logs an authenticated session out after a period without
// user input. Expiry is detected by polling, so it can lag the threshold by up
// to one poll interval.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/portal/internal/clock"
)

const (
	DefaultThreshold    = 20 * time.Minute
	DefaultPollInterval = 60 * time.Second
)

// Event is a user input event reported by the browser.
type Event string

const (
	EventPointerDown Event = "pointerdown"
	EventPointerMove Event = "pointermove"
	EventKeyDown     Event = "keydown"
	EventScroll      Event = "scroll"
	EventTouchStart  Event = "touchstart"
)

// Qualifies reports whether e resets the inactivity timer.
func (e Event) Qualifies() bool {
	switch e {
	case EventPointerDown, EventPointerMove, EventKeyDown, EventScroll, EventTouchStart:
		return true
	}
	return false
}

type State int

const (
	StateInert State = iota
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "inert"
	}
}

type Watchdog struct {
	threshold time.Duration
	interval  time.Duration
	clock     clock.Clocker
	onExpire  func(ctx context.Context)

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

type Option func(*Watchdog)

func WithThreshold(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.threshold = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithClock(c clock.Clocker) Option {
	return func(w *Watchdog) { w.clock = c }
}

// New returns an inert watchdog. onExpire runs once, on the polling goroutine,
// when the session is found idle.
func New(onExpire func(ctx context.Context), opts ...Option) *Watchdog {
	w := &Watchdog{
		threshold: DefaultThreshold,
		interval:  DefaultPollInterval,
		clock:     clock.New(),
		onExpire:  onExpire,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start arms the watchdog for an authenticated session. It is a no-op when
// already active.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateActive {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.state = StateActive
	w.lastActivity = w.clock.Now()
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, cancel, w.done)
}

// Stop releases the poll loop and stops listening for events.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	if w.state == StateActive {
		w.state = StateInert
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Observe records a user input event. Events are ignored unless the watchdog
// is active and the event qualifies.
func (w *Watchdog) Observe(e Event) bool {
	if !e.Qualifies() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateActive {
		return false
	}
	w.lastActivity = w.clock.Now()
	return true
}

func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Watchdog) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.poll() {
				if w.onExpire != nil {
					w.onExpire(context.WithoutCancel(ctx))
				}
				return
			}
		}
	}
}

// poll moves the watchdog to expired when the idle time exceeds the threshold.
func (w *Watchdog) poll() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateActive {
		return false
	}
	if w.clock.Now().Sub(w.lastActivity) <= w.threshold {
		return false
	}
	w.state = StateExpired
	// the loop exits on its own; Stop has nothing left to wait for
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = nil
	w.done = nil
	return true
}
