package captcha

import (
	"log/slog"
	"sync"
	"time"
)

// Signal is a monitor state change.
type Signal int

const (
	// SignalPaused fires when a challenge is detected.
	SignalPaused Signal = iota + 1
	// SignalResolved fires when the page is back on the home URL.
	SignalResolved
	// SignalTimeout fires when a pause outlives the resolution timeout.
	SignalTimeout
	// SignalDisabled fires when the monitor gives up after repeated
	// check failures.
	SignalDisabled
)

func (s Signal) String() string {
	switch s {
	case SignalPaused:
		return "paused"
	case SignalResolved:
		return "resolved"
	case SignalTimeout:
		return "timeout"
	case SignalDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Event is delivered to observers on every signal.
type Event struct {
	Signal   Signal
	Platform string
	URL      string
	HandleID string
	Reason   string
	At       time.Time
}

// Observer receives monitor events. Observe runs on the monitor goroutine
// and must not block or call back into the monitor.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Router fans events out to every registered observer. A panicking
// observer is logged and skipped.
type Router struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Add registers o.
func (r *Router) Add(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Observe delivers e to all observers in registration order.
func (r *Router) Observe(e Event) {
	r.mu.RLock()
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.mu.RUnlock()

	for _, o := range obs {
		r.deliver(o, e)
	}
}

func (r *Router) deliver(o Observer, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("captcha: observer panicked", "signal", e.Signal.String(), "panic", rec)
		}
	}()
	o.Observe(e)
}
