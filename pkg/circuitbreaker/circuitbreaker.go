package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Settings configures one breaker instance.
type Settings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures trips the breaker to open after this many
	// consecutive failures while closed.
	ConsecutiveFailures uint32
}

// CircuitBreaker wraps gobreaker/v2's generic breaker behind the narrow
// Execute(fn) shape the mail gateway call site uses, so swapping the
// underlying implementation never touches call sites.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewCircuitBreaker builds a breaker that opens after settings.
// ConsecutiveFailures consecutive failures, then half-opens after
// settings.Timeout to probe with up to settings.MaxRequests trial calls.
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	st := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// Execute runs fn through the breaker. When the breaker is open, fn is not
// called and gobreaker.ErrOpenState is returned.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// State reports the breaker's current state name, for status surfaces.
func (cb *CircuitBreaker) State() string {
	return cb.cb.State().String()
}

// Registry hands out one breaker per organization, since a gateway outage
// for one organization's API key/domain should not trip sends for another.
type Registry struct {
	mu       sync.Mutex
	settings func(orgID int) Settings
	breakers map[int]*CircuitBreaker
}

// NewRegistry builds a Registry that lazily constructs a breaker per
// organization using settingsFn, called once per distinct orgID.
func NewRegistry(settingsFn func(orgID int) Settings) *Registry {
	return &Registry{settings: settingsFn, breakers: make(map[int]*CircuitBreaker)}
}

// For returns the breaker for orgID, creating it on first use. Safe for
// concurrent callers across pipeline workers.
func (r *Registry) For(orgID int) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[orgID]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.settings(orgID))
	r.breakers[orgID] = cb
	return cb
}
