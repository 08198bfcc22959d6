package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/neexbeast/culturalcompass/internal/discovery"
	"github.com/neexbeast/culturalcompass/internal/metrics"
)

const (
	defaultName                = "places-provider"
	defaultConsecutiveFailures = 3
	defaultOpenTimeout         = 30 * time.Second
	defaultInterval            = time.Minute
)

// Settings tunes the breaker behind a Monitor.
type Settings struct {
	Name string
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// Interval resets failure counts while closed.
	Interval time.Duration
}

// Monitor guards a PlacesProvider with a circuit breaker and doubles as the
// connectivity oracle: the network counts as offline while the breaker is open.
type Monitor struct {
	provider discovery.PlacesProvider
	cb       *gobreaker.CircuitBreaker[[]discovery.Place]
	name     string
	log      *slog.Logger
}

// NewMonitor wraps provider.
func NewMonitor(provider discovery.PlacesProvider, s Settings, log *slog.Logger) *Monitor {
	if s.Name == "" {
		s.Name = defaultName
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = defaultConsecutiveFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Monitor{provider: provider, name: s.Name, log: log}
	metrics.BreakerState.Set(stateToFloat(gobreaker.StateClosed))

	threshold := s.ConsecutiveFailures
	m.cb = gobreaker.NewCircuitBreaker[[]discovery.Place](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a provider fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(stateToFloat(to))
			m.log.Info("provider circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return m
}

// Nearby calls the wrapped provider unless the breaker is open.
func (m *Monitor) Nearby(ctx context.Context, req discovery.NearbyRequest) ([]discovery.Place, error) {
	places, err := m.cb.Execute(func() ([]discovery.Place, error) {
		return m.provider.Nearby(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ProviderRequests.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %w", discovery.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	return places, nil
}

// IsOnline reports false while the breaker is open.
func (m *Monitor) IsOnline() bool {
	return m.cb.State() != gobreaker.StateOpen
}

// State returns the breaker state name.
func (m *Monitor) State() string {
	return m.cb.State().String()
}

// Ping fails while the provider is considered unreachable. Used by the health check.
func (m *Monitor) Ping(_ context.Context) error {
	if !m.IsOnline() {
		return fmt.Errorf("%s: %w", m.name, discovery.ErrProviderUnavailable)
	}
	return nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
