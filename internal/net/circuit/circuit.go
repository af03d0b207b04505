package circuit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without running it
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrRequestTimeout is returned when a call outlives RequestTimeout
	ErrRequestTimeout = errors.New("request timeout")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config represents circuit breaker configuration
type Config struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold" default:"3" validate:"gt=0"`
	MinRequests      int           `yaml:"min_requests" default:"20"`
	FailureRatio     float64       `yaml:"failure_ratio" default:"0.05" validate:"gte=0,lte=1"`
	HalfOpenRequests int           `yaml:"half_open_requests" default:"1" validate:"gt=0"`
	Interval         time.Duration `yaml:"interval" default:"60s"`
	Timeout          time.Duration `yaml:"timeout" default:"60s"`
	RequestTimeout   time.Duration `yaml:"request_timeout" default:"10s"`
}

// DefaultConfig trips after 3 consecutive failures, or above 5% failures once 20 requests were seen
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		MinRequests:      20,
		FailureRatio:     0.05,
		HalfOpenRequests: 1,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		RequestTimeout:   10 * time.Second,
	}
}

// Breaker guards calls to an unreliable dependency
type Breaker struct {
	config Config
	cb     *gobreaker.CircuitBreaker
}

// NewBreaker creates a new circuit breaker with the specified configuration.
// onChange, when non-nil, observes every state transition.
func NewBreaker(config Config, onChange func(name string, from, to State)) *Breaker {
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: uint32(config.HalfOpenRequests),
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(config.FailureThreshold) {
				return true
			}
			if config.MinRequests <= 0 || counts.Requests < uint32(config.MinRequests) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > config.FailureRatio
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	return &Breaker{config: config, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call executes fn if the breaker allows it, bounding it by RequestTimeout when one is set
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return nil, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.config.Name, ErrCircuitOpen)
	}
	return err
}

// State returns the current breaker state
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// Stats returns the request counters of the current interval
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	return Stats{
		Name:                 b.cb.Name(),
		State:                b.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// Stats is a point-in-time view of a breaker
type Stats struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
