package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Config sets the token bucket shared by every key of a Limiter
type Config struct {
	RPS   float64 `yaml:"rps" default:"1" validate:"gt=0"`
	Burst int     `yaml:"burst" default:"2" validate:"gt=0"`
}

// DefaultConfig allows one fetch per second with a burst of two
func DefaultConfig() Config {
	return Config{RPS: 1, Burst: 2}
}

// Limiter keeps one token bucket per upstream source
type Limiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a keyed limiter
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		config:  config,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.config.RPS), l.config.Burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a call for key may proceed now, consuming a token if so
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.bucket(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", key, err)
	}
	return nil
}

// SetRPS changes the refill rate of existing and future buckets
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.config.RPS = rps
	for _, b := range l.buckets {
		b.SetLimit(rate.Limit(rps))
	}
}

// Stats reports the available tokens per key, sorted by key
func (l *Limiter) Stats() []Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Stats, 0, len(l.buckets))
	for key, b := range l.buckets {
		out = append(out, Stats{
			Key:             key,
			RPS:             float64(b.Limit()),
			Burst:           b.Burst(),
			TokensAvailable: b.Tokens(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats is a point-in-time view of one bucket
type Stats struct {
	Key             string  `json:"key"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// Throttled reports whether the next call would have to wait
func (s Stats) Throttled() bool {
	return s.TokensAvailable < 1
}
