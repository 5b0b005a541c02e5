package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures a BreakerStore.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerStore guards a remote Store with a circuit breaker. After
// FailureThreshold consecutive failures it stops calling the backend for
// Timeout and fails fast with ErrUnavailable. It never turns a failure into
// an absent key. Cancelled caller contexts are returned as errors but do not
// count towards tripping the breaker.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next Store, settings BreakerSettings) *BreakerStore {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller hanging up says nothing about the backend. Deadlines still
		// count: they are how a slow backend shows up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Store circuit breaker state changed",
				"store", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

type getResult struct {
	value string
	found bool
}

// Get reads through the breaker.
func (bs *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := bs.cb.Execute(func() (interface{}, error) {
		value, found, err := bs.next.Get(ctx, key)
		return getResult{value: value, found: found}, err
	})
	if err != nil {
		return "", false, bs.translate(err)
	}
	r := res.(getResult)
	return r.value, r.found, nil
}

// Set writes through the breaker.
func (bs *BreakerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := bs.cb.Execute(func() (interface{}, error) {
		return nil, bs.next.Set(ctx, key, value, ttl)
	})
	return bs.translate(err)
}

// Ping bypasses the breaker so health checks see the backend's real state.
func (bs *BreakerStore) Ping(ctx context.Context) error {
	return bs.next.Ping(ctx)
}

// Close closes the wrapped store.
func (bs *BreakerStore) Close() error {
	return bs.next.Close()
}

// Unwrap returns the guarded store.
func (bs *BreakerStore) Unwrap() Store {
	return bs.next
}

// State reports the breaker state (closed, half-open, open).
func (bs *BreakerStore) State() string {
	return bs.cb.State().String()
}

func (bs *BreakerStore) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s breaker: %v", ErrUnavailable, bs.cb.Name(), err)
	}
	return err
}
