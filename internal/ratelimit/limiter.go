// Package ratelimit implements token-bucket admission control for stateless,
// horizontally scaled request handlers. Bucket state lives only in a
// storage.Store; every check is a full read-refill-consume-write cycle, and a
// nil store degrades to memoryless checks that always start from a full bucket.
//
// Buckets are keyed by caller identity plus the index of the current fixed
// window, so a fresh window always starts full while tokens refill
// continuously inside a window.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"edgelimit/internal/storage"
)

// ErrInvalidOptions is returned before any store access when the check
// options are unusable.
var ErrInvalidOptions = errors.New("invalid rate limit options")

// Options configures a single admission check.
type Options struct {
	// ID is the caller identity (IP address, user id, API key). Required.
	ID string
	// Limit is the bucket capacity and the number of tokens per window. Required.
	Limit int
	// Window is the fixed window length; it is used at millisecond resolution
	// and must be at least 1ms. Required.
	Window time.Duration
	// RefillRatePerMs overrides the refill rate in tokens per millisecond.
	// Zero means Limit / window_ms, which refills an empty bucket in exactly
	// one window.
	RefillRatePerMs float64
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// Store holds bucket state between calls. Nil means memoryless mode.
	Store storage.Store
}

// Result is the outcome of a check.
type Result struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	ResetInMs int64 `json:"resetInMs"`
	Limit     int   `json:"limit"`
}

// bucket is the persisted state, stored as JSON.
type bucket struct {
	Tokens    float64 `json:"tokens"`
	UpdatedAt int64   `json:"updatedAt"`
}

// params are Options with defaults applied.
type params struct {
	id       string
	limit    int
	windowMs int64
	rate     float64
	now      func() time.Time
	store    storage.Store
}

func (o Options) resolve() (params, error) {
	if o.ID == "" {
		return params{}, fmt.Errorf("%w: id cannot be empty", ErrInvalidOptions)
	}
	if o.Limit <= 0 {
		return params{}, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidOptions, o.Limit)
	}
	windowMs := o.Window.Milliseconds()
	if windowMs <= 0 {
		return params{}, fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidOptions, o.Window)
	}
	if o.RefillRatePerMs < 0 || math.IsNaN(o.RefillRatePerMs) || math.IsInf(o.RefillRatePerMs, 0) {
		return params{}, fmt.Errorf("%w: refill rate must be a finite non-negative number", ErrInvalidOptions)
	}

	p := params{
		id:       o.ID,
		limit:    o.Limit,
		windowMs: windowMs,
		rate:     o.RefillRatePerMs,
		now:      o.Now,
		store:    o.Store,
	}
	if p.rate == 0 {
		p.rate = float64(o.Limit) / float64(windowMs)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Check decides whether to admit one request for opts.ID and records the
// consumed token in opts.Store. Store errors are returned wrapped; they are
// never turned into an allowed result.
func Check(ctx context.Context, opts Options) (Result, error) {
	p, err := opts.resolve()
	if err != nil {
		return Result{}, err
	}

	current := p.now().UnixMilli()
	key := bucketKey(p.id, current, p.windowMs)

	b, err := p.load(ctx, key, current)
	if err != nil {
		return Result{}, err
	}
	b.refill(current, p.limit, p.rate)

	allowed := b.Tokens >= 1
	if allowed {
		b.Tokens--
	}

	if p.store != nil {
		data, err := json.Marshal(b)
		if err != nil {
			return Result{}, fmt.Errorf("encode bucket %s: %w", key, err)
		}
		if err := p.store.Set(ctx, key, string(data), bucketTTL(p.windowMs)); err != nil {
			return Result{}, fmt.Errorf("write bucket %s: %w", key, err)
		}
	}

	return p.result(allowed, b, current), nil
}

// Peek reports the bucket state Check would see right now without consuming
// a token or writing anything. Allowed tells whether a Check at this instant
// would be admitted.
func Peek(ctx context.Context, opts Options) (Result, error) {
	p, err := opts.resolve()
	if err != nil {
		return Result{}, err
	}

	current := p.now().UnixMilli()
	b, err := p.load(ctx, bucketKey(p.id, current, p.windowMs), current)
	if err != nil {
		return Result{}, err
	}
	b.refill(current, p.limit, p.rate)

	return p.result(b.Tokens >= 1, b, current), nil
}

// BucketKey returns the store key used for id at time at.
func BucketKey(id string, at time.Time, window time.Duration) string {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	return bucketKey(id, at.UnixMilli(), windowMs)
}

func bucketKey(id string, nowMs, windowMs int64) string {
	return id + ":" + strconv.FormatInt(floorDiv(nowMs, windowMs), 10)
}

// load reads the bucket for key. Absent keys, memoryless mode and values that
// do not decode all start from a full bucket.
func (p params) load(ctx context.Context, key string, current int64) (bucket, error) {
	full := bucket{Tokens: float64(p.limit), UpdatedAt: current}
	if p.store == nil {
		return full, nil
	}

	raw, found, err := p.store.Get(ctx, key)
	if err != nil {
		return bucket{}, fmt.Errorf("read bucket %s: %w", key, err)
	}
	if !found {
		return full, nil
	}

	var b bucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return full, nil
	}
	b.clamp(p.limit)
	return b, nil
}

func (p params) result(allowed bool, b bucket, current int64) Result {
	remaining := int(math.Floor(b.Tokens))
	if remaining < 0 {
		remaining = 0
	}
	if remaining > p.limit {
		remaining = p.limit
	}
	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetInMs: p.windowMs - floorMod(current, p.windowMs),
		Limit:     p.limit,
	}
}

// refill adds tokens for the time elapsed since the last update, capped at
// limit. A clock that moved backwards refills nothing.
func (b *bucket) refill(current int64, limit int, rate float64) {
	elapsed := current - b.UpdatedAt
	if elapsed < 0 {
		elapsed = 0
	}
	b.Tokens = math.Min(float64(limit), b.Tokens+float64(elapsed)*rate)
	b.UpdatedAt = current
}

// clamp keeps decoded state inside [0, limit], e.g. after the limit was lowered.
func (b *bucket) clamp(limit int) {
	switch {
	case math.IsNaN(b.Tokens) || b.Tokens < 0:
		b.Tokens = 0
	case b.Tokens > float64(limit):
		b.Tokens = float64(limit)
	}
}

// bucketTTL is the window rounded up to whole seconds.
func bucketTTL(windowMs int64) time.Duration {
	return time.Duration((windowMs+999)/1000) * time.Second
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
