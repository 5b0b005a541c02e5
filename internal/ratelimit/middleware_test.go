package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelimit/internal/models"
	"edgelimit/internal/storage"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type recordedEvents struct {
	mu        sync.Mutex
	allowed   int
	denied    int
	fallbacks []string
}

func (r *recordedEvents) RecordDecision(_ context.Context, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if allowed {
		r.allowed++
	} else {
		r.denied++
	}
}

func (r *recordedEvents) RecordFallback(_ context.Context, mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, mode)
}

func newGuard(t *testing.T, cfg GuardConfig, opts ...GuardOption) *Guard {
	t.Helper()
	g, err := NewGuard(cfg, opts...)
	require.NoError(t, err)
	return g
}

func staticStore(s storage.Store) func(*http.Request) storage.Store {
	return func(*http.Request) storage.Store { return s }
}

func newRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	clock := &testClock{ms: 250}
	g := newGuard(t, GuardConfig{
		Limit:        10,
		Window:       time.Second,
		StoreFactory: staticStore(newTestStore(t, clock)),
		Now:          clock.Now,
	})

	rr := httptest.NewRecorder()
	g.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, newRequest("192.168.1.1:12345"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	clock := &testClock{ms: 1_000}
	g := newGuard(t, GuardConfig{
		Limit:        2,
		Window:       10 * time.Second,
		StoreFactory: staticStore(newTestStore(t, clock)),
		Now:          clock.Now,
	})
	handler := g.Middleware(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("10.0.0.1:1111"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("10.0.0.1:2222"))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "9", rr.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Equal(t, float64(2), body["limit"])
	assert.Equal(t, float64(9000), body["resetInMs"])
	assert.Len(t, body, 3)
}

func TestMiddleware_SeparateBucketsPerIdentity(t *testing.T) {
	clock := &testClock{}
	g := newGuard(t, GuardConfig{
		Limit:        1,
		Window:       time.Minute,
		StoreFactory: staticStore(newTestStore(t, clock)),
		Now:          clock.Now,
	})
	handler := g.Middleware(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("10.0.0.2:1"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestMiddleware_MissingIdentity(t *testing.T) {
	g := newGuard(t, GuardConfig{
		Limit:   1,
		Window:  time.Minute,
		KeyFunc: HeaderKey("X-API-Key"),
	})

	rr := httptest.NewRecorder()
	g.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, newRequest("10.0.0.1:1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, models.ErrorCodeBadRequest, body.Code)
}

func TestGuard_FailureModes(t *testing.T) {
	down := &failingStore{err: storage.ErrUnavailable}

	tests := []struct {
		name          string
		mode          FailureMode
		wantStatus    int
		wantHeaders   bool
		wantFallbacks []string
	}{
		{"error", FailError, http.StatusServiceUnavailable, false, nil},
		{"open", FailOpen, http.StatusOK, false, []string{"open"}},
		{"closed", FailClosed, http.StatusTooManyRequests, true, []string{"closed"}},
		{"memoryless", FailMemoryless, http.StatusOK, true, []string{"memoryless"}},
		{"default is memoryless", "", http.StatusOK, true, []string{"memoryless"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &recordedEvents{}
			g := newGuard(t, GuardConfig{
				Limit:        5,
				Window:       time.Second,
				StoreFactory: staticStore(down),
				OnStoreError: tt.mode,
			}, WithRecorder(events), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

			rr := httptest.NewRecorder()
			g.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, newRequest("10.0.0.1:1"))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantHeaders, rr.Header().Get("X-RateLimit-Limit") != "")
			assert.Equal(t, tt.wantFallbacks, events.fallbacks)
		})
	}
}

func TestGuard_ErrorModeBody(t *testing.T) {
	g := newGuard(t, GuardConfig{
		Limit:        5,
		Window:       time.Second,
		StoreFactory: staticStore(&failingStore{err: errors.New("dial tcp: refused")}),
		OnStoreError: FailError,
	})

	rr := httptest.NewRecorder()
	g.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, newRequest("10.0.0.1:1"))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Service Unavailable", body.Error)
	assert.Equal(t, models.ErrorCodeServiceUnavailable, body.Code)
}

func TestGuard_Evaluate(t *testing.T) {
	clock := &testClock{ms: 400}
	g := newGuard(t, GuardConfig{
		Limit:        1,
		Window:       time.Second,
		StoreFactory: staticStore(newTestStore(t, clock)),
		Now:          clock.Now,
	})

	rej, err := g.Evaluate(newRequest("10.0.0.1:1"))
	require.NoError(t, err)
	assert.Nil(t, rej)

	rej, err = g.Evaluate(newRequest("10.0.0.1:1"))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, 1, rej.Limit)
	assert.Equal(t, 0, rej.Remaining)
	assert.Equal(t, int64(600), rej.ResetInMs)

	rr := httptest.NewRecorder()
	rej.Write(rr)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestGuard_EvaluateErrorMode(t *testing.T) {
	g := newGuard(t, GuardConfig{
		Limit:        1,
		Window:       time.Second,
		StoreFactory: staticStore(&failingStore{err: storage.ErrUnavailable}),
		OnStoreError: FailError,
	})

	rej, err := g.Evaluate(newRequest("10.0.0.1:1"))
	assert.Nil(t, rej)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = g.Evaluate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestGuard_MemorylessWithoutFactory(t *testing.T) {
	events := &recordedEvents{}
	g := newGuard(t, GuardConfig{Limit: 1, Window: time.Second}, WithRecorder(events))

	for i := 0; i < 3; i++ {
		rej, err := g.Evaluate(newRequest("10.0.0.1:1"))
		require.NoError(t, err)
		assert.Nil(t, rej)
	}
	assert.Equal(t, 3, events.allowed)
	assert.Empty(t, events.fallbacks)
}

func TestGuard_StoreTimeout(t *testing.T) {
	g := newGuard(t, GuardConfig{
		Limit:        1,
		Window:       time.Second,
		StoreFactory: staticStore(blockingStore{}),
		OnStoreError: FailError,
	}, WithStoreTimeout(10*time.Millisecond))

	_, err := g.Evaluate(newRequest("10.0.0.1:1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingStore waits for the context on every call.
type blockingStore struct{}

func (blockingStore) Get(ctx context.Context, _ string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func (blockingStore) Set(ctx context.Context, _, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Ping(ctx context.Context) error { return nil }
func (blockingStore) Close() error                   { return nil }

func TestNewGuard_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  GuardConfig
	}{
		{"zero limit", GuardConfig{Limit: 0, Window: time.Second}},
		{"zero window", GuardConfig{Limit: 1}},
		{"unknown failure mode", GuardConfig{Limit: 1, Window: time.Second, OnStoreError: "sometimes"}},
		{"negative refill", GuardConfig{Limit: 1, Window: time.Second, RefillRatePerMs: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestParseFailureMode(t *testing.T) {
	for _, in := range []string{"error", "open", "closed", "memoryless", " OPEN "} {
		_, err := ParseFailureMode(in)
		assert.NoError(t, err, in)
	}

	mode, err := ParseFailureMode("")
	require.NoError(t, err)
	assert.Equal(t, FailMemoryless, mode)

	_, err = ParseFailureMode("maybe")
	assert.Error(t, err)
}

func TestResetSeconds(t *testing.T) {
	assert.Equal(t, int64(0), ResetSeconds(0))
	assert.Equal(t, int64(1), ResetSeconds(1))
	assert.Equal(t, int64(1), ResetSeconds(1000))
	assert.Equal(t, int64(2), ResetSeconds(1001))
}
