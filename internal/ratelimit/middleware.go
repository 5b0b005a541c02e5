package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"edgelimit/internal/models"
	"edgelimit/internal/storage"
)

// ErrNoIdentity is returned when the KeyFunc yields an empty identity.
var ErrNoIdentity = errors.New("request has no rate limit identity")

// storeErrorLogInterval bounds how often store failures are logged.
const storeErrorLogInterval = 10 * time.Second

// GuardConfig describes one rate limit policy applied to HTTP requests.
type GuardConfig struct {
	Limit           int
	Window          time.Duration
	RefillRatePerMs float64
	// KeyFunc extracts the caller identity. Defaults to ClientIP.
	KeyFunc KeyFunc
	// StoreFactory returns the store for a request. A nil factory, or a
	// factory returning nil, selects memoryless mode.
	StoreFactory func(r *http.Request) storage.Store
	// OnStoreError defaults to FailMemoryless.
	OnStoreError FailureMode
	Now          func() time.Time
}

// Guard applies a GuardConfig to requests.
type Guard struct {
	cfg          GuardConfig
	recorder     Recorder
	logger       *slog.Logger
	storeTimeout time.Duration
	storeErrLog  rate.Sometimes
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithRecorder reports decisions and fallbacks to r.
func WithRecorder(r Recorder) GuardOption {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithStoreTimeout bounds each check's store round trips. Zero disables the
// timeout and leaves cancellation to the request context.
func WithStoreTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.storeTimeout = d
	}
}

// NewGuard validates cfg and returns a Guard.
func NewGuard(cfg GuardConfig, opts ...GuardOption) (*Guard, error) {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.OnStoreError == "" {
		cfg.OnStoreError = FailMemoryless
	}
	if _, err := ParseFailureMode(string(cfg.OnStoreError)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	// Validate the static part of the options once, with a placeholder id.
	if _, err := cfg.options("-", nil).resolve(); err != nil {
		return nil, err
	}

	g := &Guard{
		cfg:         cfg,
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		storeErrLog: rate.Sometimes{Interval: storeErrorLogInterval},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (c GuardConfig) options(id string, store storage.Store) Options {
	return Options{
		ID:              id,
		Limit:           c.Limit,
		Window:          c.Window,
		RefillRatePerMs: c.RefillRatePerMs,
		Now:             c.Now,
		Store:           store,
	}
}

// Config returns the policy the guard enforces.
func (g *Guard) Config() GuardConfig {
	return g.cfg
}

// Decision is a Result plus the failure policy applied to reach it.
type Decision struct {
	Result
	// Fallback is the failure mode applied after a store error; empty when the
	// store answered.
	Fallback FailureMode
}

// Decide runs a check for id against store using the guard's policy.
func (g *Guard) Decide(ctx context.Context, id string, store storage.Store) (Decision, error) {
	return g.Apply(ctx, g.cfg.options(id, store))
}

// Apply runs Check with opts and applies the guard's failure mode when the
// store fails. With FailError the store error is returned. A nil opts.Now
// falls back to the guard's clock.
func (g *Guard) Apply(ctx context.Context, opts Options) (Decision, error) {
	if opts.Now == nil {
		opts.Now = g.cfg.Now
	}
	if g.storeTimeout > 0 && opts.Store != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.storeTimeout)
		defer cancel()
	}

	res, err := Check(ctx, opts)
	if err == nil {
		g.recorder.RecordDecision(ctx, res.Allowed)
		return Decision{Result: res}, nil
	}
	if errors.Is(err, ErrInvalidOptions) {
		return Decision{}, err
	}

	mode := g.cfg.OnStoreError
	g.storeErrLog.Do(func() {
		g.logger.Warn("Rate limit store failed",
			"id", opts.ID,
			"failure_mode", string(mode),
			"error", err,
		)
	})
	if mode == FailError {
		return Decision{}, err
	}
	g.recorder.RecordFallback(ctx, string(mode))

	p, _ := opts.resolve()
	current := p.now().UnixMilli()
	switch mode {
	case FailOpen:
		full := bucket{Tokens: float64(p.limit), UpdatedAt: current}
		return Decision{Result: p.result(true, full, current), Fallback: mode}, nil
	case FailClosed:
		g.recorder.RecordDecision(ctx, false)
		return Decision{Result: p.result(false, bucket{}, current), Fallback: mode}, nil
	default:
		opts.Store = nil
		res, err := Check(ctx, opts)
		if err != nil {
			return Decision{}, err
		}
		g.recorder.RecordDecision(ctx, res.Allowed)
		return Decision{Result: res, Fallback: FailMemoryless}, nil
	}
}

func (g *Guard) evaluate(r *http.Request) (Decision, error) {
	id := g.cfg.KeyFunc(r)
	if id == "" {
		return Decision{}, ErrNoIdentity
	}
	var store storage.Store
	if g.cfg.StoreFactory != nil {
		store = g.cfg.StoreFactory(r)
	}
	return g.Apply(r.Context(), g.cfg.options(id, store))
}

// Evaluate decides whether r may proceed. A nil Rejection with a nil error
// means proceed.
func (g *Guard) Evaluate(r *http.Request) (*Rejection, error) {
	d, err := g.evaluate(r)
	if err != nil {
		return nil, err
	}
	if d.Allowed {
		return nil, nil
	}
	return &Rejection{Limit: d.Limit, Remaining: d.Remaining, ResetInMs: d.ResetInMs}, nil
}

// Middleware enforces the guard in front of next. Admitted requests carry the
// X-RateLimit-* headers, except when the store failed under FailOpen.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := g.evaluate(r)
		switch {
		case errors.Is(err, ErrNoIdentity):
			g.logger.Warn("Rate limit identity missing", "path", r.URL.Path)
			writeJSON(w, http.StatusBadRequest,
				models.NewErrorResponse("Unable to identify caller", models.ErrorCodeBadRequest))
			return
		case err != nil:
			writeJSON(w, http.StatusServiceUnavailable,
				models.NewServiceUnavailableResponse("Rate limit store unavailable"))
			return
		}

		if !d.Allowed {
			rej := &Rejection{Limit: d.Limit, Remaining: d.Remaining, ResetInMs: d.ResetInMs}
			g.logger.Debug("Rate limit exceeded",
				"limit", d.Limit,
				"reset_in_ms", d.ResetInMs,
				"path", r.URL.Path,
			)
			rej.Write(w)
			return
		}

		if d.Fallback != FailOpen {
			SetHeaders(w.Header(), d.Result)
		}
		next.ServeHTTP(w, r)
	})
}

// Rejection is a denied decision ready to be written as a 429.
type Rejection struct {
	Limit     int
	Remaining int
	ResetInMs int64
}

// Write emits the 429 response.
func (rej *Rejection) Write(w http.ResponseWriter) {
	h := w.Header()
	SetHeaders(h, Result{Limit: rej.Limit, Remaining: rej.Remaining, ResetInMs: rej.ResetInMs})
	h.Set("Retry-After", strconv.FormatInt(ResetSeconds(rej.ResetInMs), 10))
	writeJSON(w, http.StatusTooManyRequests, models.NewRateLimitExceededResponse(rej.Limit, rej.ResetInMs))
}

// SetHeaders sets the X-RateLimit-* headers for res.
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ResetSeconds(res.ResetInMs), 10))
}

// ResetSeconds rounds resetInMs up to whole seconds.
func ResetSeconds(resetInMs int64) int64 {
	if resetInMs <= 0 {
		return 0
	}
	return (resetInMs + 999) / 1000
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}
