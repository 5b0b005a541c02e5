package ratelimit

import (
	"context"
	"fmt"
	"strings"
)

// FailureMode selects what the composition layer does when the store fails.
type FailureMode string

const (
	// FailError surfaces the store error to the caller.
	FailError FailureMode = "error"
	// FailOpen admits the request without a decision.
	FailOpen FailureMode = "open"
	// FailClosed denies the request.
	FailClosed FailureMode = "closed"
	// FailMemoryless re-runs the check without a store.
	FailMemoryless FailureMode = "memoryless"
)

// ParseFailureMode converts a configuration value to a FailureMode. An empty
// value selects FailMemoryless.
func ParseFailureMode(s string) (FailureMode, error) {
	switch mode := FailureMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return FailMemoryless, nil
	case FailError, FailOpen, FailClosed, FailMemoryless:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

// Recorder receives decision events. observability.RateLimitMetrics is the
// production implementation.
type Recorder interface {
	RecordDecision(ctx context.Context, allowed bool)
	RecordFallback(ctx context.Context, mode string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, bool)   {}
func (nopRecorder) RecordFallback(context.Context, string) {}
