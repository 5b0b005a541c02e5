package storage

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is implemented by stores whose expired rows are only removed lazily
// on read and need a periodic delete.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AsSweeper finds a Sweeper in store or in any store it wraps.
func AsSweeper(store Store) (Sweeper, bool) {
	for store != nil {
		if s, ok := store.(Sweeper); ok {
			return s, true
		}
		u, ok := store.(interface{ Unwrap() Store })
		if !ok {
			return nil, false
		}
		store = u.Unwrap()
	}
	return nil, false
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				slog.Warn("Expired bucket sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("Swept expired buckets", "removed", removed)
			}
		}
	}
}
