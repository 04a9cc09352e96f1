package app

import (
	"context"
	"time"

	"github.com/five82/infinario/internal/state"
)

const defaultReportInterval = 2 * time.Second

// StartReporter launches a goroutine that hands a snapshot of store to report
// at a fixed cadence until ctx is cancelled. It returns immediately.
func StartReporter(ctx context.Context, store *state.Store, interval time.Duration, report func(state.Snapshot)) {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report(store.Snapshot())
			}
		}
	}()
}
