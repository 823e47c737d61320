package worker

import (
	"context"
	"log"
	"time"

	"p2p-exchange/internal/engine"
)

// AutoRelease periodically completes confirmed orders whose release
// window has lapsed without buyer action.
type AutoRelease struct {
	Engine   *engine.Engine
	Interval time.Duration
	Batch    int
}

func (w *AutoRelease) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := w.Batch
	if batch <= 0 {
		batch = 50
	}
	log.Printf("[worker] auto-release running every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] auto-release stopped")
			return
		case <-ticker.C:
			n, err := w.Engine.AutoReleaseDue(ctx, batch)
			if err != nil {
				log.Printf("[worker] auto-release sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] auto-released %d orders", n)
			}
		}
	}
}
