package extract

import (
	"context"
	"fmt"
	"time"
)

// ProgressTicker calls a function periodically until its context ends
type ProgressTicker struct {
	ctx      context.Context
	callback func()
	interval time.Duration
}

// NewProgressTicker creates a new progress ticker
func NewProgressTicker(ctx context.Context, interval time.Duration, callback func()) *ProgressTicker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressTicker{
		ctx:      ctx,
		callback: callback,
		interval: interval,
	}
}

// Run blocks, invoking the callback on every tick
func (p *ProgressTicker) Run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.callback()
		}
	}
}

// FormatCount formats element counts for progress logs: 1234567 -> "1.2M"
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return fmt.Sprintf("%d", n)
}
