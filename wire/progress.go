package wire

import (
	"fmt"
	"time"
)

// progressTracker rate-limits progress callbacks during the block
// phase. Sessions are single-threaded, so no locking is needed.
type progressTracker struct {
	filename string
	total    uint64

	transferred uint64
	startTime   time.Time
	lastUpdate  time.Time
	lastBytes   uint64

	callback func(string, uint64, uint64, float64)
	interval time.Duration
}

func newProgressTracker(callback func(string, uint64, uint64, float64), interval time.Duration) *progressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &progressTracker{callback: callback, interval: interval}
}

func (pt *progressTracker) start(filename string, total uint64) {
	pt.filename = filename
	pt.total = total
	pt.transferred = 0
	pt.startTime = time.Now()
	pt.lastUpdate = pt.startTime
	pt.lastBytes = 0
}

// update records progress and invokes the callback if the update
// interval has passed.
func (pt *progressTracker) update(transferred uint64) {
	pt.transferred = transferred

	now := time.Now()
	if now.Sub(pt.lastUpdate) < pt.interval {
		return
	}

	elapsed := now.Sub(pt.lastUpdate).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(transferred-pt.lastBytes) / elapsed
	}
	if pt.callback != nil {
		pt.callback(pt.filename, transferred, pt.total, rate)
	}
	pt.lastUpdate = now
	pt.lastBytes = transferred
}

// complete emits a final update and returns the total duration.
func (pt *progressTracker) complete() time.Duration {
	duration := time.Since(pt.startTime)
	if pt.callback != nil {
		pt.callback(pt.filename, pt.transferred, pt.total, 0)
	}
	return duration
}

// HumanBytes formats a byte count with binary-unit suffixes, matching
// the original tooling's progress output.
func HumanBytes(n uint64) string {
	v := float64(n)
	for _, unit := range []string{"", "K", "M", "G", "T"} {
		if v < 1024.0 {
			return fmt.Sprintf("%.1f%sB", v, unit)
		}
		v /= 1024.0
	}
	return fmt.Sprintf("%.1fPB", v)
}
