package uploader

import "time"

const (
	speedWindow = 5 // moving-average window, in chunk samples
	stallCount  = 3 // consecutive slow samples before flagging a stall
	// stallThreshold is the speed, in bytes per second, below which a
	// sample counts as stalled.
	stallThreshold = 10 * 1024
)

// Progress is the per-chunk snapshot handed to the caller's callback.
// It is recomputed on every chunk and never persisted.
type Progress struct {
	Percent    float64
	BytesSent  int64
	BytesTotal int64
	Speed      float64 // bytes per second, moving average
	ETA        time.Duration
	Stalled    bool
	UpdatedAt  time.Time
}

// progressTracker derives speed and ETA from acknowledged byte counts.
type progressTracker struct {
	total     int64
	sent      int64
	samples   []float64
	lastBytes int64
	lastTime  time.Time
	now       func() time.Time
}

func newProgressTracker(total int64, now func() time.Time) *progressTracker {
	return &progressTracker{total: total, now: now}
}

// observe records a new acknowledged byte count and derives one speed
// sample from the delta since the previous observation.
func (t *progressTracker) observe(totalSent int64) {
	ts := t.now()
	if !t.lastTime.IsZero() {
		elapsed := ts.Sub(t.lastTime).Seconds()
		if elapsed > 0 {
			sample := float64(totalSent-t.lastBytes) / elapsed
			t.samples = append(t.samples, sample)
			if len(t.samples) > speedWindow {
				t.samples = t.samples[len(t.samples)-speedWindow:]
			}
		}
	}
	t.lastBytes = totalSent
	t.lastTime = ts
	t.sent = totalSent
}

func (t *progressTracker) snapshot() Progress {
	p := Progress{
		BytesSent:  t.sent,
		BytesTotal: t.total,
		UpdatedAt:  t.lastTime,
	}
	if t.total > 0 {
		p.Percent = float64(t.sent) / float64(t.total) * 100
	}
	if len(t.samples) > 0 {
		var sum float64
		for _, s := range t.samples {
			sum += s
		}
		p.Speed = sum / float64(len(t.samples))
	}
	if p.Speed > 0 && t.total > t.sent {
		p.ETA = time.Duration(float64(t.total-t.sent)/p.Speed) * time.Second
	}
	p.Stalled = t.stalled()
	return p
}

// stalled reports whether the most recent samples are all below the
// threshold.
func (t *progressTracker) stalled() bool {
	if len(t.samples) < stallCount {
		return false
	}
	for _, s := range t.samples[len(t.samples)-stallCount:] {
		if s >= stallThreshold {
			return false
		}
	}
	return true
}
