package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tlcharts/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Rolling 5m/1h/24h query stats on top of minute buckets.
	Fed by the query log fan-out, read by /api/analytics/summary.
*/

const bucketsPerDay = 1440

var (
	// record older than the widest window (don't apply)
	ErrTooLate = errors.New("record older than 24h window")
)

type Stats struct {
	log logger.Logger
	now func() time.Time

	mu    sync.RWMutex
	slots []slot
}

func New(log logger.Logger) *Stats {
	return &Stats{
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		slots: make([]slot, bucketsPerDay),
	}
}

func (s *Stats) Name() string { return "window" }

// Append counts one chart request into the minute bucket of its timestamp
func (s *Stats) Append(_ context.Context, rec domain.QueryLogRecord) error {
	now := s.now()
	ts := rec.Timestamp
	if ts.IsZero() || ts.After(now) {
		ts = now
	}

	minute := unixMinute(ts)
	if unixMinute(now)-minute >= bucketsPerDay {
		return fmt.Errorf("%w: ts=%s", ErrTooLate, ts.Format(time.RFC3339))
	}

	d := delta{queries: 1, processingMs: max(rec.ProcessingTimeMs, 0)}
	if rec.CacheHit {
		d.cacheHits = 1
	}
	if !rec.Success {
		d.failures = 1
	}
	if rec.Source == domain.SourceFallback {
		d.fallbacks = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[minute%bucketsPerDay]
	if sl.minute != minute {
		// ring wrapped, the slot still holds a day-old minute
		*sl = slot{minute: minute}
	}
	sl.add(&d)

	return nil
}

// Summary aggregates every live bucket into the three windows
func (s *Stats) Summary() Summary {
	now := s.now()
	nowMinute := unixMinute(now)

	var w5m, w1h, w24h agg

	s.mu.RLock()
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.queries == 0 {
			continue
		}

		dist := nowMinute - sl.minute
		if dist < 0 || dist >= bucketsPerDay {
			continue
		}

		w24h.add(&sl.delta)
		if dist < 60 {
			w1h.add(&sl.delta)
		}
		if dist < 5 {
			w5m.add(&sl.delta)
		}
	}
	s.mu.RUnlock()

	return Summary{
		GeneratedAt: now,
		W5m:         w5m.toWindowStats(),
		W1h:         w1h.toWindowStats(),
		W24h:        w24h.toWindowStats(),
	}
}

func (s *Stats) Close(context.Context) error { return nil }

// Calc absolute minute number for time
func unixMinute(t time.Time) int64 {
	return t.UTC().Unix() / 60
}
