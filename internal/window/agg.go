package window

import (
	"math"
	"time"
)

// Counters for one minute
type delta struct {
	queries      int64
	cacheHits    int64
	failures     int64
	fallbacks    int64
	processingMs int64
}

// Ring buffer slot, minute is the unix minute the counters belong to
type slot struct {
	minute int64
	delta
}

func (s *slot) add(d *delta) {
	s.queries += d.queries
	s.cacheHits += d.cacheHits
	s.failures += d.failures
	s.fallbacks += d.fallbacks
	s.processingMs += d.processingMs
}

type agg struct {
	delta
}

func (a *agg) add(d *delta) {
	a.queries += d.queries
	a.cacheHits += d.cacheHits
	a.failures += d.failures
	a.fallbacks += d.fallbacks
	a.processingMs += d.processingMs
}

func (a *agg) toWindowStats() WindowStats {
	ws := WindowStats{
		Queries:   a.queries,
		CacheHits: a.cacheHits,
		Failures:  a.failures,
		Fallbacks: a.fallbacks,
	}
	if a.queries > 0 {
		ws.AvgProcessingMs = math.Round(float64(a.processingMs)/float64(a.queries)*100) / 100
	}
	return ws
}

// WindowStats is the aggregate of one sliding window
type WindowStats struct {
	Queries         int64   `json:"queries"`
	CacheHits       int64   `json:"cache_hits"`
	Failures        int64   `json:"failures"`
	Fallbacks       int64   `json:"fallbacks"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

type Summary struct {
	GeneratedAt time.Time   `json:"generated_at"`
	W5m         WindowStats `json:"w5m"`
	W1h         WindowStats `json:"w1h"`
	W24h        WindowStats `json:"w24h"`
}
