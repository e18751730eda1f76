package window

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

// Serializable copy of the live buckets, saved to Redis on shutdown
// so the summary survives a restart
type snapshotData struct {
	Version int
	TakenAt time.Time
	Slots   []snapshotSlot // include not empty min slots
}

type snapshotSlot struct {
	Minute       int64
	Queries      int64
	CacheHits    int64
	Failures     int64
	Fallbacks    int64
	ProcessingMs int64
}

// Snapshot encodes the non-empty buckets with gob
func (s *Stats) Snapshot(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	snap := snapshotData{Version: 1, TakenAt: s.now()}

	s.mu.RLock()
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.queries == 0 {
			continue
		}
		snap.Slots = append(snap.Slots, snapshotSlot{
			Minute:       sl.minute,
			Queries:      sl.queries,
			CacheHits:    sl.cacheHits,
			Failures:     sl.failures,
			Fallbacks:    sl.fallbacks,
			ProcessingMs: sl.processingMs,
		})
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.log.Infof("Created stats snapshot: %d buckets, %d bytes", len(snap.Slots), buf.Len())
	return buf.Bytes(), nil
}

// Restore replaces the buckets with a snapshot, dropping minutes that already left the 24h window
func (s *Stats) Restore(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot data")
	}

	var snap snapshotData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != 1 {
		return fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}

	nowMinute := unixMinute(s.now())
	slots := make([]slot, bucketsPerDay)
	restored := 0
	for _, ss := range snap.Slots {
		if dist := nowMinute - ss.Minute; dist < 0 || dist >= bucketsPerDay {
			continue
		}
		slots[ss.Minute%bucketsPerDay] = slot{
			minute: ss.Minute,
			delta: delta{
				queries:      ss.Queries,
				cacheHits:    ss.CacheHits,
				failures:     ss.Failures,
				fallbacks:    ss.Fallbacks,
				processingMs: ss.ProcessingMs,
			},
		}
		restored++
	}

	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()

	s.log.Infof("Restored stats snapshot: %d buckets, taken_at=%s", restored, snap.TakenAt)
	return nil
}
