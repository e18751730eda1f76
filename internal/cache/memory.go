package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"tlcharts/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

var _ Store = (*MemoryStore)(nil)

type memEntry struct {
	entry    domain.CacheEntry
	expireAt int64 // unix nano, 0 -> never
}

type MemoryStore struct {
	log     logger.Logger
	ttl     time.Duration
	mu      sync.RWMutex
	items   map[string]memEntry
	stopCh  chan struct{}
	stopped bool
}

// for one instance;
// ttl-how long to keep a chart, 0 -> forever;
// janitorEvery-how often to drop expired keys; 0 -> don't run collector
func NewMemoryStore(log logger.Logger, ttl, janitorEvery time.Duration) *MemoryStore {
	m := &MemoryStore{
		log:    log,
		ttl:    ttl,
		items:  make(map[string]memEntry, 256),
		stopCh: make(chan struct{}),
	}

	if janitorEvery > 0 && ttl > 0 {
		go m.janitor(janitorEvery)
	}

	return m
}

func (m *MemoryStore) Get(_ context.Context, normalized string) (*domain.CacheEntry, bool, error) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	e, ok := m.items[normalized]
	m.mu.RUnlock()

	if !ok || (e.expireAt != 0 && e.expireAt <= now) {
		return nil, false, nil
	}

	entry := e.entry
	return &entry, true, nil
}

func (m *MemoryStore) Set(_ context.Context, entry domain.CacheEntry) error {
	if entry.NormalizedQuery == "" {
		return errors.New("cache entry without normalized query")
	}

	var exp int64
	if m.ttl > 0 {
		exp = time.Now().Add(m.ttl).UnixNano()
	}

	m.mu.Lock()
	m.items[entry.NormalizedQuery] = memEntry{entry: entry, expireAt: exp}
	m.mu.Unlock()

	m.log.Debugf("Cached chart by key=%s", entry.NormalizedQuery)
	return nil
}

// Len counts live entries; expired ones not yet collected are skipped
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.items {
		if e.expireAt == 0 || e.expireAt > now {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Health(_ context.Context) error {
	return nil
}

func (m *MemoryStore) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			now := time.Now().UnixNano()
			m.mu.Lock()
			for k, e := range m.items {
				if e.expireAt != 0 && e.expireAt <= now {
					m.log.Debugf("Removing expired chart: %s", k)
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close stops the collector (if running)
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
	m.mu.Unlock()
	return nil
}
