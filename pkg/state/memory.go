package state

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	// MaxSize bounds the number of entries; 0 means unlimited. At
	// capacity the oldest-inserted key is evicted to admit a new one.
	MaxSize int

	// DefaultTTL applies to Set calls that pass no TTL; 0 disables.
	DefaultTTL time.Duration

	// WheelSlots is the timing wheel size in one-second slots.
	// Defaults to 3600.
	WheelSlots int
}

type memEntry struct {
	entry Entry
	// elem points into the insertion-order list used for eviction.
	elem *list.Element
}

// Memory is the in-memory backend: a map guarded by a mutex plus a
// timing wheel swept once per second. Reads double-check expiry, so a
// missed wheel slot can only delay reclamation, never serve stale data.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	order   *list.List // insertion order, oldest first; values are keys
	wheel   []map[string]struct{}
	cursor  int64 // unix second of the last processed sweep
	cfg     MemoryConfig
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewMemory creates and starts an in-memory store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.WheelSlots <= 0 {
		cfg.WheelSlots = 3600
	}
	m := &Memory{
		entries: make(map[string]*memEntry),
		order:   list.New(),
		wheel:   make([]map[string]struct{}, cfg.WheelSlots),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range m.wheel {
		m.wheel[i] = make(map[string]struct{})
	}
	m.cursor = m.now().Unix()
	go m.sweepLoop()
	return m
}

func (m *Memory) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Sweep advances the wheel cursor to the current second, processing
// every slot in between. Walking the full span tolerates clock jumps
// and missed ticks.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	nowSec := now.Unix()
	if nowSec <= m.cursor {
		return
	}
	span := nowSec - m.cursor
	if span > int64(len(m.wheel)) {
		span = int64(len(m.wheel))
	}
	for i := int64(1); i <= span; i++ {
		slot := m.wheel[(m.cursor+i)%int64(len(m.wheel))]
		for key := range slot {
			if e, ok := m.entries[key]; ok && e.entry.expired(now) {
				m.removeLocked(key, e)
			}
			delete(slot, key)
		}
	}
	m.cursor = nowSec
}

func (m *Memory) removeLocked(key string, e *memEntry) {
	if e.elem != nil {
		m.order.Remove(e.elem)
	}
	delete(m.entries, key)
}

// getLocked returns a live entry, applying the lazy expiry check.
func (m *Memory) getLocked(key string) (*memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.entry.expired(m.now()) {
		m.removeLocked(key, e)
		return nil, false
	}
	return e, true
}

func (m *Memory) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	e, ok := m.getLocked(key)
	if !ok {
		return nil, false, nil
	}
	return e.entry.Value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	now := m.now()
	var expires *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
	}
	m.setLocked(key, value, expires, now)
	return nil
}

// setLocked installs or replaces an entry, maintaining insertion order,
// the wheel slot, and the capacity bound.
func (m *Memory) setLocked(key string, value any, expires *time.Time, now time.Time) {
	if e, ok := m.entries[key]; ok {
		e.entry.Value = value
		e.entry.ExpiresAt = expires
		e.entry.UpdatedAt = now
		m.schedule(key, expires)
		return
	}

	if m.cfg.MaxSize > 0 && len(m.entries) >= m.cfg.MaxSize {
		if oldest := m.order.Front(); oldest != nil {
			k := oldest.Value.(string)
			m.removeLocked(k, m.entries[k])
		}
	}

	e := &memEntry{entry: Entry{Value: value, ExpiresAt: expires, CreatedAt: now, UpdatedAt: now}}
	e.elem = m.order.PushBack(key)
	m.entries[key] = e
	m.schedule(key, expires)
}

func (m *Memory) schedule(key string, expires *time.Time) {
	if expires == nil {
		return
	}
	slot := expires.Unix() % int64(len(m.wheel))
	m.wheel[slot][key] = struct{}{}
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e, ok := m.entries[key]; ok {
		m.removeLocked(key, e)
	}
	return nil
}

func (m *Memory) Increment(ctx context.Context, key string, by float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.now()
	var prior float64
	var expires *time.Time
	if e, ok := m.getLocked(key); ok {
		prior, _ = Numeric(e.entry.Value)
		expires = e.entry.ExpiresAt
	}
	next := prior + by
	m.setLocked(key, next, expires, now)
	return next, nil
}

func (m *Memory) Patch(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.now()
	var existing any
	var expires *time.Time
	if e, ok := m.getLocked(key); ok {
		existing = e.entry.Value
		expires = e.entry.ExpiresAt
	}
	m.setLocked(key, Merge(existing, value), expires, now)
	return nil
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := m.now()
	var keys []string
	for k, e := range m.entries {
		if e.entry.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len reports the live entry count. Test hook.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
	<-m.done
	return nil
}
