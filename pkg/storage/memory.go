package storage

import (
	"container/heap"
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// entry is one stored value, with an optional absolute expiry.
type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
	heapIdx  int
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// expiryHeap is a min-heap of keys ordered by expiry, used to sweep
// expired entries without scanning the whole map on every access.
type expiryHeap []*heapItem

type heapItem struct {
	key      string
	expireAt time.Time
	index    int
}

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expireAt.Before(h[j].expireAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *expiryHeap) Push(x any) {
	it := x.(*heapItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Memory is an in-process Adapter implementation: a map guarded by a
// mutex, with a lazily-swept TTL wheel. Grounded on the teacher's
// pkg/session/manager.go in-memory map style, generalized with
// per-key TTL and the storage.Adapter contract.
type Memory struct {
	mu      sync.Mutex
	data    map[string]*entry
	heap    expiryHeap
	heapIdx map[string]*heapItem

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemory constructs an empty Memory adapter and starts its
// background sweeper, which runs every sweepInterval (defaults to 30s
// if zero or negative).
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	m := &Memory{
		data:    make(map[string]*entry),
		heapIdx: make(map[string]*heapItem),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&m.heap)
	go m.sweepLoop(sweepInterval)
	return m
}

func (m *Memory) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// sweep removes entries whose expiry has passed. Caller must not hold m.mu.
func (m *Memory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.heap.Len() > 0 {
		top := m.heap[0]
		if top.expireAt.After(now) {
			break
		}
		heap.Pop(&m.heap)
		delete(m.heapIdx, top.key)
		if e, ok := m.data[top.key]; ok && e.expired(now) {
			delete(m.data, top.key)
		}
	}
}

// trackExpiry registers/replaces key's position in the expiry heap.
// Caller must hold m.mu.
func (m *Memory) trackExpiry(key string, expireAt time.Time) {
	if old, ok := m.heapIdx[key]; ok {
		heap.Remove(&m.heap, old.index)
		delete(m.heapIdx, key)
	}
	if expireAt.IsZero() {
		return
	}
	it := &heapItem{key: key, expireAt: expireAt}
	heap.Push(&m.heap, it)
	m.heapIdx[key] = it
}

func (m *Memory) getLocked(key string, now time.Time) (*entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(m.data, key)
		if old, ok := m.heapIdx[key]; ok {
			heap.Remove(&m.heap, old.index)
			delete(m.heapIdx, key)
		}
		return nil, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, time.Now())
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, opts SetOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	_, exists := m.getLocked(key, now)
	if opts.IfNotExists && exists {
		return ErrConditionFailed
	}
	if opts.IfExists && !exists {
		return ErrConditionFailed
	}
	v := make([]byte, len(value))
	copy(v, value)
	var expireAt time.Time
	if opts.TTL > 0 {
		expireAt = now.Add(opts.TTL)
	}
	m.data[key] = &entry{value: v, expireAt: expireAt}
	m.trackExpiry(key, expireAt)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.getLocked(key, time.Now())
	if existed {
		delete(m.data, key)
	}
	if old, ok := m.heapIdx[key]; ok {
		heap.Remove(&m.heap, old.index)
		delete(m.heapIdx, key)
	}
	return existed, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.getLocked(key, time.Now())
	return ok, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, time.Now())
	if !ok {
		return false, nil
	}
	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	e.expireAt = expireAt
	m.trackExpiry(key, expireAt)
	return true, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, time.Now())
	if !ok {
		return 0, false, nil
	}
	if e.expireAt.IsZero() {
		return 0, true, nil
	}
	return time.Until(e.expireAt), true, nil
}

func (m *Memory) IncrBy(_ context.Context, key string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	e, ok := m.getLocked(key, now)
	var cur int64
	var expireAt time.Time
	if ok {
		cur = decodeInt64(e.value)
		expireAt = e.expireAt
	}
	cur += amount
	m.data[key] = &entry{value: encodeInt64(cur), expireAt: expireAt}
	return cur, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) { return m.IncrBy(ctx, key, 1) }
func (m *Memory) Decr(ctx context.Context, key string) (int64, error) { return m.IncrBy(ctx, key, -1) }

func (m *Memory) MGet(ctx context.Context, keys []string) ([]Value, error) {
	out := make([]Value, len(keys))
	for i, k := range keys {
		v, ok, err := m.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = Value{Key: k, Value: v, OK: ok}
	}
	return out, nil
}

func (m *Memory) MDelete(ctx context.Context, keys []string) (int, error) {
	var n int
	for _, k := range keys {
		existed, err := m.Delete(ctx, k)
		if err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Scan(_ context.Context, pattern string) (func() (string, bool), error) {
	m.mu.Lock()
	now := time.Now()
	keys := make([]string, 0, len(m.data))
	for k, e := range m.data {
		if e.expired(now) {
			continue
		}
		if pattern == "" || pattern == "*" {
			keys = append(keys, k)
			continue
		}
		if ok, _ := filepath.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	i := 0
	return func() (string, bool) {
		if i >= len(keys) {
			return "", false
		}
		k := keys[i]
		i++
		return k, true
	}, nil
}

func (m *Memory) GetAndExtend(_ context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key, time.Now())
	if !ok {
		return nil, false, nil
	}
	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	e.expireAt = expireAt
	m.trackExpiry(key, expireAt)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func encodeInt64(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func decodeInt64(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ Adapter = (*Memory)(nil)
