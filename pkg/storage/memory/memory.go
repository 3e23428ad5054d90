// Package memory provides an in-memory implementation of storage.ItemStore
// for testing and lightweight deployments. Items are lost when the process
// restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/storage"
)

// key addresses one item.
type key struct {
	tenant    string
	source    string
	partition string
	id        string
}

// entry holds a stored item and its metadata.
type entry struct {
	data      []byte
	updatedAt time.Time
	seq       uint64
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory ItemStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[key]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	seq     uint64
	now     func() time.Time
}

// Ensure Store implements storage.ItemStore at compile time.
var _ storage.ItemStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used item is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[key]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func itemKey(ctx context.Context, source, partition, id string) key {
	return key{
		tenant:    storage.GetTenant(ctx),
		source:    storage.ResolveSource(source),
		partition: partition,
		id:        id,
	}
}

// GetItem returns a copy of the stored item.
func (s *Store) GetItem(ctx context.Context, source, partition, id string) (storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[itemKey(ctx, source, partition, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return decode(e.data)
}

// ListPartition returns copies of all items of a partition, most recently
// updated first.
func (s *Store) ListPartition(ctx context.Context, source, partition string) ([]storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := storage.GetTenant(ctx)
	src := storage.ResolveSource(source)

	var matches []*entry
	for k, e := range s.entries {
		if k.tenant == tenant && k.source == src && k.partition == partition {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].seq > matches[j].seq
	})

	out := make([]storage.Item, 0, len(matches))
	for _, e := range matches {
		item, err := decode(e.data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// UpsertItem stores a copy of the item, stamping its update time.
func (s *Store) UpsertItem(ctx context.Context, source string, item storage.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamped := make(storage.Item, len(item)+1)
	for k, v := range item {
		stamped[k] = v
	}
	stamped.Stamp(now)

	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("encoding item: %w", err)
	}

	s.seq++
	k := itemKey(ctx, source, item.Partition(), item.ID())
	if e, ok := s.entries[k]; ok {
		e.data = data
		e.updatedAt = now
		e.seq = s.seq
		s.lruList.MoveToFront(e.lruElem)
		return nil
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[k] = &entry{
		data:      data,
		updatedAt: now,
		seq:       s.seq,
		lruElem:   s.lruList.PushFront(k),
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, source, partition, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(ctx, source, partition, id)
	e, ok := s.entries[k]
	if !ok {
		return storage.ErrNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, k)
	return nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.lruList.Remove(back)
	delete(s.entries, back.Value.(key))
}

func decode(data []byte) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return item, nil
}
