package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// keySep joins partition and sort into one map key. It sorts below
// any printable byte so composite keys order by partition first.
const keySep = "\x1f"

// Memory is a map-backed KV for dev and tests. It mirrors the paging
// and index semantics of the real backends, including small page
// sizes, so callers exercise their cursor-following paths.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]Item
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]Item)}
}

// table returns the mutable map for a table; write-lock callers only.
func (m *Memory) table(name string) map[string]Item {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]Item)
		m.tables[name] = t
	}
	return t
}

// lookup is the read-lock-safe counterpart of table.
func (m *Memory) lookup(name string) map[string]Item {
	return m.tables[name]
}

func compositeKey(key Key) string {
	return key.Partition + keySep + key.Sort
}

// GetItem returns the item at key, or ErrNotFound.
func (m *Memory) GetItem(_ context.Context, table string, key Key) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.lookup(table)[compositeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// PutItem overwrites the item at key.
func (m *Memory) PutItem(_ context.Context, table string, key Key, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(table)[compositeKey(key)] = item.Clone()
	return nil
}

// UpdateItem applies set/remove to an existing item.
func (m *Memory) UpdateItem(_ context.Context, table string, key Key, set Item, remove []string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(table)
	existing, ok := t[compositeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	updated := existing.Clone()
	for name, v := range set {
		updated[name] = v
	}
	for _, name := range remove {
		delete(updated, name)
	}
	t[compositeKey(key)] = updated
	return updated.Clone(), nil
}

// DeleteItem removes the item at key; absent keys are a no-op.
func (m *Memory) DeleteItem(_ context.Context, table string, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table(table), compositeKey(key))
	return nil
}

// QueryIndex scans for items whose scalar attribute equals value,
// in key order. First match under duplicates is the lowest key.
func (m *Memory) QueryIndex(_ context.Context, table, attribute, value string, limit int) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for _, k := range m.sortedKeys(table) {
		item := m.lookup(table)[k]
		if item.Scalar(attribute) != value {
			continue
		}
		out = append(out, item.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// QueryRange returns one partition's items with sort keys in
// [startSort, endSort], ascending, paginated by cursor.
func (m *Memory) QueryRange(_ context.Context, table, partition, startSort, endSort, cursor string, limit int) ([]Item, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := partition + keySep
	var matching []string
	for _, k := range m.sortedKeys(table) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		sk := strings.TrimPrefix(k, prefix)
		if sk < startSort || sk > endSort {
			continue
		}
		if cursor != "" && sk <= cursor {
			continue
		}
		matching = append(matching, k)
	}
	return m.page(table, matching, limit, func(k string) string {
		return strings.TrimPrefix(k, prefix)
	})
}

// Scan iterates the whole table in key order, paginated by cursor.
func (m *Memory) Scan(_ context.Context, table, cursor string, limit int) ([]Item, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matching []string
	for _, k := range m.sortedKeys(table) {
		if cursor != "" && k <= cursor {
			continue
		}
		matching = append(matching, k)
	}
	return m.page(table, matching, limit, func(k string) string { return k })
}

func (m *Memory) page(table string, keys []string, limit int, cursorOf func(string) string) ([]Item, string, error) {
	next := ""
	if limit > 0 && len(keys) > limit {
		next = cursorOf(keys[limit-1])
		keys = keys[:limit]
	}
	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, m.lookup(table)[k].Clone())
	}
	return items, next, nil
}

func (m *Memory) sortedKeys(table string) []string {
	t := m.lookup(table)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
