package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the primary KV backend. Items live in one hash per
// partition (field = sort key), a zero-score sorted set per partition
// keeps sort keys in lexicographic order for range queries, and each
// declared index attribute gets a set of composite keys per value.
type Redis struct {
	Client  *redis.Client
	indexes map[string][]string
	timeout time.Duration
}

// NewRedis connects to redis with short timeouts and registers the
// index attributes declared per table.
func NewRedis(addr string, tables []TableSpec, opTimeout time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	idx := make(map[string][]string, len(tables))
	for _, t := range tables {
		idx[t.Name] = t.Indexes
	}
	return &Redis{Client: client, indexes: idx, timeout: opTimeout}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) partKey(table, partition string) string {
	return table + ":p:" + partition
}

func (r *Redis) zsetKey(table, partition string) string {
	return table + ":z:" + partition
}

func (r *Redis) indexKey(table, attribute, value string) string {
	return table + ":ix:" + attribute + ":" + value
}

// GetItem returns the item at key, or ErrNotFound.
func (r *Redis) GetItem(ctx context.Context, table string, key Key) (Item, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	raw, err := r.Client.HGet(ctx, r.partKey(table, key.Partition), key.Sort).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", table, err)
	}
	return decodeItem(raw)
}

// PutItem overwrites the item at key and refreshes index entries.
func (r *Redis) PutItem(ctx context.Context, table string, key Key, item Item) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	old, _ := r.Client.HGet(ctx, r.partKey(table, key.Partition), key.Sort).Result()
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", table, err)
	}
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, r.partKey(table, key.Partition), key.Sort, string(raw))
	pipe.ZAdd(ctx, r.zsetKey(table, key.Partition), redis.Z{Score: 0, Member: key.Sort})
	r.queueIndexUpdates(ctx, pipe, table, key, old, item)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", table, err)
	}
	return nil
}

// UpdateItem applies set/remove to an existing item. Read-modify-write
// without a watch: concurrent writers race last-writer-wins, matching
// the overwrite semantics of PutItem.
func (r *Redis) UpdateItem(ctx context.Context, table string, key Key, set Item, remove []string) (Item, error) {
	existing, err := r.GetItem(ctx, table, key)
	if err != nil {
		return nil, err
	}
	updated := existing.Clone()
	for name, v := range set {
		updated[name] = v
	}
	for _, name := range remove {
		delete(updated, name)
	}
	if err := r.PutItem(ctx, table, key, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteItem removes the item and its index entries.
func (r *Redis) DeleteItem(ctx context.Context, table string, key Key) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	old, err := r.Client.HGet(ctx, r.partKey(table, key.Partition), key.Sort).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis delete read %s: %w", table, err)
	}
	pipe := r.Client.TxPipeline()
	pipe.HDel(ctx, r.partKey(table, key.Partition), key.Sort)
	pipe.ZRem(ctx, r.zsetKey(table, key.Partition), key.Sort)
	r.queueIndexUpdates(ctx, pipe, table, key, old, nil)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete %s: %w", table, err)
	}
	return nil
}

// queueIndexUpdates drops stale index members for the old item and
// adds members for the new one.
func (r *Redis) queueIndexUpdates(ctx context.Context, pipe redis.Pipeliner, table string, key Key, oldRaw string, updated Item) {
	attrs := r.indexes[table]
	if len(attrs) == 0 {
		return
	}
	member := key.Partition + keySep + key.Sort
	var old Item
	if oldRaw != "" {
		old, _ = decodeItem(oldRaw)
	}
	for _, attr := range attrs {
		oldVal := old.Scalar(attr)
		newVal := updated.Scalar(attr)
		if oldVal != "" && oldVal != newVal {
			pipe.SRem(ctx, r.indexKey(table, attr, oldVal), member)
		}
		if newVal != "" && newVal != oldVal {
			pipe.SAdd(ctx, r.indexKey(table, attr, newVal), member)
		}
	}
}

// QueryIndex resolves index members to items. Members are sorted so
// the first match under duplicate values is stable per backend state.
func (r *Redis) QueryIndex(ctx context.Context, table, attribute, value string, limit int) ([]Item, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	members, err := r.Client.SMembers(ctx, r.indexKey(table, attribute, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index %s.%s: %w", table, attribute, err)
	}
	sort.Strings(members)
	var out []Item
	for _, member := range members {
		partition, sortPart, _ := strings.Cut(member, keySep)
		item, err := r.GetItem(ctx, table, Key{Partition: partition, Sort: sortPart})
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if item.Scalar(attribute) != value {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// QueryRange pages through one partition's sort keys in order. The
// cursor is a plain offset into the lexicographic range.
func (r *Redis) QueryRange(ctx context.Context, table, partition, startSort, endSort, cursor string, limit int) ([]Item, string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	offset := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("redis range cursor %q: %w", cursor, err)
		}
		offset = parsed
	}
	if limit <= 0 {
		limit = 100
	}
	sorts, err := r.Client.ZRangeByLex(ctx, r.zsetKey(table, partition), &redis.ZRangeBy{
		Min:    "[" + startSort,
		Max:    "[" + endSort,
		Offset: offset,
		Count:  int64(limit) + 1,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis range %s: %w", table, err)
	}
	next := ""
	if len(sorts) > limit {
		sorts = sorts[:limit]
		next = strconv.FormatInt(offset+int64(limit), 10)
	}
	items := make([]Item, 0, len(sorts))
	for _, sk := range sorts {
		item, err := r.GetItem(ctx, table, Key{Partition: partition, Sort: sk})
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		items = append(items, item)
	}
	return items, next, nil
}

// Scan walks partition hashes with redis SCAN; the continuation
// cursor is the SCAN cursor itself. A page may come back empty with a
// non-empty cursor, callers keep following until the cursor clears.
func (r *Redis) Scan(ctx context.Context, table, cursor string, limit int) ([]Item, string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var scanCursor uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("redis scan cursor %q: %w", cursor, err)
		}
		scanCursor = parsed
	}
	if limit <= 0 {
		limit = 100
	}
	keys, nextCursor, err := r.Client.Scan(ctx, scanCursor, r.partKey(table, "*"), int64(limit)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis scan %s: %w", table, err)
	}
	var items []Item
	for _, k := range keys {
		fields, err := r.Client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, "", fmt.Errorf("redis scan read %s: %w", k, err)
		}
		for _, raw := range fields {
			item, err := decodeItem(raw)
			if err != nil {
				return nil, "", err
			}
			items = append(items, item)
		}
	}
	next := ""
	if nextCursor != 0 {
		next = strconv.FormatUint(nextCursor, 10)
	}
	return items, next, nil
}

func decodeItem(raw string) (Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("store: decode item: %w", err)
	}
	return item, nil
}
