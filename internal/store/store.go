package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point lookups that match no item.
var ErrNotFound = errors.New("store: item not found")

// Key addresses one item. Simple tables leave Sort empty; the
// attendance table uses Partition for the bucket tag and Sort for the
// timestamp.
type Key struct {
	Partition string
	Sort      string
}

// TableSpec declares a logical table and the scalar attributes that
// carry a secondary lookup index.
type TableSpec struct {
	Name    string
	Indexes []string
}

// KV is the seam to the external key-value store. Implementations are
// expected to bound each call with their own timeout; callers treat
// the wire format as opaque.
//
// Paginated calls (Scan, QueryRange) return a continuation cursor;
// an empty cursor means the result set is exhausted. Cursors are only
// meaningful to the backend that produced them.
type KV interface {
	// GetItem returns the item at key, or ErrNotFound.
	GetItem(ctx context.Context, table string, key Key) (Item, error)

	// PutItem writes the full item, overwriting any existing one.
	// Last writer wins; there is no conditional form.
	PutItem(ctx context.Context, table string, key Key, item Item) error

	// UpdateItem applies set and remove in one step and returns the
	// stored result. ErrNotFound when the key does not exist.
	UpdateItem(ctx context.Context, table string, key Key, set Item, remove []string) (Item, error)

	// DeleteItem removes the item; deleting an absent key is a no-op.
	DeleteItem(ctx context.Context, table string, key Key) error

	// QueryIndex looks items up by an indexed scalar attribute.
	// Match order under duplicates is backend-defined.
	QueryIndex(ctx context.Context, table, attribute, value string, limit int) ([]Item, error)

	// QueryRange returns items of one partition whose sort key lies in
	// [startSort, endSort], ascending, paginated.
	QueryRange(ctx context.Context, table, partition, startSort, endSort, cursor string, limit int) ([]Item, string, error)

	// Scan iterates the whole table, paginated.
	Scan(ctx context.Context, table, cursor string, limit int) ([]Item, string, error)
}
